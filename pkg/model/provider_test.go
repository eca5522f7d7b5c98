package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFuncNil(t *testing.T) {
	var fn ProviderFunc
	_, err := fn.Model(context.Background())
	require.Error(t, err)
}

func TestAnthropicProviderResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "")

	p := &AnthropicProvider{APIKey: "explicit"}
	assert.Equal(t, "explicit", p.resolveAPIKey())

	p = &AnthropicProvider{}
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	assert.Equal(t, "from-env", p.resolveAPIKey())

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "from-token")
	assert.Equal(t, "from-token", p.resolveAPIKey())
}

func TestOpenAIProviderResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	p := &OpenAIProvider{}
	assert.Equal(t, "sk-env", p.resolveAPIKey())

	p = &OpenAIProvider{APIKey: "sk-explicit"}
	assert.Equal(t, "sk-explicit", p.resolveAPIKey())
}

func TestProviderCaching(t *testing.T) {
	t.Run("caches with TTL", func(t *testing.T) {
		p := &OpenAIProvider{APIKey: "sk-test", CacheTTL: time.Hour}

		mdl1, err := p.Model(context.Background())
		require.NoError(t, err)
		mdl2, err := p.Model(context.Background())
		require.NoError(t, err)
		assert.Same(t, mdl1, mdl2)
	})

	t.Run("no caching when TTL is 0", func(t *testing.T) {
		p := &OpenAIProvider{APIKey: "sk-test"}

		mdl1, err := p.Model(context.Background())
		require.NoError(t, err)
		mdl2, err := p.Model(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, mdl1, mdl2)
	})

	t.Run("anthropic caches with TTL", func(t *testing.T) {
		p := &AnthropicProvider{APIKey: "sk-test", CacheTTL: time.Hour}

		mdl1, err := p.Model(context.Background())
		require.NoError(t, err)
		mdl2, err := p.Model(context.Background())
		require.NoError(t, err)
		assert.Same(t, mdl1, mdl2)
	})
}
