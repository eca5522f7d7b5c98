package model

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOpenAIChatCompletions struct {
	newFunc        func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	capturedParams openai.ChatCompletionNewParams
}

func (m *mockOpenAIChatCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.capturedParams = params
	if m.newFunc != nil {
		return m.newFunc(ctx, params, opts...)
	}
	return nil, errors.New("mock: New not implemented")
}

func TestNewOpenAI(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key required")

	mdl, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.NotNil(t, mdl)
}

func TestOpenAIComplete(t *testing.T) {
	tests := []struct {
		name        string
		mockResp    *openai.ChatCompletion
		mockErr     error
		wantErr     bool
		wantContent string
		wantTools   int
	}{
		{
			name: "simple completion",
			mockResp: &openai.ChatCompletion{
				Choices: []openai.ChatCompletionChoice{
					{
						FinishReason: "stop",
						Message: openai.ChatCompletionMessage{
							Role:    "assistant",
							Content: `{"ok":true}`,
						},
					},
				},
				Usage: openai.CompletionUsage{
					PromptTokens:     10,
					CompletionTokens: 20,
					TotalTokens:      30,
				},
			},
			wantContent: `{"ok":true}`,
		},
		{
			name: "completion with tool calls",
			mockResp: &openai.ChatCompletion{
				Choices: []openai.ChatCompletionChoice{
					{
						FinishReason: "tool_calls",
						Message: openai.ChatCompletionMessage{
							Role: "assistant",
							ToolCalls: []openai.ChatCompletionMessageToolCall{
								{
									ID: "call_abc123",
									Function: openai.ChatCompletionMessageToolCallFunction{
										Name:      "list_dir",
										Arguments: `{"path":"."}`,
									},
								},
							},
						},
					},
				},
			},
			wantTools: 1,
		},
		{
			name:    "API error",
			mockErr: &openai.Error{StatusCode: http.StatusUnauthorized, Message: "invalid key"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockOpenAIChatCompletions{
				newFunc: func(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) (*openai.ChatCompletion, error) {
					return tt.mockResp, tt.mockErr
				},
			}
			mdl := &openaiModel{
				completions: mock,
				model:       "gpt-4o",
				maxTokens:   64,
				maxRetries:  0,
			}

			resp, err := mdl.Complete(context.Background(), Request{
				Messages: []Message{{Role: RoleUser, Content: "evaluate"}},
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, RoleAssistant, resp.Message.Role)
			assert.Equal(t, tt.wantContent, resp.Message.Content)
			assert.Len(t, resp.Message.ToolCalls, tt.wantTools)
			assert.NotZero(t, mock.capturedParams.MaxCompletionTokens)
		})
	}
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	tests := []struct {
		name     string
		msgs     []Message
		defaults []string
		wantLen  int
	}{
		{name: "empty messages adds placeholder", msgs: nil, wantLen: 1},
		{name: "user message", msgs: []Message{{Role: "user", Content: "hi"}}, wantLen: 1},
		{
			name:     "system defaults prepended",
			msgs:     []Message{{Role: "user", Content: "hi"}},
			defaults: []string{"You review proposed actions."},
			wantLen:  2,
		},
		{
			name: "tool results expand per call",
			msgs: []Message{
				{Role: "user", Content: "go"},
				{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "read_file"}}},
				{Role: "tool", ToolCalls: []ToolCall{{ID: "call_1", Result: "contents"}}},
			},
			wantLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := convertMessagesToOpenAI(tt.msgs, tt.defaults...)
			assert.Len(t, result, tt.wantLen)
		})
	}
}

func TestConvertOpenAIResponseNil(t *testing.T) {
	resp := convertOpenAIResponse(nil)
	require.NotNil(t, resp)
	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Empty(t, resp.Message.Content)
}

func TestParseJSONArgs(t *testing.T) {
	assert.Nil(t, parseJSONArgs(""))
	assert.Equal(t, "Tokyo", parseJSONArgs(`{"location":"Tokyo"}`)["location"])
	assert.Contains(t, parseJSONArgs("not json"), "raw")
}

func TestIsOpenAIRetryable(t *testing.T) {
	assert.False(t, isOpenAIRetryable(context.Canceled))
	assert.False(t, isOpenAIRetryable(&openai.Error{StatusCode: http.StatusUnauthorized}))
	assert.True(t, isOpenAIRetryable(&openai.Error{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, isOpenAIRetryable(errors.New("connection reset")))
}
