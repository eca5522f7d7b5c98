// Package config loads, validates, and watches handler registration files.
// Settings live in per-scope files (host and project) plus an optional
// runtime layer supplied programmatically; the package turns each layer into
// the handler specs the registry consumes and merges the scalar knobs across
// layers.
package config

import (
	"time"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

// Settings models one settings file. Optional booleans use *bool so nil
// means "unset" and lower layers shine through.
type Settings struct {
	Disabled     *bool             `json:"disabled,omitempty"`     // Force-disable every handler from this layer's scope set.
	Env          map[string]string `json:"env,omitempty"`          // Extra environment for command handlers.
	DefaultModel string            `json:"defaultModel,omitempty"` // Model for prompt/agent handlers without an override.
	Provider     *ProviderSettings `json:"provider,omitempty"`     // Model provider credentials and endpoint.
	Hooks        HookMap           `json:"hooks,omitempty"`        // Handler registrations keyed by event kind.
}

// ProviderSettings selects and configures the model backend.
type ProviderSettings struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// HookMap holds handler registrations per event kind. It accepts both the
// canonical array form and the legacy map form on the wire.
type HookMap map[events.Kind][]MatcherEntry

// MatcherEntry pairs a matcher pattern with the handlers it gates.
type MatcherEntry struct {
	Matcher string       `json:"matcher"`
	Hooks   []HandlerDef `json:"hooks"`
}

// HandlerDef describes a single handler registration.
type HandlerDef struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`              // "command" (default), "prompt", or "agent"
	Command string `json:"command,omitempty"` // Shell command (type=command)
	Prompt  string `json:"prompt,omitempty"`  // Judgment instructions (type=prompt/agent)
	Model   string `json:"model,omitempty"`   // Model override (type=prompt/agent)
	Timeout int    `json:"timeout,omitempty"` // Seconds; 0 applies the per-type default
	Async   bool   `json:"async,omitempty"`   // Fire-and-forget (command handlers only)
	Once    bool   `json:"once,omitempty"`    // At most one successful run per scope lifetime
}

// IsDisabled reports whether this layer switches its handlers off.
func (s *Settings) IsDisabled() bool {
	return s != nil && s.Disabled != nil && *s.Disabled
}

// HandlerSpecs flattens the registrations into registry specs. Kinds iterate
// in their stable order so resolution order does not depend on map layout.
// A disabled layer contributes nothing.
func (s *Settings) HandlerSpecs() []hooks.HandlerSpec {
	if s == nil || s.IsDisabled() {
		return nil
	}
	var specs []hooks.HandlerSpec
	for _, kind := range events.Kinds() {
		for _, entry := range s.Hooks[kind] {
			for _, def := range entry.Hooks {
				specs = append(specs, hooks.HandlerSpec{
					ID:      def.ID,
					Kind:    kind,
					Pattern: entry.Matcher,
					Type:    handlerType(def.Type),
					Command: def.Command,
					Prompt:  def.Prompt,
					Model:   def.Model,
					Timeout: time.Duration(def.Timeout) * time.Second,
					Async:   def.Async,
					Once:    def.Once,
					Env:     s.Env,
				})
			}
		}
	}
	return specs
}

func handlerType(t string) hooks.HandlerType {
	if t == "" {
		return hooks.TypeCommand
	}
	return hooks.HandlerType(t)
}
