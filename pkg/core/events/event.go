package events

import (
	"fmt"
	"time"
)

// Envelope is the canonical record of one lifecycle occurrence. It is built
// once by the host (or the envelope builder on its behalf), is immutable
// afterwards, and is the only thing handlers ever see.
type Envelope struct {
	ID        string    // unique per occurrence, generated when empty
	Kind      Kind      // required
	SessionID string    // owning host session
	CWD       string    // working directory the occurrence happened in
	Timestamp time.Time // auto-populated when zero

	// MatchField is the value handler patterns are matched against; derived
	// from the payload via the kind policy. Empty for kinds without one.
	MatchField string

	// Payload holds the kind-specific struct (ActionPayload and friends).
	Payload any
}

// Validate performs the sanity checks dispatch relies on.
func (e Envelope) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("events: missing kind")
	}
	if _, ok := policies[e.Kind]; !ok {
		return fmt.Errorf("events: unknown kind %q", e.Kind)
	}
	if e.SessionID == "" {
		return fmt.Errorf("events: missing session id")
	}
	return nil
}

// ActionPayload accompanies PreAction: the host is about to execute a named
// action (tool call, command, etc.) with the given input.
type ActionPayload struct {
	Action   string         `json:"action_name"`
	ActionID string         `json:"action_id,omitempty"`
	Input    map[string]any `json:"action_input,omitempty"`
}

// ActionResultPayload accompanies PostAction and PostActionFailure.
type ActionResultPayload struct {
	Action   string         `json:"action_name"`
	ActionID string         `json:"action_id,omitempty"`
	Input    map[string]any `json:"action_input,omitempty"`
	Output   any            `json:"action_output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"-"`
}

// SessionStartPayload is emitted when a host session begins.
type SessionStartPayload struct {
	Source string `json:"source"` // entry point (e.g. "startup", "resume", "clear")
	Model  string `json:"model,omitempty"`
}

// SessionEndPayload is emitted when a host session ends.
type SessionEndPayload struct {
	Reason string `json:"reason"` // e.g. "exit", "clear", "logout"
}

// StopPayload is emitted when the host's turn is about to conclude.
type StopPayload struct {
	// StopHookActive is true when this occurrence was itself caused by a
	// handler forcing continuation, so handlers can avoid ping-ponging.
	StopHookActive bool `json:"stop_hook_active"`
}

// SubprocessStartPayload is emitted when the host spawns a managed
// subprocess (a delegated worker, not an arbitrary shell command).
type SubprocessStartPayload struct {
	Name         string `json:"subprocess_name"` // subprocess kind, the match field
	SubprocessID string `json:"subprocess_id,omitempty"`
	Task         string `json:"task,omitempty"`
}

// SubprocessStopPayload is emitted when a managed subprocess finishes.
type SubprocessStopPayload struct {
	Name         string `json:"subprocess_name"`
	SubprocessID string `json:"subprocess_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// IdleCheckPayload is emitted by periodic idle probes.
type IdleCheckPayload struct {
	IdleSeconds int `json:"idle_seconds"`
}

// CompletionCheckPayload is emitted when the host believes a task is done
// and offers handlers a chance to disagree.
type CompletionCheckPayload struct {
	Summary string `json:"summary,omitempty"`
}

// ConfigChangePayload is emitted after a settings scope changed on disk.
type ConfigChangePayload struct {
	Scope string `json:"scope"` // settings scope name, the match field
	Path  string `json:"path,omitempty"`
}

// PreCompactionPayload is emitted before conversation history compaction.
type PreCompactionPayload struct {
	Trigger            string `json:"trigger"` // "manual" or "auto", the match field
	CustomInstructions string `json:"custom_instructions,omitempty"`
}
