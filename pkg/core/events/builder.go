package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEnvelope assembles the canonical envelope for one occurrence. The
// payload type must agree with the kind; the match field is derived here so
// downstream components never reach into payloads themselves.
func NewEnvelope(kind Kind, sessionID, cwd string, payload any) (*Envelope, error) {
	policy, ok := PolicyFor(kind)
	if !ok {
		return nil, fmt.Errorf("events: unknown kind %q", kind)
	}
	if err := checkPayloadKind(kind, payload); err != nil {
		return nil, err
	}

	env := &Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		CWD:       cwd,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if field, ok := policy.MatchField(payload); ok {
		env.MatchField = field
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func checkPayloadKind(kind Kind, payload any) error {
	var ok bool
	switch kind {
	case PreAction:
		_, ok = payload.(ActionPayload)
	case PostAction, PostActionFailure:
		_, ok = payload.(ActionResultPayload)
	case SessionStart:
		_, ok = payload.(SessionStartPayload)
	case SessionEnd:
		_, ok = payload.(SessionEndPayload)
	case Stop:
		_, ok = payload.(StopPayload)
		ok = ok || payload == nil
	case SubprocessStart:
		_, ok = payload.(SubprocessStartPayload)
	case SubprocessStop:
		_, ok = payload.(SubprocessStopPayload)
	case IdleCheck:
		_, ok = payload.(IdleCheckPayload)
		ok = ok || payload == nil
	case CompletionCheck:
		_, ok = payload.(CompletionCheckPayload)
		ok = ok || payload == nil
	case ConfigChange:
		_, ok = payload.(ConfigChangePayload)
	case PreCompaction:
		_, ok = payload.(PreCompactionPayload)
	default:
		return fmt.Errorf("events: unknown kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("events: payload %T does not belong to kind %s", payload, kind)
	}
	return nil
}

// Flatten produces the wire map written to a command handler's stdin: the
// common fields plus the kind-specific ones. Field names are part of the
// stable handler contract and must not change per kind.
func (e Envelope) Flatten() map[string]any {
	wire := map[string]any{
		"hook_event_name": string(e.Kind),
		"session_id":      e.SessionID,
	}
	if e.CWD != "" {
		wire["cwd"] = e.CWD
	}
	if !e.Timestamp.IsZero() {
		wire["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	}

	switch p := e.Payload.(type) {
	case ActionPayload:
		wire["action_name"] = p.Action
		if p.ActionID != "" {
			wire["action_id"] = p.ActionID
		}
		if p.Input != nil {
			wire["action_input"] = p.Input
		}
	case ActionResultPayload:
		wire["action_name"] = p.Action
		if p.ActionID != "" {
			wire["action_id"] = p.ActionID
		}
		if p.Input != nil {
			wire["action_input"] = p.Input
		}
		if p.Output != nil {
			wire["action_output"] = p.Output
		}
		if p.Duration > 0 {
			wire["duration_ms"] = p.Duration.Milliseconds()
		}
		if p.Error != "" {
			wire["error"] = p.Error
			wire["is_error"] = true
		}
	case SessionStartPayload:
		wire["source"] = p.Source
		if p.Model != "" {
			wire["model"] = p.Model
		}
	case SessionEndPayload:
		wire["reason"] = p.Reason
	case StopPayload:
		wire["stop_hook_active"] = p.StopHookActive
	case SubprocessStartPayload:
		wire["subprocess_name"] = p.Name
		if p.SubprocessID != "" {
			wire["subprocess_id"] = p.SubprocessID
		}
		if p.Task != "" {
			wire["task"] = p.Task
		}
	case SubprocessStopPayload:
		wire["subprocess_name"] = p.Name
		if p.SubprocessID != "" {
			wire["subprocess_id"] = p.SubprocessID
		}
		if p.Reason != "" {
			wire["reason"] = p.Reason
		}
	case IdleCheckPayload:
		wire["idle_seconds"] = p.IdleSeconds
	case CompletionCheckPayload:
		if p.Summary != "" {
			wire["summary"] = p.Summary
		}
	case ConfigChangePayload:
		wire["scope"] = p.Scope
		if p.Path != "" {
			wire["path"] = p.Path
		}
	case PreCompactionPayload:
		wire["trigger"] = p.Trigger
		if p.CustomInstructions != "" {
			wire["custom_instructions"] = p.CustomInstructions
		}
	case nil:
		// Stop and the periodic checks may fire without a payload.
	}
	return wire
}
