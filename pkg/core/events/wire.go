package events

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ParseWire decodes a flattened wire document (the shape Flatten produces)
// back into a canonical envelope. Hosts that hand events over as raw JSON,
// such as the CLI's stdin path, enter the pipeline here.
func ParseWire(data []byte) (*Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("events: invalid event JSON")
	}
	name := gjson.GetBytes(data, "hook_event_name").String()
	if name == "" {
		return nil, fmt.Errorf("events: missing hook_event_name")
	}
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	payload, err := ParsePayload(kind, data)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(kind,
		gjson.GetBytes(data, "session_id").String(),
		gjson.GetBytes(data, "cwd").String(),
		payload)
}

// ParsePayload extracts the kind-specific payload struct from a wire
// document. Absent fields decode to their zero values; the field names mirror
// Flatten exactly.
func ParsePayload(kind Kind, data []byte) (any, error) {
	get := func(path string) gjson.Result { return gjson.GetBytes(data, path) }

	switch kind {
	case PreAction:
		return ActionPayload{
			Action:   get("action_name").String(),
			ActionID: get("action_id").String(),
			Input:    wireObject(get("action_input")),
		}, nil
	case PostAction, PostActionFailure:
		return ActionResultPayload{
			Action:   get("action_name").String(),
			ActionID: get("action_id").String(),
			Input:    wireObject(get("action_input")),
			Output:   get("action_output").Value(),
			Error:    get("error").String(),
			Duration: time.Duration(get("duration_ms").Int()) * time.Millisecond,
		}, nil
	case SessionStart:
		return SessionStartPayload{
			Source: get("source").String(),
			Model:  get("model").String(),
		}, nil
	case SessionEnd:
		return SessionEndPayload{Reason: get("reason").String()}, nil
	case Stop:
		return StopPayload{StopHookActive: get("stop_hook_active").Bool()}, nil
	case SubprocessStart:
		return SubprocessStartPayload{
			Name:         get("subprocess_name").String(),
			SubprocessID: get("subprocess_id").String(),
			Task:         get("task").String(),
		}, nil
	case SubprocessStop:
		return SubprocessStopPayload{
			Name:         get("subprocess_name").String(),
			SubprocessID: get("subprocess_id").String(),
			Reason:       get("reason").String(),
		}, nil
	case IdleCheck:
		return IdleCheckPayload{IdleSeconds: int(get("idle_seconds").Int())}, nil
	case CompletionCheck:
		return CompletionCheckPayload{Summary: get("summary").String()}, nil
	case ConfigChange:
		return ConfigChangePayload{
			Scope: get("scope").String(),
			Path:  get("path").String(),
		}, nil
	case PreCompaction:
		return PreCompactionPayload{
			Trigger:            get("trigger").String(),
			CustomInstructions: get("custom_instructions").String(),
		}, nil
	default:
		return nil, fmt.Errorf("events: unknown kind %q", kind)
	}
}

func wireObject(res gjson.Result) map[string]any {
	if !res.IsObject() {
		return nil
	}
	m, _ := res.Value().(map[string]any)
	return m
}
