package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseWireRoundTrip(t *testing.T) {
	t.Parallel()
	orig, err := NewEnvelope(PreAction, "sess-1", "/repo", ActionPayload{
		Action:   "edit_file",
		ActionID: "act-9",
		Input:    map[string]any{"path": "main.go"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := json.Marshal(orig.Flatten())
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}

	env, err := ParseWire(raw)
	if err != nil {
		t.Fatalf("ParseWire: %v", err)
	}
	if env.Kind != PreAction || env.SessionID != "sess-1" || env.CWD != "/repo" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.MatchField != "edit_file" {
		t.Fatalf("match field = %q", env.MatchField)
	}
	payload, ok := env.Payload.(ActionPayload)
	if !ok || payload.Action != "edit_file" || payload.ActionID != "act-9" {
		t.Fatalf("payload = %+v", env.Payload)
	}
	if payload.Input["path"] != "main.go" {
		t.Fatalf("input = %v", payload.Input)
	}
	if env.ID == orig.ID {
		t.Fatal("parsing must mint a fresh occurrence id")
	}
}

func TestParseWireRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"hook_event_name": `},
		{"missing kind", `{"session_id": "s"}`},
		{"unknown kind", `{"hook_event_name": "BeforeEverything", "session_id": "s"}`},
		{"missing session", `{"hook_event_name": "Stop"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseWire([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseWire accepted %s", tc.raw)
			}
		})
	}
}

func TestParsePayloadPerKind(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"hook_event_name": "PostActionFailure",
		"session_id": "sess-1",
		"action_name": "fetch",
		"action_output": {"status": 502},
		"duration_ms": 1500,
		"error": "connection refused"
	}`)
	p, err := ParsePayload(PostActionFailure, raw)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	result, ok := p.(ActionResultPayload)
	if !ok {
		t.Fatalf("payload = %T", p)
	}
	if result.Action != "fetch" || result.Error != "connection refused" {
		t.Fatalf("result = %+v", result)
	}
	if result.Duration != 1500*time.Millisecond {
		t.Fatalf("duration = %s", result.Duration)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["status"] != float64(502) {
		t.Fatalf("output = %v", result.Output)
	}

	p, err = ParsePayload(IdleCheck, []byte(`{"idle_seconds": 90}`))
	if err != nil {
		t.Fatalf("ParsePayload idle: %v", err)
	}
	if idle := p.(IdleCheckPayload); idle.IdleSeconds != 90 {
		t.Fatalf("idle = %+v", idle)
	}

	p, err = ParsePayload(ConfigChange, []byte(`{"scope": "project", "path": "/p/.hookflow/settings.yaml"}`))
	if err != nil {
		t.Fatalf("ParsePayload config: %v", err)
	}
	if cc := p.(ConfigChangePayload); cc.Scope != "project" || cc.Path == "" {
		t.Fatalf("config change = %+v", cc)
	}
}

func TestParseWireMinimalStopEvent(t *testing.T) {
	t.Parallel()
	env, err := ParseWire([]byte(`{"hook_event_name": "Stop", "session_id": "sess-2"}`))
	if err != nil {
		t.Fatalf("ParseWire: %v", err)
	}
	if env.Kind != Stop || env.CWD != "" {
		t.Fatalf("envelope = %+v", env)
	}
	if stop := env.Payload.(StopPayload); stop.StopHookActive {
		t.Fatal("absent stop_hook_active must default to false")
	}
}
