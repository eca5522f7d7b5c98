package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/hookflow/pkg/agent"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

func toolCallReply(name string, args map[string]any) *model.Response {
	return &model.Response{Message: model.Message{
		Role:      model.RoleAssistant,
		ToolCalls: []model.ToolCall{{ID: "call_1", Name: name, Arguments: args}},
	}}
}

func agentSpec(t *testing.T, kind events.Kind, spec HandlerSpec) *compiledSpec {
	t.Helper()
	spec.Kind = kind
	spec.Type = TypeAgent
	if spec.ID == "" {
		spec.ID = "inspector"
	}
	return compileForTest(t, spec)
}

func TestAgentInvokerImmediateVerdict(t *testing.T) {
	mdl := &scriptedModel{replies: []*model.Response{textReply(`{"ok": false, "reason": "no tests were added"}`)}}
	ai := NewAgentInvoker(fixedProvider(mdl))
	cs := agentSpec(t, events.CompletionCheck, HandlerSpec{Prompt: "Verify the task is really done."})

	env := envelopeFor(t, events.CompletionCheck, events.CompletionCheckPayload{Summary: "implemented feature"})
	res := ai.invoke(context.Background(), cs, env)
	if res.Failed() {
		t.Fatalf("failure = %v", res.Failure)
	}
	if res.Fragment.Verdict != VerdictBlock || res.Fragment.Reason != "no tests were added" {
		t.Fatalf("fragment = %+v", res.Fragment)
	}
	if res.Type != TypeAgent {
		t.Fatalf("type = %s", res.Type)
	}
}

func TestAgentInvokerInspectsFilesBeforeVerdict(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("reviewed and safe"), 0o644); err != nil {
		t.Fatal(err)
	}

	mdl := &scriptedModel{replies: []*model.Response{
		toolCallReply("read_file", map[string]any{"path": "notes.txt"}),
		textReply(`{"ok": true}`),
	}}
	ai := NewAgentInvoker(fixedProvider(mdl))
	cs := agentSpec(t, events.PreAction, HandlerSpec{Prompt: "Check the notes before ruling."})

	env, err := events.NewEnvelope(events.PreAction, "sess-1", dir, events.ActionPayload{Action: "write_file"})
	if err != nil {
		t.Fatal(err)
	}

	res := ai.invoke(context.Background(), cs, env)
	if res.Failed() {
		t.Fatalf("failure = %v", res.Failure)
	}
	if res.Fragment.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s", res.Fragment.Verdict)
	}

	reqs := mdl.recorded()
	if len(reqs) != 2 {
		t.Fatalf("model calls = %d, want 2", len(reqs))
	}
	if len(reqs[0].Tools) != 3 {
		t.Fatalf("tools offered = %d, want the read-only trio", len(reqs[0].Tools))
	}

	// The second call's transcript must carry the tool result back.
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != model.RoleTool || len(last.ToolCalls) != 1 {
		t.Fatalf("transcript tail = %+v", last)
	}
	if !strings.Contains(last.ToolCalls[0].Result, "reviewed and safe") {
		t.Fatalf("tool result = %q", last.ToolCalls[0].Result)
	}
}

func TestAgentInvokerTurnCapBecomesFailure(t *testing.T) {
	dir := t.TempDir()
	// The model never answers, it just keeps listing the directory.
	mdl := &scriptedModel{replies: []*model.Response{toolCallReply("list_dir", map[string]any{})}}
	ai := NewAgentInvoker(fixedProvider(mdl))
	cs := agentSpec(t, events.PreAction, HandlerSpec{Prompt: "inspect"})

	env, err := events.NewEnvelope(events.PreAction, "sess-1", dir, events.ActionPayload{Action: "write_file"})
	if err != nil {
		t.Fatal(err)
	}

	res := ai.invoke(context.Background(), cs, env)
	if !res.Failed() || res.Failure.Kind != FailureNonBlocking {
		t.Fatalf("result = %+v, want non-blocking failure", res)
	}
	if !strings.Contains(res.Failure.Message, "turn cap") {
		t.Fatalf("message = %q", res.Failure.Message)
	}
	if calls := len(mdl.recorded()); calls != agent.DefaultMaxTurns {
		t.Fatalf("model calls = %d, want the turn cap", calls)
	}
}

func TestAgentInvokerTimeout(t *testing.T) {
	mdl := &scriptedModel{
		replies: []*model.Response{textReply(`{"ok": true}`)},
		delay:   500 * time.Millisecond,
	}
	ai := NewAgentInvoker(fixedProvider(mdl))
	cs := agentSpec(t, events.PreAction, HandlerSpec{Prompt: "inspect", Timeout: 50 * time.Millisecond})

	res := ai.invoke(context.Background(), cs, preActionEnvelope(t, "write_file"))
	if !res.Failed() || res.Failure.Kind != FailureTimeout {
		t.Fatalf("result = %+v, want timeout", res)
	}
}

func TestAgentInvokerWithoutProvider(t *testing.T) {
	ai := NewAgentInvoker(nil)
	cs := agentSpec(t, events.PreAction, HandlerSpec{Prompt: "inspect"})

	res := ai.invoke(context.Background(), cs, preActionEnvelope(t, "x"))
	if !res.Failed() || res.Failure.Message != "no model provider configured" {
		t.Fatalf("result = %+v", res)
	}
}

func TestAgentInvokerUnparseableReply(t *testing.T) {
	mdl := &scriptedModel{replies: []*model.Response{textReply("it depends")}}
	ai := NewAgentInvoker(fixedProvider(mdl))
	cs := agentSpec(t, events.PreAction, HandlerSpec{Prompt: "inspect"})

	res := ai.invoke(context.Background(), cs, preActionEnvelope(t, "x"))
	if !res.Failed() || res.Failure.Kind != FailureNonBlocking {
		t.Fatalf("result = %+v", res)
	}
}
