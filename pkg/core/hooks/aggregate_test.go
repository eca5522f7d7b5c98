package hooks

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

func envelopeFor(t *testing.T, kind events.Kind, payload any) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(kind, "sess-1", "", payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func okResult(id string, frag *Fragment) Result {
	return Result{HandlerID: id, Scope: ScopeProject, Type: TypeCommand, Fragment: frag}
}

func failedResult(id string, failure *Failure) Result {
	return Result{HandlerID: id, Scope: ScopeProject, Type: TypeCommand, Failure: failure}
}

func boolPtr(b bool) *bool { return &b }

func TestAggregateNoResultsIsAffirmative(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "write_file"})

	decision := Aggregate(env, nil)
	if decision.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s, want allow", decision.Verdict)
	}
	if !decision.Continue {
		t.Fatal("continue should default to true")
	}
	if decision.Blocked() {
		t.Fatal("empty occurrence must not block")
	}
	if decision.Kind != events.PreAction || decision.OccurrenceID != env.ID {
		t.Fatalf("decision identity = %s/%s", decision.Kind, decision.OccurrenceID)
	}
}

func TestAggregateDenyWinsAtAnyPosition(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	allow := func(id string) Result { return okResult(id, &Fragment{Verdict: VerdictAllow}) }
	deny := okResult("denier", &Fragment{Verdict: VerdictDeny, Reason: "disallowed path"})

	for pos := 0; pos < 3; pos++ {
		results := []Result{allow("a"), allow("b")}
		results = append(results[:pos], append([]Result{deny}, results[pos:]...)...)

		decision := Aggregate(env, results)
		if decision.Verdict != VerdictDeny {
			t.Fatalf("pos %d: verdict = %s, want deny", pos, decision.Verdict)
		}
		if decision.Reason != "disallowed path" {
			t.Fatalf("pos %d: reason = %q", pos, decision.Reason)
		}
		if !decision.Blocked() {
			t.Fatalf("pos %d: decision should block", pos)
		}
	}
}

func TestAggregateFirstHighestVerdictSuppliesReason(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		okResult("first-deny", &Fragment{Verdict: VerdictDeny, Reason: "first objection"}),
		okResult("second-deny", &Fragment{Verdict: VerdictDeny, Reason: "second objection"}),
	}
	decision := Aggregate(env, results)
	if decision.Reason != "first objection" {
		t.Fatalf("reason = %q, want first handler's", decision.Reason)
	}
}

func TestAggregateAskOutranksAllow(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, Reason: "looks fine"}),
		okResult("b", &Fragment{Verdict: VerdictAsk, Reason: "needs a human"}),
	}
	decision := Aggregate(env, results)
	if decision.Verdict != VerdictAsk {
		t.Fatalf("verdict = %s, want ask", decision.Verdict)
	}
	if decision.Reason != "needs a human" {
		t.Fatalf("reason = %q", decision.Reason)
	}
	if decision.Blocked() {
		t.Fatal("ask is not a block")
	}
}

func TestAggregateFirstAllowSuppliesReasonWhenUncontested(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, Reason: "pre-approved"}),
		okResult("b", &Fragment{Verdict: VerdictAllow, Reason: "also fine"}),
	}
	decision := Aggregate(env, results)
	if decision.Verdict != VerdictAllow || decision.Reason != "pre-approved" {
		t.Fatalf("decision = %s/%q, want allow/pre-approved", decision.Verdict, decision.Reason)
	}
}

func TestAggregateLosingFragmentsKeepContext(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, AdditionalContext: "lint passed"}),
		okResult("b", &Fragment{Verdict: VerdictDeny, Reason: "touches prod", AdditionalContext: "deploy window closed"}),
	}
	decision := Aggregate(env, results)
	want := []string{"lint passed", "deploy window closed"}
	if !reflect.DeepEqual(decision.Context, want) {
		t.Fatalf("context = %v, want %v", decision.Context, want)
	}
	if decision.Reason != "touches prod" {
		t.Fatalf("reason = %q", decision.Reason)
	}
}

func TestAggregateNonBlockableDiscardsVerdicts(t *testing.T) {
	env := envelopeFor(t, events.PostAction, events.ActionResultPayload{Action: "write_file"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictBlock, Reason: "too late to object"}),
		okResult("b", &Fragment{AdditionalContext: "output archived"}),
	}
	decision := Aggregate(env, results)
	if decision.Verdict != VerdictNone {
		t.Fatalf("verdict = %s, want none", decision.Verdict)
	}
	if decision.Blocked() {
		t.Fatal("non-blockable kind must never block")
	}
	joined := strings.Join(decision.Context, "\n")
	if !strings.Contains(joined, "too late to object") || !strings.Contains(joined, "output archived") {
		t.Fatalf("context = %v", decision.Context)
	}
}

func TestAggregateNonBlockableDoesNotDuplicateReason(t *testing.T) {
	env := envelopeFor(t, events.PostAction, events.ActionResultPayload{Action: "write_file"})

	// Prompt handlers on non-blockable kinds surface their objection in both
	// fields; it must appear once.
	results := []Result{
		okResult("a", &Fragment{Reason: "tests were skipped", AdditionalContext: "tests were skipped"}),
	}
	decision := Aggregate(env, results)
	if len(decision.Context) != 1 || decision.Context[0] != "tests were skipped" {
		t.Fatalf("context = %v, want single entry", decision.Context)
	}
}

func TestAggregateAuditTierIgnoresBlockingVerdicts(t *testing.T) {
	env := envelopeFor(t, events.ConfigChange, events.ConfigChangePayload{Scope: "project"})

	results := []Result{
		okResult("auditor", &Fragment{Verdict: VerdictBlock, Reason: "settings drift", AdditionalContext: "diff recorded"}),
	}
	decision := Aggregate(env, results)
	if decision.Blocked() {
		t.Fatal("audit tier verdict must be ignored")
	}
	if decision.Verdict != VerdictContinue {
		t.Fatalf("verdict = %s, want continue", decision.Verdict)
	}
	joined := strings.Join(decision.Context, "\n")
	if !strings.Contains(joined, "diff recorded") || !strings.Contains(joined, "settings drift") {
		t.Fatalf("audit context lost: %v", decision.Context)
	}
}

func TestAggregateContinueEscapeHatch(t *testing.T) {
	env := envelopeFor(t, events.PostAction, events.ActionResultPayload{Action: "write_file"})

	results := []Result{
		okResult("a", &Fragment{Continue: boolPtr(false), StopReason: "budget exhausted"}),
		okResult("b", &Fragment{Continue: boolPtr(false), StopReason: "second opinion"}),
	}
	decision := Aggregate(env, results)
	if decision.Continue {
		t.Fatal("continue=false must be honored on any kind")
	}
	if decision.StopReason != "budget exhausted" {
		t.Fatalf("stop reason = %q, want the first", decision.StopReason)
	}
}

func TestAggregateSuppressOutputSticks(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, SuppressOutput: true}),
		okResult("b", &Fragment{Verdict: VerdictAllow}),
	}
	decision := Aggregate(env, results)
	if !decision.SuppressOutput {
		t.Fatal("suppressOutput from any fragment must stick")
	}
}

func TestAggregateSystemMessagesCollected(t *testing.T) {
	env := envelopeFor(t, events.PostAction, events.ActionResultPayload{Action: "write_file"})

	results := []Result{
		okResult("a", &Fragment{SystemMessage: "first note"}),
		okResult("b", &Fragment{SystemMessage: "second note"}),
	}
	decision := Aggregate(env, results)
	want := []string{"first note", "second note"}
	if !reflect.DeepEqual(decision.SystemMessages, want) {
		t.Fatalf("system messages = %v, want %v", decision.SystemMessages, want)
	}
}

func TestAggregateModifiedPayloadOverlays(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "write_file"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, ModifiedPayload: map[string]any{"path": "/tmp/a", "mode": "append"}}),
		okResult("b", &Fragment{Verdict: VerdictAllow, ModifiedPayload: map[string]any{"path": "/tmp/b"}}),
	}
	decision := Aggregate(env, results)
	want := map[string]any{"path": "/tmp/b", "mode": "append"}
	if !reflect.DeepEqual(decision.ModifiedPayload, want) {
		t.Fatalf("modified payload = %v, want %v", decision.ModifiedPayload, want)
	}
}

func TestAggregateDenyDiscardsModifiedPayload(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "write_file"})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictAllow, ModifiedPayload: map[string]any{"path": "/tmp/a"}}),
		okResult("b", &Fragment{Verdict: VerdictDeny, Reason: "no"}),
	}
	decision := Aggregate(env, results)
	if decision.ModifiedPayload != nil {
		t.Fatalf("modified payload = %v, want nil after deny", decision.ModifiedPayload)
	}
}

func TestAggregateFailuresBecomeDiagnostics(t *testing.T) {
	env := envelopeFor(t, events.PreAction, events.ActionPayload{Action: "run_command"})

	results := []Result{
		failedResult("crashed", &Failure{Kind: FailureNonBlocking, Message: "exec format error", ExitCode: 126}),
		failedResult("slow", &Failure{Kind: FailureTimeout, Message: "timed out after 1s"}),
	}
	decision := Aggregate(env, results)
	if decision.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s, failures alone must not block", decision.Verdict)
	}
	if len(decision.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", decision.Diagnostics)
	}
	if !strings.HasPrefix(decision.Diagnostics[0], "crashed: ") {
		t.Fatalf("diagnostic missing handler id: %q", decision.Diagnostics[0])
	}
	if !strings.Contains(decision.Diagnostics[1], "timeout") {
		t.Fatalf("diagnostic missing failure kind: %q", decision.Diagnostics[1])
	}
}

func TestAggregatePreservesResults(t *testing.T) {
	env := envelopeFor(t, events.Stop, events.StopPayload{})

	results := []Result{
		okResult("a", &Fragment{Verdict: VerdictContinue}),
		failedResult("b", &Failure{Kind: FailureNonBlocking, Message: "boom"}),
	}
	decision := Aggregate(env, results)
	if len(decision.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(decision.Results))
	}
	if decision.Results[0].HandlerID != "a" || decision.Results[1].HandlerID != "b" {
		t.Fatal("results must keep resolution order")
	}
}

func TestDecisionWireDocument(t *testing.T) {
	d := &FinalDecision{
		Kind:         events.PreAction,
		OccurrenceID: "occ-7",
		Verdict:      VerdictDeny,
		Reason:       "secrets in diff",
		Context:      []string{"first", "second"},
		Diagnostics:  []string{"slow: timed out after 1s"},
		Continue:     true,
	}
	doc := d.Wire()
	if doc["hook_event_name"] != "PreAction" || doc["occurrence_id"] != "occ-7" {
		t.Fatalf("doc identity = %v", doc)
	}
	if doc["decision"] != "deny" || doc["reason"] != "secrets in diff" {
		t.Fatalf("doc verdict = %v", doc)
	}
	if doc["additional_context"] != "first\nsecond" {
		t.Fatalf("context = %v", doc["additional_context"])
	}
	if doc["continue"] != true {
		t.Fatalf("continue = %v", doc["continue"])
	}

	neutral := &FinalDecision{Kind: events.PostAction, OccurrenceID: "occ-8", Continue: true}
	ndoc := neutral.Wire()
	if _, present := ndoc["decision"]; present {
		t.Fatal("verdict-less decision must omit the decision field")
	}
	if _, present := ndoc["reason"]; present {
		t.Fatal("empty reason must be omitted")
	}
}
