package hooks

import (
	"strings"
	"time"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// Verdict is one handler's (or the aggregate's) ruling on the triggering
// action. Permission-style kinds use Allow/Deny/Ask, continuation-style
// kinds use Block/Continue.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictAllow
	VerdictContinue
	VerdictAsk
	VerdictDeny
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictContinue:
		return "continue"
	case VerdictAsk:
		return "ask"
	case VerdictDeny:
		return "deny"
	case VerdictBlock:
		return "block"
	default:
		return "none"
	}
}

// Blocking reports whether the verdict vetoes the triggering action.
func (v Verdict) Blocking() bool { return v == VerdictDeny || v == VerdictBlock }

// rank orders verdicts for aggregation: Deny/Block > Ask > Allow/Continue.
func (v Verdict) rank() int {
	switch v {
	case VerdictDeny, VerdictBlock:
		return 2
	case VerdictAsk:
		return 1
	case VerdictAllow, VerdictContinue:
		return 0
	default:
		return -1
	}
}

// Fragment is one handler's partial contribution to an occurrence's final
// decision. Empty fragments are legal and mean "no opinion".
type Fragment struct {
	Verdict           Verdict
	Reason            string
	AdditionalContext string
	ModifiedPayload   map[string]any
	SuppressOutput    bool
	SystemMessage     string

	// Continue carries the wire-level escape hatch: false stops the host
	// turn on any kind, independent of the per-kind verdict.
	Continue   *bool
	StopReason string
}

// Empty reports whether the fragment carries nothing at all.
func (f *Fragment) Empty() bool {
	if f == nil {
		return true
	}
	return f.Verdict == VerdictNone && f.Reason == "" && f.AdditionalContext == "" &&
		f.ModifiedPayload == nil && !f.SuppressOutput && f.SystemMessage == "" &&
		f.Continue == nil && f.StopReason == ""
}

// Result is the immutable outcome of one handler invocation. Exactly one of
// Fragment and Failure is meaningful; a nil Fragment with a nil Failure is
// an empty "no opinion" success.
type Result struct {
	HandlerID string
	Scope     Scope
	Type      HandlerType
	Fragment  *Fragment
	Failure   *Failure
	Elapsed   time.Duration
}

// Failed reports whether the invocation ended in a failure rather than a
// fragment (empty fragments included).
func (r Result) Failed() bool { return r.Failure != nil }

// FinalDecision is the single authoritative outcome for one occurrence.
// Aggregation always produces one, even when every handler failed.
type FinalDecision struct {
	Kind         events.Kind
	OccurrenceID string

	// Verdict for blockable kinds; VerdictNone on kinds whose handlers
	// cannot rule. Defaults to the kind's affirmative verdict.
	Verdict Verdict
	Reason  string

	// Context aggregates every fragment's additional context, winner or
	// not. SystemMessages and Diagnostics are display-only side channels.
	Context        []string
	SystemMessages []string
	Diagnostics    []string

	// ModifiedPayload is the overlaid updated input for permission-style
	// kinds; nil when denied or untouched.
	ModifiedPayload map[string]any

	SuppressOutput bool

	// Continue is the host-turn escape hatch: false means stop the turn
	// regardless of kind or verdict. Defaults to true.
	Continue   bool
	StopReason string

	// Results preserves every handler outcome in resolution order.
	Results []Result
}

// Blocked reports whether the triggering action was vetoed.
func (d *FinalDecision) Blocked() bool { return d.Verdict.Blocking() }

// Wire renders the host-facing decision document, the outward counterpart of
// the envelope's Flatten. Field names follow the envelope wire convention;
// per-handler results stay engine-internal.
func (d *FinalDecision) Wire() map[string]any {
	doc := map[string]any{
		"hook_event_name": string(d.Kind),
		"occurrence_id":   d.OccurrenceID,
		"continue":        d.Continue,
	}
	if d.Verdict != VerdictNone {
		doc["decision"] = d.Verdict.String()
	}
	if d.Reason != "" {
		doc["reason"] = d.Reason
	}
	if len(d.Context) > 0 {
		doc["additional_context"] = strings.Join(d.Context, "\n")
	}
	if len(d.SystemMessages) > 0 {
		doc["system_messages"] = d.SystemMessages
	}
	if len(d.Diagnostics) > 0 {
		doc["diagnostics"] = d.Diagnostics
	}
	if d.ModifiedPayload != nil {
		doc["updated_input"] = d.ModifiedPayload
	}
	if d.SuppressOutput {
		doc["suppress_output"] = true
	}
	if d.StopReason != "" {
		doc["stop_reason"] = d.StopReason
	}
	return doc
}
