package events

import "fmt"

// Kind enumerates the lifecycle moments the engine can announce. Keeping the
// list small and explicit prevents accidental proliferation of loosely
// defined event names.
type Kind string

const (
	PreAction         Kind = "PreAction"
	PostAction        Kind = "PostAction"
	PostActionFailure Kind = "PostActionFailure"
	SessionStart      Kind = "SessionStart"
	SessionEnd        Kind = "SessionEnd"
	Stop              Kind = "Stop"
	SubprocessStart   Kind = "SubprocessStart"
	SubprocessStop    Kind = "SubprocessStop"
	IdleCheck         Kind = "IdleCheck"
	CompletionCheck   Kind = "CompletionCheck"
	ConfigChange      Kind = "ConfigChange"
	PreCompaction     Kind = "PreCompaction"
)

// VerdictStyle selects how a blocking verdict is expressed on the wire for a
// given kind: permission kinds answer allow/deny/ask, continuation kinds
// answer block/continue.
type VerdictStyle int

const (
	StyleNone VerdictStyle = iota
	StylePermission
	StyleContinuation
)

// Policy captures the per-kind capability flags consulted throughout the
// engine. Behavioral differences between kinds live here, in one table,
// rather than in conditionals scattered across the dispatch path.
type Policy struct {
	// Blockable kinds let handler verdicts veto or alter the triggering
	// action. Non-blockable kinds only collect context.
	Blockable bool
	// AuditOnly marks the audit tier: handlers run and their context is
	// retained, but blocking verdicts are structurally discarded.
	AuditOnly bool
	// SupportsAsync permits fire-and-forget command handlers. False only
	// where no later turn exists to deliver a queued result.
	SupportsAsync bool
	// Style selects the wire vocabulary for verdicts.
	Style VerdictStyle

	matchField func(payload any) (string, bool)
}

// HasMatchField reports whether occurrences of this kind carry a value that
// handler patterns are matched against. Kinds without one match every
// registered handler unconditionally.
func (p Policy) HasMatchField() bool { return p.matchField != nil }

// MatchField extracts the match-field value from a kind's payload. The
// second return is false when the kind has no matchable field.
func (p Policy) MatchField(payload any) (string, bool) {
	if p.matchField == nil {
		return "", false
	}
	return p.matchField(payload)
}

var policies = map[Kind]Policy{
	PreAction: {
		Blockable:     true,
		SupportsAsync: true,
		Style:         StylePermission,
		matchField:    actionName,
	},
	PostAction: {
		SupportsAsync: true,
		matchField:    actionName,
	},
	PostActionFailure: {
		SupportsAsync: true,
		matchField:    actionName,
	},
	SessionStart: {
		SupportsAsync: true,
		matchField: func(p any) (string, bool) {
			sp, ok := p.(SessionStartPayload)
			return sp.Source, ok
		},
	},
	SessionEnd: {
		// The session is tearing down; an async result could never be
		// drained on a later turn, so registration rejects async here.
		SupportsAsync: false,
		matchField: func(p any) (string, bool) {
			sp, ok := p.(SessionEndPayload)
			return sp.Reason, ok
		},
	},
	Stop: {
		Blockable:     true,
		SupportsAsync: true,
		Style:         StyleContinuation,
	},
	SubprocessStart: {
		SupportsAsync: true,
		matchField:    subprocessName,
	},
	SubprocessStop: {
		Blockable:     true,
		SupportsAsync: true,
		Style:         StyleContinuation,
		matchField:    subprocessName,
	},
	IdleCheck: {
		Blockable:     true,
		SupportsAsync: true,
		Style:         StyleContinuation,
	},
	CompletionCheck: {
		Blockable:     true,
		SupportsAsync: true,
		Style:         StyleContinuation,
	},
	ConfigChange: {
		Blockable:     true,
		AuditOnly:     true,
		SupportsAsync: true,
		Style:         StyleContinuation,
		matchField: func(p any) (string, bool) {
			cp, ok := p.(ConfigChangePayload)
			return cp.Scope, ok
		},
	},
	PreCompaction: {
		SupportsAsync: true,
		matchField: func(p any) (string, bool) {
			cp, ok := p.(PreCompactionPayload)
			return cp.Trigger, ok
		},
	},
}

// kindOrder fixes a stable presentation order for CLI output and iteration.
var kindOrder = []Kind{
	PreAction, PostAction, PostActionFailure,
	SessionStart, SessionEnd, Stop,
	SubprocessStart, SubprocessStop,
	IdleCheck, CompletionCheck,
	ConfigChange, PreCompaction,
}

func actionName(p any) (string, bool) {
	switch ap := p.(type) {
	case ActionPayload:
		return ap.Action, true
	case ActionResultPayload:
		return ap.Action, true
	default:
		return "", false
	}
}

func subprocessName(p any) (string, bool) {
	switch sp := p.(type) {
	case SubprocessStartPayload:
		return sp.Name, true
	case SubprocessStopPayload:
		return sp.Name, true
	default:
		return "", false
	}
}

// PolicyFor returns the capability row for a kind. Unknown kinds return a
// zero policy and false.
func PolicyFor(k Kind) (Policy, bool) {
	p, ok := policies[k]
	return p, ok
}

// Kinds returns every known kind in stable order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// ParseKind validates a wire name against the known kinds.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := policies[k]; !ok {
		return "", fmt.Errorf("events: unknown kind %q", s)
	}
	return k, nil
}
