package hooks

import "fmt"

// FailureKind classifies how a handler invocation went wrong. A blocking
// verdict is not a failure; it travels in the fragment.
type FailureKind int

const (
	FailureNonBlocking FailureKind = iota // crash, bad exit code, malformed output
	FailureTimeout                        // deadline hit, invocation cancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	default:
		return "non_blocking"
	}
}

// Failure records why a handler produced no usable fragment. Stderr (or the
// equivalent diagnostic text) rides along for display; it never blocks the
// event by itself.
type Failure struct {
	Kind     FailureKind
	Message  string
	ExitCode int // command handlers only; 0 otherwise
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.ExitCode != 0 {
		return fmt.Sprintf("hooks: %s (exit %d): %s", f.Kind, f.ExitCode, f.Message)
	}
	return fmt.Sprintf("hooks: %s: %s", f.Kind, f.Message)
}

// MatchCompileError reports an invalid matcher pattern. It is raised at
// registration time only; resolution never fails for this reason.
type MatchCompileError struct {
	HandlerID string
	Pattern   string
	Err       error
}

func (e *MatchCompileError) Error() string {
	return fmt.Sprintf("hooks: handler %s: compile matcher %q: %v", e.HandlerID, e.Pattern, e.Err)
}

func (e *MatchCompileError) Unwrap() error { return e.Err }

// DeliveryFailure reports an async fragment that arrived after its session
// was torn down. The fragment is logged and dropped, never retried.
type DeliveryFailure struct {
	SessionID string
	HandlerID string
	Reason    string
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("hooks: delivery from %s to session %s dropped: %s", e.HandlerID, e.SessionID, e.Reason)
}
