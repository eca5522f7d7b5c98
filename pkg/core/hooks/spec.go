package hooks

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// HandlerType selects how a handler is invoked.
type HandlerType string

const (
	TypeCommand HandlerType = "command"
	TypePrompt  HandlerType = "prompt"
	TypeAgent   HandlerType = "agent"
)

// Default invocation timeouts per handler type.
const (
	DefaultCommandTimeout = 600 * time.Second
	DefaultPromptTimeout  = 30 * time.Second
	DefaultAgentTimeout   = 60 * time.Second
)

// Scope identifies where a handler was registered from. Scopes resolve in a
// fixed priority order and a handler's lifetime is tied to its scope: when a
// scope is replaced or removed, its handlers (and their one-shot marks) go
// with it.
type Scope string

const (
	ScopeHost      Scope = "host"
	ScopeProject   Scope = "project"
	ScopeComponent Scope = "component"
)

// scopeOrder is the resolution priority: host first, then project, then the
// narrowest, most dynamic scope.
var scopeOrder = []Scope{ScopeHost, ScopeProject, ScopeComponent}

// Scopes returns the resolution priority order.
func Scopes() []Scope {
	out := make([]Scope, len(scopeOrder))
	copy(out, scopeOrder)
	return out
}

// HandlerSpec describes a single registered handler. Specs are compiled at
// registration; a spec that compiles never fails to match at dispatch time.
type HandlerSpec struct {
	ID      string
	Kind    events.Kind
	Pattern string // regex; empty or "*" matches every occurrence

	Type    HandlerType
	Command string // Type == command: shell command line
	Prompt  string // Type == prompt/agent: judgment instructions
	Model   string // optional model override for prompt/agent handlers

	Timeout time.Duration // zero applies the per-type default
	Async   bool          // command only, fire-and-forget
	Once    bool          // at most one successful completion per scope lifetime
	Env     map[string]string
}

// Target returns the spec's invocation target (command line or prompt text).
func (s HandlerSpec) Target() string {
	if s.Type == TypeCommand {
		return s.Command
	}
	return s.Prompt
}

// compiledSpec is the registry's internal, ready-to-match form.
type compiledSpec struct {
	HandlerSpec
	scope   Scope
	pattern *regexp.Regexp // nil means match-all
	key     string         // dedup identity: kind + normalized target + pattern
	part    *scopePartition
}

// matches applies the compiled pattern to the occurrence's match field.
// Kinds without a match field match every registered handler.
func (c *compiledSpec) matches(policy events.Policy, matchField string) bool {
	if !policy.HasMatchField() || c.pattern == nil {
		return true
	}
	return c.pattern.MatchString(matchField)
}

func compileSpec(scope Scope, index int, spec HandlerSpec) (*compiledSpec, error) {
	if spec.ID == "" {
		spec.ID = fmt.Sprintf("%s:%s:%d", scope, spec.Kind, index)
	}
	policy, ok := events.PolicyFor(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("hooks: handler %s: unknown kind %q", spec.ID, spec.Kind)
	}

	switch spec.Type {
	case TypeCommand:
		if strings.TrimSpace(spec.Command) == "" {
			return nil, fmt.Errorf("hooks: handler %s: command handler without a command", spec.ID)
		}
	case TypePrompt, TypeAgent:
		if strings.TrimSpace(spec.Prompt) == "" {
			return nil, fmt.Errorf("hooks: handler %s: %s handler without a prompt", spec.ID, spec.Type)
		}
	default:
		return nil, fmt.Errorf("hooks: handler %s: unknown type %q", spec.ID, spec.Type)
	}

	if spec.Async {
		if spec.Type != TypeCommand {
			return nil, fmt.Errorf("hooks: handler %s: async is supported for command handlers only", spec.ID)
		}
		if !policy.SupportsAsync {
			return nil, fmt.Errorf("hooks: handler %s: kind %s does not support async handlers", spec.ID, spec.Kind)
		}
	}

	if spec.Timeout <= 0 {
		spec.Timeout = defaultTimeout(spec.Type)
	}

	cs := &compiledSpec{HandlerSpec: spec, scope: scope}
	if p := strings.TrimSpace(spec.Pattern); p != "" && p != "*" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &MatchCompileError{HandlerID: spec.ID, Pattern: spec.Pattern, Err: err}
		}
		cs.pattern = re
	}
	cs.key = dedupKey(spec.Kind, spec.Target(), spec.Pattern)
	return cs, nil
}

func defaultTimeout(t HandlerType) time.Duration {
	switch t {
	case TypePrompt:
		return DefaultPromptTimeout
	case TypeAgent:
		return DefaultAgentTimeout
	default:
		return DefaultCommandTimeout
	}
}

// dedupKey identifies duplicate registrations: identical (kind, normalized
// target, pattern) collapse to a single invocation per occurrence.
func dedupKey(kind events.Kind, target, pattern string) string {
	return string(kind) + "\x00" + normalizeTarget(target) + "\x00" + strings.TrimSpace(pattern)
}

func normalizeTarget(target string) string {
	return strings.Join(strings.Fields(target), " ")
}
