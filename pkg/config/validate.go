package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

// MaxTimeoutSeconds caps explicit per-handler timeouts.
const MaxTimeoutSeconds = 600

// Validate checks one settings layer for logical consistency. All failures
// are aggregated with errors.Join so a single load surfaces every problem,
// each tagged with its position in the file.
func (s *Settings) Validate() error {
	if s == nil {
		return nil
	}

	var errs []error
	if s.Provider != nil {
		switch s.Provider.Type {
		case "", "anthropic", "openai":
		default:
			errs = append(errs, fmt.Errorf("provider.type %q is not supported", s.Provider.Type))
		}
	}
	for _, kind := range events.Kinds() {
		errs = append(errs, validateEntries(kind, s.Hooks[kind])...)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func validateEntries(kind events.Kind, entries []MatcherEntry) []error {
	if len(entries) == 0 {
		return nil
	}
	policy, _ := events.PolicyFor(kind)

	var errs []error
	for i, entry := range entries {
		label := fmt.Sprintf("hooks.%s[%d]", kind, i)
		if err := validatePattern(entry.Matcher); err != nil {
			errs = append(errs, fmt.Errorf("%s.matcher: %w", label, err))
		}
		if len(entry.Hooks) == 0 {
			errs = append(errs, fmt.Errorf("%s: hooks array is empty", label))
			continue
		}
		for j, def := range entry.Hooks {
			errs = append(errs, validateHandlerDef(fmt.Sprintf("%s.hooks[%d]", label, j), policy, def)...)
		}
	}
	return errs
}

// validatePattern accepts the empty matcher, the catch-all wildcard, and any
// compilable regexp. The registry compiles the same string at registration,
// so validity here guarantees registration will not reject it later.
func validatePattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("matcher %q is not a valid regexp: %w", pattern, err)
	}
	return nil
}

func validateHandlerDef(label string, policy events.Policy, def HandlerDef) []error {
	var errs []error

	switch hooks.HandlerType(def.Type) {
	case hooks.TypeCommand, "":
		if strings.TrimSpace(def.Command) == "" {
			errs = append(errs, fmt.Errorf("%s: command is required for type %q", label, def.Type))
		}
	case hooks.TypePrompt:
		if strings.TrimSpace(def.Prompt) == "" {
			errs = append(errs, fmt.Errorf("%s: prompt is required for type \"prompt\"", label))
		}
	case hooks.TypeAgent:
		if strings.TrimSpace(def.Prompt) == "" {
			errs = append(errs, fmt.Errorf("%s: prompt is required for type \"agent\"", label))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unsupported type %q", label, def.Type))
	}

	if def.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s: timeout must be >= 0", label))
	}
	if def.Timeout > MaxTimeoutSeconds {
		errs = append(errs, fmt.Errorf("%s: timeout %ds exceeds the %ds maximum", label, def.Timeout, MaxTimeoutSeconds))
	}

	if def.Async {
		if t := hooks.HandlerType(def.Type); t != hooks.TypeCommand && t != "" {
			errs = append(errs, fmt.Errorf("%s: async is supported for command handlers only", label))
		}
		if !policy.SupportsAsync {
			errs = append(errs, fmt.Errorf("%s: this event kind does not support async handlers", label))
		}
	}

	return errs
}
