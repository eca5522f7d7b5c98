package hooks

import (
	"fmt"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// Aggregate folds every handler result for one occurrence into the single
// authoritative FinalDecision. Results arrive in resolution order and the
// fold is deterministic over that order; handler completion timing never
// changes the outcome.
//
// On blockable kinds the highest-precedence verdict wins (Deny/Block > Ask >
// Allow/Continue) and the first fragment carrying it supplies the reason.
// Losing fragments still contribute their additional context. On
// non-blockable kinds and the audit tier, verdicts are discarded and only
// context survives. Aggregation always yields a decision, even when every
// handler failed: absent a blocking verdict the kind's affirmative applies.
func Aggregate(env *events.Envelope, results []Result) FinalDecision {
	policy, _ := events.PolicyFor(env.Kind)

	decision := FinalDecision{
		Kind:         env.Kind,
		OccurrenceID: env.ID,
		Verdict:      affirmativeVerdict(policy),
		Continue:     true,
		Results:      results,
	}

	verdictsCount := policy.Blockable && !policy.AuditOnly

	best := VerdictNone
	for _, res := range results {
		if res.Failed() {
			decision.Diagnostics = append(decision.Diagnostics,
				fmt.Sprintf("%s: %s", res.HandlerID, res.Failure.Error()))
			continue
		}
		frag := res.Fragment
		if frag.Empty() {
			continue
		}

		if frag.AdditionalContext != "" {
			decision.Context = append(decision.Context, frag.AdditionalContext)
		}
		if frag.SystemMessage != "" {
			decision.SystemMessages = append(decision.SystemMessages, frag.SystemMessage)
		}
		if frag.SuppressOutput {
			decision.SuppressOutput = true
		}
		if frag.Continue != nil && !*frag.Continue {
			decision.Continue = false
			if decision.StopReason == "" {
				decision.StopReason = frag.StopReason
			}
		}

		if !verdictsCount {
			// Objections become display context on kinds without a verdict.
			if frag.Reason != "" && frag.Reason != frag.AdditionalContext {
				decision.Context = append(decision.Context, frag.Reason)
			}
			continue
		}

		if len(frag.ModifiedPayload) > 0 {
			decision.ModifiedPayload = overlay(decision.ModifiedPayload, frag.ModifiedPayload)
		}
		if frag.Verdict.rank() > best.rank() {
			best = frag.Verdict
			decision.Verdict = frag.Verdict
			decision.Reason = frag.Reason
		}
	}

	if decision.Verdict.Blocking() {
		// A veto makes payload edits from losing fragments moot.
		decision.ModifiedPayload = nil
	}
	return decision
}

// affirmativeVerdict is the verdict an occurrence carries when nobody
// objects, phrased in the kind's wire vocabulary.
func affirmativeVerdict(policy events.Policy) Verdict {
	switch policy.Style {
	case events.StylePermission:
		return VerdictAllow
	case events.StyleContinuation:
		return VerdictContinue
	default:
		return VerdictNone
	}
}

// overlay merges payload updates fragment by fragment, later keys winning.
func overlay(base, update map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(update))
	}
	for k, v := range update {
		base[k] = v
	}
	return base
}
