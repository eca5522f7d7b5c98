package hooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// HandlerOutput is the JSON document a command handler may print on exit 0.
// Every field is optional; an empty document (or none at all) means "no
// opinion". Field names are the stable wire contract.
type HandlerOutput struct {
	Continue       *bool  `json:"continue,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`
	SuppressOutput bool   `json:"suppressOutput,omitempty"`
	Decision       string `json:"decision,omitempty"` // "block" on continuation-style kinds
	Reason         string `json:"reason,omitempty"`
	SystemMessage  string `json:"systemMessage,omitempty"`

	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries the per-kind section of a handler's output.
type HookSpecificOutput struct {
	HookEventName string `json:"hookEventName,omitempty"`

	// Permission-style kinds.
	PermissionDecision       string         `json:"permissionDecision,omitempty"` // allow|deny|ask
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`

	// Context-injecting kinds.
	AdditionalContext string `json:"additionalContext,omitempty"`
}

func decodeHandlerOutput(raw string) (*HandlerOutput, error) {
	var out HandlerOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("hooks: decode handler output: %w", err)
	}
	return &out, nil
}

// fragmentFromOutput translates wire output into a decision fragment under
// the kind's verdict vocabulary. Unknown verdict words are dropped rather
// than rejected so a handler written against a newer engine degrades to
// context-only.
func fragmentFromOutput(kind events.Kind, out *HandlerOutput) *Fragment {
	if out == nil {
		return &Fragment{}
	}
	policy, _ := events.PolicyFor(kind)

	frag := &Fragment{
		Reason:         out.Reason,
		SuppressOutput: out.SuppressOutput,
		SystemMessage:  out.SystemMessage,
		Continue:       out.Continue,
		StopReason:     out.StopReason,
	}

	if strings.EqualFold(out.Decision, "block") && policy.Style == events.StyleContinuation {
		frag.Verdict = VerdictBlock
	}

	if hso := out.HookSpecificOutput; hso != nil {
		frag.AdditionalContext = hso.AdditionalContext
		if policy.Style == events.StylePermission {
			switch strings.ToLower(hso.PermissionDecision) {
			case "allow":
				frag.Verdict = VerdictAllow
			case "deny":
				frag.Verdict = VerdictDeny
			case "ask":
				frag.Verdict = VerdictAsk
			}
			if hso.PermissionDecisionReason != "" {
				frag.Reason = hso.PermissionDecisionReason
			}
			frag.ModifiedPayload = hso.UpdatedInput
		}
	}
	return frag
}

// verdictReply is the `{ok, reason}` document prompt and agent handlers
// answer with.
type verdictReply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// parseVerdictReply extracts the verdict document from a model reply. Models
// are asked for bare JSON but routinely wrap it in prose or code fences, so
// parsing falls back to the outermost object in the text. A document without
// an "ok" field carries no verdict and is rejected.
func parseVerdictReply(text string) (verdictReply, error) {
	var reply verdictReply
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reply, fmt.Errorf("hooks: empty verdict reply")
	}

	doc := trimmed
	if strings.HasPrefix(doc, "```") {
		doc = strings.TrimPrefix(doc, "```json")
		doc = strings.TrimPrefix(doc, "```")
		if i := strings.LastIndex(doc, "```"); i >= 0 {
			doc = doc[:i]
		}
		doc = strings.TrimSpace(doc)
	}
	if !gjson.Valid(doc) {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return reply, fmt.Errorf("hooks: no verdict document in reply")
		}
		doc = trimmed[start : end+1]
		if !gjson.Valid(doc) {
			return reply, fmt.Errorf("hooks: no verdict document in reply")
		}
	}

	ok := gjson.Get(doc, "ok")
	if !ok.Exists() {
		return reply, fmt.Errorf("hooks: verdict reply has no ok field")
	}
	reply.OK = ok.Bool()
	reply.Reason = gjson.Get(doc, "reason").String()
	return reply, nil
}

// fragmentFromVerdict maps an {ok, reason} verdict onto the kind's
// vocabulary: ok=false blocks, ok=true is an explicit affirmative.
func fragmentFromVerdict(kind events.Kind, reply verdictReply) *Fragment {
	policy, _ := events.PolicyFor(kind)
	frag := &Fragment{Reason: reply.Reason}
	switch {
	case !reply.OK && policy.Style == events.StylePermission:
		frag.Verdict = VerdictDeny
	case !reply.OK && policy.Style == events.StyleContinuation:
		frag.Verdict = VerdictBlock
	case !reply.OK:
		// Non-blockable kind: the objection becomes context.
		frag.AdditionalContext = reply.Reason
	case policy.Style == events.StylePermission:
		frag.Verdict = VerdictAllow
	case policy.Style == events.StyleContinuation:
		frag.Verdict = VerdictContinue
	}
	return frag
}
