package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

// verdictSystemPrompt frames every model-backed evaluation. Handlers supply
// only the policy text; the reply contract stays engine-owned.
const verdictSystemPrompt = `You are a lifecycle hook evaluating an event inside an agent runtime.
You receive a policy instruction and the event's JSON envelope.

Answer with a single JSON object and nothing else:
  {"ok": true}                        the event may proceed
  {"ok": false, "reason": "<short>"}  the event must not proceed`

// PromptInvoker evaluates prompt handlers with a single model turn.
type PromptInvoker struct {
	provider model.Provider
	logger   zerolog.Logger
}

// NewPromptInvoker builds the single-turn model invoker.
func NewPromptInvoker(provider model.Provider) *PromptInvoker {
	return &PromptInvoker{provider: provider, logger: logging.Component("hooks.prompt")}
}

func (pi *PromptInvoker) invoke(ctx context.Context, cs *compiledSpec, env *events.Envelope) (res Result) {
	res = Result{HandlerID: cs.ID, Scope: cs.scope, Type: TypePrompt}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	if pi.provider == nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: "no model provider configured"}
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, cs.Timeout)
	defer cancel()

	mdl, err := pi.provider.Model(runCtx)
	if err != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("model unavailable: %v", err)}
		return res
	}

	payload, err := json.MarshalIndent(env.Flatten(), "", "  ")
	if err != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("marshal envelope: %v", err)}
		return res
	}

	resp, err := mdl.Complete(runCtx, model.Request{
		Model:     cs.Model,
		System:    verdictSystemPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: renderJudgmentRequest(cs.Prompt, payload)}},
		SessionID: env.SessionID,
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			pi.logger.Warn().
				Str("handler_id", cs.ID).
				Dur("timeout", cs.Timeout).
				Msg("prompt handler timed out")
			res.Failure = &Failure{
				Kind:    FailureTimeout,
				Message: fmt.Sprintf("timed out after %s", cs.Timeout),
			}
			return res
		}
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: err.Error()}
		return res
	}

	reply, perr := parseVerdictReply(resp.Message.Content)
	if perr != nil {
		pi.logger.Warn().Str("handler_id", cs.ID).Err(perr).Msg("discarding unparseable prompt reply")
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: perr.Error()}
		return res
	}
	res.Fragment = fragmentFromVerdict(env.Kind, reply)
	return res
}

func renderJudgmentRequest(instruction string, payload []byte) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\nEvent:\n")
	b.Write(payload)
	return b.String()
}
