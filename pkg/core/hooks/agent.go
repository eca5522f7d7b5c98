package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/agent"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

const agentSystemPrompt = verdictSystemPrompt + `

You may call the provided read-only tools to inspect the session
directory before answering. Answer with the JSON object once you have
enough evidence.`

// AgentInvoker evaluates agent handlers with a bounded tool-use session
// rooted at the event's working directory.
type AgentInvoker struct {
	provider model.Provider
	logger   zerolog.Logger
}

// NewAgentInvoker builds the session-backed invoker.
func NewAgentInvoker(provider model.Provider) *AgentInvoker {
	return &AgentInvoker{provider: provider, logger: logging.Component("hooks.agent")}
}

func (ai *AgentInvoker) invoke(ctx context.Context, cs *compiledSpec, env *events.Envelope) (res Result) {
	res = Result{HandlerID: cs.ID, Scope: cs.scope, Type: TypeAgent}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	if ai.provider == nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: "no model provider configured"}
		return res
	}

	payload, err := json.MarshalIndent(env.Flatten(), "", "  ")
	if err != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("marshal envelope: %v", err)}
		return res
	}

	root := env.CWD
	if root == "" {
		root = "."
	}
	runner, err := agent.New(ai.provider, agent.ReadOnlyTools(root), agent.Options{Model: cs.Model})
	if err != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: err.Error()}
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, cs.Timeout)
	defer cancel()

	out, err := runner.Run(runCtx, agentSystemPrompt, renderJudgmentRequest(cs.Prompt, payload), env.SessionID)
	switch {
	case errors.Is(err, agent.ErrMaxTurns):
		ai.logger.Warn().Str("handler_id", cs.ID).Msg("agent handler exhausted its turn cap without a verdict")
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: "session exhausted its turn cap without a verdict"}
		return res
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		ai.logger.Warn().
			Str("handler_id", cs.ID).
			Dur("timeout", cs.Timeout).
			Msg("agent handler timed out")
		res.Failure = &Failure{
			Kind:    FailureTimeout,
			Message: fmt.Sprintf("timed out after %s", cs.Timeout),
		}
		return res
	case err != nil:
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: err.Error()}
		return res
	}

	reply, perr := parseVerdictReply(out.Content)
	if perr != nil {
		ai.logger.Warn().Str("handler_id", cs.ID).Err(perr).Msg("discarding unparseable agent reply")
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: perr.Error()}
		return res
	}
	res.Fragment = fragmentFromVerdict(env.Kind, reply)
	return res
}
