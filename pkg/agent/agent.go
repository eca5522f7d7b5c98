// Package agent drives bounded tool-use sessions for handlers that need to
// inspect the workspace before answering. Sessions are read-only and hard
// capped: a misbehaving model runs out of turns, not the host's patience.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

var (
	ErrMaxTurns    = errors.New("agent: max turns reached")
	ErrNilProvider = errors.New("agent: model provider is nil")
)

// DefaultMaxTurns caps a session when Options leaves MaxTurns unset.
const DefaultMaxTurns = 50

// Tool is a named capability offered to a session. Implementations must be
// side-effect free: sessions exist to look, not to touch.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Options controls a session run.
type Options struct {
	// MaxTurns limits model round-trips. Zero means DefaultMaxTurns.
	MaxTurns int
	// Timeout bounds the entire run. Zero disables it.
	Timeout time.Duration
	// Model overrides the provider's default backend model.
	Model string
}

// Outcome is the terminal reply of a session.
type Outcome struct {
	Content string
	Turns   int
	Usage   model.Usage
}

// Runner executes tool-use loops against a model provider.
type Runner struct {
	provider model.Provider
	tools    []Tool
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Runner with the provided collaborators.
func New(provider model.Provider, tools []Tool, opts Options) (*Runner, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	return &Runner{
		provider: provider,
		tools:    tools,
		opts:     opts,
		logger:   logging.Component("agent"),
	}, nil
}

// Run executes the loop for one session. It terminates when the model
// answers without tool calls, the context is canceled, or the turn cap
// trips (ErrMaxTurns).
func (r *Runner) Run(ctx context.Context, system, prompt, sessionID string) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	mdl, err := r.provider.Model(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]model.ToolDefinition, 0, len(r.tools))
	index := make(map[string]Tool, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
		index[tool.Name()] = tool
	}

	msgs := []model.Message{{Role: model.RoleUser, Content: prompt}}
	var usage model.Usage

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if turn >= r.opts.MaxTurns {
			return nil, ErrMaxTurns
		}

		resp, err := mdl.Complete(ctx, model.Request{
			Model:     r.opts.Model,
			System:    system,
			Messages:  msgs,
			Tools:     defs,
			SessionID: sessionID,
		})
		if err != nil {
			return nil, err
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.Message.ToolCalls) == 0 {
			return &Outcome{
				Content: resp.Message.Content,
				Turns:   turn + 1,
				Usage:   usage,
			}, nil
		}

		msgs = append(msgs, resp.Message)

		results := model.Message{Role: model.RoleTool}
		for _, call := range resp.Message.ToolCalls {
			results.ToolCalls = append(results.ToolCalls, model.ToolCall{
				ID:     call.ID,
				Name:   call.Name,
				Result: r.execute(ctx, index, call),
			})
		}
		msgs = append(msgs, results)
	}
}

func (r *Runner) execute(ctx context.Context, index map[string]Tool, call model.ToolCall) string {
	tool, ok := index[call.Name]
	if !ok {
		return errorResult(fmt.Errorf("unknown tool %q", call.Name))
	}
	out, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		r.logger.Debug().Str("tool", call.Name).Err(err).Msg("tool call failed")
		return errorResult(err)
	}
	return out
}

// errorResult encodes a failure so backends flag the tool_result as an error.
func errorResult(err error) string {
	data, merr := json.Marshal(map[string]any{"error": err.Error()})
	if merr != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}
