package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/middleware"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

// Dispatcher runs the full pipeline for one occurrence: resolve matching
// handlers, fan out their invocations, aggregate fragments into a
// FinalDecision, and queue async contributions for later turns.
type Dispatcher struct {
	registry *Registry
	command  *CommandInvoker
	prompt   *PromptInvoker
	agent    *AgentInvoker
	sink     *Sink
	mws      []middleware.Middleware
	logger   zerolog.Logger

	// failClosed promotes timeouts on blockable kinds to blocking verdicts.
	failClosed bool

	// inflight collapses same-occurrence duplicate invocations; keys are
	// consulted at invocation start only.
	mu       sync.Mutex
	inflight map[string]struct{}

	asyncWG sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithProvider enables prompt and agent handlers backed by the given model
// provider. Without it those handler types fail non-blocking.
func WithProvider(p model.Provider) Option {
	return func(d *Dispatcher) {
		d.prompt = NewPromptInvoker(p)
		d.agent = NewAgentInvoker(p)
	}
}

// WithSink replaces the default async delivery sink.
func WithSink(s *Sink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithCommandEnv adds environment entries to every command handler.
func WithCommandEnv(env map[string]string) Option {
	return func(d *Dispatcher) { d.command.Env = env }
}

// WithWorkDir pins command handlers to one working directory instead of the
// envelope's.
func WithWorkDir(dir string) Option {
	return func(d *Dispatcher) { d.command.WorkDir = dir }
}

// WithMiddleware wraps Dispatch in the given middlewares, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.mws = append(d.mws, mws...) }
}

// WithFailClosed treats handler timeouts on blockable kinds as blocking
// verdicts instead of non-blocking failures.
func WithFailClosed() Option {
	return func(d *Dispatcher) { d.failClosed = true }
}

// NewDispatcher builds a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		command:  NewCommandInvoker(),
		sink:     NewSink(0),
		logger:   logging.Component("hooks.dispatch"),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sink exposes the async delivery sink so the host can drain queued
// contributions at turn boundaries.
func (d *Dispatcher) Sink() *Sink { return d.sink }

// Dispatch runs one occurrence end to end and returns its FinalDecision.
// The error return covers malformed envelopes only; handler failures are
// folded into the decision's diagnostics.
func (d *Dispatcher) Dispatch(ctx context.Context, env *events.Envelope) (FinalDecision, error) {
	if env == nil {
		return FinalDecision{}, fmt.Errorf("hooks: nil envelope")
	}
	if err := env.Validate(); err != nil {
		return FinalDecision{}, err
	}

	var decision FinalDecision
	run := func(ctx context.Context, env *events.Envelope) error {
		decision = d.run(ctx, env)
		return nil
	}
	if err := middleware.Chain(run, d.mws...)(ctx, env); err != nil {
		return FinalDecision{}, err
	}
	return decision, nil
}

// WaitAsync blocks until every launched async handler has settled. Used at
// shutdown so fire-and-forget work is not orphaned mid-write.
func (d *Dispatcher) WaitAsync() { d.asyncWG.Wait() }
