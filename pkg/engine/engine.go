// Package engine assembles the dispatch stack behind a single facade:
// layered settings, the scope-partitioned registry, the dispatcher with its
// async sink, optional settings watching, and tracing. Hosts construct one
// Engine per process and feed it occurrence envelopes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/config"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
	"github.com/stellarlinkco/hookflow/pkg/core/middleware"
	"github.com/stellarlinkco/hookflow/pkg/model"
)

// Options configures an Engine.
type Options struct {
	// ProjectRoot locates the project-scope settings directory. Empty skips
	// the project scope.
	ProjectRoot string

	// HostDir overrides the host-scope settings directory. Empty applies
	// config.DefaultHostDir().
	HostDir string

	// SessionID stamps occurrences the engine originates itself, such as
	// settings-change announcements. Defaults to "host".
	SessionID string

	// Overrides is the runtime settings layer; its handlers register under
	// the component scope.
	Overrides *config.Settings

	// Provider overrides the settings-derived model provider for prompt and
	// agent handlers.
	Provider model.Provider

	// Middleware wraps every dispatch, outermost first.
	Middleware []middleware.Middleware

	// AsyncCapacity bounds the per-session async delivery queue.
	// Zero applies hooks.DefaultSinkCapacity.
	AsyncCapacity int

	// WorkDir pins command handlers to one working directory instead of the
	// envelope's.
	WorkDir string

	// FailClosedOnTimeout promotes handler timeouts on blockable kinds to
	// blocking verdicts.
	FailClosedOnTimeout bool

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig
}

// Engine is the host-facing facade over the dispatch pipeline.
type Engine struct {
	loader     *config.Loader
	registry   *hooks.Registry
	dispatcher *hooks.Dispatcher
	tracer     Tracer
	logger     zerolog.Logger
	sessionID  string
	workDir    string

	mu      sync.Mutex
	set     *config.ScopeSet
	watcher *config.Watcher
	closed  bool
}

// New loads every settings scope, validates it strictly, and builds the
// engine. A settings file that fails validation aborts construction; the
// lenient path is Reload, which keeps the previous handlers on error.
func New(opts Options) (*Engine, error) {
	loader := &config.Loader{
		ProjectRoot: opts.ProjectRoot,
		HostDir:     opts.HostDir,
		Overrides:   opts.Overrides,
	}
	set, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	registry := hooks.NewRegistry()
	for _, scope := range hooks.Scopes() {
		specs := set.Specs(scope)
		if len(specs) == 0 {
			continue
		}
		if err := registry.ReplaceScope(scope, specs); err != nil {
			return nil, err
		}
	}

	provider := opts.Provider
	if provider == nil {
		provider = providerFromSettings(set)
	}

	dopts := []hooks.Option{
		hooks.WithSink(hooks.NewSink(opts.AsyncCapacity)),
		hooks.WithProvider(provider),
	}
	if env := set.Env(); len(env) > 0 {
		dopts = append(dopts, hooks.WithCommandEnv(env))
	}
	if opts.WorkDir != "" {
		dopts = append(dopts, hooks.WithWorkDir(opts.WorkDir))
	}
	if len(opts.Middleware) > 0 {
		dopts = append(dopts, hooks.WithMiddleware(opts.Middleware...))
	}
	if opts.FailClosedOnTimeout {
		dopts = append(dopts, hooks.WithFailClosed())
	}

	tracer, err := NewTracer(opts.Tracing)
	if err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "host"
	}

	return &Engine{
		loader:     loader,
		registry:   registry,
		dispatcher: hooks.NewDispatcher(registry, dopts...),
		tracer:     tracer,
		logger:     logging.Component("engine"),
		sessionID:  sessionID,
		workDir:    opts.WorkDir,
		set:        set,
	}, nil
}

// providerFromSettings builds the model provider the settings describe. A
// settings tree with no provider block still yields an Anthropic provider so
// deployments that only export an API key env var keep working; a missing key
// surfaces per-invocation as a non-blocking model failure.
func providerFromSettings(set *config.ScopeSet) model.Provider {
	ps := set.Provider()
	name := set.DefaultModel()
	if ps.Type == "openai" {
		return &model.OpenAIProvider{APIKey: ps.APIKey, BaseURL: ps.BaseURL, ModelName: name}
	}
	return &model.AnthropicProvider{APIKey: ps.APIKey, BaseURL: ps.BaseURL, ModelName: name}
}

// Dispatch runs one occurrence through the pipeline and traces it: one span
// for the dispatch, one child span per handler result. The handler spans are
// emitted after the fact from the decision's results, so their wall-clock
// bounds are approximate while elapsed_ms is exact.
func (e *Engine) Dispatch(ctx context.Context, env *events.Envelope) (hooks.FinalDecision, error) {
	if env == nil {
		return e.dispatcher.Dispatch(ctx, env)
	}

	span := e.tracer.StartDispatchSpan(string(env.Kind), env.SessionID, env.ID)
	decision, err := e.dispatcher.Dispatch(ctx, env)

	for _, res := range decision.Results {
		hs := e.tracer.StartHandlerSpan(span, res.HandlerID, string(res.Type))
		var herr error
		if res.Failure != nil {
			herr = res.Failure
		}
		e.tracer.EndSpan(hs, map[string]any{
			"handler.scope":      string(res.Scope),
			"handler.elapsed_ms": res.Elapsed.Milliseconds(),
		}, herr)
	}
	e.tracer.EndSpan(span, map[string]any{
		"hook.verdict":  decision.Verdict.String(),
		"hook.continue": decision.Continue,
		"hook.handlers": len(decision.Results),
	}, err)

	return decision, err
}

// DrainAsync removes and returns the session's queued async contributions,
// oldest first. Hosts call it at turn boundaries.
func (e *Engine) DrainAsync(sessionID string) []hooks.Delivery {
	return e.dispatcher.Sink().Drain(sessionID)
}

// Sink exposes the async delivery sink for session lifecycle calls.
func (e *Engine) Sink() *hooks.Sink { return e.dispatcher.Sink() }

// WaitAsync blocks until every launched async handler has settled.
func (e *Engine) WaitAsync() { e.dispatcher.WaitAsync() }

// Handlers snapshots the registered handlers in resolution order.
func (e *Engine) Handlers() []hooks.RegisteredHandler { return e.registry.Handlers() }

// Settings returns the most recently loaded scope set.
func (e *Engine) Settings() *config.ScopeSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Reload re-reads the settings files and swaps the named scope's handler
// partition. Errors leave the previous partition in place. A successful swap
// is announced by dispatching a settings-change occurrence, so audit handlers
// observe it.
func (e *Engine) Reload(ctx context.Context, scope hooks.Scope) error {
	set, err := e.loader.Load()
	if err != nil {
		return fmt.Errorf("reload %s: %w", scope, err)
	}
	if err := validateLayer(set, scope); err != nil {
		return fmt.Errorf("reload %s: %w", scope, err)
	}
	if err := e.registry.ReplaceScope(scope, set.Specs(scope)); err != nil {
		return fmt.Errorf("reload %s: %w", scope, err)
	}

	e.mu.Lock()
	e.set = set
	e.mu.Unlock()

	e.logger.Info().Str("scope", string(scope)).Msg("settings scope reloaded")
	e.announceReload(ctx, scope, set)
	return nil
}

// validateLayer validates only the layer being swapped, so a broken file in
// one scope does not pin the others to stale handlers.
func validateLayer(set *config.ScopeSet, scope hooks.Scope) error {
	switch scope {
	case hooks.ScopeHost:
		return set.Host.Validate()
	case hooks.ScopeProject:
		return set.Project.Validate()
	case hooks.ScopeComponent:
		return set.Runtime.Validate()
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}
}

func (e *Engine) announceReload(ctx context.Context, scope hooks.Scope, set *config.ScopeSet) {
	path := ""
	switch scope {
	case hooks.ScopeHost:
		path = set.HostPath
	case hooks.ScopeProject:
		path = set.ProjectPath
	}
	env, err := events.NewEnvelope(events.ConfigChange, e.sessionID, e.workDir,
		events.ConfigChangePayload{Scope: string(scope), Path: path})
	if err != nil {
		e.logger.Warn().Err(err).Msg("settings change envelope rejected")
		return
	}
	if _, err := e.Dispatch(ctx, env); err != nil {
		e.logger.Warn().Err(err).Msg("settings change dispatch failed")
	}
}

// Watch starts reloading scope partitions when their settings files change
// on disk. The watcher stops when ctx is cancelled or the engine closes; a
// reload error is logged and the previous handlers stay active.
func (e *Engine) Watch(ctx context.Context) error {
	w, err := e.loader.Watch(func(scope hooks.Scope) {
		if err := e.Reload(context.Background(), scope); err != nil {
			e.logger.Warn().Err(err).
				Str("scope", string(scope)).
				Msg("reload failed, keeping previous handlers")
		}
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = w.Close()
		return errors.New("engine: closed")
	}
	if prev := e.watcher; prev != nil {
		_ = prev.Close()
	}
	e.watcher = w
	e.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = w.Close()
		}()
	}
	return nil
}

// Close stops the settings watcher, waits for in-flight async handlers, and
// flushes the tracer. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.watcher
	e.watcher = nil
	e.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	e.dispatcher.WaitAsync()
	return e.tracer.Shutdown()
}
