// Package schedule emits recurring lifecycle probes. A probe fires on a cron
// schedule, builds an IdleCheck or CompletionCheck envelope for its session,
// and hands it to the dispatcher; handlers registered for those kinds then
// decide whether the session should keep going.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

// Dispatcher is the slice of the engine a probe needs. Both
// *hooks.Dispatcher and the engine facade satisfy it.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *events.Envelope) (hooks.FinalDecision, error)
}

// Probe is one recurring check bound to a session.
type Probe struct {
	Name      string      // unique within the service
	Expr      string      // cron expression with a seconds field
	Kind      events.Kind // IdleCheck or CompletionCheck
	SessionID string
	CWD       string
	Summary   string // CompletionCheck only: what the host believes finished
}

// Service owns the cron runner and the registered probes.
type Service struct {
	dispatcher Dispatcher

	// OnDecision receives every probe's final decision. Optional; firing
	// outcomes are logged either way.
	OnDecision func(Probe, hooks.FinalDecision)

	cron   *rcron.Cron
	logger zerolog.Logger

	mu       sync.Mutex
	entries  map[string]rcron.EntryID
	probes   map[string]Probe
	inflight map[string]bool      // probe name -> a firing is still dispatching
	activity map[string]time.Time // session id -> last activity mark
	started  time.Time
	cancel   context.CancelFunc
	runCtx   context.Context
}

func NewService(d Dispatcher) *Service {
	return &Service{
		dispatcher: d,
		cron:       rcron.New(rcron.WithSeconds()),
		logger:     logging.Component("schedule"),
		entries:    make(map[string]rcron.EntryID),
		probes:     make(map[string]Probe),
		inflight:   make(map[string]bool),
		activity:   make(map[string]time.Time),
	}
}

// AddProbe registers a probe. Probes may be added before or after Start.
func (s *Service) AddProbe(p Probe) error {
	if p.Name == "" {
		return fmt.Errorf("schedule: probe needs a name")
	}
	if p.SessionID == "" {
		return fmt.Errorf("schedule: probe %s needs a session id", p.Name)
	}
	if p.Kind != events.IdleCheck && p.Kind != events.CompletionCheck {
		return fmt.Errorf("schedule: probe %s: kind %s is not a periodic check", p.Name, p.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.probes[p.Name]; exists {
		return fmt.Errorf("schedule: probe %s already registered", p.Name)
	}

	probe := p
	id, err := s.cron.AddFunc(p.Expr, func() { s.fire(probe) })
	if err != nil {
		return fmt.Errorf("schedule: probe %s: %w", p.Name, err)
	}
	s.entries[p.Name] = id
	s.probes[p.Name] = p
	return nil
}

// RemoveProbe unregisters a probe. Returns false when no such probe exists.
func (s *Service) RemoveProbe(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.probes, name)
	return true
}

// Probes returns the registered probes sorted by name.
func (s *Service) Probes() []Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Probe, 0, len(s.probes))
	for _, p := range s.probes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MarkActivity records that a session just did something, resetting its idle
// clock. Hosts call this from their input/dispatch paths.
func (s *Service) MarkActivity(sessionID string) {
	s.mu.Lock()
	s.activity[sessionID] = time.Now()
	s.mu.Unlock()
}

// Start begins firing probes. The service stops itself when ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.started = time.Now()
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("probes", len(s.Probes())).Msg("probe scheduler started")

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits briefly for in-flight firings.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("stop timed out waiting for running probes")
	}
}

// fire runs one probe occurrence. A probe whose previous firing is still
// dispatching is skipped rather than stacked.
func (s *Service) fire(p Probe) {
	s.mu.Lock()
	if s.inflight[p.Name] {
		s.mu.Unlock()
		s.logger.Debug().Str("probe", p.Name).Msg("previous firing still running, skipped")
		return
	}
	s.inflight[p.Name] = true
	ctx := s.runCtx
	idle := s.idleFor(p.SessionID)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, p.Name)
		s.mu.Unlock()
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	env, err := events.NewEnvelope(p.Kind, p.SessionID, p.CWD, s.payloadFor(p, idle))
	if err != nil {
		s.logger.Error().Str("probe", p.Name).Err(err).Msg("probe envelope rejected")
		return
	}

	decision, err := s.dispatcher.Dispatch(ctx, env)
	if err != nil {
		s.logger.Warn().Str("probe", p.Name).Err(err).Msg("probe dispatch failed")
		return
	}

	s.logger.Debug().
		Str("probe", p.Name).
		Str("verdict", decision.Verdict.String()).
		Bool("continue", decision.Continue).
		Msg("probe dispatched")

	if s.OnDecision != nil {
		s.OnDecision(p, decision)
	}
}

func (s *Service) payloadFor(p Probe, idle time.Duration) any {
	switch p.Kind {
	case events.CompletionCheck:
		return events.CompletionCheckPayload{Summary: p.Summary}
	default:
		return events.IdleCheckPayload{IdleSeconds: int(idle.Seconds())}
	}
}

// idleFor computes how long a session has been quiet. Sessions never marked
// are measured from service start. Callers hold s.mu.
func (s *Service) idleFor(sessionID string) time.Duration {
	last, ok := s.activity[sessionID]
	if !ok {
		last = s.started
	}
	if last.IsZero() {
		return 0
	}
	return time.Since(last)
}
