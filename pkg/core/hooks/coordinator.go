package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// run resolves and executes every handler for one occurrence. Non-async
// handlers fan out in parallel and run() joins them all before aggregating;
// async handlers detach and deliver through the sink.
func (d *Dispatcher) run(ctx context.Context, env *events.Envelope) FinalDecision {
	if env.Kind == events.SessionStart {
		d.sink.OpenSession(env.SessionID)
	}

	specs := d.registry.resolve(env.Kind, env.MatchField)

	var waited []*compiledSpec
	for _, cs := range specs {
		if cs.Async {
			d.launchAsync(cs, env)
			continue
		}
		waited = append(waited, cs)
	}

	results := d.fanOut(ctx, waited, env)
	decision := Aggregate(env, results)

	if env.Kind == events.SessionEnd {
		d.sink.CloseSession(env.SessionID)
	}
	return decision
}

// fanOut starts one goroutine per handler in resolution order and waits for
// all of them. Results land in resolution-order slots regardless of
// completion order, so aggregation stays deterministic.
func (d *Dispatcher) fanOut(ctx context.Context, specs []*compiledSpec, env *events.Envelope) []Result {
	if len(specs) == 0 {
		return nil
	}

	results := make([]Result, len(specs))
	var wg sync.WaitGroup
	for i, cs := range specs {
		if !d.acquire(env.ID, cs) {
			// Duplicate of an invocation already in flight for this
			// occurrence; the running one reports for both.
			results[i] = Result{HandlerID: cs.ID, Scope: cs.scope, Type: cs.Type, Fragment: &Fragment{}}
			continue
		}
		wg.Add(1)
		go func(slot int, cs *compiledSpec) {
			defer wg.Done()
			defer d.release(env.ID, cs)

			res := d.invoke(ctx, cs, env)
			if !res.Failed() {
				d.registry.markConsumed(cs)
			}
			results[slot] = res
		}(i, cs)
	}
	wg.Wait()
	return results
}

// launchAsync fires a command handler detached from the occurrence. It runs
// on its own context, and whatever context it produces is queued for the
// session's next turn instead of this decision.
func (d *Dispatcher) launchAsync(cs *compiledSpec, env *events.Envelope) {
	if !d.acquire(env.ID, cs) {
		return
	}
	d.asyncWG.Add(1)
	go func() {
		defer d.asyncWG.Done()
		defer d.release(env.ID, cs)

		res := d.invoke(context.Background(), cs, env)
		if res.Failed() {
			d.logger.Warn().
				Str("handler_id", cs.ID).
				Str("kind", string(env.Kind)).
				Err(res.Failure).
				Msg("async handler failed")
			return
		}
		d.registry.markConsumed(cs)

		frag := res.Fragment
		if frag == nil || (frag.AdditionalContext == "" && frag.SystemMessage == "") {
			return
		}
		err := d.sink.Enqueue(Delivery{
			SessionID:     env.SessionID,
			OccurrenceID:  env.ID,
			Kind:          env.Kind,
			HandlerID:     cs.ID,
			Context:       frag.AdditionalContext,
			SystemMessage: frag.SystemMessage,
			CompletedAt:   time.Now(),
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("async delivery dropped")
		}
	}()
}

// invoke routes one handler to its invoker. Panics become non-blocking
// failures so a crashing handler cannot take the occurrence down with it.
func (d *Dispatcher) invoke(ctx context.Context, cs *compiledSpec, env *events.Envelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("handler_id", cs.ID).
				Interface("panic", r).
				Msg("handler invoker panicked")
			res = Result{
				HandlerID: cs.ID,
				Scope:     cs.scope,
				Type:      cs.Type,
				Failure:   &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("invoker panic: %v", r)},
			}
		}
	}()

	switch cs.Type {
	case TypeCommand:
		res = d.command.invoke(ctx, cs, env)
	case TypePrompt:
		if d.prompt == nil {
			return d.unavailable(cs)
		}
		res = d.prompt.invoke(ctx, cs, env)
	case TypeAgent:
		if d.agent == nil {
			return d.unavailable(cs)
		}
		res = d.agent.invoke(ctx, cs, env)
	default:
		res = Result{
			HandlerID: cs.ID,
			Scope:     cs.scope,
			Type:      cs.Type,
			Failure:   &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("unknown handler type %q", cs.Type)},
		}
	}

	if d.failClosed && res.Failure != nil && res.Failure.Kind == FailureTimeout {
		if policy, ok := events.PolicyFor(env.Kind); ok && policy.Blockable && !policy.AuditOnly {
			res.Fragment = &Fragment{
				Verdict: blockingVerdictFor(policy),
				Reason:  res.Failure.Message,
			}
			res.Failure = nil
		}
	}
	return res
}

func (d *Dispatcher) unavailable(cs *compiledSpec) Result {
	return Result{
		HandlerID: cs.ID,
		Scope:     cs.scope,
		Type:      cs.Type,
		Failure:   &Failure{Kind: FailureNonBlocking, Message: "no model provider configured"},
	}
}

// acquire claims the (occurrence, handler identity) slot. A false return
// means the same handler is already in flight for this occurrence and the
// caller must skip the duplicate.
func (d *Dispatcher) acquire(occurrenceID string, cs *compiledSpec) bool {
	key := occurrenceID + "\x00" + cs.key
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.inflight[key]; dup {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(occurrenceID string, cs *compiledSpec) {
	d.mu.Lock()
	delete(d.inflight, occurrenceID+"\x00"+cs.key)
	d.mu.Unlock()
}
