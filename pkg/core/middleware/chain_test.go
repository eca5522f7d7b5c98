package middleware

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

func testEnvelope() *events.Envelope {
	return &events.Envelope{
		ID:        "occ-1",
		Kind:      events.SessionStart,
		SessionID: "sess-1",
	}
}

func TestChainOrder(t *testing.T) {
	var calls []string

	mk := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, env *events.Envelope) error {
				calls = append(calls, name+":before")
				err := next(ctx, env)
				calls = append(calls, name+":after")
				return err
			}
		}
	}

	h := func(ctx context.Context, env *events.Envelope) error {
		calls = append(calls, "handler")
		return nil
	}

	if err := Chain(h, mk("mw1"), mk("mw2"))(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("chain returned error: %v", err)
	}

	want := []string{"mw1:before", "mw2:before", "handler", "mw2:after", "mw1:after"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("call order = %v, want %v", calls, want)
	}
}

func TestChainNoMiddleware(t *testing.T) {
	ran := false
	h := func(ctx context.Context, env *events.Envelope) error {
		ran = true
		return nil
	}
	if err := Chain(h)(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("chain returned error: %v", err)
	}
	if !ran {
		t.Fatal("handler did not run")
	}
}

func TestChainPropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	h := func(ctx context.Context, env *events.Envelope) error {
		return sentinel
	}

	wrapped := false
	mw := func(next Handler) Handler {
		return func(ctx context.Context, env *events.Envelope) error {
			wrapped = true
			return next(ctx, env)
		}
	}

	err := Chain(h, mw)(context.Background(), testEnvelope())
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want %v", err, sentinel)
	}
	if !wrapped {
		t.Fatal("middleware did not run")
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	sentinel := errors.New("dispatch failed")
	h := func(ctx context.Context, env *events.Envelope) error {
		return sentinel
	}

	chained := Chain(h, Logging(zerolog.Nop()))
	if err := chained(context.Background(), testEnvelope()); !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want %v", err, sentinel)
	}
}
