// Package middleware composes cross-cutting behavior around event dispatch.
package middleware

import (
	"context"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// Handler processes one event occurrence.
type Handler func(ctx context.Context, env *events.Envelope) error

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// Chain applies middlewares to a handler in order: the first middleware is
// the outermost wrapper.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
