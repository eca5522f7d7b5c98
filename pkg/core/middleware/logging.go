package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// Logging emits one structured log line per dispatched occurrence.
func Logging(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *events.Envelope) error {
			start := time.Now()
			err := next(ctx, env)

			evt := logger.Debug()
			if err != nil {
				evt = logger.Warn().Err(err)
			}
			evt.Str("kind", string(env.Kind)).
				Str("session_id", env.SessionID).
				Str("occurrence_id", env.ID).
				Dur("elapsed", time.Since(start)).
				Msg("dispatched")
			return err
		}
	}
}
