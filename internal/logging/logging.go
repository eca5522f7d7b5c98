// Package logging provides the process-wide zerolog setup. Components obtain
// a tagged logger once at construction and keep it as a struct field.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root zerolog.Logger
	once sync.Once
)

func initRoot() {
	var out io.Writer = os.Stderr
	if os.Getenv("HOOKFLOW_LOG_PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	root = zerolog.New(out).Level(levelFromEnv()).With().Timestamp().Logger()
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("HOOKFLOW_LOG")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a logger tagged with the component name.
func Component(name string) zerolog.Logger {
	once.Do(initRoot)
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// SetOutput redirects all subsequently created component loggers. Intended
// for tests that want to capture log output.
func SetOutput(w io.Writer) {
	once.Do(initRoot)
	mu.Lock()
	defer mu.Unlock()
	root = root.Output(w)
}
