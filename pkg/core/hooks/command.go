package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// CommandInvoker runs command handlers as subprocesses: one JSON document in
// on stdin, an optional JSON document back on stdout, exit status carrying
// the verdict semantics. The engine owns only timing and result capture;
// whatever the command does to the outside world is its own business.
type CommandInvoker struct {
	// WorkDir overrides the subprocess working directory; the envelope's
	// CWD is used when empty.
	WorkDir string
	// Env entries are appended to the inherited environment for every
	// handler, before the handler's own entries.
	Env map[string]string

	logger zerolog.Logger
}

// NewCommandInvoker builds the subprocess invoker.
func NewCommandInvoker() *CommandInvoker {
	return &CommandInvoker{logger: logging.Component("hooks.command")}
}

func (ci *CommandInvoker) invoke(ctx context.Context, cs *compiledSpec, env *events.Envelope) (res Result) {
	res = Result{HandlerID: cs.ID, Scope: cs.scope, Type: TypeCommand}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	payload, err := json.Marshal(env.Flatten())
	if err != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: fmt.Sprintf("marshal envelope: %v", err)}
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, cs.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cs.Command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = mergeEnv(os.Environ(), ci.Env, cs.Env)
	if ci.WorkDir != "" {
		cmd.Dir = ci.WorkDir
	} else if env.CWD != "" {
		cmd.Dir = env.CWD
	}
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcGroup(cmd) }

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	stderrText := strings.TrimSpace(stderr.String())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		ci.logger.Warn().
			Str("handler_id", cs.ID).
			Dur("timeout", cs.Timeout).
			Msg("command handler timed out, process group killed")
		res.Failure = &Failure{
			Kind:    FailureTimeout,
			Message: fmt.Sprintf("timed out after %s", cs.Timeout),
		}
		return res
	}
	if ctx.Err() != nil {
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: "invocation cancelled"}
		return res
	}

	if runErr == nil {
		out := strings.TrimSpace(stdout.String())
		if out == "" {
			res.Fragment = &Fragment{}
			return res
		}
		parsed, perr := decodeHandlerOutput(out)
		if perr != nil {
			ci.logger.Warn().Str("handler_id", cs.ID).Err(perr).Msg("discarding malformed handler output")
			res.Failure = &Failure{Kind: FailureNonBlocking, Message: perr.Error()}
			return res
		}
		res.Fragment = fragmentFromOutput(env.Kind, parsed)
		return res
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		// Spawn failures (shell missing, fork error) stay non-blocking:
		// one handler's environment must not veto the host's action.
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: runErr.Error()}
		return res
	}

	code := exitErr.ExitCode()
	if code == 2 {
		policy, _ := events.PolicyFor(env.Kind)
		if policy.Blockable {
			res.Fragment = &Fragment{Verdict: blockingVerdictFor(policy), Reason: stderrText}
			return res
		}
		// Exit 2 on a kind that cannot block degrades to a surfaced failure.
		res.Failure = &Failure{Kind: FailureNonBlocking, Message: stderrText, ExitCode: code}
		return res
	}

	res.Failure = &Failure{Kind: FailureNonBlocking, Message: stderrText, ExitCode: code}
	return res
}

func blockingVerdictFor(policy events.Policy) Verdict {
	if policy.Style == events.StylePermission {
		return VerdictDeny
	}
	return VerdictBlock
}

func mergeEnv(base []string, extras ...map[string]string) []string {
	env := append([]string(nil), base...)
	for _, extra := range extras {
		for k, v := range extra {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return env
}
