package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/hookflow/pkg/config"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
	"github.com/stellarlinkco/hookflow/pkg/engine"
)

var rootCmd = &cobra.Command{
	Use:   "hookflow",
	Short: "hookflow - lifecycle hook dispatch for agent runtimes",
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch one event from stdin and print the decision",
	RunE:  runDispatch,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every settings scope",
	RunE:  runValidate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the resolved handlers",
	RunE:  runList,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter settings file",
	RunE:  runInit,
}

var (
	projectFlag    string
	sessionFlag    string
	failClosedFlag bool
	hostFlag       bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", ".", "Project root to load settings from")
	dispatchCmd.Flags().StringVar(&sessionFlag, "session", "", "Override the event's session id")
	dispatchCmd.Flags().BoolVar(&failClosedFlag, "fail-closed", false, "Treat handler timeouts on blockable events as blocking")
	initCmd.Flags().BoolVar(&hostFlag, "host", false, "Write the host-scope settings file instead of the project's")
	rootCmd.AddCommand(dispatchCmd, validateCmd, listCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// DispatchOptions carries injectable IO for testing.
type DispatchOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
}

func runDispatch(cmd *cobra.Command, args []string) error {
	code, err := runDispatchWithOptions(DispatchOptions{})
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// runDispatchWithOptions returns the process exit code instead of exiting so
// tests can assert it: 0 for allow/continue, 2 for deny/block, mirroring the
// command handler exit convention.
func runDispatchWithOptions(opts DispatchOptions) (int, error) {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		return 1, fmt.Errorf("read event: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return 1, fmt.Errorf("event is not valid JSON")
	}

	name := gjson.GetBytes(raw, "hook_event_name").String()
	if name == "" {
		return 1, fmt.Errorf("event has no hook_event_name")
	}
	kind, err := events.ParseKind(name)
	if err != nil {
		return 1, err
	}
	payload, err := events.ParsePayload(kind, raw)
	if err != nil {
		return 1, err
	}

	session := gjson.GetBytes(raw, "session_id").String()
	if sessionFlag != "" {
		session = sessionFlag
	}
	if session == "" {
		return 1, fmt.Errorf("event has no session_id; pass --session")
	}
	cwd := gjson.GetBytes(raw, "cwd").String()
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	env, err := events.NewEnvelope(kind, session, cwd, payload)
	if err != nil {
		return 1, err
	}

	eng, err := engine.New(engine.Options{
		ProjectRoot:         projectFlag,
		SessionID:           session,
		FailClosedOnTimeout: failClosedFlag,
	})
	if err != nil {
		return 1, fmt.Errorf("load settings: %w", err)
	}
	defer eng.Close()

	decision, err := eng.Dispatch(context.Background(), env)
	if err != nil {
		return 1, err
	}

	doc, err := json.MarshalIndent(decision.Wire(), "", "  ")
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, string(doc))

	if decision.Blocked() {
		return 2, nil
	}
	return 0, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	return runValidateWithOptions(os.Stdout)
}

func runValidateWithOptions(stdout io.Writer) error {
	loader := &config.Loader{ProjectRoot: projectFlag}
	set, err := loader.Load()
	if err != nil {
		return err
	}
	if err := set.Validate(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "host:    %s\n", describeScope(set.HostPath, set.Host))
	fmt.Fprintf(stdout, "project: %s\n", describeScope(set.ProjectPath, set.Project))
	if set.Disabled() {
		fmt.Fprintln(stdout, "dispatch is disabled")
	}
	return nil
}

func describeScope(path string, s *config.Settings) string {
	if path == "" {
		return "no settings file"
	}
	return fmt.Sprintf("%s (%d handlers)", path, len(s.HandlerSpecs()))
}

func runList(cmd *cobra.Command, args []string) error {
	return runListWithOptions(os.Stdout)
}

func runListWithOptions(stdout io.Writer) error {
	eng, err := engine.New(engine.Options{ProjectRoot: projectFlag})
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer eng.Close()

	handlers := eng.Handlers()
	if len(handlers) == 0 {
		fmt.Fprintln(stdout, "no handlers registered")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tSCOPE\tID\tTYPE\tPATTERN\tTARGET\tTIMEOUT\tFLAGS")
	for _, h := range handlers {
		pattern := h.Pattern
		if pattern == "" {
			pattern = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Kind, h.Scope, h.ID, h.Type, pattern,
			truncate(h.Target, 48), h.Timeout, handlerFlags(h))
	}
	return w.Flush()
}

func handlerFlags(h hooks.RegisteredHandler) string {
	var flags []string
	if h.Async {
		flags = append(flags, "async")
	}
	if h.Once {
		flags = append(flags, "once")
	}
	if h.Consumed {
		flags = append(flags, "consumed")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func runInit(cmd *cobra.Command, args []string) error {
	return runInitWithOptions(os.Stdout)
}

func runInitWithOptions(stdout io.Writer) error {
	dir := config.ProjectDir(projectFlag)
	if hostFlag {
		dir = config.DefaultHostDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	path := filepath.Join(dir, "settings.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "Settings already exist: %s\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(starterSettings), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	fmt.Fprintf(stdout, "Created: %s\n", path)
	fmt.Fprintln(stdout, "\nNext steps:")
	fmt.Fprintf(stdout, "  1. Edit %s and uncomment a handler\n", path)
	fmt.Fprintln(stdout, "  2. Run 'hookflow validate' to check it")
	fmt.Fprintln(stdout, `  3. Pipe an event: echo '{"hook_event_name":"Stop","session_id":"dev"}' | hookflow dispatch`)
	return nil
}

const starterSettings = `# hookflow handler registrations for this scope.
#
# Each event kind takes a list of matcher groups. A group's matcher is a
# regular expression tested against the event's match field (the action name
# for PreAction, the source for SessionStart, and so on); an empty or "*"
# matcher hits every occurrence. Each group lists the handlers to run.
#
# Handler fields:
#   type     command | prompt | agent        (default: command)
#   command  shell line for command handlers; receives the event JSON on
#            stdin, exit 2 blocks with stderr as the reason
#   prompt   policy text for prompt/agent handlers; the model answers
#            {"ok": true} or {"ok": false, "reason": "..."}
#   model    override the default model for this handler
#   timeout  seconds (defaults: command 600, prompt 30, agent 60)
#   async    run in the background, result delivered next turn (command only)
#   once     retire the handler after its first successful run
#
# Top-level keys:
#   disabled: true            switch this scope's handlers off
#   defaultModel: <name>      model for prompt/agent handlers
#   env:                      extra environment for command handlers
#     KEY: value
#
# Examples:
#
# hooks:
#   PreAction:
#     - matcher: "write_.*"
#       hooks:
#         - type: command
#           command: ./scripts/check-write.sh
#           timeout: 30
#   Stop:
#     - hooks:
#         - type: prompt
#           prompt: Block the stop if any task in the turn was left half-done.
#   PostAction:
#     - matcher: "edit_.*"
#       hooks:
#         - type: command
#           command: ./scripts/reindex.sh
#           async: true

hooks: {}
`
