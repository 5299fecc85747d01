// Package cli implements the chinesetutor command line: chat, list, review and
// serve.
//
// A [Runner] writes to the writers it is given rather than the process
// streams, so the web control room can run commands in-process and capture
// their output and exit code.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/chinesetutor/internal/app"
	"github.com/MrWong99/chinesetutor/internal/config"
	"github.com/MrWong99/chinesetutor/internal/session"
	"github.com/MrWong99/chinesetutor/internal/vocab"
	"github.com/MrWong99/chinesetutor/internal/web"
	"github.com/MrWong99/chinesetutor/pkg/memory"
)

// Exit codes returned by [Runner.Run].
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// shutdownTimeout bounds teardown of an application built for one command.
const shutdownTimeout = 15 * time.Second

// Option configures a [Runner].
type Option func(*Runner)

// WithApp makes every command use a instead of building its own application.
// The runner never shuts a shared application down.
func WithApp(a *app.App) Option {
	return func(r *Runner) { r.shared = a }
}

// WithStdin sets the reader used for review answers and the chat stop key.
// Defaults to [os.Stdin].
func WithStdin(in io.Reader) Option {
	return func(r *Runner) { r.stdin = in }
}

// WithConfigPath names the config file watched by serve for hot reload.
func WithConfigPath(path string) Option {
	return func(r *Runner) { r.configPath = path }
}

// WithLogLevel lets serve adjust the log level when the config file changes.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(r *Runner) { r.level = level }
}

// Runner dispatches one CLI invocation to its subcommand.
type Runner struct {
	cfg        *config.Config
	reg        *config.Registry
	shared     *app.App
	stdin      io.Reader
	configPath string
	level      *slog.LevelVar

	// nested is set for runners invoked from the control room.
	nested bool
}

// New returns a Runner for cfg. reg resolves the agent and audio providers
// when no shared application is given.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, reg: reg, stdin: os.Stdin}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes args (without the program name) and returns the exit code.
func (r *Runner) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return ExitUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "chat":
		return r.chat(ctx, rest, stdout, stderr)
	case "list":
		return r.list(ctx, rest, stdout, stderr)
	case "review":
		return r.review(ctx, rest, stdout, stderr)
	case "serve":
		return r.serve(ctx, rest, stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return ExitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return ExitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: chinesetutor [-config path] [-verbose] <command> [flags]

Commands:
  chat                  Start a voice chat with the agent
  list   [-limit N]     List recent sessions and vocab (default 10)
  review [-limit N]     Review unknown words (default 5)
  serve  [-addr addr]   Run the web control room
`)
}

// newFlagSet returns a flag set that reports errors to stderr instead of
// exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// application returns the shared application, or builds one that release
// shuts down.
func (r *Runner) application(ctx context.Context) (a *app.App, release func(), err error) {
	if r.shared != nil {
		return r.shared, func() {}, nil
	}

	providers, err := app.BuildProviders(r.cfg, r.reg)
	if err != nil {
		return nil, nil, err
	}
	a, err = app.New(ctx, r.cfg, providers)
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			slog.Warn("cli: shutdown", "err", err)
		}
	}, nil
}

// ── chat ──────────────────────────────────────────────────────────────────────

func (r *Runner) chat(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("chat", stderr)
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	a, release, err := r.application(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	defer release()

	req := a.Request()
	if strings.TrimSpace(req.AgentID) == "" {
		fmt.Fprintln(stderr, "AGENT_ID is required. Set it in the environment or .env file.")
		return ExitError
	}

	h, err := a.Sessions().Start(ctx, req)
	if errors.Is(err, session.ErrAlreadyRunning) {
		fmt.Fprintln(stderr, "A chat is already running. Stop it before starting a new one.")
		return ExitError
	}
	if err != nil {
		fmt.Fprintf(stderr, "Conversation failed: %s\n", err)
		return ExitError
	}
	stopCancel := context.AfterFunc(ctx, h.Cancel)
	defer stopCancel()

	out, errOut := stdout, stderr
	if restore, raw := watchStopKey(r.stdin, h.Done(), h.Cancel); raw {
		defer restore()
		out, errOut = crlfWriter{stdout}, crlfWriter{stderr}
		fmt.Fprintln(out, "Starting chat. Press Ctrl+C or q to stop.")
	} else {
		fmt.Fprintln(out, "Starting chat. Press Ctrl+C to stop.")
	}

	// The stream ends with the done event; cancellation above produces it.
	var (
		exitCode int
		saved    bool
	)
	for e := range h.Stream().All(context.WithoutCancel(ctx)) {
		switch e.Type {
		case session.EventError:
			fmt.Fprintf(errOut, "Error: %s\n", e.Message)
		case session.EventVocabularyCaptured:
			saved = true
		case session.EventDone:
			exitCode = e.ExitCode
		}
		printEvent(out, e)
	}

	res, err := h.Wait(context.WithoutCancel(ctx))
	if err != nil {
		fmt.Fprintf(errOut, "Conversation failed: %s\n", err)
		return ExitError
	}
	if id := res.ConversationID(); id != "" && saved {
		fmt.Fprintf(out, "Saved session %s\n", id)
	}
	if exitCode != 0 {
		fmt.Fprintln(errOut, "Conversation ended with an error.")
		return ExitError
	}
	return ExitOK
}

// printEvent renders one chat event for a terminal. Errors go to stderr and
// are handled by the caller.
func printEvent(w io.Writer, e session.Event) {
	switch e.Type {
	case session.EventStatus:
		fmt.Fprintln(w, e.Message)
	case session.EventUserTranscript:
		fmt.Fprintf(w, "You: %s\n", e.Text)
	case session.EventAgentResponse:
		fmt.Fprintf(w, "Agent: %s\n", e.Text)
	case session.EventAgentCorrection:
		fmt.Fprintf(w, "Agent (corrected): %s\n", e.Text)
	case session.EventSummary:
		fmt.Fprintf(w, "Summary: you spoke %d lines; agent replied %d times.\n", e.UserLines, e.AgentLines)
	case session.EventVocabularyCaptured:
		if e.Count > 0 {
			fmt.Fprintf(w, "Captured %d vocab items\n", e.Count)
		} else {
			fmt.Fprintln(w, "No vocab candidates detected.")
		}
	}
}

// ── list ──────────────────────────────────────────────────────────────────────

func (r *Runner) list(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	limit := fs.Int("limit", memory.DefaultSessionLimit, "number of items to list")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	a, release, err := r.application(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	defer release()

	sessions, err := a.Store().ListSessions(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	items, err := a.Store().ListVocab(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}

	fmt.Fprintln(stdout, "Recent sessions:")
	for _, s := range sessions {
		fmt.Fprintf(stdout, "- #%d %s -> %s: %s\n",
			s.ID, s.StartedAt.Format(time.RFC3339), s.EndedAt.Format(time.RFC3339), s.Snippet)
	}
	fmt.Fprintln(stdout)
	if len(items) == 0 {
		fmt.Fprintln(stdout, "No vocabulary captured yet. Run `chat` first.")
		return ExitOK
	}
	fmt.Fprintln(stdout, "Recent vocab:")
	for _, v := range items {
		fmt.Fprintf(stdout, "- %s\n", vocab.ListLine(v))
	}
	return ExitOK
}

// ── review ────────────────────────────────────────────────────────────────────

func (r *Runner) review(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("review", stderr)
	limit := fs.Int("limit", memory.DefaultReviewLimit, "number of items to quiz")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	a, release, err := r.application(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	defer release()

	in := r.stdin
	if in == nil || r.nested {
		in = strings.NewReader("")
	}
	sum, err := vocab.Review(ctx, a.Store(), in, stdout, *limit)
	for range sum.Passed {
		a.Metrics().RecordReviewAnswer(ctx, string(memory.ResultPass))
	}
	for range sum.Failed {
		a.Metrics().RecordReviewAnswer(ctx, string(memory.ResultFail))
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	if answered := sum.Passed + sum.Failed; answered > 0 {
		fmt.Fprintf(stdout, "Reviewed %d items: %d passed, %d failed.\n", answered, sum.Passed, sum.Failed)
	}
	return ExitOK
}

// ── serve ─────────────────────────────────────────────────────────────────────

func (r *Runner) serve(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if r.nested {
		fmt.Fprintln(stderr, "serve cannot be run from the control room")
		return ExitError
	}
	fs := newFlagSet("serve", stderr)
	addr := fs.String("addr", r.cfg.Server.ListenAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	a, release, err := r.application(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	defer release()

	if r.configPath != "" {
		if _, statErr := os.Stat(r.configPath); statErr == nil {
			w, err := config.NewWatcher(r.configPath, func(old, new *config.Config) {
				r.applyReload(a, old, new)
			})
			if err != nil {
				slog.Warn("cli: config hot reload disabled", "path", r.configPath, "err", err)
			} else {
				defer w.Stop()
			}
		}
	}

	srv := web.New(a, web.WithCommandRunner(r.nestedRunner(a)))
	fmt.Fprintf(stdout, "Control room on http://%s\n", *addr)
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitOK
}

// nestedRunner returns the command function behind the control room's
// /api/run endpoint. Commands share a and never read the process stdin.
func (r *Runner) nestedRunner(a *app.App) web.CommandFunc {
	nested := &Runner{
		cfg:    r.cfg,
		reg:    r.reg,
		shared: a,
		stdin:  strings.NewReader(""),
		nested: true,
	}
	return func(ctx context.Context, args []string, out io.Writer) int {
		return nested.Run(ctx, args, out, out)
	}
}

// applyReload applies the hot-reloadable part of a config change.
func (r *Runner) applyReload(a *app.App, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && r.level != nil {
		r.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged {
		a.SetAgent(new.Agent)
	}
	restart := d.RestartRequired
	if d.EndTimeoutChanged {
		restart = append(restart, "session.end_timeout")
	}
	if len(restart) > 0 {
		slog.Warn("config change needs a restart to take effect", "settings", restart)
	}
}
