package cli_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/chinesetutor/internal/app"
	"github.com/MrWong99/chinesetutor/internal/cli"
	"github.com/MrWong99/chinesetutor/internal/config"
	audiomock "github.com/MrWong99/chinesetutor/pkg/audio/mock"
	"github.com/MrWong99/chinesetutor/pkg/memory"
	memorymock "github.com/MrWong99/chinesetutor/pkg/memory/mock"
	convaimock "github.com/MrWong99/chinesetutor/pkg/provider/convai/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type fixture struct {
	cfg   *config.Config
	store *memorymock.Store
	agent *convaimock.Provider
	sess  *convaimock.Session
	app   *app.App
}

func newFixture(t *testing.T, agentID string) *fixture {
	t.Helper()
	cfg := &config.Config{
		Agent:   config.AgentConfig{Provider: "mock", AgentID: agentID},
		Audio:   config.AudioConfig{Provider: "mock"},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "tutor.db")},
	}
	config.ApplyDefaults(cfg)

	f := &fixture{
		cfg:   cfg,
		store: &memorymock.Store{},
		sess:  &convaimock.Session{ID: "conv-7"},
	}
	f.agent = &convaimock.Provider{Session: f.sess}
	providers := &app.Providers{Agent: f.agent, Audio: &audiomock.Platform{}}

	a, err := app.New(context.Background(), cfg, providers, app.WithStore(f.store))
	if err != nil {
		t.Fatalf("app.New() error: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

func (f *fixture) runner(opts ...cli.Option) *cli.Runner {
	opts = append([]cli.Option{cli.WithApp(f.app), cli.WithStdin(strings.NewReader(""))}, opts...)
	return cli.New(f.cfg, config.NewRegistry(), opts...)
}

type runOutput struct {
	code   int
	stdout string
	stderr string
}

func run(ctx context.Context, r *cli.Runner, args ...string) runOutput {
	var stdout, stderr bytes.Buffer
	code := r.Run(ctx, args, &stdout, &stderr)
	return runOutput{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func seedVocab(t *testing.T, store memory.Store, items ...memory.VocabItem) {
	t.Helper()
	if _, err := store.InsertVocab(context.Background(), 0, items); err != nil {
		t.Fatalf("InsertVocab() error: %v", err)
	}
}

// ── Dispatch ──────────────────────────────────────────────────────────────────

func TestRun_Usage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{name: "no command", args: nil, wantCode: cli.ExitUsage, wantErr: "Usage:"},
		{name: "unknown command", args: []string{"dance"}, wantCode: cli.ExitUsage, wantErr: `unknown command "dance"`},
		{name: "bad flag", args: []string{"list", "-limit", "many"}, wantCode: cli.ExitUsage, wantErr: "invalid value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := run(context.Background(), f.runner(), tt.args...)
			if out.code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", out.code, tt.wantCode)
			}
			if !strings.Contains(out.stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", out.stderr, tt.wantErr)
			}
		})
	}

	out := run(context.Background(), f.runner(), "help")
	if out.code != cli.ExitOK || !strings.Contains(out.stdout, "Commands:") {
		t.Errorf("help = %+v", out)
	}
}

// ── list ──────────────────────────────────────────────────────────────────────

func TestList_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	out := run(context.Background(), f.runner(), "list")
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %q", out.code, out.stderr)
	}
	if !strings.Contains(out.stdout, "Recent sessions:") {
		t.Errorf("stdout = %q", out.stdout)
	}
	if !strings.Contains(out.stdout, "No vocabulary captured yet. Run `chat` first.") {
		t.Errorf("stdout = %q", out.stdout)
	}
}

func TestList_SessionsAndVocab(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := f.store.RecordSession(ctx, memory.SessionRecord{
		StartedAt:      start,
		EndedAt:        start.Add(5 * time.Minute),
		TranscriptText: "User: 你好\nAgent: 你好！",
	}); err != nil {
		t.Fatalf("RecordSession() error: %v", err)
	}
	seedVocab(t, f.store,
		memory.VocabItem{Chinese: "超市", Pinyin: "chāoshì", English: "supermarket"},
		memory.VocabItem{English: "vegetables"},
	)

	out := run(ctx, f.runner(), "list", "-limit", "5")
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %q", out.code, out.stderr)
	}
	for _, want := range []string{
		"- #1 2026-03-01T09:00:00Z -> 2026-03-01T09:05:00Z: User: 你好",
		"Recent vocab:",
		"超市 (chāoshì) - supermarket | seen 0 | last=-",
		"- vegetables | seen 0 | last=-",
	} {
		if !strings.Contains(out.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, out.stdout)
		}
	}
	if got := f.store.Calls()[len(f.store.Calls())-1]; got.Method != "ListVocab" || got.Args[0] != 5 {
		t.Errorf("last call = %+v, want ListVocab(5)", got)
	}
}

// ── review ────────────────────────────────────────────────────────────────────

func TestReview_RecordsAnswers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	seedVocab(t, f.store,
		memory.VocabItem{Chinese: "超市", English: "supermarket"},
		memory.VocabItem{Chinese: "蔬菜", English: "vegetables"},
	)

	r := f.runner(cli.WithStdin(strings.NewReader("p\nf\n")))
	out := run(context.Background(), r, "review", "-limit", "2")
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %q", out.code, out.stderr)
	}
	if !strings.Contains(out.stdout, "Reviewed 2 items: 1 passed, 1 failed.") {
		t.Errorf("stdout = %q", out.stdout)
	}
	if got := f.store.CallCount("UpdateVocabResult"); got != 2 {
		t.Errorf("UpdateVocabResult calls = %d, want 2", got)
	}
	for _, v := range f.store.Vocab() {
		if v.SeenCount != 1 {
			t.Errorf("vocab %d seen = %d, want 1", v.ID, v.SeenCount)
		}
	}
}

func TestReview_NothingToReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	out := run(context.Background(), f.runner(), "review")
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d", out.code)
	}
	if !strings.Contains(out.stdout, "No vocab to review.") {
		t.Errorf("stdout = %q", out.stdout)
	}
}

// ── chat ──────────────────────────────────────────────────────────────────────

func TestChat_RequiresAgentID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	out := run(context.Background(), f.runner(), "chat")
	if out.code != cli.ExitError {
		t.Errorf("exit code = %d, want %d", out.code, cli.ExitError)
	}
	if !strings.Contains(out.stderr, "AGENT_ID is required. Set it in the environment or .env file.") {
		t.Errorf("stderr = %q", out.stderr)
	}
	if f.agent.CallCountStart != 0 {
		t.Error("transport was started without an agent id")
	}
}

func TestChat_PrintsTranscriptAndVocab(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	result := make(chan runOutput, 1)
	go func() { result <- run(context.Background(), f.runner(), "chat") }()

	select {
	case <-f.agent.Started():
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not start a session")
	}
	f.sess.UserTranscript("我想去超市")
	f.sess.AgentResponse("1) 超市 (chāoshì) — supermarket — 例句：我去超市。")
	f.sess.Finish(nil)

	var out runOutput
	select {
	case out = <-result:
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not return")
	}
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %q", out.code, out.stderr)
	}
	for _, want := range []string{
		"Starting chat. Press Ctrl+C to stop.",
		"You: 我想去超市",
		"Agent: 1) 超市",
		"Summary: you spoke 1 lines; agent replied 1 times.",
		"Captured 1 vocab items",
		"Saved session conv-7",
	} {
		if !strings.Contains(out.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, out.stdout)
		}
	}
	if got := len(f.store.Sessions()); got != 1 {
		t.Errorf("stored sessions = %d, want 1", got)
	}
}

func TestChat_ContextCancelStopsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan runOutput, 1)
	go func() { result <- run(ctx, f.runner(), "chat") }()

	select {
	case <-f.agent.Started():
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not start a session")
	}
	cancel()

	select {
	case out := <-result:
		if out.code != cli.ExitOK {
			t.Errorf("exit code = %d, stderr = %q", out.code, out.stderr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not return after cancellation")
	}
	if f.sess.CallCountEnd != 1 {
		t.Errorf("End calls = %d, want 1", f.sess.CallCountEnd)
	}
}

func TestChat_TransportFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	f.agent.StartErr = context.DeadlineExceeded

	out := run(context.Background(), f.runner(), "chat")
	if out.code != cli.ExitError {
		t.Errorf("exit code = %d, want %d", out.code, cli.ExitError)
	}
	if !strings.Contains(out.stderr, "Conversation failed: ") {
		t.Errorf("stderr = %q", out.stderr)
	}
}

func TestChat_MidSessionTransportError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		storeErr   error
		finishErr  error
		wantStderr string
		wantSaved  bool
	}{
		{name: "connection lost", finishErr: errors.New("connection lost"), wantStderr: "connection lost", wantSaved: true},
		{name: "session not saved", storeErr: errors.New("disk full"), wantStderr: "could not save session: ", wantSaved: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, "agent-1")
			f.store.RecordSessionErr = tt.storeErr
			result := make(chan runOutput, 1)
			go func() { result <- run(context.Background(), f.runner(), "chat") }()

			select {
			case <-f.agent.Started():
			case <-time.After(3 * time.Second):
				t.Fatal("chat did not start a session")
			}
			f.sess.UserTranscript("你好")
			f.sess.Finish(tt.finishErr)

			var out runOutput
			select {
			case out = <-result:
			case <-time.After(3 * time.Second):
				t.Fatal("chat did not return")
			}
			if out.code != cli.ExitError {
				t.Errorf("exit code = %d, want %d", out.code, cli.ExitError)
			}
			for _, want := range []string{"Error: ", tt.wantStderr, "Conversation ended with an error."} {
				if !strings.Contains(out.stderr, want) {
					t.Errorf("stderr missing %q: %q", want, out.stderr)
				}
			}
			if got := strings.Contains(out.stdout, "Saved session conv-7"); got != tt.wantSaved {
				t.Errorf("saved message shown = %v, want %v:\n%s", got, tt.wantSaved, out.stdout)
			}
		})
	}
}

func TestChat_AlreadyRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "agent-1")
	h, err := f.app.Sessions().Start(context.Background(), f.app.Request())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer h.Stream().Close()
	<-f.agent.Started()

	out := run(context.Background(), f.runner(), "chat")
	if out.code != cli.ExitError {
		t.Errorf("exit code = %d, want %d", out.code, cli.ExitError)
	}
	if !strings.Contains(out.stderr, "A chat is already running.") {
		t.Errorf("stderr = %q", out.stderr)
	}
}

// ── Standalone application ────────────────────────────────────────────────────

func TestRun_BuildsOwnApplication(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Agent:   config.AgentConfig{Provider: "unregistered"},
		Audio:   config.AudioConfig{Provider: "unregistered"},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "tutor.db")},
	}
	config.ApplyDefaults(cfg)

	r := cli.New(cfg, config.NewRegistry(), cli.WithStdin(strings.NewReader("")))
	out := run(context.Background(), r, "list")
	if out.code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %q", out.code, out.stderr)
	}
	if !strings.Contains(out.stdout, "No vocabulary captured yet.") {
		t.Errorf("stdout = %q", out.stdout)
	}
}
