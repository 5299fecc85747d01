// Package web serves the tutor control room: a single page that streams a live
// chat as server-sent events, runs CLI commands in-process and exposes health
// and metrics endpoints.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chinesetutor/internal/app"
	"github.com/MrWong99/chinesetutor/internal/config"
	"github.com/MrWong99/chinesetutor/internal/health"
	"github.com/MrWong99/chinesetutor/internal/observe"
	"github.com/MrWong99/chinesetutor/internal/session"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

var (
	//go:embed templates/index.html
	indexHTML string

	//go:embed events.schema.json
	eventsSchema []byte

	indexTmpl = template.Must(template.New("index").Parse(indexHTML))
)

// EventsSchema returns the JSON Schema describing the payload of every
// server-sent chat event.
func EventsSchema() []byte { return bytes.Clone(eventsSchema) }

// CommandFunc runs one CLI invocation with output written to out and returns
// its exit code.
type CommandFunc func(ctx context.Context, args []string, out io.Writer) int

// Option configures a [Server].
type Option func(*Server)

// WithCommandRunner sets the function behind POST /api/run. Without one the
// endpoint answers 501.
func WithCommandRunner(fn CommandFunc) Option {
	return func(s *Server) { s.run = fn }
}

// WithMetricsHandler replaces the handler behind GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server is the control room HTTP server.
type Server struct {
	app            *app.App
	health         *health.Handler
	run            CommandFunc
	metricsHandler http.Handler
	handler        http.Handler
}

// New builds the control room for a. Routes are ready once New returns.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:            a,
		health:         health.New(health.PingChecker("storage", a.Store())),
		metricsHandler: promhttp.Handler(),
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream/chat", s.handleStreamChat)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/stop-chat", s.handleStopChat)
	mux.HandleFunc("GET /api/events/schema", s.handleSchema)
	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)

	s.handler = observe.Middleware(a.Metrics())(mux)
	return s
}

// Handler returns the root HTTP handler, wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. An active chat is stopped before the server drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("control room listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		s.app.Sessions().Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return nil
	})
	return eg.Wait()
}

// ── Page ──────────────────────────────────────────────────────────────────────

type pageCheck struct {
	Name   string
	Status string
	OK     bool
}

type pageEnv struct {
	AgentReady bool   `json:"agent_ready"`
	APIReady   bool   `json:"api_ready"`
	AgentHint  string `json:"agent_hint"`
}

type pageData struct {
	AgentHint   string
	AgentReady  bool
	APIKeyReady bool
	Active      bool
	Checks      []pageCheck
	Env         pageEnv
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	agent := s.app.Agent()
	hint := config.MaskAgentID(agent.AgentID)

	data := pageData{
		AgentHint:   hint,
		AgentReady:  agent.AgentID != "",
		APIKeyReady: agent.APIKey != "",
		Active:      s.app.Sessions().IsActive(),
		Env: pageEnv{
			AgentReady: agent.AgentID != "",
			APIReady:   agent.APIKey != "",
			AgentHint:  hint,
		},
	}
	for _, c := range s.health.Report(r.Context()) {
		data.Checks = append(data.Checks, pageCheck{Name: c.Name, Status: c.Status, OK: c.OK})
	}

	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		slog.Error("web: render index", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// ── Chat stream ───────────────────────────────────────────────────────────────

func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	req := s.app.Request()
	if req.AgentID == "" {
		writeDetail(w, http.StatusBadRequest, "AGENT_ID is required. Set it in your environment or .env file.")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	h, err := s.app.Sessions().Start(r.Context(), req)
	if errors.Is(err, session.ErrAlreadyRunning) {
		writeDetail(w, http.StatusConflict, "A chat is already running. Stop it before starting a new one.")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	stream := h.Stream()
	// Detaching the consumer cancels the session.
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range stream.All(r.Context()) {
		data, err := json.Marshal(e)
		if err != nil {
			slog.Warn("web: encode event", "type", e.Type, "err", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			slog.Debug("web: client went away", "err", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleStopChat(w http.ResponseWriter, _ *http.Request) {
	if !s.app.Sessions().Stop() {
		writeJSON(w, http.StatusOK, map[string]any{"stopped": false, "reason": "no-active-chat"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

// ── CLI runner ────────────────────────────────────────────────────────────────

type runResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeDetail(w, http.StatusNotImplemented, "command runner is not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	text := strings.TrimSpace(r.PostFormValue("args"))
	var args []string
	if text != "" {
		var err error
		if args, err = shlex.Split(text); err != nil {
			writeJSON(w, http.StatusOK, runResponse{Output: "Error: " + err.Error() + "\n", ExitCode: 1})
			return
		}
	}

	var out bytes.Buffer
	code := s.run(r.Context(), args, &out)
	writeJSON(w, http.StatusOK, runResponse{Output: out.String(), ExitCode: code})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(eventsSchema)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}
