package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/chinesetutor/internal/health"
	"github.com/MrWong99/chinesetutor/pkg/memory/mock"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, h *health.Handler, path string) (int, probeBody) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body probeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	// Liveness ignores failing dependencies.
	h := health.New(health.PingChecker("storage", &mock.Store{PingErr: errors.New("disk full")}))
	code, body := probe(t, h, "/healthz")
	if code != http.StatusOK || body.Status != health.StatusOK {
		t.Errorf("/healthz = %d %+v, want 200 ok", code, body)
	}
	if len(body.Checks) != 0 {
		t.Errorf("/healthz ran checks: %v", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	passing := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: health.StatusOK,
		},
		{
			name:       "storage reachable",
			checkers:   []health.Checker{health.PingChecker("storage", &mock.Store{})},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusOK,
			wantChecks: map[string]string{"storage": "ok"},
		},
		{
			name: "storage down",
			checkers: []health.Checker{
				health.PingChecker("storage", &mock.Store{PingErr: errors.New("database is locked")}),
				{Name: "agent", Check: passing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusFail,
			wantChecks: map[string]string{"storage": "fail: database is locked", "agent": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := probe(t, health.New(tt.checkers...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("/readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReport_SortedAndConcurrent(t *testing.T) {
	t.Parallel()

	// Each check waits for the other to start, so a sequential run would
	// block until the deadline.
	var started atomic.Int32
	both := make(chan struct{})
	rendezvous := func(ctx context.Context) error {
		if started.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h := health.New(
		health.Checker{Name: "storage", Check: rendezvous},
		health.Checker{Name: "agent", Check: rendezvous},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	checks := h.Report(ctx)
	if len(checks) != 2 || checks[0].Name != "agent" || checks[1].Name != "storage" {
		t.Fatalf("Report() = %+v, want agent then storage", checks)
	}
	if !health.Ready(checks) {
		t.Errorf("Report() = %+v, want every check to pass", checks)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	if !health.Ready(nil) {
		t.Error("Ready(nil) = false")
	}
	checks := []health.Check{{Name: "agent", Status: "ok", OK: true}, {Name: "storage", Status: "fail: closed"}}
	if health.Ready(checks) {
		t.Error("Ready() with a failing check = true")
	}
}
