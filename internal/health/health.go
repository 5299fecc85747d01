// Package health serves the liveness and readiness probes of the control
// room. /healthz answers as long as the process serves HTTP; /readyz runs
// every registered [Checker] and fails with 503 when any of them does.
package health

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe status strings.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a [Checker] named name that calls p.Ping.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Check is the outcome of one [Checker].
type Check struct {
	Name string
	// Status is "ok" or "fail: <reason>".
	Status string
	OK     bool
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a Handler running checkers on every readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Report runs all checkers concurrently, each under its own deadline, and
// returns their outcomes sorted by name.
func (h *Handler) Report(ctx context.Context) []Check {
	out := make([]Check, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			out[i] = Check{Name: c.Name, Status: StatusOK, OK: true}
			if err := c.Check(cctx); err != nil {
				out[i] = Check{Name: c.Name, Status: StatusFail + ": " + err.Error()}
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.SortStableFunc(out, func(a, b Check) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Ready reports whether every check passed.
func Ready(checks []Check) bool {
	return !slices.ContainsFunc(checks, func(c Check) bool { return !c.OK })
}

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz answers 200 with {"status":"ok"}.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeBody{Status: StatusOK})
}

// Readyz answers 200 when every check passes and 503 otherwise. The body
// maps each check name to its status.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := h.Report(r.Context())
	body := probeBody{Status: StatusOK, Checks: make(map[string]string, len(checks))}
	for _, c := range checks {
		body.Checks[c.Name] = c.Status
	}
	code := http.StatusOK
	if !Ready(checks) {
		body.Status, code = StatusFail, http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(data, '\n'))
}
