// Package health serves the liveness and readiness endpoints of a running
// parrot and holds the conditions readiness is computed from.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only while every [Checker] passes. parrot registers three: the speech
// engine finished its warm-up ([Flag]), the audio device accepted the last
// direction change ([Flag]), and the listening loop is still completing Bit
// cycles ([Heartbeat]).
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness condition. Check returns nil while the
// condition holds.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body served by both endpoints.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Failing returns the names of the failed checks in sorted order.
func (r Report) Failing() []string {
	var names []string
	for name, v := range r.Checks {
		if v != "ok" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker

	mu    sync.Mutex
	ready *bool
}

// New returns a Handler evaluating checkers in order on each readiness
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Evaluate runs every checker and reports whether all of them passed.
// Transitions between ready and not ready are logged.
func (h *Handler) Evaluate(ctx context.Context) (Report, bool) {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	ok := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	if !ok {
		rep.Status = "fail"
	}

	h.mu.Lock()
	changed := h.ready == nil || *h.ready != ok
	h.ready = &ok
	h.mu.Unlock()
	if changed {
		slog.Info("health: readiness changed", "ready", ok, "failing", rep.Failing())
	}
	return rep, ok
}

// Healthz reports liveness; it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when [Handler.Evaluate] passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Evaluate(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}

// Flag is a condition toggled by its owner, such as engine warm-up or the
// last device direction change. The zero value is not ready.
type Flag struct {
	mu     sync.Mutex
	ready  bool
	reason string
}

// Set marks the flag ready.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready, f.reason = true, ""
}

// Fail marks the flag not ready with reason.
func (f *Flag) Fail(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready, f.reason = false, reason
}

// Checker returns a [Checker] named name that passes while the flag is set.
func (f *Flag) Checker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case f.ready:
			return nil
		case f.reason != "":
			return errors.New(f.reason)
		default:
			return errors.New("not ready")
		}
	}}
}

// Heartbeat records the last completed Bit cycle. A loop blocked on a dead
// device stops beating and fails readiness once maxAge has passed.
type Heartbeat struct {
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewHeartbeat returns a Heartbeat that goes stale after maxAge without a
// beat. A nil now uses [time.Now].
func NewHeartbeat(maxAge time.Duration, now func() time.Time) *Heartbeat {
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{maxAge: maxAge, now: now}
}

// Beat records progress.
func (h *Heartbeat) Beat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = h.now()
}

// Checker returns a [Checker] named name that fails before the first beat and
// whenever the last beat is older than maxAge.
func (h *Heartbeat) Checker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.last.IsZero() {
			return errors.New("no cycle completed yet")
		}
		if age := h.now().Sub(h.last); age > h.maxAge {
			return fmt.Errorf("last cycle %v ago", age.Round(time.Millisecond))
		}
		return nil
	}}
}
