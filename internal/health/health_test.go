package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parrot/internal/health"
)

// fakeClock is a settable wall clock for heartbeat tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// parrotChecks wires the conditions a running parrot registers.
type parrotChecks struct {
	engine, device health.Flag
	loop           *health.Heartbeat
	clock          *fakeClock
	mux            *http.ServeMux
}

func newParrotChecks(t *testing.T) *parrotChecks {
	t.Helper()
	p := &parrotChecks{clock: &fakeClock{now: time.Unix(1000, 0)}, mux: http.NewServeMux()}
	p.loop = health.NewHeartbeat(time.Minute, p.clock.Now)
	health.New(
		p.engine.Checker("engine"),
		p.device.Checker("device"),
		p.loop.Checker("loop"),
	).Register(p.mux)
	return p
}

func (p *parrotChecks) get(t *testing.T, path string) (int, health.Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	p.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var rep health.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("%s: decode: %v", path, err)
	}
	return rec.Code, rep
}

func TestReadyz_ParrotLifecycle(t *testing.T) {
	t.Parallel()

	p := newParrotChecks(t)

	code, rep := p.get(t, "/readyz")
	if code != http.StatusServiceUnavailable || rep.Status != "fail" {
		t.Fatalf("before start = %d %q, want 503 fail", code, rep.Status)
	}
	if got := rep.Failing(); !slices.Equal(got, []string{"device", "engine", "loop"}) {
		t.Errorf("failing before start = %v", got)
	}

	p.engine.Set()
	p.device.Set()
	code, rep = p.get(t, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("before first cycle = %d, want 503", code)
	}
	if rep.Checks["loop"] != "fail: no cycle completed yet" {
		t.Errorf("loop check = %q", rep.Checks["loop"])
	}

	p.loop.Beat()
	code, rep = p.get(t, "/readyz")
	if code != http.StatusOK || rep.Status != "ok" || len(rep.Failing()) != 0 {
		t.Fatalf("running = %d %+v, want 200 ok", code, rep)
	}

	p.device.Fail("audio: device i/o error: read: stream closed")
	code, rep = p.get(t, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("device failure = %d, want 503", code)
	}
	if !strings.HasPrefix(rep.Checks["device"], "fail: audio: device i/o error") {
		t.Errorf("device check = %q", rep.Checks["device"])
	}
	if rep.Checks["engine"] != "ok" || rep.Checks["loop"] != "ok" {
		t.Errorf("unrelated checks = %v", rep.Checks)
	}
}

func TestReadyz_StalledLoop(t *testing.T) {
	t.Parallel()

	p := newParrotChecks(t)
	p.engine.Set()
	p.device.Set()
	p.loop.Beat()

	p.clock.Advance(59 * time.Second)
	if code, _ := p.get(t, "/readyz"); code != http.StatusOK {
		t.Errorf("within max age = %d, want 200", code)
	}

	p.clock.Advance(2 * time.Second)
	code, rep := p.get(t, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("stalled loop = %d, want 503", code)
	}
	if rep.Checks["loop"] != "fail: last cycle 1m1s ago" {
		t.Errorf("loop check = %q", rep.Checks["loop"])
	}

	p.loop.Beat()
	if code, _ := p.get(t, "/readyz"); code != http.StatusOK {
		t.Errorf("after recovery = %d, want 200", code)
	}
}

func TestHealthz_AliveWhileNotReady(t *testing.T) {
	t.Parallel()

	p := newParrotChecks(t)
	p.engine.Fail("silero: load model: no such file")

	code, rep := p.get(t, "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, rep.Status)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("healthz checks = %v, want none", rep.Checks)
	}
}

func TestEvaluate_CheckerSeesDeadline(t *testing.T) {
	t.Parallel()

	var hadDeadline bool
	h := health.New(health.Checker{Name: "engine", Check: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return ctx.Err()
	}})

	if _, ok := h.Evaluate(context.Background()); !ok {
		t.Error("Evaluate failed with a passing checker")
	}
	if !hadDeadline {
		t.Error("checker context has no deadline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, ok := h.Evaluate(ctx)
	if ok || rep.Checks["engine"] != "fail: context canceled" {
		t.Errorf("cancelled Evaluate = %v %v", ok, rep.Checks)
	}
}

func TestFlag_ZeroValueNotReady(t *testing.T) {
	t.Parallel()

	var f health.Flag
	c := f.Checker("engine")
	if c.Name != "engine" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err == nil || err.Error() != "not ready" {
		t.Errorf("zero flag = %v, want not ready", err)
	}
	f.Fail("warm-up inference failed")
	f.Set()
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Set after Fail = %v", err)
	}
}
