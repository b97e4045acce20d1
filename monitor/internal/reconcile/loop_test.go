package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/harborwatch/harborwatch/monitor/internal/classify"
	"github.com/harborwatch/harborwatch/monitor/internal/confirm"
	"github.com/harborwatch/harborwatch/monitor/internal/notify"
	"github.com/harborwatch/harborwatch/monitor/internal/poll"
	"github.com/harborwatch/harborwatch/monitor/internal/source"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// fleet is a mutable fake source: a set of entities with settable statuses.
type fleet struct {
	mu       sync.Mutex
	statuses map[string]state.Status
	groups   map[string]string
	queryErr map[string]error
	listErr  error
}

func newFleet() *fleet {
	return &fleet{
		statuses: make(map[string]state.Status),
		groups:   make(map[string]string),
		queryErr: make(map[string]error),
	}
}

func (f *fleet) add(id, group string, st state.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
	f.groups[id] = group
}

func (f *fleet) set(id string, st state.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
}

func (f *fleet) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, id)
	delete(f.groups, id)
}

func (f *fleet) List(context.Context) ([]source.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []source.Entity
	for id := range f.statuses {
		out = append(out, source.Entity{Identity: id, Group: f.groups[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (f *fleet) Status(_ context.Context, id string) (state.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.queryErr[id]; ok {
		return state.StatusUnknown, err
	}
	st, ok := f.statuses[id]
	if !ok {
		return state.StatusMissing, nil
	}
	return st, nil
}

func (f *fleet) RecentLogs(context.Context, string, int) (string, error) {
	return "log tail", nil
}

// captureNotifier records alerts and signals each delivery.
type captureNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
	ch     chan notify.Alert
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan notify.Alert, 16)}
}

func (n *captureNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, a)
	n.mu.Unlock()
	n.ch <- a
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func (n *captureNotifier) waitForAlert(t *testing.T, timeout time.Duration) notify.Alert {
	t.Helper()
	select {
	case a := <-n.ch:
		return a
	case <-time.After(timeout):
		t.Fatal("no alert within timeout")
		return notify.Alert{}
	}
}

func (n *captureNotifier) expectNone(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case a := <-n.ch:
		t.Fatalf("unexpected alert: %+v", a)
	case <-time.After(window):
	}
}

type harness struct {
	src      *fleet
	store    *state.Store
	loop     *Loop
	confirms *confirm.Scheduler
	gateway  *captureNotifier
}

func newHarness(t *testing.T, wait time.Duration) *harness {
	t.Helper()
	src := newFleet()
	store := state.New()
	gateway := newCaptureNotifier()
	poller := poll.New(src, 4)
	confirms := confirm.New(confirm.Config{
		Policy:   confirm.PolicyFixed,
		Wait:     wait,
		LogLines: 5,
	}, store, poller, gateway, nil)
	t.Cleanup(func() { confirms.Stop(time.Second) })

	loop := New(Config{
		Interval:           10 * time.Millisecond,
		SourceFailureLimit: 3,
		ShutdownGrace:      time.Second,
	}, src, store, poller, classify.New(store), confirms, gateway, nil)

	return &harness{src: src, store: store, loop: loop, confirms: confirms, gateway: gateway}
}

func TestCycle_HealthyFleetStaysQuiet(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.src.add("web-1", "web", state.StatusHealthy)
	h.src.add("db-1", "db", state.StatusHealthy)

	if err := h.loop.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	h.gateway.expectNone(t, 100*time.Millisecond)
	if got := h.store.Len(); got != 2 {
		t.Errorf("tracked entities: got %d, want 2", got)
	}
	rec, ok := h.store.Get("web-1")
	if !ok || rec.Status != state.StatusHealthy {
		t.Errorf("web-1 record: got %+v", rec)
	}
	if rec.Group != "web" {
		t.Errorf("web-1 group: got %q, want web", rec.Group)
	}
}

func TestCycle_UnhealthyConfirmedThenEscalated(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	h.src.add("api-1", "api", state.StatusHealthy)

	ctx := context.Background()
	if err := h.loop.Cycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	h.src.set("api-1", state.StatusUnhealthy)
	if err := h.loop.Cycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// The transition must not alert before the recheck confirms it.
	h.gateway.expectNone(t, 20*time.Millisecond)

	a := h.gateway.waitForAlert(t, 2*time.Second)
	if a.Identity != "api-1" || a.New != state.StatusUnhealthy {
		t.Errorf("alert: got %+v", a)
	}
	if a.Prior != state.StatusHealthy {
		t.Errorf("alert prior: got %v, want healthy", a.Prior)
	}
}

func TestCycle_RecoveryDuringWaitCancelsConfirmation(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)
	h.src.add("api-1", "api", state.StatusHealthy)

	ctx := context.Background()
	h.loop.Cycle(ctx)
	h.src.set("api-1", state.StatusUnhealthy)
	h.loop.Cycle(ctx)

	h.src.set("api-1", state.StatusHealthy)
	h.loop.Cycle(ctx)

	// Recovery from a confirmed-suspect prior fires a recovery alert, and
	// the cancelled recheck must never escalate afterwards.
	a := h.gateway.waitForAlert(t, time.Second)
	if a.New != state.StatusHealthy {
		t.Errorf("alert status: got %v, want healthy", a.New)
	}
	h.gateway.expectNone(t, 150*time.Millisecond)

	rec, _ := h.store.Get("api-1")
	if rec.ConfirmationPending {
		t.Error("ConfirmationPending must clear after recovery")
	}
	if rec.AttemptCount != 0 {
		t.Errorf("AttemptCount: got %d, want 0", rec.AttemptCount)
	}
}

func TestCycle_MissingEntityAlertsImmediately(t *testing.T) {
	h := newHarness(t, 500*time.Millisecond)
	h.src.add("worker-1", "jobs", state.StatusHealthy)

	ctx := context.Background()
	h.loop.Cycle(ctx)

	h.src.remove("worker-1")
	start := time.Now()
	h.loop.Cycle(ctx)

	a := h.gateway.waitForAlert(t, time.Second)
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Errorf("missing alert took %v, want immediate (no confirmation wait)", took)
	}
	if a.New != state.StatusMissing || a.Prior != state.StatusHealthy {
		t.Errorf("alert transition: got %v -> %v", a.Prior, a.New)
	}

	// The record survives for reappearance detection, and repeated cycles
	// must not re-alert.
	h.loop.Cycle(ctx)
	h.gateway.expectNone(t, 100*time.Millisecond)
	rec, ok := h.store.Get("worker-1")
	if !ok || rec.Status != state.StatusMissing {
		t.Errorf("worker-1 record after disappearance: got %+v, ok=%v", rec, ok)
	}
}

func TestCycle_ReappearanceNotifiesRecovery(t *testing.T) {
	h := newHarness(t, 500*time.Millisecond)
	h.src.add("worker-1", "jobs", state.StatusHealthy)

	ctx := context.Background()
	h.loop.Cycle(ctx)
	h.src.remove("worker-1")
	h.loop.Cycle(ctx)
	h.gateway.waitForAlert(t, time.Second) // missing

	h.src.add("worker-1", "jobs", state.StatusHealthy)
	h.loop.Cycle(ctx)

	a := h.gateway.waitForAlert(t, time.Second)
	if a.Prior != state.StatusMissing || a.New != state.StatusHealthy {
		t.Errorf("reappearance alert: got %v -> %v", a.Prior, a.New)
	}
}

func TestCycle_QueryErrorIsolatedFromFleet(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	h.src.add("good-1", "app", state.StatusHealthy)
	h.src.add("flaky-1", "app", state.StatusHealthy)

	ctx := context.Background()
	h.loop.Cycle(ctx)

	h.src.mu.Lock()
	h.src.queryErr["flaky-1"] = errors.New("timeout")
	h.src.mu.Unlock()

	if err := h.loop.Cycle(ctx); err != nil {
		t.Fatalf("cycle with one failing query: %v", err)
	}

	// flaky-1 keeps its last known state; nothing alerts.
	h.gateway.expectNone(t, 100*time.Millisecond)
	rec, _ := h.store.Get("flaky-1")
	if rec.Status != state.StatusHealthy {
		t.Errorf("flaky-1 status: got %v, want last known healthy", rec.Status)
	}
}

func TestRun_SourceUnavailableAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.src.mu.Lock()
	h.src.listErr = errors.New("daemon gone")
	h.src.mu.Unlock()

	err := h.loop.Run(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Run: got %v, want ErrSourceUnavailable", err)
	}
}

func TestRun_TransientListFailureRecovers(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.loop.cfg.Interval = 50 * time.Millisecond
	h.src.add("web-1", "web", state.StatusHealthy)
	h.src.mu.Lock()
	h.src.listErr = errors.New("hiccup")
	h.src.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	// Clear the failure after the first cycle, well before the limit of 3.
	time.Sleep(25 * time.Millisecond)
	h.src.mu.Lock()
	h.src.listErr = nil
	h.src.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after transient failure: %v", err)
	}
	if h.store.Len() != 1 {
		t.Errorf("tracked entities: got %d, want 1", h.store.Len())
	}
}

func TestRun_ShutdownDrainsWithoutAlerts(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.src.add("api-1", "api", state.StatusHealthy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	h.src.set("api-1", state.StatusUnhealthy)
	time.Sleep(30 * time.Millisecond) // let a cycle enqueue the confirmation

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("shutdown took %v with an hour-long confirmation pending", took)
	}
	h.gateway.expectNone(t, 100*time.Millisecond)
}
