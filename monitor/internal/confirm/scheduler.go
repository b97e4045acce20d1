package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/harborwatch/harborwatch/monitor/internal/classify"
	"github.com/harborwatch/harborwatch/monitor/internal/metrics"
	"github.com/harborwatch/harborwatch/monitor/internal/notify"
	"github.com/harborwatch/harborwatch/monitor/internal/poll"
	"github.com/harborwatch/harborwatch/monitor/internal/source"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// Confirmation delay policies.
const (
	PolicyFixed   = "fixed"
	PolicyBackoff = "backoff"
)

// Config holds the confirmation protocol parameters.
type Config struct {
	// Policy is PolicyFixed or PolicyBackoff.
	Policy string

	// Wait is the single recheck delay under the fixed policy.
	Wait time.Duration

	// Base, Multiplier, MaxDelay and Jitter shape the backoff policy:
	// delay n = min(Base * Multiplier^n, MaxDelay), randomized by
	// +/- Jitter (a 0..1 randomization factor).
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     float64

	// MaxAttempts bounds rechecks under the backoff policy before escalating.
	MaxAttempts int

	// LogLines is how much entity log context an escalation alert carries.
	LogLines int
}

// Scheduler owns all in-flight confirmation tasks. At most one task exists
// per entity identity at any time.
type Scheduler struct {
	cfg     Config
	store   *state.Store
	poller  *poll.Poller
	gateway notify.Notifier
	mx      *metrics.Metrics // optional

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup

	now func() time.Time
}

// task is one entity's in-flight confirmation.
type task struct {
	identity  string
	group     string
	prior     state.Status // status before the episode began; carried into the alert
	startedAt time.Time
	cancel    context.CancelFunc
	machine   *machine
	bo        backoff.BackOff // nil under the fixed policy
}

// New creates a Scheduler. Rechecks and log fetches go through poller so the
// shared worker pool bounds them together with cycle queries. mx may be nil.
func New(cfg Config, store *state.Store, poller *poll.Poller, gateway notify.Notifier, mx *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		poller:  poller,
		gateway: gateway,
		mx:      mx,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*task),
		now:     time.Now,
	}
}

// Enqueue starts a confirmation for the entity in d unless one is already in
// flight, in which case the existing task is kept and the duplicate dropped.
// The pending flag is claimed atomically inside the store upsert, so
// concurrent duplicate observations can never spawn two tasks.
func (s *Scheduler) Enqueue(d classify.Decision) {
	claimed := false
	s.store.Upsert(d.Identity, func(r *state.HealthRecord) {
		if r.ConfirmationPending {
			return
		}
		r.ConfirmationPending = true
		claimed = true
	})
	if !claimed {
		slog.Debug("confirm: already in flight, keeping existing task",
			"identity", d.Identity)
		if s.mx != nil {
			s.mx.DroppedDuplicates.Inc()
		}
		return
	}

	s.mu.Lock()
	if _, exists := s.tasks[d.Identity]; exists {
		s.mu.Unlock()
		// The pending flag said idle but a task exists. Should never happen;
		// log loudly, release the claim and drop the duplicate.
		slog.Error("confirm: invariant violation - task exists without pending flag, dropping duplicate",
			"identity", d.Identity)
		s.store.Upsert(d.Identity, func(r *state.HealthRecord) { r.ConfirmationPending = false })
		return
	}

	tctx, tcancel := context.WithCancel(s.ctx)
	t := &task{
		identity:  d.Identity,
		group:     d.Group,
		prior:     d.Prior,
		startedAt: s.now(),
		cancel:    tcancel,
		machine:   newMachine(d.Identity),
	}
	if s.cfg.Policy == PolicyBackoff {
		t.bo = s.newBackoff()
	}
	s.tasks[d.Identity] = t
	s.wg.Add(1)
	s.mu.Unlock()

	delay := s.arm(t)
	slog.Info("confirm: scheduled recheck",
		"identity", d.Identity,
		"group", d.Group,
		"status", d.New.String(),
		"delay", delay,
	)
	go s.run(tctx, t, delay)
}

// Cancel stops the in-flight confirmation for identity, if any. Called when
// the entity recovers or goes missing before the recheck fires — the recheck
// is stale and must not run.
func (s *Scheduler) Cancel(identity string) {
	s.mu.Lock()
	t, ok := s.tasks[identity]
	if ok {
		delete(s.tasks, identity)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	t.cancel()
	s.store.Upsert(identity, func(r *state.HealthRecord) { r.ConfirmationPending = false })
	slog.Debug("confirm: cancelled", "identity", identity)
}

// Stop cancels every pending timer and waits for in-flight tasks to drain,
// bounded by grace. No alert is emitted once cancellation is observed.
func (s *Scheduler) Stop(grace time.Duration) {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("confirm: shutdown grace elapsed with tasks still in flight")
	}
}

// run drives one confirmation task: sleep, recheck, then resolve, escalate
// or re-arm. The sleep is a cancellable timer so shutdown and recovery
// cancellation never wait out the configured delay.
func (s *Scheduler) run(ctx context.Context, t *task, delay time.Duration) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.step(ctx, t, eventRecheck)
		obs := s.poller.PollOne(ctx, source.Entity{Identity: t.identity, Group: t.group})
		if ctx.Err() != nil {
			return
		}
		st, err := obs.Status, obs.Err
		if err != nil {
			// No information is not recovery evidence: keep the last known
			// status and proceed as still-suspect.
			slog.Warn("confirm: recheck query failed, keeping last known status",
				"identity", t.identity, "err", err)
			st = state.StatusUnhealthy
			if rec, ok := s.store.Get(t.identity); ok {
				st = rec.Status
			}
		}

		switch {
		case st == state.StatusMissing:
			s.step(ctx, t, eventEscalate)
			s.resolveMissing(ctx, t)
			return

		case !st.Suspect():
			s.step(ctx, t, eventResolve)
			s.resolveQuietly(t, st)
			return

		default:
			attempts := s.observeStillSuspect(t, st)
			if s.cfg.Policy == PolicyBackoff && attempts < s.cfg.MaxAttempts {
				s.step(ctx, t, eventRearm)
				delay = s.arm(t)
				slog.Info("confirm: still suspect, re-arming",
					"identity", t.identity,
					"status", st.String(),
					"attempt", attempts,
					"next_delay", delay,
				)
				continue
			}
			s.step(ctx, t, eventEscalate)
			s.escalate(ctx, t, st)
			return
		}
	}
}

// arm computes the next recheck delay and counts the attempt in the store.
func (s *Scheduler) arm(t *task) time.Duration {
	var d time.Duration
	if t.bo != nil {
		d = t.bo.NextBackOff()
	} else {
		d = s.cfg.Wait
	}
	s.store.Upsert(t.identity, func(r *state.HealthRecord) { r.AttemptCount++ })
	return d
}

// observeStillSuspect refreshes the record with the rechecked status (the
// episode may flip between unhealthy and starting) and returns the attempt
// count so far.
func (s *Scheduler) observeStillSuspect(t *task, st state.Status) int {
	rec := s.store.Upsert(t.identity, func(r *state.HealthRecord) {
		r.LastCheckedAt = s.now()
		if r.Status != st {
			r.Status = st
			r.LastTransitionAt = s.now()
		}
	})
	return rec.AttemptCount
}

// resolveQuietly ends the episode without an alert: the entity recovered
// (or lost its healthcheck) during the wait.
func (s *Scheduler) resolveQuietly(t *task, st state.Status) {
	s.finish(t, func(r *state.HealthRecord) {
		r.ConfirmationPending = false
		r.AttemptCount = 0
		r.LastCheckedAt = s.now()
		if st == state.StatusHealthy && r.Status != st {
			r.Status = st
			r.LastTransitionAt = s.now()
		}
	})
	slog.Info("confirm: recovered during wait, no alert",
		"identity", t.identity,
		"group", t.group,
		"elapsed", s.now().Sub(t.startedAt).Round(time.Second),
	)
}

// resolveMissing ends the episode with an immediate alert: the entity
// disappeared while we were waiting to confirm it.
func (s *Scheduler) resolveMissing(ctx context.Context, t *task) {
	s.finish(t, func(r *state.HealthRecord) {
		r.ConfirmationPending = false
		r.AttemptCount = 0
		r.LastCheckedAt = s.now()
		if r.Status != state.StatusMissing {
			r.Status = state.StatusMissing
			r.LastTransitionAt = s.now()
		}
	})
	if ctx.Err() != nil {
		return
	}
	s.deliver(ctx, "missing", notify.Alert{
		Identity: t.identity,
		Group:    t.group,
		Prior:    t.prior,
		New:      state.StatusMissing,
		Elapsed:  s.now().Sub(t.startedAt),
		Detail:   "Entity disappeared during the confirmation wait.",
		FiredAt:  s.now(),
	})
}

// escalate confirms the episode: the entity stayed suspect through the full
// wait. Exactly one alert fires, carrying the elapsed confirmation time and
// a log tail. The attempt count is left untouched so a still-unhealthy
// entity does not re-alert every cycle.
func (s *Scheduler) escalate(ctx context.Context, t *task, st state.Status) {
	elapsed := s.now().Sub(t.startedAt)

	logs, err := s.poller.Logs(ctx, t.identity, s.cfg.LogLines)
	if err != nil {
		logs = fmt.Sprintf("could not retrieve logs: %v", err)
	}

	s.finish(t, func(r *state.HealthRecord) {
		r.ConfirmationPending = false
		r.LastCheckedAt = s.now()
	})
	if ctx.Err() != nil {
		return
	}
	s.deliver(ctx, "escalated", notify.Alert{
		Identity: t.identity,
		Group:    t.group,
		Prior:    t.prior,
		New:      st,
		Elapsed:  elapsed,
		Detail: fmt.Sprintf("Entity remained %s after %s.\n\nRecent logs:\n\n%s",
			st.String(), elapsed.Round(time.Second), logs),
		FiredAt: s.now(),
	})
}

// finish releases the task slot and applies the closing record mutation.
func (s *Scheduler) finish(t *task, fn func(*state.HealthRecord)) {
	s.mu.Lock()
	if cur, ok := s.tasks[t.identity]; ok && cur == t {
		delete(s.tasks, t.identity)
	}
	s.mu.Unlock()
	s.store.Upsert(t.identity, fn)
}

// deliver sends one alert; delivery failures are logged, never retried.
func (s *Scheduler) deliver(ctx context.Context, reason string, a notify.Alert) {
	if err := s.gateway.Notify(ctx, a); err != nil {
		slog.Error("confirm: alert delivery failed",
			"identity", a.Identity, "reason", reason, "err", err)
	}
	if s.mx != nil {
		s.mx.Alerts.WithLabelValues(reason).Inc()
	}
}

// step advances the task state machine, logging any illegal transition.
func (s *Scheduler) step(ctx context.Context, t *task, event string) {
	if err := t.machine.Event(ctx, event); err != nil {
		slog.Error("confirm: invariant violation - illegal state transition",
			"identity", t.identity, "event", event, "err", err)
	}
}

// newBackoff builds the per-task delay sequence from the config.
func (s *Scheduler) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.Base
	bo.Multiplier = s.cfg.Multiplier
	bo.MaxInterval = s.cfg.MaxDelay
	bo.RandomizationFactor = s.cfg.Jitter
	bo.MaxElapsedTime = 0 // the attempt bound, not elapsed time, ends the episode
	bo.Reset()
	return bo
}
