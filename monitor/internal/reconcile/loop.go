package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harborwatch/harborwatch/monitor/internal/classify"
	"github.com/harborwatch/harborwatch/monitor/internal/metrics"
	"github.com/harborwatch/harborwatch/monitor/internal/notify"
	"github.com/harborwatch/harborwatch/monitor/internal/poll"
	"github.com/harborwatch/harborwatch/monitor/internal/source"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// ErrSourceUnavailable is returned by Run when the entity source fails to
// list for the configured number of consecutive cycles. Transient failures
// below the limit are logged and the previous state is kept.
var ErrSourceUnavailable = errors.New("reconcile: entity source unavailable")

// Config holds the loop timing parameters.
type Config struct {
	// Interval is the base poll cadence.
	Interval time.Duration

	// SourceFailureLimit is how many consecutive listing failures are
	// tolerated before Run returns ErrSourceUnavailable.
	SourceFailureLimit int

	// ShutdownGrace bounds how long shutdown waits for in-flight
	// confirmations to drain.
	ShutdownGrace time.Duration
}

// confirmer is the slice of the confirmation scheduler the loop drives.
type confirmer interface {
	Enqueue(classify.Decision)
	Cancel(identity string)
	Stop(grace time.Duration)
}

// Loop drives the poll-classify-dispatch cycle.
type Loop struct {
	cfg        Config
	src        source.Source
	store      *state.Store
	poller     *poll.Poller
	classifier *classify.Classifier
	confirms   confirmer
	gateway    notify.Notifier
	mx         *metrics.Metrics // optional

	now func() time.Time
}

// New creates a Loop. mx may be nil.
func New(cfg Config, src source.Source, store *state.Store, poller *poll.Poller,
	classifier *classify.Classifier, confirms confirmer, gateway notify.Notifier,
	mx *metrics.Metrics) *Loop {
	return &Loop{
		cfg:        cfg,
		src:        src,
		store:      store,
		poller:     poller,
		classifier: classifier,
		confirms:   confirms,
		gateway:    gateway,
		mx:         mx,
		now:        time.Now,
	}
}

// Run executes cycles at the configured interval until ctx is cancelled.
// On cancellation it drains the confirmation scheduler, bounded by the
// shutdown grace, and returns nil. A persistently failing source ends the
// run with ErrSourceUnavailable.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("reconcile: loop started",
		"interval", l.cfg.Interval,
		"source_failure_limit", l.cfg.SourceFailureLimit,
	)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			if l.mx != nil {
				l.mx.SourceFailures.Inc()
			}
			slog.Error("reconcile: cycle failed",
				"err", err,
				"consecutive_failures", failures,
				"limit", l.cfg.SourceFailureLimit,
			)
			if failures >= l.cfg.SourceFailureLimit {
				l.confirms.Stop(l.cfg.ShutdownGrace)
				return fmt.Errorf("%w: %d consecutive listing failures", ErrSourceUnavailable, failures)
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	slog.Info("reconcile: shutting down", "grace", l.cfg.ShutdownGrace)
	l.confirms.Stop(l.cfg.ShutdownGrace)
	return nil
}

// Cycle runs one poll-classify-dispatch pass. Only a listing failure is an
// error; per-entity query failures are absorbed as no-signal observations.
func (l *Loop) Cycle(ctx context.Context) error {
	entities, err := l.src.List(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	// Tracked entities absent from the listing still get polled: the status
	// query reports them missing, which is a transition worth alerting on.
	entities = l.withTracked(entities)

	observations := l.poller.Poll(ctx, entities)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, obs := range observations {
		l.dispatch(ctx, l.classifier.Classify(obs), obs)
	}

	if l.mx != nil {
		l.mx.Cycles.Inc()
		l.mx.EntitiesTracked.Set(float64(l.store.Len()))
		l.mx.PendingConfirms.Set(float64(l.store.PendingCount()))
	}
	return nil
}

// withTracked appends tracked identities that the listing no longer returns.
func (l *Loop) withTracked(listed []source.Entity) []source.Entity {
	seen := make(map[string]struct{}, len(listed))
	for _, e := range listed {
		seen[e.Identity] = struct{}{}
	}
	for _, id := range l.store.Identities() {
		if _, ok := seen[id]; ok {
			continue
		}
		rec, ok := l.store.Get(id)
		if !ok || rec.Status == state.StatusMissing {
			// Already reconciled as missing; no need to re-poll every cycle.
			continue
		}
		listed = append(listed, source.Entity{Identity: id, Group: rec.Group})
	}
	return listed
}

// dispatch acts on one classified observation.
func (l *Loop) dispatch(ctx context.Context, d classify.Decision, obs poll.Observation) {
	switch d.Outcome {
	case classify.OutcomeNoSignal:
		if obs.Err != nil {
			slog.Warn("reconcile: query failed, keeping last known state",
				"identity", obs.Identity, "err", obs.Err)
			if l.mx != nil {
				l.mx.QueryErrors.Inc()
			}
		}

	case classify.OutcomeNoChange:

	case classify.OutcomeRecovered:
		l.confirms.Cancel(d.Identity)
		if d.Notify {
			l.deliver(ctx, "recovered", notify.Alert{
				Identity: d.Identity,
				Group:    d.Group,
				Prior:    d.Prior,
				New:      d.New,
				Detail:   "Entity returned to healthy.",
				FiredAt:  l.now(),
			})
		}
		slog.Info("reconcile: recovered",
			"identity", d.Identity, "prior", d.Prior.String(), "notified", d.Notify)

	case classify.OutcomeNeedsConfirmation:
		slog.Info("reconcile: suspect transition, confirmation required",
			"identity", d.Identity,
			"prior", d.Prior.String(),
			"status", d.New.String(),
		)
		l.confirms.Enqueue(d)

	case classify.OutcomeImmediateAlert:
		l.confirms.Cancel(d.Identity)
		slog.Warn("reconcile: entity missing",
			"identity", d.Identity, "prior", d.Prior.String())
		l.deliver(ctx, "missing", notify.Alert{
			Identity: d.Identity,
			Group:    d.Group,
			Prior:    d.Prior,
			New:      d.New,
			Detail:   "Entity disappeared from the source.",
			FiredAt:  l.now(),
		})
	}
}

// deliver sends one alert synchronously; failures are logged, never retried.
func (l *Loop) deliver(ctx context.Context, reason string, a notify.Alert) {
	if err := l.gateway.Notify(ctx, a); err != nil {
		slog.Error("reconcile: alert delivery failed",
			"identity", a.Identity, "reason", reason, "err", err)
	}
	if l.mx != nil {
		l.mx.Alerts.WithLabelValues(reason).Inc()
	}
}
