package classify

import (
	"time"

	"github.com/harborwatch/harborwatch/monitor/internal/poll"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// Outcome is the classification of one observation against the stored record.
type Outcome int

const (
	// OutcomeNoSignal means the query failed or carried no health
	// information; the record was not touched.
	OutcomeNoSignal Outcome = iota

	// OutcomeNoChange means the status matches the stored one; only the
	// last-checked timestamp moved.
	OutcomeNoChange

	// OutcomeRecovered means the entity transitioned to healthy. Any pending
	// confirmation must be cancelled; an alert fires only when the prior
	// status was a real problem (see Decision.Notify).
	OutcomeRecovered

	// OutcomeNeedsConfirmation means the entity turned unhealthy or starting
	// and must pass the wait-and-recheck protocol before alerting.
	OutcomeNeedsConfirmation

	// OutcomeImmediateAlert means the entity disappeared; the alert is sent
	// synchronously and any pending confirmation is cancelled.
	OutcomeImmediateAlert
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeNeedsConfirmation:
		return "needs_confirmation"
	case OutcomeImmediateAlert:
		return "immediate_alert"
	default:
		return "no_signal"
	}
}

// Decision is the classified result for one observation.
type Decision struct {
	Outcome  Outcome
	Identity string
	Group    string

	// Prior and New are the statuses before and after this observation.
	Prior state.Status
	New   state.Status

	// Notify is set on OutcomeRecovered when the recovery deserves an alert
	// (prior status was neither unknown nor healthy).
	Notify bool
}

// Classifier applies the transition table against the state store.
type Classifier struct {
	store *state.Store
	now   func() time.Time
}

// New creates a Classifier backed by store.
func New(store *state.Store) *Classifier {
	return &Classifier{store: store, now: time.Now}
}

// Classify computes the outcome for one observation and updates the record
// accordingly. Query errors and unknown statuses mutate nothing: they carry
// no information for this cycle and the entity keeps its last known state.
func (c *Classifier) Classify(obs poll.Observation) Decision {
	d := Decision{Identity: obs.Identity, Group: obs.Group, New: obs.Status}

	if obs.Err != nil || obs.Status == state.StatusUnknown {
		d.Outcome = OutcomeNoSignal
		if rec, ok := c.store.Get(obs.Identity); ok {
			d.Prior = rec.Status
			d.Group = recordGroup(rec, obs)
		}
		return d
	}

	now := c.now()
	c.store.Upsert(obs.Identity, func(r *state.HealthRecord) {
		if r.Group == "" {
			r.Group = obs.Group
		}
		d.Prior = r.Status
		d.Group = recordGroup(*r, obs)
		r.LastCheckedAt = now

		if obs.Status == r.Status {
			d.Outcome = OutcomeNoChange
			return
		}

		r.Status = obs.Status
		r.LastTransitionAt = now

		switch {
		case obs.Status == state.StatusHealthy:
			d.Outcome = OutcomeRecovered
			d.Notify = d.Prior != state.StatusUnknown && d.Prior != state.StatusHealthy
			r.AttemptCount = 0

		case obs.Status.Suspect():
			// Unhealthy or starting. The confirmation scheduler enforces
			// single-flight; a transition within an episode (unhealthy ->
			// starting) keeps the existing task and attempt count.
			d.Outcome = OutcomeNeedsConfirmation

		case obs.Status == state.StatusMissing:
			d.Outcome = OutcomeImmediateAlert
			r.AttemptCount = 0
		}
	})
	return d
}

// recordGroup prefers the freshly observed group over the stored one, falling
// back to the record for entities absent from the current listing.
func recordGroup(r state.HealthRecord, obs poll.Observation) string {
	if obs.Group != "" {
		return obs.Group
	}
	return r.Group
}
