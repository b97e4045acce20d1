package notify

import (
	"context"
	"time"

	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// Alert is one confirmed health transition, carrying enough context to act
// on without consulting the monitor's own logs.
type Alert struct {
	Identity string
	Group    string
	Prior    state.Status
	New      state.Status

	// Elapsed is the confirmation time for debounced alerts; zero for
	// immediate ones (missing entity, recovery).
	Elapsed time.Duration

	// Detail holds supplementary context: recent entity logs or an
	// explanatory sentence.
	Detail string

	FiredAt time.Time
}

// Severity derives the alert severity from the new status.
func (a Alert) Severity() string {
	switch a.New {
	case state.StatusUnhealthy:
		return "critical"
	case state.StatusMissing:
		return "error"
	case state.StatusStarting:
		return "warning"
	default:
		return "info"
	}
}

// Notifier delivers one alert. Implementations must be safe for concurrent
// use; the scheduler and the reconciliation loop both send.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
