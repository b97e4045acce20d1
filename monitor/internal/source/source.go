package source

import (
	"context"

	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// Entity is one monitored unit as reported by the snapshot source.
type Entity struct {
	// Identity is the stable entity key (container name).
	Identity string

	// Group is the logical grouping label (compose project).
	Group string
}

// Source is the runtime query interface consumed by the poller, the
// confirmation scheduler and the reconciliation loop.
type Source interface {
	// List returns all currently known entities. A List error means the
	// source itself is unreachable, not that any single entity is unhealthy.
	List(ctx context.Context) ([]Entity, error)

	// Status returns the current health of one entity. An entity the source
	// no longer knows yields StatusMissing with a nil error; a query failure
	// yields a non-nil error and carries no health information.
	Status(ctx context.Context, identity string) (state.Status, error)

	// RecentLogs returns up to maxLines of recent log output for alert
	// context. Failures are reported in-band as explanatory text by
	// implementations where possible.
	RecentLogs(ctx context.Context, identity string, maxLines int) (string, error)
}
