package poll

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/harborwatch/harborwatch/monitor/internal/source"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// DefaultWorkers bounds concurrent snapshot-source queries when no pool
// width is configured.
const DefaultWorkers = 30

const defaultQueryTimeout = 10 * time.Second

// Observation is the result of one health query. Err is non-nil when the
// query itself failed, in which case Status carries no information.
type Observation struct {
	Identity string
	Group    string
	Status   state.Status
	Err      error
}

// Poller dispatches concurrent status queries against a Source. The pool
// width bounds simultaneous outbound calls, not the number of entities
// tracked.
type Poller struct {
	src          source.Source
	sem          *semaphore.Weighted
	queryTimeout time.Duration
}

// New creates a Poller with the given pool width. A width below one falls
// back to DefaultWorkers.
func New(src source.Source, workers int) *Poller {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Poller{
		src:          src,
		sem:          semaphore.NewWeighted(int64(workers)),
		queryTimeout: defaultQueryTimeout,
	}
}

// Poll queries the status of every entity and returns one observation each,
// in input order. It returns only after every dispatched query has completed
// or been abandoned through ctx cancellation.
func (p *Poller) Poll(ctx context.Context, entities []source.Entity) []Observation {
	out := make([]Observation, len(entities))

	var wg sync.WaitGroup
	for i, ent := range entities {
		wg.Add(1)
		go func(i int, ent source.Entity) {
			defer wg.Done()
			out[i] = p.PollOne(ctx, ent)
		}(i, ent)
	}
	wg.Wait()
	return out
}

// PollOne queries a single entity. It waits for a worker slot, so callers
// outside the cycle (confirmation rechecks) draw on the same outbound bound
// as the batch poll, then applies the per-query timeout.
func (p *Poller) PollOne(ctx context.Context, ent source.Entity) Observation {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		// Shutdown while waiting for a slot: report no-information so the
		// caller can finish the batch.
		return Observation{Identity: ent.Identity, Group: ent.Group, Err: err}
	}
	defer p.sem.Release(1)

	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	st, err := p.src.Status(qctx, ent.Identity)
	return Observation{
		Identity: ent.Identity,
		Group:    ent.Group,
		Status:   st,
		Err:      err,
	}
}

// Logs fetches an entity's recent log tail through the same worker slot and
// timeout discipline as status queries.
func (p *Poller) Logs(ctx context.Context, identity string, maxLines int) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	return p.src.RecentLogs(qctx, identity, maxLines)
}
