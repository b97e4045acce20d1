package state

import (
	"sync"
	"time"
)

// HealthRecord is the last-known state of one monitored entity.
type HealthRecord struct {
	// Identity is the stable entity key (container name).
	Identity string

	// Group is the logical grouping label (compose project). Used for alert
	// routing only, never for state logic.
	Group string

	// Status is the last classified health status.
	Status Status

	// LastTransitionAt is when Status last changed (not the last poll).
	LastTransitionAt time.Time

	// LastCheckedAt is when the entity was last observed, changed or not.
	LastCheckedAt time.Time

	// ConfirmationPending is true while exactly one confirmation task owns
	// this entity.
	ConfirmationPending bool

	// AttemptCount is the number of confirmation rechecks performed for the
	// current unhealthy episode. Reset when the episode ends.
	AttemptCount int
}

// Store is a thread-safe map of entity identity to HealthRecord. A single
// coarse lock covers the whole map; batch sizes are small enough that
// per-entity locking would buy nothing.
type Store struct {
	mu      sync.Mutex
	records map[string]*HealthRecord
	now     func() time.Time // injectable for deterministic tests
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*HealthRecord),
		now:     time.Now,
	}
}

// Get returns a copy of the record for identity, if one exists.
func (s *Store) Get(identity string) (HealthRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identity]
	if !ok {
		return HealthRecord{}, false
	}
	return *r, true
}

// Upsert applies fn to the record for identity under the store lock and
// returns a copy of the result. If no record exists, fn receives a fresh
// record with StatusUnknown and LastCheckedAt set to the current time.
//
// Upsert is the only mutation path; two observations for the same identity
// are therefore never applied concurrently.
func (s *Store) Upsert(identity string, fn func(*HealthRecord)) HealthRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[identity]
	if !ok {
		r = &HealthRecord{
			Identity:         identity,
			Status:           StatusUnknown,
			LastTransitionAt: s.now(),
			LastCheckedAt:    s.now(),
		}
		s.records[identity] = r
	}
	if fn != nil {
		fn(r)
	}
	return *r
}

// Identities returns the keys of all tracked records. Records are never
// deleted on a missed observation — a disappeared entity is kept as a
// Missing record so a later reappearance is seen as a transition.
func (s *Store) Identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// PendingCount returns the number of records with a confirmation in flight.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.records {
		if r.ConfirmationPending {
			n++
		}
	}
	return n
}
