// Package confirm implements the wait-and-recheck protocol that stands
// between a suspect observation and an alert. Each entity entering an
// unhealthy episode gets exactly one confirmation task — a cancellable timer
// driving a small state machine (awaiting_recheck -> rechecking ->
// resolved | escalated, with re-arming under the backoff policy). The
// single-flight guarantee is structural: the task claims the record's
// pending flag inside the store's atomic upsert before any timer starts.
package confirm
