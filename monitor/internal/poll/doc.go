// Package poll fans health queries out across a bounded worker pool and
// collects one observation per entity. A single query failure is isolated to
// its entity; the batch always completes.
package poll
