// Package source defines the entity snapshot source — the collaborator the
// monitor queries for the current set of entities and their health — and the
// Docker Engine implementation of it. The engine is read-only: nothing in
// this package mutates the workloads it observes.
package source
