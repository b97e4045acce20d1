// Package state holds the in-memory health record store — the single source
// of truth for transition detection. One HealthRecord exists per known entity;
// all mutation goes through the atomic Upsert so observations for the same
// identity are never applied concurrently.
package state
