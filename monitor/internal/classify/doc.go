// Package classify compares each poll observation against the stored health
// record and assigns an outcome: no change, recovery, needs confirmation,
// immediate alert, or no signal. All record mutation happens inside the
// store's atomic upsert, so classification is race-free.
package classify
