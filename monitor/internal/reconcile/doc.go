// Package reconcile drives the periodic poll-classify-dispatch cycle: list
// the entity set, fan out status queries, classify each observation against
// the stored state, and hand the results to the confirmation scheduler or
// the alert gateway. The loop owns nothing it observes; it only reconciles
// recorded state with reality and reacts to transitions.
package reconcile
