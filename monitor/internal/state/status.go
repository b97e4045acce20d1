package state

// Status is the observed health of a monitored entity.
type Status int

const (
	// StatusUnknown means no health information has been observed yet, or the
	// entity carries no healthcheck.
	StatusUnknown Status = iota

	// StatusHealthy means the entity's healthcheck is passing.
	StatusHealthy

	// StatusUnhealthy means the entity's healthcheck is failing.
	StatusUnhealthy

	// StatusStarting means the healthcheck has not settled yet (grace period).
	StatusStarting

	// StatusMissing means the runtime no longer knows the entity.
	StatusMissing
)

// String returns the lowercase label used in logs and alerts.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusStarting:
		return "starting"
	case StatusMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Suspect reports whether s is a status that requires confirmation before
// alerting (unhealthy or starting).
func (s Status) Suspect() bool {
	return s == StatusUnhealthy || s == StatusStarting
}
