// Package notify composes and delivers alerts for confirmed health
// transitions. Routing picks the recipient set per entity (first matching
// pattern wins, default as fallback); delivery goes out over SMTP and
// optional webhooks. Failures are logged, never retried — the engine sends
// at most one alert per confirmed transition.
package notify
