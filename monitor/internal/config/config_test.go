package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
monitor:
  server_name: "prod-host-1"
  poll_interval: 30s
  worker_pool_size: 10
  log_tail_lines: 20
  confirmation:
    policy: backoff
    base: 10s
    multiplier: 2.0
    max_delay: 2m
    max_attempts: 4
  smtp:
    host: "smtp.example.com"
    port: 465
    from: "monitor@example.com"
    user_env: "SMTP_USER"
    pass_env: "SMTP_PASS"
  alerts:
    recipients: ["ops@example.com"]
    routing:
      - pattern: "billing"
        recipients: ["billing-team@example.com"]
`
	cfg := loadFromString(t, yaml)

	m := cfg.Monitor
	if m.ServerName != "prod-host-1" {
		t.Errorf("server_name: got %q", m.ServerName)
	}
	if m.PollInterval != 30*time.Second {
		t.Errorf("poll_interval: got %v", m.PollInterval)
	}
	if m.WorkerPoolSize != 10 {
		t.Errorf("worker_pool_size: got %d", m.WorkerPoolSize)
	}
	if m.Confirmation.Policy != "backoff" {
		t.Errorf("confirmation policy: got %q", m.Confirmation.Policy)
	}
	if m.Confirmation.MaxAttempts != 4 {
		t.Errorf("max_attempts: got %d", m.Confirmation.MaxAttempts)
	}
	if m.SMTP.Port != 465 {
		t.Errorf("smtp port: got %d", m.SMTP.Port)
	}
	if len(m.Alerts.Routing) != 1 || m.Alerts.Routing[0].Pattern != "billing" {
		t.Errorf("routing: got %+v", m.Alerts.Routing)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "monitor: {}\n")

	m := cfg.Monitor
	if m.PollInterval != DefaultPollInterval {
		t.Errorf("default poll_interval: got %v, want %v", m.PollInterval, DefaultPollInterval)
	}
	if m.WorkerPoolSize != DefaultWorkerPoolSize {
		t.Errorf("default worker_pool_size: got %d, want %d", m.WorkerPoolSize, DefaultWorkerPoolSize)
	}
	if m.Confirmation.Policy != "fixed" {
		t.Errorf("default policy: got %q, want fixed", m.Confirmation.Policy)
	}
	if m.Confirmation.Wait != DefaultConfirmWait {
		t.Errorf("default wait: got %v, want %v", m.Confirmation.Wait, DefaultConfirmWait)
	}
	if m.SMTP.Port != DefaultSMTPPort {
		t.Errorf("default smtp port: got %d, want %d", m.SMTP.Port, DefaultSMTPPort)
	}
	if m.Metrics.HTTPPort != DefaultMetricsPort {
		t.Errorf("default metrics port: got %d, want %d", m.Metrics.HTTPPort, DefaultMetricsPort)
	}
}

func TestLoad_UnknownPolicy(t *testing.T) {
	yaml := `
monitor:
  confirmation:
    policy: exponential-ish
`
	_, err := loadStringErr(t, yaml)
	if err == nil {
		t.Fatal("expected error for unknown policy, got nil")
	}
}

func TestLoad_BackoffConstraints(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero base", `
monitor:
  confirmation:
    policy: backoff
    base: 0s
    multiplier: 2.0
    max_delay: 1m
    max_attempts: 3
`},
		{"multiplier below one", `
monitor:
  confirmation:
    policy: backoff
    base: 10s
    multiplier: 0.5
    max_delay: 1m
    max_attempts: 3
`},
		{"max_delay below base", `
monitor:
  confirmation:
    policy: backoff
    base: 2m
    multiplier: 2.0
    max_delay: 1m
    max_attempts: 3
`},
		{"jitter out of range", `
monitor:
  confirmation:
    policy: backoff
    base: 10s
    multiplier: 2.0
    max_delay: 1m
    jitter: 1.5
    max_attempts: 3
`},
		{"zero attempts", `
monitor:
  confirmation:
    policy: backoff
    base: 10s
    multiplier: 2.0
    max_delay: 1m
    max_attempts: 0
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_SMTPWithoutFrom(t *testing.T) {
	yaml := `
monitor:
  smtp:
    host: "smtp.example.com"
`
	_, err := loadStringErr(t, yaml)
	if err == nil {
		t.Fatal("expected error for smtp host without from, got nil")
	}
}

func TestLoad_RouteWithoutRecipients(t *testing.T) {
	yaml := `
monitor:
  alerts:
    routing:
      - pattern: "api"
`
	_, err := loadStringErr(t, yaml)
	if err == nil {
		t.Fatal("expected error for route without recipients, got nil")
	}
}

func TestLoad_UnknownWebhookType(t *testing.T) {
	yaml := `
monitor:
  alerts:
    webhooks:
      - type: carrier-pigeon
        url_env: PIGEON_URL
`
	_, err := loadStringErr(t, yaml)
	if err == nil {
		t.Fatal("expected error for unknown webhook type, got nil")
	}
}

func TestSMTPConfig_EnvResolution(t *testing.T) {
	t.Setenv("TEST_SMTP_USER", "mailer")
	t.Setenv("TEST_SMTP_PASS", "supersecret")
	s := SMTPConfig{UserEnv: "TEST_SMTP_USER", PassEnv: "TEST_SMTP_PASS"}
	if got := s.User(); got != "mailer" {
		t.Errorf("User(): got %q", got)
	}
	if got := s.Password(); got != "supersecret" {
		t.Errorf("Password(): got %q", got)
	}
}

func TestSMTPConfig_EmptyEnvNames(t *testing.T) {
	s := SMTPConfig{}
	if got := s.User(); got != "" {
		t.Errorf("User() with no UserEnv: got %q, want empty", got)
	}
	if got := s.Password(); got != "" {
		t.Errorf("Password() with no PassEnv: got %q, want empty", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("SLACK_URL", "https://hooks.slack.com/services/T/B/X")
	w := WebhookConfig{Type: "slack", URLEnv: "SLACK_URL"}
	if got := w.URL(); got != "https://hooks.slack.com/services/T/B/X" {
		t.Errorf("URL(): got %q", got)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
