package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harborwatch/harborwatch/monitor/internal/confirm"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval       = 2 * time.Minute
	DefaultWorkerPoolSize     = 30
	DefaultLogTailLines       = 10
	DefaultSourceFailureLimit = 5
	DefaultShutdownGrace      = 30 * time.Second
	DefaultConfirmWait        = time.Minute
	DefaultConfirmBase        = 30 * time.Second
	DefaultConfirmMultiplier  = 2.0
	DefaultConfirmMaxDelay    = 5 * time.Minute
	DefaultConfirmAttempts    = 3
	DefaultMetricsPort        = 9091
	DefaultSMTPPort           = 587
)

// Config is the top-level configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

// MonitorConfig holds all monitor settings.
type MonitorConfig struct {
	// ServerName identifies this monitor instance in alert subjects.
	ServerName string `yaml:"server_name"`

	// PollInterval controls how often the full entity set is polled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WorkerPoolSize bounds concurrent status queries within one cycle.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// LogTailLines is how many log lines an escalation alert carries.
	LogTailLines int `yaml:"log_tail_lines"`

	// SourceFailureLimit is how many consecutive listing failures are
	// tolerated before the monitor exits.
	SourceFailureLimit int `yaml:"source_failure_limit"`

	// ShutdownGrace bounds how long shutdown waits for in-flight
	// confirmations to drain.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Confirmation shapes the wait-and-recheck protocol.
	Confirmation ConfirmationConfig `yaml:"confirmation"`

	// Docker configures the container source.
	Docker DockerConfig `yaml:"docker"`

	// SMTP configures email delivery. Leave host empty to disable email.
	SMTP SMTPConfig `yaml:"smtp"`

	// Alerts holds recipients, routing rules and webhook targets.
	Alerts AlertsConfig `yaml:"alerts"`

	// Metrics configures the Prometheus exposition endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// ConfirmationConfig holds the recheck delay policy.
type ConfirmationConfig struct {
	// Policy is one of: fixed | backoff.
	Policy string `yaml:"policy"`

	// Wait is the single recheck delay under the fixed policy.
	Wait time.Duration `yaml:"wait"`

	// Base, Multiplier, MaxDelay and Jitter shape the backoff policy.
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`

	// MaxAttempts bounds rechecks under the backoff policy.
	MaxAttempts int `yaml:"max_attempts"`
}

// DockerConfig configures the Docker API connection.
type DockerConfig struct {
	// Endpoint overrides the daemon address. Empty means the client
	// resolves it from DOCKER_HOST and the usual environment.
	Endpoint string `yaml:"endpoint"`
}

// SMTPConfig configures the outgoing mail server.
type SMTPConfig struct {
	// Host is the SMTP server hostname. Empty disables email delivery.
	Host string `yaml:"host"`

	// Port selects the submission mode: 587 uses STARTTLS, anything else
	// (typically 465) uses implicit TLS.
	Port int `yaml:"port"`

	// From is the sender address.
	From string `yaml:"from"`

	// UserEnv is the name of the environment variable holding the username.
	UserEnv string `yaml:"user_env"`

	// PassEnv is the name of the environment variable holding the password.
	PassEnv string `yaml:"pass_env"`
}

// User returns the SMTP username resolved from the environment.
func (s SMTPConfig) User() string {
	if s.UserEnv == "" {
		return ""
	}
	return os.Getenv(s.UserEnv)
}

// Password returns the SMTP password resolved from the environment.
func (s SMTPConfig) Password() string {
	if s.PassEnv == "" {
		return ""
	}
	return os.Getenv(s.PassEnv)
}

// AlertsConfig holds recipients, routing rules and webhook targets.
type AlertsConfig struct {
	// Recipients is the fallback address list used when no route matches.
	Recipients []string `yaml:"recipients"`

	// Routing maps name patterns to dedicated recipient lists. Routes are
	// evaluated in order; the first substring match wins.
	Routing []RouteConfig `yaml:"routing"`

	// Webhooks lists webhook delivery targets.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// RouteConfig maps one name pattern to a recipient list.
type RouteConfig struct {
	// Pattern is matched as a substring against the entity name and group.
	Pattern string `yaml:"pattern"`

	// Recipients receive alerts for matching entities.
	Recipients []string `yaml:"recipients"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	// HTTPPort is the port /metrics listens on. Zero disables the endpoint.
	HTTPPort int `yaml:"http_port"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			ServerName:         "harborwatch",
			PollInterval:       DefaultPollInterval,
			WorkerPoolSize:     DefaultWorkerPoolSize,
			LogTailLines:       DefaultLogTailLines,
			SourceFailureLimit: DefaultSourceFailureLimit,
			ShutdownGrace:      DefaultShutdownGrace,
			Confirmation: ConfirmationConfig{
				Policy:      confirm.PolicyFixed,
				Wait:        DefaultConfirmWait,
				Base:        DefaultConfirmBase,
				Multiplier:  DefaultConfirmMultiplier,
				MaxDelay:    DefaultConfirmMaxDelay,
				Jitter:      0,
				MaxAttempts: DefaultConfirmAttempts,
			},
			SMTP: SMTPConfig{
				Port: DefaultSMTPPort,
			},
			Metrics: MetricsConfig{
				HTTPPort: DefaultMetricsPort,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	m := &cfg.Monitor
	if m.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if m.WorkerPoolSize <= 0 {
		return fmt.Errorf("monitor.worker_pool_size must be positive")
	}
	if m.LogTailLines < 0 {
		return fmt.Errorf("monitor.log_tail_lines must not be negative")
	}
	if m.SourceFailureLimit <= 0 {
		return fmt.Errorf("monitor.source_failure_limit must be positive")
	}
	if m.ShutdownGrace <= 0 {
		return fmt.Errorf("monitor.shutdown_grace must be positive")
	}

	c := m.Confirmation
	switch c.Policy {
	case confirm.PolicyFixed:
		if c.Wait <= 0 {
			return fmt.Errorf("monitor.confirmation.wait must be positive")
		}
	case confirm.PolicyBackoff:
		if c.Base <= 0 {
			return fmt.Errorf("monitor.confirmation.base must be positive")
		}
		if c.Multiplier < 1 {
			return fmt.Errorf("monitor.confirmation.multiplier must be >= 1")
		}
		if c.MaxDelay < c.Base {
			return fmt.Errorf("monitor.confirmation.max_delay must be >= base")
		}
		if c.Jitter < 0 || c.Jitter > 1 {
			return fmt.Errorf("monitor.confirmation.jitter must be in [0, 1]")
		}
		if c.MaxAttempts <= 0 {
			return fmt.Errorf("monitor.confirmation.max_attempts must be positive")
		}
	default:
		return fmt.Errorf("monitor.confirmation.policy: unknown policy %q", c.Policy)
	}

	if m.SMTP.Host != "" {
		if m.SMTP.From == "" {
			return fmt.Errorf("monitor.smtp.from is required when smtp.host is set")
		}
		if m.SMTP.Port <= 0 {
			return fmt.Errorf("monitor.smtp.port must be positive")
		}
	}

	for i, r := range m.Alerts.Routing {
		if r.Pattern == "" {
			return fmt.Errorf("alerts.routing[%d]: pattern is required", i)
		}
		if len(r.Recipients) == 0 {
			return fmt.Errorf("alerts.routing[%d] %q: recipients is required", i, r.Pattern)
		}
	}
	for i, w := range m.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("alerts.webhooks[%d]: url_env is required", i)
		}
	}

	return nil
}
