// Package config loads, validates and hot-reloads the monitor's YAML
// configuration. Secrets (SMTP credentials, webhook URLs) are never stored
// in the file; the config names environment variables and resolves them at
// use time.
package config
