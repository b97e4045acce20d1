package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatch_DeliversUpdatedRouting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "monitor: {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan AlertsConfig, 4)
	go func() {
		if err := Watch(ctx, path, func(a AlertsConfig) { updates <- a }); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond) // let the watcher register

	writeConfig(t, path, `
monitor:
  alerts:
    recipients: ["ops@example.com"]
    routing:
      - pattern: "billing"
        recipients: ["billing-team@example.com"]
`)

	select {
	case a := <-updates:
		if len(a.Routing) != 1 || a.Routing[0].Pattern != "billing" {
			t.Errorf("reloaded routing: got %+v", a.Routing)
		}
		if len(a.Recipients) != 1 || a.Recipients[0] != "ops@example.com" {
			t.Errorf("reloaded recipients: got %v", a.Recipients)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered after config write")
	}
}

func TestWatch_InvalidReloadDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "monitor: {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan AlertsConfig, 4)
	go func() {
		if err := Watch(ctx, path, func(a AlertsConfig) { updates <- a }); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond)

	// Fails validation: route without recipients. onChange must not fire.
	writeConfig(t, path, `
monitor:
  alerts:
    routing:
      - pattern: "api"
`)
	select {
	case a := <-updates:
		t.Fatalf("invalid config delivered: %+v", a)
	case <-time.After(300 * time.Millisecond):
	}

	// A subsequent valid write still reloads.
	writeConfig(t, path, `
monitor:
  alerts:
    recipients: ["dev@example.com"]
`)
	select {
	case a := <-updates:
		if len(a.Recipients) != 1 || a.Recipients[0] != "dev@example.com" {
			t.Errorf("recovered reload: got %+v", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after the config became valid again")
	}
}
