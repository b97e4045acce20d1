package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harborwatch/harborwatch/monitor/internal/classify"
	"github.com/harborwatch/harborwatch/monitor/internal/config"
	"github.com/harborwatch/harborwatch/monitor/internal/confirm"
	"github.com/harborwatch/harborwatch/monitor/internal/metrics"
	"github.com/harborwatch/harborwatch/monitor/internal/notify"
	"github.com/harborwatch/harborwatch/monitor/internal/poll"
	"github.com/harborwatch/harborwatch/monitor/internal/reconcile"
	"github.com/harborwatch/harborwatch/monitor/internal/source"
	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("harborwatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	m := cfg.Monitor
	slog.Info("config loaded",
		"server_name", m.ServerName,
		"poll_interval", m.PollInterval,
		"workers", m.WorkerPoolSize,
		"confirmation_policy", m.Confirmation.Policy,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, err := source.NewDockerSource(m.Docker.Endpoint)
	if err != nil {
		slog.Error("failed to connect to docker", "err", err)
		os.Exit(1)
	}

	router := notify.NewRouter(routesFrom(m.Alerts), m.Alerts.Recipients)

	var mailer *notify.Mailer
	if m.SMTP.Host != "" {
		mailer = notify.NewMailer(m.SMTP.Host, m.SMTP.Port, m.SMTP.User(), m.SMTP.Password(), m.SMTP.From)
		slog.Info("email delivery enabled", "host", m.SMTP.Host, "port", m.SMTP.Port)
	} else {
		slog.Warn("smtp.host not set — email delivery disabled")
	}

	gateway := notify.NewGateway(m.ServerName, router, mailer, webhooksFrom(m.Alerts))

	mx := metrics.New()
	store := state.New()
	poller := poll.New(src, m.WorkerPoolSize)
	scheduler := confirm.New(confirm.Config{
		Policy:      m.Confirmation.Policy,
		Wait:        m.Confirmation.Wait,
		Base:        m.Confirmation.Base,
		Multiplier:  m.Confirmation.Multiplier,
		MaxDelay:    m.Confirmation.MaxDelay,
		Jitter:      m.Confirmation.Jitter,
		MaxAttempts: m.Confirmation.MaxAttempts,
		LogLines:    m.LogTailLines,
	}, store, poller, gateway, mx)

	loop := reconcile.New(reconcile.Config{
		Interval:           m.PollInterval,
		SourceFailureLimit: m.SourceFailureLimit,
		ShutdownGrace:      m.ShutdownGrace,
	}, src, store, poller, classify.New(store), scheduler, gateway, mx)

	// Hot-reload alert routing on config writes. Timing and connection
	// changes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(a config.AlertsConfig) {
			router.Update(routesFrom(a), a.Recipients)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if m.Metrics.HTTPPort > 0 {
		go serveMetrics(ctx, m.Metrics.HTTPPort, mx)
	}

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, reconcile.ErrSourceUnavailable) {
			slog.Error("entity source unavailable, giving up", "err", err)
		} else {
			slog.Error("reconcile loop failed", "err", err)
		}
		os.Exit(1)
	}
	slog.Info("harborwatch shut down")
}

// serveMetrics runs the Prometheus exposition endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, port int, mx *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mx.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "err", err)
	}
}

// routesFrom converts config routing entries to the notify routing table.
func routesFrom(a config.AlertsConfig) []notify.Route {
	routes := make([]notify.Route, 0, len(a.Routing))
	for _, r := range a.Routing {
		routes = append(routes, notify.Route{Pattern: r.Pattern, Recipients: r.Recipients})
	}
	return routes
}

// webhooksFrom resolves configured webhook targets from the environment.
func webhooksFrom(a config.AlertsConfig) []notify.WebhookTarget {
	targets := make([]notify.WebhookTarget, 0, len(a.Webhooks))
	for _, w := range a.Webhooks {
		url := w.URL()
		if url == "" {
			slog.Warn("webhook url env not set — target disabled",
				"type", w.Type, "url_env", w.URLEnv)
		}
		targets = append(targets, notify.WebhookTarget{Type: w.Type, URL: url})
	}
	return targets
}
