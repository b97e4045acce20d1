package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WebhookTarget is one webhook delivery target. URL is resolved at send time
// by the configured lookup so secrets stay out of the config file.
type WebhookTarget struct {
	// Type is one of: slack | teams | http.
	Type string

	// URL is the resolved webhook endpoint; targets with an empty URL are
	// skipped.
	URL string
}

// Gateway composes alert messages and fans them out to email recipients
// (resolved through the Router) and webhook targets. Gateway is safe for
// concurrent use.
type Gateway struct {
	serverName string
	router     *Router
	mailer     *Mailer // nil when SMTP is not configured
	webhooks   []WebhookTarget
	client     *http.Client
}

// NewGateway creates a Gateway. mailer may be nil to disable email delivery.
func NewGateway(serverName string, router *Router, mailer *Mailer, webhooks []WebhookTarget) *Gateway {
	return &Gateway{
		serverName: serverName,
		router:     router,
		mailer:     mailer,
		webhooks:   webhooks,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers a to every configured channel. Each channel failure is
// logged and collected; a returned error means at least one delivery failed.
// The caller must not retry — at most one alert per confirmed transition.
func (g *Gateway) Notify(ctx context.Context, a Alert) error {
	var errs []error

	if g.mailer != nil {
		recipients := g.router.Resolve(a.Identity, a.Group)
		if err := g.mailer.Send(recipients, g.subject(a), g.body(a)); err != nil {
			slog.Error("notify: email delivery failed",
				"identity", a.Identity, "group", a.Group, "err", err)
			errs = append(errs, err)
		} else {
			slog.Info("notify: alert emailed",
				"identity", a.Identity,
				"group", a.Group,
				"status", a.New.String(),
				"recipients", strings.Join(recipients, ","),
			)
		}
	}

	for _, wh := range g.webhooks {
		if wh.URL == "" {
			continue
		}
		var err error
		switch wh.Type {
		case "slack":
			err = g.post(ctx, wh.URL, slackPayload(a))
		case "teams":
			err = g.post(ctx, wh.URL, teamsPayload(a))
		case "http":
			err = g.post(ctx, wh.URL, httpPayload(a))
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		if err != nil {
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type, "identity", a.Identity, "err", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// subject builds the email subject line, matching the severity tagging the
// alert recipients filter on.
func (g *Gateway) subject(a Alert) string {
	return fmt.Sprintf("%s: [%s] %s - health status changed",
		strings.ToUpper(a.Severity()), a.Group, a.Identity)
}

// body builds the plain-text alert body.
func (g *Gateway) body(a Alert) string {
	var b strings.Builder
	b.WriteString("Container Health Alert\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Server:        %s\n", g.serverName)
	fmt.Fprintf(&b, "Project:       %s\n", a.Group)
	fmt.Fprintf(&b, "Container:     %s\n", a.Identity)
	fmt.Fprintf(&b, "Status change: %s -> %s\n", a.Prior.String(), a.New.String())
	fmt.Fprintf(&b, "Severity:      %s\n", a.Severity())
	fmt.Fprintf(&b, "Time:          %s\n", a.FiredAt.Format("2006-01-02 15:04:05"))
	if a.Elapsed > 0 {
		fmt.Fprintf(&b, "Confirmed after: %s\n", a.Elapsed.Round(time.Second))
	}
	if a.Detail != "" {
		b.WriteString("\nDetails:\n--------\n")
		b.WriteString(a.Detail)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n---\nAutomated alert from HarborWatch (%s)\n", g.serverName)
	return b.String()
}
