package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func slackPayload(a Alert) []byte {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* [%s] %s: %s -> %s",
			severityLabel(a.Severity()), a.Group, a.Identity,
			a.Prior.String(), a.New.String()),
	})
	return body
}

func teamsPayload(a Alert) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity()),
		"summary":    a.Identity,
		"title":      fmt.Sprintf("HarborWatch Alert: [%s] %s", a.Group, a.Identity),
		"text": fmt.Sprintf("%s -> %s (confirmed after %s)",
			a.Prior.String(), a.New.String(), a.Elapsed.Round(time.Second)),
	})
	return body
}

func httpPayload(a Alert) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"identity":   a.Identity,
		"group":      a.Group,
		"prior":      a.Prior.String(),
		"status":     a.New.String(),
		"severity":   a.Severity(),
		"elapsed_ms": a.Elapsed.Milliseconds(),
		"detail":     a.Detail,
		"fired_at":   a.FiredAt,
	})
	return body
}

func (g *Gateway) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical", "error":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
