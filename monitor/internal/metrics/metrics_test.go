package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// The exposition is parsed back the same way a scraper would read it.
func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.Cycles.Inc()
	m.Cycles.Inc()
	m.Alerts.WithLabelValues("escalated").Inc()
	m.EntitiesTracked.Set(7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	var mfs map[string]*dto.MetricFamily
	mfs, err = parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	cycles, ok := mfs["harborwatch_poll_cycles_total"]
	if !ok {
		t.Fatal("harborwatch_poll_cycles_total not exposed")
	}
	if got := cycles.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("poll cycles: got %v, want 2", got)
	}

	tracked, ok := mfs["harborwatch_entities_tracked"]
	if !ok {
		t.Fatal("harborwatch_entities_tracked not exposed")
	}
	if got := tracked.GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("entities tracked: got %v, want 7", got)
	}

	alerts, ok := mfs["harborwatch_alerts_total"]
	if !ok {
		t.Fatal("harborwatch_alerts_total not exposed")
	}
	mtr := alerts.GetMetric()[0]
	if got := mtr.GetLabel()[0].GetValue(); got != "escalated" {
		t.Errorf("alerts label: got %q, want escalated", got)
	}
}
