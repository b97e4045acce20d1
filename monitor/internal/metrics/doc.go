// Package metrics exposes the monitor's own operational counters and gauges
// in Prometheus exposition format. These describe the monitor, not the
// entities it watches — alerting on entity health goes through the notifier,
// never through here.
package metrics
