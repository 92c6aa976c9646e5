// Package prometheus provides Prometheus exporters for trueface metrics.
//
// [NewPrometheusExporter] exposes an http.Handler that renders all engine
// counters and histograms in text exposition format with no client library.
// [NewCollector] implements prometheus.Collector for processes that already
// run a client_golang registry. Counter names are prefixed trueface_*_total;
// the histograms are trueface_match_latency_seconds and
// trueface_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry — callers mount the
//     Handler or register the Collector themselves.
//   - Mutate engine state.
package prometheus
