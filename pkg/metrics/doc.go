// Package metrics defines Burrow's Prometheus metrics and exposes the
// scrape handler.
//
// The four gateway_* gauges are part of the external contract and are
// registered as gauge functions: their values are read from the live
// depth counters and supervisor state at scrape time rather than pushed.
// The burrow_* counters and histograms instrument internal operations
// and are registered at package init.
package metrics
