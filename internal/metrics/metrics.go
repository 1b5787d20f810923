// Package metrics defines Prometheus metrics for the corona-s3 client and its
// in-process test endpoint.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// Outcome labels for RequestsTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Transport metrics: one observation per HTTP exchange.
var (
	// RequestsTotal counts exchanges by method and outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corona_s3_requests_total",
			Help: "HTTP exchanges by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// RequestDuration observes exchange latency in seconds, connect to last byte.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corona_s3_request_duration_seconds",
			Help:    "Exchange latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BytesSentTotal counts request bytes written, head and body.
	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corona_s3_bytes_sent_total",
			Help: "Total request bytes written",
		},
	)

	// BytesReceivedTotal counts response bytes read, head and body.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corona_s3_bytes_received_total",
			Help: "Total response bytes read",
		},
	)

	// TasksInflight is the number of asynchronous exchanges registered with a
	// scheduler.
	TasksInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corona_s3_tasks_inflight",
			Help: "Asynchronous exchanges in flight",
		},
	)
)

// OperationsTotal counts bucket operations by name and status class.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corona_s3_operations_total",
		Help: "Bucket operations by type and status class",
	},
	[]string{"operation", "status"},
)

// FakeRequestsTotal counts requests served by the in-process test endpoint.
var FakeRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corona_s3_fake_http_requests_total",
		Help: "Requests served by the fake S3 endpoint",
	},
	[]string{"method", "path", "status"},
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			BytesSentTotal,
			BytesReceivedTotal,
			TasksInflight,
			OperationsTotal,
			FakeRequestsTotal,
		)
	})
}

// StatusClass maps a status code to "2xx", "4xx" and so on. Codes outside
// 100-599 map to "other".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// NormalizePath maps request paths on a virtual-hosted endpoint to path
// templates suitable for metric labels, avoiding one label per object key.
func NormalizePath(path string) string {
	switch path {
	case "/", "":
		return "/"
	case "/metrics":
		return "/metrics"
	}
	return "/{key}"
}
