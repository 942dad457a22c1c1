// Package metrics holds the Prometheus collectors shared by the client and
// the credential manager. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disco"

// Refresh outcomes.
const (
	RefreshOK        = "ok"
	RefreshTemporary = "temporary"
	RefreshTerminal  = "terminal"
)

// Batch item outcomes.
const (
	ItemOK        = "ok"
	ItemHTTPError = "http_error"
	ItemDecode    = "decode_error"
	ItemTransport = "transport_error"
)

type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchItems      *prometheus.CounterVec
	retries         prometheus.Counter
}

// New creates the collectors and registers them with reg. Collectors that are
// already registered are reused, so several clients may share a registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests sent.",
			},
			[]string{"method", "status"},
		)),
		requestDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "API request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		)),
		refreshes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Token endpoint exchanges by outcome.",
			},
			[]string{"outcome"},
		)),
		batchSize: register(reg, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of calls per batch request.",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
			},
		)),
		batchItems: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Batch item results by outcome.",
			},
			[]string{"outcome"},
		)),
		retries: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_retries_total",
				Help:      "Requests resent after a 401 response.",
			},
		)),
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveRequest records one completed exchange. status 0 means the
// transport failed.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, code).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) ObserveBatchItem(outcome string) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAuthRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
