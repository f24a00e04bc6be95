// Package metrics holds gigwatch's prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without observability wired in (tests, one-off runs).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gigwatch"

type Metrics struct {
	reg *prometheus.Registry

	catalogRequests *prometheus.CounterVec
	quotaUsed       prometheus.Gauge

	dispatchQueued prometheus.Counter
	dispatchSent   prometheus.Counter
	dispatchFailed *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	checkRuns     *prometheus.CounterVec
	notifications prometheus.Counter
	skipped       *prometheus.CounterVec
}

// New creates a dedicated registry with process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{
		reg: reg,
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "catalog", Name: "requests_total",
			Help: "Catalog API calls by outcome.",
		}, []string{"outcome"}),
		quotaUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "catalog", Name: "quota_used",
			Help: "Catalog calls counted against the current quota period.",
		}),
		dispatchQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "queued_total",
			Help: "Messages accepted by the dispatcher.",
		}),
		dispatchSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "sent_total",
			Help: "Messages delivered to the transport.",
		}),
		dispatchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "failed_total",
			Help: "Messages dropped after a failed send, by status code.",
		}, []string{"code"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "queue_depth",
			Help: "Messages waiting in the dispatcher queue.",
		}),
		checkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "check", Name: "runs_total",
			Help: "Check runs by result (ok, aborted, failed).",
		}, []string{"result"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "check", Name: "notifications_total",
			Help: "New (subscriber, event) pairs enqueued for delivery.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "check", Name: "events_skipped_total",
			Help: "Events skipped by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.catalogRequests, m.quotaUsed,
		m.dispatchQueued, m.dispatchSent, m.dispatchFailed, m.queueDepth,
		m.checkRuns, m.notifications, m.skipped,
	)
	return m
}

// Registry returns the registry to expose over HTTP. Nil for a nil Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) CatalogRequest(outcome string) {
	if m == nil {
		return
	}
	m.catalogRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QuotaUsed(n int) {
	if m == nil {
		return
	}
	m.quotaUsed.Set(float64(n))
}

func (m *Metrics) Queued(depth int) {
	if m == nil {
		return
	}
	m.dispatchQueued.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) Sent(depth int) {
	if m == nil {
		return
	}
	m.dispatchSent.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SendFailed(code string, depth int) {
	if m == nil {
		return
	}
	m.dispatchFailed.WithLabelValues(code).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) CheckRun(result string) {
	if m == nil {
		return
	}
	m.checkRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// Tasks exposes supervised goroutine counts, read from fn at scrape time.
func (m *Metrics) Tasks(fn func() (active int64, started uint64)) error {
	if m == nil || fn == nil {
		return nil
	}
	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "tasks", Name: "active",
		Help: "Supervised goroutines currently running.",
	}, func() float64 {
		a, _ := fn()
		return float64(a)
	})
	started := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tasks", Name: "started_total",
		Help: "Supervised goroutines started, restarts included.",
	}, func() float64 {
		_, st := fn()
		return float64(st)
	})
	if err := m.reg.Register(active); err != nil {
		return err
	}
	return m.reg.Register(started)
}
