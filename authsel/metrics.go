package authsel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for selection sessions.
//
// Methods handle a nil receiver, so a nil *Metrics disables collection.
type Metrics struct {
	// Sessions counts created sessions.
	Sessions prometheus.Counter

	// Selections counts selections added to sessions.
	// Labels: mechanism
	Selections *prometheus.CounterVec

	// Acquisitions counts credential acquisitions.
	// Labels: mechanism, result=[success, reused, failure]
	Acquisitions *prometheus.CounterVec

	// AcquireDuration tracks how long acquisitions take.
	// Labels: mechanism
	AcquireDuration *prometheus.HistogramVec

	// Lookups counts background local-KDC lookups.
	// Labels: result=[success, failure]
	Lookups *prometheus.CounterVec

	// References counts reference operations.
	// Labels: op=[add, remove, label, release], result=[success, skipped, failure]
	References *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with registerer, or with
// prometheus.DefaultRegisterer when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authsel_sessions_total",
			Help: "Total selection sessions created",
		}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsel_selections_total",
			Help: "Total selections added by mechanism",
		}, []string{"mechanism"}),
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsel_acquisitions_total",
			Help: "Total credential acquisitions by mechanism and result",
		}, []string{"mechanism", "result"}),
		AcquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authsel_acquire_duration_seconds",
			Help:    "Credential acquisition duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"mechanism"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsel_lkdc_lookups_total",
			Help: "Total local KDC discovery lookups by result",
		}, []string{"result"}),
		References: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsel_reference_ops_total",
			Help: "Total credential reference operations by op and result",
		}, []string{"op", "result"}),
	}
	registerer.MustRegister(
		m.Sessions,
		m.Selections,
		m.Acquisitions,
		m.AcquireDuration,
		m.Lookups,
		m.References,
	)
	return m
}

func (m *Metrics) recordSession() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

func (m *Metrics) recordSelection(mech Mechanism) {
	if m == nil {
		return
	}
	m.Selections.WithLabelValues(mech.String()).Inc()
}

func (m *Metrics) recordAcquire(mech Mechanism, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(mech.String(), result).Inc()
	if result != "reused" {
		m.AcquireDuration.WithLabelValues(mech.String()).Observe(d.Seconds())
	}
}

func (m *Metrics) recordLookup(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) recordReference(op, result string) {
	if m == nil {
		return
	}
	m.References.WithLabelValues(op, result).Inc()
}
