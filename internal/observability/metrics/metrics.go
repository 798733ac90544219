// Package metrics exposes Prometheus instruments for the booking and
// payment flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters for reservation outcomes.
type BookingMetrics struct {
	reserveTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reserveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "reserve_total",
			Help:      "Total reserve attempts by outcome and conflict code",
		}, []string{"outcome", "code"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reserveTotal)
	return m
}

// ObserveReserve records one reserve attempt. code is empty for successes.
func (m *BookingMetrics) ObserveReserve(outcome, code string) {
	if m == nil {
		return
	}
	m.reserveTotal.WithLabelValues(outcome, code).Inc()
}

// PaymentMetrics exposes webhook latency and verification counters.
type PaymentMetrics struct {
	webhookLatency    *prometheus.HistogramVec
	verificationTotal *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of gateway webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		verificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "verification_total",
			Help:      "Total payment proof verifications",
		}, []string{"gateway", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookLatency, m.verificationTotal)
	return m
}

// ObserveWebhook records one processed gateway webhook.
func (m *PaymentMetrics) ObserveWebhook(eventType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveVerification records one payment verification attempt.
func (m *PaymentMetrics) ObserveVerification(gateway string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "verified"
	}
	m.verificationTotal.WithLabelValues(gateway, result).Inc()
}

// CacheMetrics exposes slot cache hit/miss counters.
type CacheMetrics struct {
	lookupTotal *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		lookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "slotcache",
			Name:      "lookup_total",
			Help:      "Total slot cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lookupTotal)
	return m
}

// ObserveLookup records a cache hit or miss.
func (m *CacheMetrics) ObserveLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookupTotal.WithLabelValues(result).Inc()
}
