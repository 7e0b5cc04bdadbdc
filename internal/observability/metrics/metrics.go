package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters for the booking saga.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	paymentFailures    *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
}

// NewBookingMetrics registers on reg, or the default registerer when reg is nil.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Compensating actions run after a failed saga step",
		}, []string{"step", "status"}),
		paymentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "payment_failures_total",
			Help:      "Payment collaborator failures that did not roll back the booking",
		}, []string{"operation"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "appointment_transitions_total",
			Help:      "Appointment lifecycle operations by result",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.compensationsTotal, m.paymentFailures, m.transitionsTotal)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCompensation(step string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.compensationsTotal.WithLabelValues(step, status).Inc()
}

func (m *BookingMetrics) ObservePaymentFailure(operation string) {
	if m == nil {
		return
	}
	m.paymentFailures.WithLabelValues(operation).Inc()
}

func (m *BookingMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RemoteMetrics tracks calls made to collaborator services.
type RemoteMetrics struct {
	callDuration *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

func NewRemoteMetrics(reg prometheus.Registerer) *RemoteMetrics {
	m := &RemoteMetrics{
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to collaborator services",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "remote",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
		}, []string{"service"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callDuration, m.breakerState)
	return m
}

func (m *RemoteMetrics) ObserveCall(service, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(service, operation, outcome).Observe(d.Seconds())
}

func (m *RemoteMetrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(state))
}
