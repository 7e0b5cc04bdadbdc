package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("booked")
	m.ObserveBooking("booked")
	m.ObserveBooking("conflict")
	m.ObserveCompensation("persist_appointment", true)
	m.ObservePaymentFailure("register")
	m.ObserveTransition("cancel", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensationsTotal.WithLabelValues("persist_appointment", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentFailures.WithLabelValues("register")))
}

func TestRemoteMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRemoteMetrics(reg)
	m.ObserveCall("schedule", "get_slot", "ok", 20*time.Millisecond)
	m.SetBreakerState("schedule", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("schedule")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.callDuration))
}

func TestMetricsNilSafe(t *testing.T) {
	var b *BookingMetrics
	b.ObserveBooking("booked")
	b.ObserveCompensation("step", false)
	b.ObservePaymentFailure("capture")
	b.ObserveTransition("complete", "ok")

	var r *RemoteMetrics
	r.ObserveCall("svc", "op", "ok", time.Second)
	r.SetBreakerState("svc", 0)
}
