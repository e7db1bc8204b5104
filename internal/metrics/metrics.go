package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotdesk",
			Name:      "booking_submitted_total",
			Help:      "Count of booking submissions by outcome.",
		},
		[]string{"status"},
	)

	busySync = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotdesk",
			Name:      "busy_sync_total",
			Help:      "Count of busy interval fetches by result.",
		},
		[]string{"result"},
	)

	referral = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotdesk",
			Name:      "referral_attribution_total",
			Help:      "Count of referral attribution records by result.",
		},
		[]string{"result"},
	)

	validationRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotdesk",
			Name:      "form_validation_rejected_total",
			Help:      "Count of forward transitions rejected by field validation.",
		},
		[]string{"step"},
	)

	submitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotdesk",
			Name:      "booking_submit_duration_seconds",
			Help:      "Time spent submitting a booking to the CRM endpoint.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingSubmitted, busySync, referral, validationRejected, submitDuration)
	})
}

func IncBookingSubmitted(status string) {
	bookingSubmitted.WithLabelValues(status).Inc()
}

func IncSync(result string) {
	busySync.WithLabelValues(result).Inc()
}

func IncReferral(result string) {
	referral.WithLabelValues(result).Inc()
}

func IncValidationRejected(step string) {
	validationRejected.WithLabelValues(step).Inc()
}

func ObserveSubmitDuration(seconds float64) {
	submitDuration.Observe(seconds)
}
