package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stirka"

var (
	once sync.Once

	flowStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_started_total",
			Help:      "Count of booking flows started by kind.",
		},
		[]string{"kind"},
	)

	flowRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_rejected_total",
			Help:      "Count of flow steps that ended with a user-visible error.",
		},
		[]string{"reason"},
	)

	bookingCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_committed_total",
			Help:      "Count of bookings written by kind.",
		},
		[]string{"kind"},
	)

	storeReadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_read_failures_total",
			Help:      "Count of schedule reads that degraded to an empty schedule.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of background notifications by kind and status.",
		},
		[]string{"kind", "status"},
	)

	notificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_duration_seconds",
			Help:      "Time to deliver one notification including retries.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 30},
		},
	)

	scheduleResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_resets_total",
			Help:      "Count of weekly schedule resets.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			flowStarted,
			flowRejected,
			bookingCommitted,
			storeReadFailures,
			notifications,
			notificationDuration,
			scheduleResets,
		)
	})
}

func IncFlowStarted(kind string) {
	flowStarted.WithLabelValues(kind).Inc()
}

func IncFlowRejected(reason string) {
	flowRejected.WithLabelValues(reason).Inc()
}

func IncBookingCommitted(kind string) {
	bookingCommitted.WithLabelValues(kind).Inc()
}

func IncStoreReadFailure() {
	storeReadFailures.Inc()
}

func IncNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}

func ObserveNotificationDuration(seconds float64) {
	notificationDuration.Observe(seconds)
}

func IncScheduleReset() {
	scheduleResets.Inc()
}
