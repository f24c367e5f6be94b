package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_notifications_total",
			Help: "Notifications by pipeline outcome and audience type",
		},
		[]string{"stage", "type"}, // rejected|published|failed , systemwide|userspecific|group
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifygw_publish_duration_seconds",
			Help:    "Broker hand-off latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "outcome"}, // ok|unreachable|exchange_missing|rejected
	)

	ConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_consumed_total",
			Help: "Envelopes seen by the tail worker",
		},
		[]string{"outcome"}, // matched|skipped|poison
	)
)

var once sync.Once

// MustRegister registers the collectors once per process.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			NotificationsTotal,
			PublishDuration,
			ConsumedTotal,
		)
	})
}
