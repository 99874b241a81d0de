package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potoo_mailer_deliveries_total",
			Help: "Notification units attempted per channel by status (ok, failed, skipped).",
		},
		[]string{"channel", "status"},
	)
	channelPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potoo_mailer_channel_panics_total",
			Help: "Channel deliveries that panicked and were recovered.",
		},
		[]string{"channel"},
	)
	httpPostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potoo_mailer_http_post_total",
			Help: "HTTP sink POST attempts by sink and status.",
		},
		[]string{"sink", "status"},
	)
	httpPostDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "potoo_mailer_http_post_duration_seconds",
			Help:    "Duration of HTTP sink requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"sink", "status"},
	)
)
