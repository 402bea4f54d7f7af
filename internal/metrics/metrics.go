// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the server updates.
type Metrics struct {
	TablesActive     prometheus.Gauge
	SessionsActive   prometheus.Gauge
	HandsPlayed      prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	SocialDropped    prometheus.Counter
	LedgerCommitTime prometheus.Histogram
}

// New registers the collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TablesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardroom",
			Name:      "tables_active",
			Help:      "Number of live tables.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardroom",
			Name:      "sessions_active",
			Help:      "Number of bound player sessions.",
		}),
		HandsPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cardroom",
			Name:      "hands_played_total",
			Help:      "Hands settled since start.",
		}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardroom",
			Name:      "actions_total",
			Help:      "Betting actions accepted, by kind.",
		}, []string{"action"}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cardroom",
			Name:      "messages_sent_total",
			Help:      "Events delivered to clients.",
		}),
		SocialDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cardroom",
			Name:      "social_dropped_total",
			Help:      "Social events shed to the outbox bound.",
		}),
		LedgerCommitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cardroom",
			Name:      "ledger_commit_seconds",
			Help:      "Durable hand commit latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
