package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_commands_total",
		Help: "Dispatched command attempts, labeled by command and outcome",
	}, []string{"command", "outcome"})

	lookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_lookup_duration_seconds",
		Help:    "Latency distribution of upstream vehicle lookups",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"result"})

	broadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_broadcast_deliveries_total",
		Help: "Broadcast delivery attempts, labeled by status",
	}, []string{"status"})
)
