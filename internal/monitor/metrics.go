package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgrelay",
		Subsystem: "relay",
		Name:      "updates_total",
		Help:      "Webhook updates received per account.",
	}, []string{"account"})

	updatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgrelay",
		Subsystem: "relay",
		Name:      "updates_rejected_total",
		Help:      "Updates dropped by access control, by reason.",
	}, []string{"account", "reason"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgrelay",
		Subsystem: "relay",
		Name:      "deliveries_total",
		Help:      "Outbound payload deliveries, by outcome.",
	}, []string{"account", "outcome"})

	rpcFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgrelay",
		Subsystem: "relay",
		Name:      "rpc_failures_total",
		Help:      "RPC transformer call failures, by method.",
	}, []string{"account", "method"})
)
