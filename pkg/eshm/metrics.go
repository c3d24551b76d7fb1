package eshm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eshm_writes_total",
		Help: "Channel writes published by this process.",
	}, []string{"region", "role"})

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eshm_reads_total",
		Help: "Channel snapshots completed by this process.",
	}, []string{"region", "role"})

	staleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eshm_stale_events_total",
		Help: "Times the remote endpoint was declared stale.",
	}, []string{"region", "role"})

	reattachAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eshm_reattach_attempts_total",
		Help: "Slave reattach attempts, successful or not.",
	}, []string{"region"})

	heartbeatGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eshm_heartbeat",
		Help: "Heartbeat counters as of the last stats snapshot.",
	}, []string{"region", "side"})
)
