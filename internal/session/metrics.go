package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_created_total",
		Help: "Voice sessions created",
	})

	metricSessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_ended_total",
		Help: "Voice sessions ended",
	})

	metricSessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_reaped_total",
		Help: "Idle voice sessions ended by the background sweep",
	})

	gaugeSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Live voice sessions",
	})
)
