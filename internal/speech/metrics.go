package speech

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_audio_bytes_total",
		Help: "Total utterance bytes enqueued to the provider",
	})

	metricUtterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_utterances_total",
		Help: "Total utterances committed upstream",
	})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_reconnects_total",
		Help: "Successful reconnects after an upstream disconnect",
	})

	metricFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_reconnect_failures_total",
		Help: "Sessions whose reconnect budget was exhausted",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_connect_ms",
		Help:    "Time to establish the provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	gaugeBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_bridges_active",
		Help: "Live provider connections",
	})
)
