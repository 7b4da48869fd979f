package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOverflowDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_overflow_dropped_total",
		Help: "Events dropped by outbox overflow coalescing",
	})
)
