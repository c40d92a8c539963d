package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "events_applied_total",
		Help:      "Inbound events applied to message or presence state.",
	}, []string{"kind"})

	metricDuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "duplicates_dropped_total",
		Help:      "Inbound events dropped by the dedup filter.",
	})

	metricConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "insert_conflicts_total",
		Help:      "Inserts rejected because an id was already accepted with different content.",
	})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "reconnects_total",
		Help:      "Successful reconnections after a transport drop.",
	})

	metricSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "sends_total",
		Help:      "Direct send attempts by result.",
	}, []string{"result"})
)
