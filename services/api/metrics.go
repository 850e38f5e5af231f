package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type apiMetrics struct {
	registrations prometheus.Counter
	authFailures  prometheus.Counter
	dataOps       *prometheus.CounterVec
	eventsOut     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *apiMetrics {
	factory := promauto.With(reg)
	return &apiMetrics{
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "umkmhub_registrations_total",
			Help: "Accounts created.",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "umkmhub_auth_failures_total",
			Help: "Rejected credential or token exchanges.",
		}),
		dataOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "umkmhub_data_operations_total",
			Help: "Generic data operations by table and verb.",
		}, []string{"table", "op"}),
		eventsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "umkmhub_events_published_total",
			Help: "Domain events published to the bus by subject.",
		}, []string{"subject"}),
	}
}
