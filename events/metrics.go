package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b2pix_event_consumers_processed_total",
		Help: "Count of event consumers executed successfully.",
	})
	consumersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b2pix_event_consumers_failed_total",
		Help: "Count of event consumer executions that failed.",
	})
	consumersSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b2pix_event_consumers_skipped_total",
		Help: "Count of event consumers skipped because no handler was found.",
	})
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b2pix_events_published_total",
		Help: "Count of events appended to the log.",
	})
)
