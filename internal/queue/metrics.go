package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_queue_messages_retried_total",
			Help: "Total number of task messages scheduled for redelivery.",
		},
	)

	messagesDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_queue_messages_dead_lettered_total",
			Help: "Total number of task messages drained to the dead-letter topic.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesRetriedTotal)
	prometheus.MustRegister(messagesDeadLetteredTotal)
}
