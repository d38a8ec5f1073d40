package substrate

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricInvocations    = "invocations_total"
	MetricOutboxMessages = "outbox_messages_total"
	MetricOutboxWorkers  = "outbox_workers"
	MetricPartitionDepth = "partition_queue_depth"

	outcomeEnqueued  = "enqueued"
	outcomeDelivered = "delivered"
	outcomeRetried   = "retried"
	outcomeDropped   = "dropped"
)

var counterInvocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "substrate",
		Name:      MetricInvocations,
		Help:      "Handler invocations by object, handler kind and result.",
	},
	[]string{
		"object",
		"kind",
		"result",
	},
)

var counterOutboxMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "substrate",
		Name:      MetricOutboxMessages,
		Help:      "Outbox messages by outcome.",
	},
	[]string{
		"outcome",
	},
)

var gaugeOutboxWorkers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "substrate",
		Name:      MetricOutboxWorkers,
		Help:      "Live outbox delivery workers, including blocked ones.",
	},
)

var gaugePartitionDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "substrate",
		Name:      MetricPartitionDepth,
		Help:      "Invocations waiting on partition queues.",
	},
)

func init() {
	prometheus.MustRegister(counterInvocations)
	prometheus.MustRegister(counterOutboxMessages)
	prometheus.MustRegister(gaugeOutboxWorkers)
	prometheus.MustRegister(gaugePartitionDepth)
}
