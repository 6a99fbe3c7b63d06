package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_inbound_messages_total",
			Help: "Inbound customer messages by conversation mode at arrival",
		},
		[]string{"mode"},
	)

	AIReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_ai_replies_total",
			Help: "AI reply outcomes: sent, discarded, failed",
		},
		[]string{"outcome"},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_escalations_total",
			Help: "Escalation flags raised by keyword match",
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_mode_transitions_total",
			Help: "Conversation mode transitions by kind and whether they applied",
		},
		[]string{"kind", "applied"},
	)

	SweeperReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_sweeper_releases_total",
			Help: "Conversations released back to the AI by the idle sweeper",
		},
	)

	Embeddings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_embeddings_total",
			Help: "Catalog embedding attempts by outcome",
		},
		[]string{"outcome"},
	)

	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_retrieval_results",
			Help:    "Number of catalog candidates returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
		[]string{"mode"},
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "storefront_completion_latency_seconds",
			Help: "Completion service latency in seconds",
		},
	)
)

func appliedLabel(applied bool) string {
	if applied {
		return "true"
	}
	return "false"
}
