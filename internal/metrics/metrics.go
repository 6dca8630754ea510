// Package metrics holds the prometheus collectors for ingestion and chat.
// A nil *Metrics records nothing, so components can be built without one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	IngestResults   *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	EmbedBatches    *prometheus.CounterVec
	ChatTurns       *prometheus.CounterVec
	ChatLatency     prometheus.Histogram
	GuardrailBlocks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		IngestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govchat",
			Name:      "ingest_urls_total",
			Help:      "URLs processed by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "govchat",
			Name:      "ingest_url_duration_seconds",
			Help:      "Time spent ingesting a single URL.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		EmbedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govchat",
			Name:      "embed_batches_total",
			Help:      "Embedding batches sent to the provider, by result.",
		}, []string{"result"}),
		ChatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govchat",
			Name:      "chat_turns_total",
			Help:      "Chat turns by terminal outcome and path.",
		}, []string{"outcome", "path"}),
		ChatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "govchat",
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end latency of a chat turn.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		GuardrailBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govchat",
			Name:      "guardrail_blocks_total",
			Help:      "Turns ended by a guardrail, by reason.",
		}, []string{"reason"}),
		gatherer: reg,
	}
	reg.MustRegister(m.IngestResults, m.IngestDuration, m.EmbedBatches, m.ChatTurns, m.ChatLatency, m.GuardrailBlocks)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IngestURL(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.IngestResults.WithLabelValues(outcome).Inc()
	m.IngestDuration.Observe(took.Seconds())
}

func (m *Metrics) EmbedBatch(result string) {
	if m == nil {
		return
	}
	m.EmbedBatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ChatTurn(outcome, path string, took time.Duration) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome, path).Inc()
	m.ChatLatency.Observe(took.Seconds())
}

func (m *Metrics) GuardrailBlock(reason string) {
	if m == nil {
		return
	}
	m.GuardrailBlocks.WithLabelValues(reason).Inc()
}
