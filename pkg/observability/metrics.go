package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values for the analysis stage histogram.
const (
	StageExtracting     = "extracting"
	StageCanonicalizing = "canonicalizing"
	StageAssociating    = "associating"
	StageClustering     = "clustering"
)

// Adapter label values for the adapter error counter.
const (
	AdapterExtraction = "extraction"
	AdapterEmbedding  = "embedding"
)

// Metrics holds the pipeline's Prometheus collectors. All record methods are
// safe on a nil receiver, so services built without metrics simply record
// nothing.
type Metrics struct {
	ArticlesAnalyzed     *prometheus.CounterVec   // by outcome
	StageSeconds         *prometheus.HistogramVec // by stage
	EntitiesLinked       *prometheus.CounterVec   // by kind
	CandidatesDropped    prometheus.Counter
	AliasesLearned       prometheus.Counter
	RelationshipsWritten prometheus.Counter
	Campaigns            prometheus.Gauge
	EmbeddingCache       *prometheus.CounterVec // by result
	AdapterErrors        *prometheus.CounterVec // by adapter
}

// Default creates metrics on the global registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates the pipeline metrics registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ArticlesAnalyzed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_articles_analyzed_total",
				Help: "Analysis runs finished, by outcome",
			},
			[]string{"outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intel_analysis_stage_seconds",
				Help:    "Latency of each analysis stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		EntitiesLinked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_entities_linked_total",
				Help: "Article entity links written, by entity kind",
			},
			[]string{"kind"},
		),
		CandidatesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "intel_entity_candidates_dropped_total",
				Help: "Malformed extraction candidates discarded during canonicalization",
			},
		),
		AliasesLearned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "intel_actor_aliases_learned_total",
				Help: "Threat actor aliases appended by fuzzy matching",
			},
		),
		RelationshipsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "intel_relationships_written_total",
				Help: "Article relationship rows persisted",
			},
		),
		Campaigns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "intel_campaigns",
				Help: "Campaigns in the current derived set",
			},
		),
		EmbeddingCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_embedding_cache_total",
				Help: "Embedding cache lookups, by result",
			},
			[]string{"result"},
		),
		AdapterErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_adapter_errors_total",
				Help: "External adapter call failures, by adapter",
			},
			[]string{"adapter"},
		),
	}
}

// RecordOutcome counts one finished analysis run.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ArticlesAnalyzed.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of one analysis stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// AddEntitiesLinked counts entity links written for one article.
func (m *Metrics) AddEntitiesLinked(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EntitiesLinked.WithLabelValues(kind).Add(float64(n))
}

// AddCandidatesDropped counts malformed candidates discarded.
func (m *Metrics) AddCandidatesDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesDropped.Add(float64(n))
}

// AddAliasesLearned counts actor aliases appended.
func (m *Metrics) AddAliasesLearned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.AliasesLearned.Add(float64(n))
}

// AddRelationshipsWritten counts relationship rows persisted.
func (m *Metrics) AddRelationshipsWritten(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RelationshipsWritten.Add(float64(n))
}

// SetCampaignCount records the size of the current campaign set.
func (m *Metrics) SetCampaignCount(n int) {
	if m == nil {
		return
	}
	m.Campaigns.Set(float64(n))
}

// RecordEmbeddingCache counts one cache lookup; result is "hit" or "miss".
func (m *Metrics) RecordEmbeddingCache(result string) {
	if m == nil {
		return
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}

// RecordAdapterError counts one failed external adapter call.
func (m *Metrics) RecordAdapterError(adapter string) {
	if m == nil {
		return
	}
	m.AdapterErrors.WithLabelValues(adapter).Inc()
}
