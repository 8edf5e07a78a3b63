package models

import (
	"time"

	"github.com/google/uuid"
)

// Article analysis statuses. The orchestrator owns all transitions.
const (
	AnalysisStatusPending        = "pending"
	AnalysisStatusExtracting     = "extracting"
	AnalysisStatusCanonicalizing = "canonicalizing"
	AnalysisStatusAssociating    = "associating"
	AnalysisStatusDone           = "done"
	AnalysisStatusFailed         = "failed"
)

// Article text sources the extractor reads. Stored on each link so analysts
// can see where the evidence came from.
const (
	TextSourceOriginal         = "original"
	TextSourceExecutiveSummary = "executive_summary"
	TextSourceTechnicalSummary = "technical_summary"
)

// Article is the pipeline's view of an ingested news article. Ingestion is
// owned by the surrounding product; the pipeline only reads content and
// advances analysis_status. Stored in intel_articles.
type Article struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	PublishedAt      time.Time  `json:"published_at"`
	Content          string     `json:"content"`
	ExecutiveSummary string     `json:"executive_summary,omitempty"`
	TechnicalSummary string     `json:"technical_summary,omitempty"`
	AnalysisStatus   string     `json:"analysis_status"`
	AnalyzedAt       *time.Time `json:"analyzed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Texts returns the extraction inputs in priority order: summaries first
// (denser signal), original content last. Empty sources are skipped.
func (a *Article) Texts() []ArticleText {
	var texts []ArticleText
	if a.ExecutiveSummary != "" {
		texts = append(texts, ArticleText{Source: TextSourceExecutiveSummary, Text: a.ExecutiveSummary})
	}
	if a.TechnicalSummary != "" {
		texts = append(texts, ArticleText{Source: TextSourceTechnicalSummary, Text: a.TechnicalSummary})
	}
	if a.Content != "" {
		texts = append(texts, ArticleText{Source: TextSourceOriginal, Text: a.Content})
	}
	return texts
}

// EmbeddingText returns the text used for semantic similarity: the technical
// summary, falling back to the executive summary. Never the raw content;
// embedding inputs stay bounded. Empty means skip semantic scoring.
func (a *Article) EmbeddingText() string {
	if a.TechnicalSummary != "" {
		return a.TechnicalSummary
	}
	return a.ExecutiveSummary
}

// ArticleText is one extraction input.
type ArticleText struct {
	Source string
	Text   string
}
