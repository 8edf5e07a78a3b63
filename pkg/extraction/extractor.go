package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/llm"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/prompts"
)

// extractionTemperature keeps the model near-deterministic. Extraction is a
// recall task, not a creative one.
const extractionTemperature = 0.1

// Extractor runs the entity-extraction model over an article's text sources.
type Extractor interface {
	Extract(ctx context.Context, article *models.Article) (*Result, error)
}

// Result aggregates per-source extraction outcomes for one article.
type Result struct {
	// Entities from all sources that extracted cleanly, in source priority
	// order. Each carries the Source it came from.
	Entities []models.RawEntity
	// Sources that extracted successfully.
	Sources []string
	// Failed holds sources whose model call or parse failed.
	Failed []SourceError
	// Dropped counts malformed elements discarded from model output.
	Dropped int
}

// SourceError records an extraction failure for one text source.
type SourceError struct {
	Source string
	Err    error
}

// AllFailed reports whether no source extracted.
func (r *Result) AllFailed() bool {
	return len(r.Sources) == 0 && len(r.Failed) > 0
}

// Partial reports whether some sources extracted and others failed.
func (r *Result) Partial() bool {
	return len(r.Sources) > 0 && len(r.Failed) > 0
}

type llmExtractor struct {
	client llm.LLMClient
	pool   *llm.WorkerPool
	logger *zap.Logger
}

// NewLLMExtractor creates an Extractor backed by a chat model. The pool
// bounds concurrent model calls when an article has multiple text sources.
func NewLLMExtractor(client llm.LLMClient, pool *llm.WorkerPool, logger *zap.Logger) Extractor {
	return &llmExtractor{
		client: client,
		pool:   pool,
		logger: logger.Named("extractor"),
	}
}

// sourceYield is the per-source unit of work output.
type sourceYield struct {
	entities []models.RawEntity
	dropped  int
}

// Extract runs one model call per non-empty text source and aggregates the
// results. Returns a Result even when some or all sources fail; the caller
// decides run status from it. An article with no text yields an empty Result.
func (e *llmExtractor) Extract(ctx context.Context, article *models.Article) (*Result, error) {
	texts := article.Texts()
	if len(texts) == 0 {
		e.logger.Warn("Article has no extractable text", zap.String("article_id", article.ID.String()))
		return &Result{}, nil
	}

	systemMessage := prompts.BuildEntityExtractionSystemMessage()

	items := make([]llm.WorkItem[sourceYield], 0, len(texts))
	for _, text := range texts {
		items = append(items, llm.WorkItem[sourceYield]{
			ID: text.Source,
			Execute: func(ctx context.Context) (sourceYield, error) {
				prompt := prompts.BuildEntityExtractionPrompt(prompts.ArticleContext{
					Title:       article.Title,
					Source:      text.Source,
					PublishedAt: article.PublishedAt.Format(time.RFC3339),
					Text:        text.Text,
				})

				resp, err := e.client.GenerateResponse(ctx, prompt, systemMessage, extractionTemperature)
				if err != nil {
					return sourceYield{}, fmt.Errorf("extract %s: %w", text.Source, err)
				}

				raw, err := llm.ParseJSONResponse[[]models.RawEntity](resp.Content)
				if err != nil {
					return sourceYield{}, fmt.Errorf("parse %s extraction: %w", text.Source, err)
				}

				return e.sanitize(raw, text.Source), nil
			},
		})
	}

	outcomes := llm.Process(ctx, e.pool, items, nil)

	// Re-key by source so aggregation follows text priority order, not
	// completion order.
	yields := make(map[string]sourceYield, len(outcomes))
	errs := make(map[string]error, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			errs[o.ID] = o.Err
			continue
		}
		yields[o.ID] = o.Result
	}

	result := &Result{}
	for _, text := range texts {
		if err, ok := errs[text.Source]; ok {
			result.Failed = append(result.Failed, SourceError{Source: text.Source, Err: err})
			e.logger.Warn("Source extraction failed",
				zap.String("article_id", article.ID.String()),
				zap.String("source", text.Source),
				zap.Error(err))
			continue
		}
		yield := yields[text.Source]
		result.Entities = append(result.Entities, yield.entities...)
		result.Sources = append(result.Sources, text.Source)
		result.Dropped += yield.dropped
	}

	e.logger.Info("Extraction complete",
		zap.String("article_id", article.ID.String()),
		zap.Int("entities", len(result.Entities)),
		zap.Int("dropped", result.Dropped),
		zap.Int("sources_ok", len(result.Sources)),
		zap.Int("sources_failed", len(result.Failed)))

	return result, nil
}

// sanitize validates model output elements, tags them with their source, and
// clamps confidence into [0, 100]. Elements with an unknown kind or an empty
// value are dropped.
func (e *llmExtractor) sanitize(raw []models.RawEntity, source string) sourceYield {
	yield := sourceYield{entities: make([]models.RawEntity, 0, len(raw))}
	for _, entity := range raw {
		entity.Value = strings.TrimSpace(entity.Value)
		if entity.Value == "" {
			yield.dropped++
			continue
		}
		switch entity.Kind {
		case models.EntityKindIndicator, models.EntityKindTechnique, models.EntityKindThreatActor:
		default:
			yield.dropped++
			continue
		}
		if entity.Confidence < 0 {
			entity.Confidence = 0
		}
		if entity.Confidence > 100 {
			entity.Confidence = 100
		}
		entity.Source = source
		yield.entities = append(yield.entities, entity)
	}
	return yield
}

var _ Extractor = (*llmExtractor)(nil)
