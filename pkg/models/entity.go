package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity kinds. Stored in intel_entities.kind.
const (
	EntityKindIndicator   = "indicator"
	EntityKindTechnique   = "technique"
	EntityKindThreatActor = "threat_actor"
)

// Indicator types for EntityKindIndicator. Stored in intel_entities.indicator_type.
const (
	IndicatorTypeIP     = "ip"
	IndicatorTypeDomain = "domain"
	IndicatorTypeURL    = "url"
	IndicatorTypeHash   = "hash"
	IndicatorTypeEmail  = "email"
	IndicatorTypeCVE    = "cve"
)

// CanonicalEntity is the deduplicated store of everything the extractor has
// seen across all articles. Rows are never deleted; analysts flag false
// positives instead. Stored in intel_entities.
type CanonicalEntity struct {
	ID            uuid.UUID `json:"id"`
	Kind          string    `json:"kind"`                     // indicator, technique, threat_actor
	Value         string    `json:"value"`                    // normalized canonical form
	IndicatorType *string   `json:"indicator_type,omitempty"` // nil for non-indicators
	Aliases       []string  `json:"aliases,omitempty"`        // threat actors only
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	// OccurrenceCount is the number of distinct articles the entity appeared
	// in. Monotonically non-decreasing.
	OccurrenceCount int  `json:"occurrence_count"`
	Confidence      int  `json:"confidence"` // 0-100, max over all sightings
	FalsePositive   bool `json:"false_positive"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAlias reports whether name matches the canonical value or any alias,
// case-insensitively.
func (e *CanonicalEntity) HasAlias(name string) bool {
	if strings.EqualFold(e.Value, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// RawEntity is a single candidate produced by the Extraction Adapter before
// canonicalization. Value is as-written in the article text.
type RawEntity struct {
	Kind          string `json:"kind"`
	Value         string `json:"value"`
	IndicatorType string `json:"indicator_type,omitempty"`
	Confidence    int    `json:"confidence"` // 0-100
	Evidence      string `json:"evidence,omitempty"`
	Source        string `json:"source"` // which article text it came from
}
