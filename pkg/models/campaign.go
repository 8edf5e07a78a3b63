package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign is one detected cluster of related articles: the transitive
// closure of relationship edges at or above the active campaign threshold.
// Clusters are recomputed wholesale; a rebuild replaces all campaigns and
// memberships atomically. Stored in intel_campaigns / intel_campaign_members.
type Campaign struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"` // derived from top shared entities

	ArticleCount int      `json:"article_count"`
	TopEntities  []string `json:"top_entities,omitempty"` // most-shared entity values in the cluster

	FirstArticleAt time.Time `json:"first_article_at"`
	LastArticleAt  time.Time `json:"last_article_at"`
	DetectedAt     time.Time `json:"detected_at"`

	// ArticleIDs is populated on load for consumers that need membership.
	ArticleIDs []uuid.UUID `json:"article_ids,omitempty"`
}

// CampaignMember links an article into a campaign. Stored in
// intel_campaign_members.
type CampaignMember struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	ArticleID  uuid.UUID `json:"article_id"`
	AddedAt    time.Time `json:"added_at"`
}
