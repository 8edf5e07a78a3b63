package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

const (
	// campaignNameEntities caps how many shared entity values make it into
	// the generated campaign name.
	campaignNameEntities = 3
	// campaignTopEntities caps how many shared entity values are stored on
	// the campaign row.
	campaignTopEntities = 5
)

// CampaignClusterer rebuilds the campaign set from scratch: articles become
// nodes, relationships at or above the active campaign threshold become
// edges, and every connected component with at least two members becomes a
// campaign. Campaigns are a derived view; each rebuild discards the previous
// set wholesale.
type CampaignClusterer interface {
	Rebuild(ctx context.Context) ([]*models.Campaign, error)
}

type campaignClusterer struct {
	configRepo       repositories.SimilarityConfigRepository
	relationshipRepo repositories.RelationshipRepository
	articleRepo      repositories.ArticleRepository
	campaignRepo     repositories.CampaignRepository
	logger           *zap.Logger
}

// NewCampaignClusterer creates a new CampaignClusterer.
func NewCampaignClusterer(
	configRepo repositories.SimilarityConfigRepository,
	relationshipRepo repositories.RelationshipRepository,
	articleRepo repositories.ArticleRepository,
	campaignRepo repositories.CampaignRepository,
	logger *zap.Logger,
) CampaignClusterer {
	return &campaignClusterer{
		configRepo:       configRepo,
		relationshipRepo: relationshipRepo,
		articleRepo:      articleRepo,
		campaignRepo:     campaignRepo,
		logger:           logger.Named("campaign-clusterer"),
	}
}

var _ CampaignClusterer = (*campaignClusterer)(nil)

func (s *campaignClusterer) Rebuild(ctx context.Context) ([]*models.Campaign, error) {
	started := time.Now()

	// 1. The campaign threshold comes from the active config. Associations
	// persist more liberally than campaigns cluster, so this filter usually
	// drops a good share of the stored relationships.
	cfg, err := s.configRepo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active similarity config: %w", err)
	}

	edges, err := s.relationshipRepo.ListAboveScore(ctx, cfg.CampaignMinScore)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign edges: %w", err)
	}

	// 2. Map article IDs to dense indices and union the edge endpoints.
	// Articles without a qualifying edge never enter the arena, so
	// singletons cost nothing.
	index := make(map[uuid.UUID]int)
	var articleIDs []uuid.UUID
	indexOf := func(id uuid.UUID) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := len(articleIDs)
		index[id] = i
		articleIDs = append(articleIDs, id)
		return i
	}
	for _, edge := range edges {
		indexOf(edge.SourceArticleID)
		indexOf(edge.RelatedArticleID)
	}

	uf := newUnionFind(len(articleIDs))
	for _, edge := range edges {
		uf.union(index[edge.SourceArticleID], index[edge.RelatedArticleID])
	}

	// 3. Gather members and edges per component root.
	members := make(map[int][]uuid.UUID)
	for i, id := range articleIDs {
		root := uf.find(i)
		members[root] = append(members[root], id)
	}
	componentEdges := make(map[int][]*models.ArticleRelationship)
	for _, edge := range edges {
		root := uf.find(index[edge.SourceArticleID])
		componentEdges[root] = append(componentEdges[root], edge)
	}

	// 4. Every component with at least two members becomes a campaign.
	// Edges connect at least two articles, so singletons only appear here
	// if the same pair key somehow referenced one article; skip them.
	var campaigns []*models.Campaign
	for root, ids := range members {
		if len(ids) < 2 {
			continue
		}
		campaign, err := s.buildCampaign(ctx, ids, componentEdges[root])
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	sort.Slice(campaigns, func(i, j int) bool {
		return bytes.Compare(campaigns[i].ArticleIDs[0][:], campaigns[j].ArticleIDs[0][:]) < 0
	})

	// 5. Swap the derived set in wholesale. An empty result still replaces,
	// clearing campaigns that no longer qualify under the active config.
	if err := s.campaignRepo.ReplaceAll(ctx, campaigns); err != nil {
		return nil, fmt.Errorf("failed to replace campaigns: %w", err)
	}

	s.logger.Info("Rebuilt campaigns",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("edges", len(edges)),
		zap.Int("clustered_articles", len(articleIDs)),
		zap.Float64("campaign_min_score", cfg.CampaignMinScore),
		zap.Int("config_version", cfg.Version),
		zap.Duration("duration", time.Since(started)))

	return campaigns, nil
}

func (s *campaignClusterer) buildCampaign(ctx context.Context, memberIDs []uuid.UUID, edges []*models.ArticleRelationship) (*models.Campaign, error) {
	sort.Slice(memberIDs, func(i, j int) bool {
		return bytes.Compare(memberIDs[i][:], memberIDs[j][:]) < 0
	})

	campaign := &models.Campaign{
		ID:           uuid.New(),
		ArticleCount: len(memberIDs),
		ArticleIDs:   memberIDs,
		DetectedAt:   time.Now(),
	}

	top := rankSharedValues(edges)
	if len(top) > campaignTopEntities {
		top = top[:campaignTopEntities]
	}
	campaign.TopEntities = top

	// Time span comes from the members' publication dates, not from when
	// the relationships were computed.
	articles, err := s.articleRepo.ListByIDs(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign member articles: %w", err)
	}
	if len(articles) != len(memberIDs) {
		s.logger.Debug("Campaign members missing from article store",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("members", len(memberIDs)),
			zap.Int("articles", len(articles)))
	}
	if len(articles) > 0 {
		campaign.FirstArticleAt = articles[0].PublishedAt
		campaign.LastArticleAt = articles[len(articles)-1].PublishedAt
	}

	campaign.Name = campaignName(top, campaign.FirstArticleAt)
	return campaign, nil
}

// campaignName derives a display name from the cluster's most shared entity
// values. Clusters held together purely by semantic similarity have none, so
// the name falls back to the month the cluster started.
func campaignName(top []string, firstArticleAt time.Time) string {
	if len(top) == 0 {
		return "Campaign " + firstArticleAt.Format("2006-01")
	}
	if len(top) > campaignNameEntities {
		top = top[:campaignNameEntities]
	}
	return strings.Join(top, " / ")
}

// rankSharedValues orders the entity values appearing on a cluster's edges by
// how many edges share them. Ties prefer actors over techniques over
// indicators, then sort lexically, so reruns produce identical names.
func rankSharedValues(edges []*models.ArticleRelationship) []string {
	counts := make(map[string]int)
	kindRank := make(map[string]int)
	note := func(values []string, rank int) {
		for _, v := range values {
			counts[v]++
			if r, ok := kindRank[v]; !ok || rank < r {
				kindRank[v] = rank
			}
		}
	}
	for _, edge := range edges {
		note(edge.SharedActors, 0)
		note(edge.SharedTechniques, 1)
		note(edge.SharedIndicators, 2)
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		a, b := values[i], values[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if kindRank[a] != kindRank[b] {
			return kindRank[a] < kindRank[b]
		}
		return a < b
	})
	return values
}

// unionFind is an arena-indexed disjoint set: articles are mapped to dense
// ints for the duration of one rebuild, keeping the whole component pass
// allocation-light and free of per-edge queries.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: make([]int, n)}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
