package services

import (
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// defaultActorMatchThreshold is the minimum similarity for a fuzzy actor
// match when the configured threshold is out of range.
const defaultActorMatchThreshold = 0.85

// ActorMatcher resolves an extracted threat actor name against the known
// canonical actors: exact name or alias match first, then fuzzy similarity
// against every canonical name and alias. The similarity function and
// threshold live here so actor merging stays testable and tunable.
type ActorMatcher interface {
	// Match returns the best-matching actor, or nil when no actor reaches
	// the threshold. Exact matches (canonical name or alias,
	// case-insensitive) always win. When several actors clear the threshold
	// the highest similarity is chosen deterministically and an ambiguity
	// warning is logged; equal scores resolve to the first actor in list
	// order.
	Match(name string, actors []*models.CanonicalEntity) *ActorMatch
}

// ActorMatch is one resolved actor candidate.
type ActorMatch struct {
	Entity     *models.CanonicalEntity
	Similarity float64 // 1.0 for exact matches
	Exact      bool
}

type actorMatcher struct {
	threshold float64
	logger    *zap.Logger
}

// NewActorMatcher creates an ActorMatcher with the given similarity
// threshold in (0, 1].
func NewActorMatcher(threshold float64, logger *zap.Logger) ActorMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultActorMatchThreshold
	}
	return &actorMatcher{
		threshold: threshold,
		logger:    logger.Named("actor-matcher"),
	}
}

var _ ActorMatcher = (*actorMatcher)(nil)

func (m *actorMatcher) Match(name string, actors []*models.CanonicalEntity) *ActorMatch {
	// 1. Exact canonical name or alias match.
	for _, actor := range actors {
		if actor.HasAlias(name) {
			return &ActorMatch{Entity: actor, Similarity: 1, Exact: true}
		}
	}

	// 2. Fuzzy match against canonical names and aliases, keeping the best
	// and runner-up per distinct actor.
	var (
		best, runnerUp *models.CanonicalEntity
		bestSim, upSim float64
	)
	for _, actor := range actors {
		sim := actorNameSimilarity(name, actor.Value)
		for _, alias := range actor.Aliases {
			if s := actorNameSimilarity(name, alias); s > sim {
				sim = s
			}
		}
		if sim > bestSim {
			runnerUp, upSim = best, bestSim
			best, bestSim = actor, sim
		} else if sim > upSim {
			runnerUp, upSim = actor, sim
		}
	}

	if best == nil || bestSim < m.threshold {
		return nil
	}
	if runnerUp != nil && upSim >= m.threshold {
		m.logger.Warn("Ambiguous actor match, choosing highest similarity",
			zap.String("name", name),
			zap.String("chosen", best.Value),
			zap.Float64("chosen_similarity", bestSim),
			zap.String("runner_up", runnerUp.Value),
			zap.Float64("runner_up_similarity", upSim))
	}
	return &ActorMatch{Entity: best, Similarity: bestSim}
}

// actorNameSimilarity scores two actor names in [0, 1]. Names are lowercased
// and tokenized with singularized tokens; the score is the best of token-set
// Jaccard overlap and normalized edit-distance similarity, with identical
// compacted forms (alphanumerics only) treated as equal so spacing variants
// like "APT 29" and "APT29" match.
func actorNameSimilarity(a, b string) float64 {
	ta, tb := actorTokens(a), actorTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	ja, jb := strings.Join(ta, " "), strings.Join(tb, " ")
	if compactName(ja) == compactName(jb) {
		return 1
	}

	jaccard := tokenJaccard(ta, tb)
	lev := editSimilarity(ja, jb)
	if jaccard > lev {
		return jaccard
	}
	return lev
}

func actorTokens(name string) []string {
	fields := strings.Fields(strings.ToLower(name))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]{}\"'")
		if f == "" {
			continue
		}
		tokens = append(tokens, inflection.Singular(f))
	}
	return tokens
}

func compactName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokenJaccard(a, b []string) float64 {
	sa := make(map[string]bool, len(a))
	for _, t := range a {
		sa[t] = true
	}
	sb := make(map[string]bool, len(b))
	for _, t := range b {
		sb[t] = true
	}
	shared := 0
	for t := range sb {
		if sa[t] {
			shared++
		}
	}
	union := len(sa) + len(sb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// editSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func editSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
