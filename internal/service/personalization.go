package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
)

const (
	weightKeywords  = 4.0
	weightAuthor    = 2.0
	weightJournal   = 1.5
	weightCitations = 1.5
	weightRecency   = 1.0

	maxReasonSignals     = 3
	highlyCitedThreshold = 50
	recentDaysThreshold  = 30
	trendingWindowDays   = 7
	candidateWindowDays  = 30
	historyKeywordPapers = 20
)

// ProfileStore persists user interest profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.UserInterestProfile, error)
	Update(ctx context.Context, userID string, fn func(tx *gorm.DB, p *domain.UserInterestProfile) error) (*domain.UserInterestProfile, error)
}

// RecommendationPapers is the slice of the paper store used for
// recommendations.
type RecommendationPapers interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Paper, error)
	ListPublishedSince(ctx context.Context, since time.Time, limit int) ([]domain.Paper, error)
	ListRecentUnseen(ctx context.Context, since time.Time, exclude []string, limit int) ([]domain.Paper, error)
}

// PersonalizationEngine scores papers against a user's interest profile.
type PersonalizationEngine struct {
	profiles ProfileStore
	papers   RecommendationPapers
	cache    *cache.ResultCache
	recTTL   time.Duration
	now      func() time.Time
}

// NewPersonalizationEngine creates a new personalization engine.
// Parameters:
//   - profiles: profile store.
//   - papers: paper store used for trending and candidate lookups.
//   - resultCache: cache for recommendation lists; may be nil.
//   - recTTL: lifetime of a cached recommendation list.
//
// Returns:
//   - *PersonalizationEngine: the engine.
func NewPersonalizationEngine(profiles ProfileStore, papers RecommendationPapers, resultCache *cache.ResultCache, recTTL time.Duration) *PersonalizationEngine {
	if recTTL <= 0 {
		recTTL = 24 * time.Hour
	}
	return &PersonalizationEngine{
		profiles: profiles,
		papers:   papers,
		cache:    resultCache,
		recTTL:   recTTL,
		now:      time.Now,
	}
}

// HasProfile reports whether userID has a stored profile.
func (e *PersonalizationEngine) HasProfile(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	_, err := e.profiles.Get(ctx, userID)
	return err == nil
}

// Personalize re-scores candidates for userID. Users without a profile get
// the trending list instead.
func (e *PersonalizationEngine) Personalize(ctx context.Context, userID string, candidates []domain.Paper, limit int) []domain.ScoredPaper {
	profile, ok := e.loadProfile(ctx, userID)
	if !ok {
		return e.TrendingPapers(ctx, limit)
	}
	return e.personalize(profile, candidates, limit)
}

// Recommend builds a recommendation list for userID from recent unseen
// papers. The result is cached per user and limit.
func (e *PersonalizationEngine) Recommend(ctx context.Context, userID string, limit int) ([]domain.ScoredPaper, error) {
	if limit <= 0 {
		limit = 10
	}
	compute := func(ctx context.Context) ([]domain.ScoredPaper, error) {
		return e.recommend(ctx, userID, limit)
	}
	if e.cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, e.cache, cache.UserKey(userID, limit), e.recTTL, compute)
}

func (e *PersonalizationEngine) recommend(ctx context.Context, userID string, limit int) ([]domain.ScoredPaper, error) {
	profile, ok := e.loadProfile(ctx, userID)
	if !ok {
		return e.TrendingPapers(ctx, limit), nil
	}

	since := e.now().AddDate(0, 0, -candidateWindowDays)
	seen := make([]string, 0, len(profile.ReadingHistory))
	for id := range profile.SeenPaperIDs() {
		seen = append(seen, id)
	}
	candidates, err := e.papers.ListRecentUnseen(ctx, since, seen, limit*5)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	// Fold in the keywords of recently read papers without persisting them.
	enriched := *profile
	enriched.Keywords = append(domain.StringArray(nil), profile.Keywords...)
	if recent := profile.RecentPaperIDs(historyKeywordPapers); len(recent) > 0 {
		read, err := e.papers.GetByIDs(ctx, recent)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to load reading history papers")
		}
		for _, p := range read {
			enriched.AddKeywords(p.Keywords...)
		}
	}

	return e.personalize(&enriched, candidates, limit), nil
}

// TrendingPapers returns the most cited papers of the last week.
func (e *PersonalizationEngine) TrendingPapers(ctx context.Context, limit int) []domain.ScoredPaper {
	if limit <= 0 {
		return []domain.ScoredPaper{}
	}
	since := e.now().AddDate(0, 0, -trendingWindowDays)
	papers, err := e.papers.ListPublishedSince(ctx, since, limit)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to load trending papers")
		return []domain.ScoredPaper{}
	}
	out := make([]domain.ScoredPaper, len(papers))
	for i, p := range papers {
		out[i] = domain.ScoredPaper{
			Paper:                p,
			RelevanceScore:       math.Min(float64(p.CitationCount)/10, 10),
			RecommendationReason: fmt.Sprintf("Trending this week (%d citations)", p.CitationCount),
		}
	}
	return out
}

// RecordInteraction appends a reading event and folds the paper's keywords
// into the profile. Unknown papers yield domain.ErrNotFound and nothing is
// written.
func (e *PersonalizationEngine) RecordInteraction(ctx context.Context, userID, paperID, action string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	act, err := domain.ParseInteractionAction(action)
	if err != nil {
		return err
	}

	_, err = e.profiles.Update(ctx, userID, func(tx *gorm.DB, p *domain.UserInterestProfile) error {
		var paper domain.Paper
		if err := tx.Select("id", "keywords").First(&paper, "id = ?", paperID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("paper %s: %w", paperID, domain.ErrNotFound)
			}
			return err
		}
		p.RecordEvent(paperID, act, e.now())
		p.AddKeywords(paper.Keywords...)
		return nil
	})
	if err != nil {
		return err
	}

	e.invalidate(userID)
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldUserID:  userID,
		logger.FieldPaperID: paperID,
		"action":            string(act),
	}).Info("Interaction recorded")
	return nil
}

// UpdatePreferences replaces the followed authors and journals of userID.
func (e *PersonalizationEngine) UpdatePreferences(ctx context.Context, userID string, authors, journals []string) (*domain.UserInterestProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	profile, err := e.profiles.Update(ctx, userID, func(_ *gorm.DB, p *domain.UserInterestProfile) error {
		p.Authors = domain.StringArray(dedupeStrings(authors))
		p.Journals = domain.StringArray(dedupeStrings(journals))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(userID)
	return profile, nil
}

func (e *PersonalizationEngine) invalidate(userID string) {
	if e.cache != nil {
		e.cache.InvalidatePrefix(cache.UserPrefix(userID))
	}
}

func (e *PersonalizationEngine) loadProfile(ctx context.Context, userID string) (*domain.UserInterestProfile, bool) {
	if userID == "" {
		return nil, false
	}
	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warn("Failed to load user profile")
		}
		return nil, false
	}
	return profile, true
}

func (e *PersonalizationEngine) personalize(profile *domain.UserInterestProfile, candidates []domain.Paper, limit int) []domain.ScoredPaper {
	if limit <= 0 {
		return []domain.ScoredPaper{}
	}
	seen := profile.SeenPaperIDs()
	m := newProfileMatcher(profile)
	now := e.now()

	out := make([]domain.ScoredPaper, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if _, ok := seen[p.ID]; ok {
			continue
		}
		score, reason := m.score(p, now)
		out = append(out, domain.ScoredPaper{
			Paper:                *p,
			RelevanceScore:       score,
			RecommendationReason: domain.TruncateReason(reason),
		})
	}
	sortScored(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// profileMatcher holds the lowercased profile sets used for scoring.
type profileMatcher struct {
	keywords map[string]struct{}
	authors  map[string]struct{}
	journals map[string]struct{}
}

func newProfileMatcher(p *domain.UserInterestProfile) *profileMatcher {
	return &profileMatcher{
		keywords: lowerSet(p.Keywords),
		authors:  lowerSet(p.Authors),
		journals: lowerSet(p.Journals),
	}
}

func lowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// score returns the clamped score in [0, 10] and the reason text.
func (m *profileMatcher) score(p *domain.Paper, now time.Time) (float64, string) {
	var total float64
	var signals []string

	// keyword overlap
	var matchedKW []string
	seenKW := make(map[string]struct{}, len(p.Keywords))
	for _, kw := range p.Keywords {
		lower := strings.ToLower(strings.TrimSpace(kw))
		if lower == "" {
			continue
		}
		if _, dup := seenKW[lower]; dup {
			continue
		}
		seenKW[lower] = struct{}{}
		if _, ok := m.keywords[lower]; ok {
			matchedKW = append(matchedKW, kw)
		}
	}
	if len(m.keywords) > 0 {
		total += math.Min(float64(len(matchedKW))/float64(len(m.keywords)), 1) * weightKeywords
	}
	if len(matchedKW) > 0 {
		signals = append(signals, "Matches your interests: "+strings.Join(firstN(matchedKW, 3), ", "))
	}

	// followed authors
	var matchedAuthors []string
	for _, a := range p.Authors {
		if _, ok := m.authors[strings.ToLower(strings.TrimSpace(a.Name))]; ok {
			matchedAuthors = append(matchedAuthors, a.Name)
		}
	}
	if len(matchedAuthors) > 0 {
		total += weightAuthor
		signals = append(signals, "By followed authors: "+strings.Join(firstN(matchedAuthors, 2), ", "))
	}

	// followed journal
	if j := strings.ToLower(strings.TrimSpace(p.Journal)); j != "" {
		if _, ok := m.journals[j]; ok {
			total += weightJournal
			signals = append(signals, "Published in followed journal: "+p.Journal)
		}
	}

	// citations
	total += math.Min(float64(max(p.CitationCount, 0))/100, 1) * weightCitations
	if p.CitationCount > highlyCitedThreshold {
		signals = append(signals, fmt.Sprintf("Highly cited (%d citations)", p.CitationCount))
	}

	// recency
	if age, ok := p.AgeDays(now); ok {
		total += math.Max(math.Min(1-float64(age)/365, 1), 0) * weightRecency
		if age < recentDaysThreshold {
			signals = append(signals, "Recently published")
		}
	}

	total = math.Max(0, math.Min(total, 10))
	if len(signals) == 0 {
		return total, fmt.Sprintf("Relevance score: %.1f/10", total)
	}
	return total, strings.Join(firstN(signals, maxReasonSignals), " | ")
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
