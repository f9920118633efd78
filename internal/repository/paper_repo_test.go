package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/paperpilot/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, Migrate(db, false))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestPaperRepository_SaveInsertThenUpdateByDOI(t *testing.T) {
	repo := NewPaperRepository(newTestDB(t))
	ctx := context.Background()

	first := &domain.Paper{Source: "arxiv", Title: "Graph Nets", DOI: domain.StringPtr("10.1/GN"), CitationCount: 3}
	first.SetVector([]float32{0.1, 0.2})
	outcome, err := repo.Save(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, SaveInserted, outcome)
	assert.Equal(t, domain.NewPaperID("arxiv", "Graph Nets"), first.ID)

	// Same DOI from another source with a different title maps onto the stored row.
	second := &domain.Paper{Source: "openalex", Title: "Graph Networks", DOI: domain.StringPtr("10.1/gn"), CitationCount: 40}
	outcome, err = repo.Save(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, SaveUpdated, outcome)
	assert.Equal(t, first.ID, second.ID)

	stored, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.CitationCount)
	assert.True(t, stored.HasEmbedding(), "update without embedding keeps the stored one")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPaperRepository_GetByIDNotFound(t *testing.T) {
	repo := NewPaperRepository(newTestDB(t))
	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaperRepository_GetByIDsPreservesOrder(t *testing.T) {
	repo := NewPaperRepository(newTestDB(t))
	ctx := context.Background()
	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		p := &domain.Paper{Source: "local", Title: title}
		_, err := repo.Save(ctx, p)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	got, err := repo.GetByIDs(ctx, []string{ids[2], "missing", ids[0]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].Title)
	assert.Equal(t, "A", got[1].Title)
}

func TestPaperRepository_Listings(t *testing.T) {
	repo := NewPaperRepository(newTestDB(t))
	ctx := context.Background()

	papers := []*domain.Paper{
		{Source: "local", Title: "Old", PublishDate: datePtr(2020, 1, 1), CitationCount: 900},
		{Source: "local", Title: "Fresh popular", PublishDate: datePtr(2025, 5, 20), CitationCount: 50},
		{Source: "local", Title: "Fresh niche", PublishDate: datePtr(2025, 5, 25), CitationCount: 2},
	}
	for _, p := range papers {
		_, err := repo.Save(ctx, p)
		require.NoError(t, err)
	}

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	recent, err := repo.ListPublishedSince(ctx, since, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Fresh popular", recent[0].Title)

	unseen, err := repo.ListRecentUnseen(ctx, since, []string{papers[1].ID}, 10)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "Fresh niche", unseen[0].Title)

	missing, err := repo.ListWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 3)

	papers[0].SetVector([]float32{1, 0})
	require.NoError(t, repo.UpdateEmbedding(ctx, papers[0]))
	withEmb, err := repo.CountWithEmbedding(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, withEmb)
}

func TestPaperRepository_SearchByKeywords(t *testing.T) {
	repo := NewPaperRepository(newTestDB(t))
	ctx := context.Background()
	for _, p := range []*domain.Paper{
		{Source: "local", Title: "Knowledge Graph Embeddings", CitationCount: 10},
		{Source: "local", Title: "Protein folding", Abstract: "uses a knowledge graph prior", CitationCount: 20},
		{Source: "local", Title: "Unrelated"},
	} {
		_, err := repo.Save(ctx, p)
		require.NoError(t, err)
	}

	got, err := repo.SearchByKeywords(ctx, []string{"Knowledge Graph"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Protein folding", got[0].Title)
}

func TestProfileRepository_UpdateCreatesLazily(t *testing.T) {
	repo := NewProfileRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Update(ctx, "u1", func(_ *gorm.DB, p *domain.UserInterestProfile) error {
		p.AddKeywords("graphs")
		p.RecordEvent("p1", domain.ActionView, time.Now())
		return nil
	})
	require.NoError(t, err)

	p, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"graphs"}, []string(p.Keywords))
	assert.Len(t, p.ReadingHistory, 1)
}

func TestProfileRepository_UpdateRollsBackOnError(t *testing.T) {
	repo := NewProfileRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Update(ctx, "u1", func(_ *gorm.DB, p *domain.UserInterestProfile) error {
		p.AddKeywords("x")
		return domain.ErrNotFound
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrendRepository_Latest(t *testing.T) {
	repo := NewTrendRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for i, topic := range []string{"week-1", "week-2"} {
		require.NoError(t, repo.Create(ctx, &domain.TrendReport{
			Topic:        topic,
			AnalysisDate: time.Date(2025, 6, 1+7*i, 0, 0, 0, 0, time.UTC),
			Clusters:     domain.TrendClusters{{ClusterIndex: 0, MemberPaperIDs: []string{"a"}}},
		}))
	}
	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "week-2", latest.Topic)
	assert.Len(t, latest.Clusters, 1)

	all, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
