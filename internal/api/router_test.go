package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/api/handler"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/jobs"
	"github.com/timmy/paperpilot/internal/service"
)

type fakeSearcher struct {
	last *service.SearchRequest
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req *service.SearchRequest) (*service.SearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	papers := []domain.ScoredPaper{{Paper: domain.Paper{ID: "kg-a", Title: "KG"}, RelevanceScore: 9}}
	return &service.SearchResponse{Query: req.Query, TotalFound: 1, Returned: 1, Papers: papers}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) GetPaper(_ context.Context, id string) (*domain.Paper, error) {
	if id != "kg-a" {
		return nil, fmt.Errorf("paper %s: %w", id, domain.ErrNotFound)
	}
	return &domain.Paper{ID: id, Title: "KG"}, nil
}

func (fakeCatalog) SimilarPapers(_ context.Context, id string, limit int, _ float64) ([]domain.ScoredPaper, error) {
	return []domain.ScoredPaper{{Paper: domain.Paper{ID: "kg-b"}}}, nil
}

type fakeRecommender struct {
	interactions []string
}

func (f *fakeRecommender) Recommend(_ context.Context, userID string, limit int) ([]domain.ScoredPaper, error) {
	return []domain.ScoredPaper{{Paper: domain.Paper{ID: "p1"}}}, nil
}

func (f *fakeRecommender) RecordInteraction(_ context.Context, userID, paperID, action string) error {
	if _, err := domain.ParseInteractionAction(action); err != nil {
		return err
	}
	f.interactions = append(f.interactions, userID+":"+paperID+":"+action)
	return nil
}

func (f *fakeRecommender) UpdatePreferences(_ context.Context, userID string, authors, journals []string) (*domain.UserInterestProfile, error) {
	p := domain.NewUserInterestProfile(userID)
	p.Authors = authors
	p.Journals = journals
	return p, nil
}

type fakeTrends struct{}

func (fakeTrends) LatestReport(context.Context) (*domain.TrendReport, error) {
	return nil, domain.ErrNotFound
}

func (fakeTrends) History(context.Context, int) ([]domain.TrendReport, error) {
	return []domain.TrendReport{{ID: 1, Topic: "knowledge graph"}}, nil
}

func (fakeTrends) ArchivedReport(_ context.Context, date string) (*domain.TrendReport, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("%w: date", domain.ErrInvalidInput)
	}
	return &domain.TrendReport{ID: 2, Topic: "archived"}, nil
}

func (fakeTrends) TrendingKeywords(_ context.Context, days, limit int) ([]domain.KeywordCount, error) {
	return []domain.KeywordCount{{Keyword: "knowledge graph", Count: days}}, nil
}

func (fakeTrends) HotPapers(context.Context, int, int) ([]domain.Paper, error) {
	return nil, errors.New("database is gone")
}

type fakeStats struct{}

func (fakeStats) VectorStats(context.Context) (*service.VectorStats, error) {
	return &service.VectorStats{TotalPapers: 3, PapersWithEmbeddings: 3, CoveragePercentage: 100}, nil
}

type fakeQueue struct {
	submitted []jobs.Job
}

func (f *fakeQueue) Submit(_ context.Context, job jobs.Job) (jobs.Job, error) {
	f.submitted = append(f.submitted, job)
	return job, nil
}

type testServer struct {
	engine   *gin.Engine
	searcher *fakeSearcher
	recs     *fakeRecommender
	queue    *fakeQueue
}

func newTestServer() *testServer {
	s := &testServer{searcher: &fakeSearcher{}, recs: &fakeRecommender{}, queue: &fakeQueue{}}
	s.engine = SetupRouter(Handlers{
		Health:         handler.NewHealthHandler(nil),
		Search:         handler.NewSearchHandler(s.searcher),
		Papers:         handler.NewPaperHandler(fakeCatalog{}),
		Recommendation: handler.NewRecommendationHandler(s.recs),
		Trends:         handler.NewTrendHandler(fakeTrends{}),
		Admin: handler.NewAdminHandler(handler.AdminDeps{
			Stats:         fakeStats{},
			Queue:         s.queue,
			RerankerState: func() string { return "closed" },
		}),
	}, nil, "test")
	return s
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"search post", http.MethodPost, "/api/v1/search", `{"query":"knowledge graph","top_k":5}`, http.StatusOK},
		{"search post malformed", http.MethodPost, "/api/v1/search", `{"query":`, http.StatusBadRequest},
		{"search post top_k too large", http.MethodPost, "/api/v1/search", `{"query":"kg","top_k":500}`, http.StatusBadRequest},
		{"search get", http.MethodGet, "/api/v1/search?q=knowledge+graph", "", http.StatusOK},
		{"search get missing q", http.MethodGet, "/api/v1/search", "", http.StatusBadRequest},
		{"paper", http.MethodGet, "/api/v1/papers/kg-a", "", http.StatusOK},
		{"paper missing", http.MethodGet, "/api/v1/papers/nope", "", http.StatusNotFound},
		{"similar", http.MethodGet, "/api/v1/papers/kg-a/similar?threshold=0.5", "", http.StatusOK},
		{"similar bad threshold", http.MethodGet, "/api/v1/papers/kg-a/similar?threshold=2", "", http.StatusBadRequest},
		{"recommend", http.MethodGet, "/api/v1/recommendations/u1?limit=5", "", http.StatusOK},
		{"recommend bad limit", http.MethodGet, "/api/v1/recommendations/u1?limit=abc", "", http.StatusBadRequest},
		{"interaction", http.MethodPost, "/api/v1/recommendations/u1/interactions", `{"paper_id":"kg-a","action":"save"}`, http.StatusCreated},
		{"interaction bad action", http.MethodPost, "/api/v1/recommendations/u1/interactions", `{"paper_id":"kg-a","action":"like"}`, http.StatusBadRequest},
		{"interaction missing paper", http.MethodPost, "/api/v1/recommendations/u1/interactions", `{"action":"view"}`, http.StatusBadRequest},
		{"preferences", http.MethodPut, "/api/v1/recommendations/u1/preferences", `{"authors":["Ada"]}`, http.StatusOK},
		{"trends latest none", http.MethodGet, "/api/v1/trends/latest", "", http.StatusNotFound},
		{"trends history", http.MethodGet, "/api/v1/trends/history", "", http.StatusOK},
		{"trends keywords", http.MethodGet, "/api/v1/trends/keywords?days=30", "", http.StatusOK},
		{"trends keywords bad days", http.MethodGet, "/api/v1/trends/keywords?days=0", "", http.StatusBadRequest},
		{"trends hot papers failing store", http.MethodGet, "/api/v1/trends/hot-papers", "", http.StatusInternalServerError},
		{"trends archive", http.MethodGet, "/api/v1/trends/archive/2026-10-12", "", http.StatusOK},
		{"trends archive bad date", http.MethodGet, "/api/v1/trends/archive/last-week", "", http.StatusBadRequest},
		{"admin stats", http.MethodGet, "/api/v1/admin/stats", "", http.StatusOK},
		{"admin job", http.MethodPost, "/api/v1/admin/jobs", `{"kind":"weekly_trends","payload":{"days":14}}`, http.StatusAccepted},
		{"admin job unknown kind", http.MethodPost, "/api/v1/admin/jobs", `{"kind":"reindex"}`, http.StatusBadRequest},
		{"admin jobs history unconfigured", http.MethodGet, "/api/v1/admin/jobs", "", http.StatusServiceUnavailable},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}
	s := newTestServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if w.Code >= 400 && tt.path != "/api/v1/nope" {
				assert.Contains(t, decode(t, w), "error")
			}
		})
	}
}

func TestRouter_SearchGetBindsQuery(t *testing.T) {
	s := newTestServer()
	w := s.do(http.MethodGet, "/api/v1/search?q=graph&top_k=7&user_id=u1&personalize=false&sources=arxiv,openalex", "")
	require.Equal(t, http.StatusOK, w.Code)

	req := s.searcher.last
	assert.Equal(t, "graph", req.Query)
	assert.Equal(t, 7, req.TopK)
	assert.Equal(t, "u1", req.UserID)
	require.NotNil(t, req.Personalize)
	assert.False(t, *req.Personalize)
	assert.Equal(t, []string{"arxiv", "openalex"}, req.Sources)

	body := decode(t, w)
	assert.EqualValues(t, 1, body["returned"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_SearchErrors(t *testing.T) {
	s := newTestServer()
	s.searcher.err = fmt.Errorf("%w: query must not be empty", domain.ErrInvalidInput)
	w := s.do(http.MethodPost, "/api/v1/search", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.searcher.err = errors.New("boom")
	w = s.do(http.MethodPost, "/api/v1/search", `{"query":"kg"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_SubmitJobQueuesPayload(t *testing.T) {
	s := newTestServer()
	w := s.do(http.MethodPost, "/api/v1/admin/jobs", `{"kind":"daily_crawl","payload":{"days":3,"sources":["arxiv"]}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, s.queue.submitted, 1)
	job := s.queue.submitted[0]
	assert.Equal(t, jobs.KindDailyCrawl, job.Kind)
	var payload jobs.CrawlPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, jobs.CrawlPayload{Days: 3, Sources: []string{"arxiv"}}, payload)
	assert.Equal(t, job.ID, decode(t, w)["job_id"])

	w = s.do(http.MethodPost, "/api/v1/admin/jobs", `{"kind":"rebuild_embeddings"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, s.queue.submitted[1].Payload)
}

func TestRouter_InteractionForwarded(t *testing.T) {
	s := newTestServer()
	w := s.do(http.MethodPost, "/api/v1/recommendations/u9/interactions", `{"paper_id":"kg-a","action":"download"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"u9:kg-a:download"}, s.recs.interactions)
}

func TestRouter_RequestIDIsPropagated(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
