package openalex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/domain"
)

const sampleWorks = `{
  "results": [
    {
      "id": "https://openalex.org/W1",
      "title": "Graph Neural Networks for Citation Recommendation",
      "doi": "https://doi.org/10.1000/GNN.7",
      "publication_date": "2024-03-10",
      "cited_by_count": 42,
      "authorships": [
        {"author": {"display_name": "Grace Hopper"}, "institutions": [{"display_name": "Navy Lab"}]},
        {"author": {"display_name": ""}, "institutions": []}
      ],
      "abstract_inverted_index": {"We": [0], "graphs": [2], "study": [1]},
      "concepts": [{"display_name": "Graph", "score": 0.9}, {"display_name": "", "score": 0.1}],
      "primary_location": {"landing_page_url": "https://example.org/gnn", "source": {"display_name": "TKDE"}}
    },
    {"id": "https://openalex.org/W2", "title": "   "},
    {"id": "https://openalex.org/W3", "title": "Yearly Only", "publication_year": 2021}
  ]
}`

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Email: "ops@example.org", RateLimit: 1000})
	c.now = func() time.Time { return time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestConnector_Search(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "graph citation", q.Get("search"))
		assert.Equal(t, "5", q.Get("per_page"))
		assert.Equal(t, "ops@example.org", q.Get("mailto"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleWorks))
	})

	papers, err := c.Search(context.Background(), []string{"graph", "", "citation"}, 5)
	require.NoError(t, err)
	require.Len(t, papers, 2)

	p := papers[0]
	assert.Equal(t, "Graph Neural Networks for Citation Recommendation", p.Title)
	assert.Equal(t, "We study graphs", p.Abstract)
	assert.Equal(t, "10.1000/gnn.7", p.NormalizedDOI())
	assert.Equal(t, 42, p.CitationCount)
	assert.Equal(t, "TKDE", p.Journal)
	assert.Equal(t, "https://example.org/gnn", p.SourceURL)
	assert.Equal(t, []string{"Graph"}, []string(p.Keywords))
	require.Len(t, p.Authors, 1)
	assert.Equal(t, domain.Author{Name: "Grace Hopper", Affiliation: "Navy Lab"}, p.Authors[0])
	require.NotNil(t, p.PublishDate)
	assert.Equal(t, time.March, p.PublishDate.Month())

	require.NotNil(t, papers[1].PublishDate)
	assert.Equal(t, 2021, papers[1].PublishDate.Year())
	assert.Nil(t, papers[1].DOI)
}

func TestConnector_FetchLatest(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "from_publication_date:2024-03-13", q.Get("filter"))
		assert.Equal(t, "cited_by_count:desc", q.Get("sort"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": []}`))
	})

	papers, err := c.FetchLatest(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, papers)
}

func TestConnector_MissingResultsIsMalformed(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"meta": {}}`))
	})

	_, err := c.Search(context.Background(), []string{"x"}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))

	var se *domain.SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Name, se.Source)
}

func TestConnector_HTTPError(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchLatest(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestReconstructAbstract(t *testing.T) {
	assert.Equal(t, "", reconstructAbstract(nil))
	assert.Equal(t, "a rose is a rose", reconstructAbstract(map[string][]int{
		"a": {0, 3}, "rose": {1, 4}, "is": {2},
	}))
}
