package arxiv

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

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v2</id>
    <published>2024-01-02T10:00:00Z</published>
    <title>Knowledge Graph
      Completion at Scale</title>
    <summary>  We study link prediction.  </summary>
    <author><name>Ada Lovelace</name><arxiv:affiliation>Analytical Engines</arxiv:affiliation></author>
    <author><name>Alan Turing</name></author>
    <arxiv:doi>10.1000/kg.1</arxiv:doi>
    <arxiv:journal_ref>J. Graphs 12 (2024)</arxiv:journal_ref>
    <category term="cs.AI"/>
    <category term="cs.LG"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2312.99999v1</id>
    <published>2023-12-01T10:00:00Z</published>
    <title>Old Entry</title>
    <summary>Old.</summary>
  </entry>
  <entry>
    <id>not-an-arxiv-url</id>
    <title>Broken</title>
  </entry>
</feed>`

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, RateLimit: 1000, Categories: []string{"cs.AI"}})
	c.now = func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestConnector_SearchParsesFeed(t *testing.T) {
	var gotQuery string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(sampleFeed))
	})

	papers, err := c.Search(context.Background(), []string{"knowledge graph", "ontology", " "}, 10)
	require.NoError(t, err)
	assert.Equal(t, `all:"knowledge graph" OR all:ontology`, gotQuery)
	require.Len(t, papers, 2)

	p := papers[0]
	assert.Equal(t, "Knowledge Graph Completion at Scale", p.Title)
	assert.Equal(t, "We study link prediction.", p.Abstract)
	assert.Equal(t, domain.NewPaperID(Name, p.Title), p.ID)
	assert.Equal(t, "10.1000/kg.1", p.NormalizedDOI())
	assert.Equal(t, "J. Graphs 12 (2024)", p.Journal)
	assert.Equal(t, []string{"cs.AI", "cs.LG"}, []string(p.Keywords))
	require.Len(t, p.Authors, 2)
	assert.Equal(t, "Analytical Engines", p.Authors[0].Affiliation)
	require.NotNil(t, p.PublishDate)
	assert.Equal(t, 2024, p.PublishDate.Year())
	assert.Nil(t, papers[1].DOI)
}

func TestConnector_SearchEmptyKeywordsSkipsRequest(t *testing.T) {
	called := false
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	papers, err := c.Search(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.False(t, called)
}

func TestConnector_FetchLatestFiltersWindow(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cat:cs.AI", r.URL.Query().Get("search_query"))
		assert.Equal(t, "submittedDate", r.URL.Query().Get("sortBy"))
		w.Write([]byte(sampleFeed))
	})

	papers, err := c.FetchLatest(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Knowledge Graph Completion at Scale", papers[0].Title)
}

func TestConnector_Errors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		malformed bool
	}{
		{
			name:    "http error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
		},
		{
			name:      "malformed xml",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<feed><entry>")) },
			malformed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConnector(t, tt.handler)
			_, err := c.Search(context.Background(), []string{"x"}, 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
			assert.Equal(t, tt.malformed, errors.Is(err, domain.ErrMalformedResponse))
		})
	}
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/hep-th/9901001v3", "hep-th/9901001"},
		{"http://arxiv.org/abs/2301.07041", "2301.07041"},
		{"https://example.com/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, extractArxivID(tt.in))
		})
	}
}
