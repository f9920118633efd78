// Package arxiv fetches papers from the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/timmy/paperpilot/internal/domain"
)

// Name is the connector and Paper.Source identifier.
const Name = "arxiv"

// DefaultBaseURL is the public query endpoint.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// Config configures the connector.
type Config struct {
	BaseURL    string
	RateLimit  float64 // requests per second; arXiv asks for one every three seconds
	Categories []string
	Timeout    time.Duration
}

// Connector queries arXiv.
type Connector struct {
	client     *resty.Client
	baseURL    string
	limiter    *rate.Limiter
	categories []string
	now        func() time.Time
}

// New creates an arXiv connector.
func New(cfg Config) *Connector {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1.0 / 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "paperpilot/1.0")

	return &Connector{
		client:     client,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		categories: cfg.Categories,
		now:        time.Now,
	}
}

func (c *Connector) Name() string { return Name }

// Search runs an OR query over all fields.
func (c *Connector) Search(ctx context.Context, keywords []string, limit int) ([]domain.Paper, error) {
	var terms []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.ContainsAny(kw, " \t") {
			kw = `"` + kw + `"`
		}
		terms = append(terms, "all:"+kw)
	}
	if len(terms) == 0 || limit <= 0 {
		return []domain.Paper{}, nil
	}

	return c.query(ctx, map[string]string{
		"search_query": strings.Join(terms, " OR "),
		"start":        "0",
		"max_results":  strconv.Itoa(limit),
		"sortBy":       "relevance",
		"sortOrder":    "descending",
	})
}

// FetchLatest lists the newest submissions in the configured categories and
// keeps those published within the window.
func (c *Connector) FetchLatest(ctx context.Context, days int) ([]domain.Paper, error) {
	if len(c.categories) == 0 {
		return []domain.Paper{}, nil
	}
	cats := make([]string, len(c.categories))
	for i, cat := range c.categories {
		cats[i] = "cat:" + cat
	}

	papers, err := c.query(ctx, map[string]string{
		"search_query": strings.Join(cats, " OR "),
		"start":        "0",
		"max_results":  "200",
		"sortBy":       "submittedDate",
		"sortOrder":    "descending",
	})
	if err != nil {
		return nil, err
	}

	cutoff := c.now().AddDate(0, 0, -days)
	out := papers[:0]
	for _, p := range papers {
		if p.PublishDate != nil && !p.PublishDate.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Connector) query(ctx context.Context, params map[string]string) ([]domain.Paper, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewSourceError(Name, err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL)
	if err != nil {
		return nil, domain.NewSourceError(Name, fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, domain.NewSourceError(Name, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}

	var f feed
	if err := xml.Unmarshal(resp.Body(), &f); err != nil {
		return nil, domain.NewSourceError(Name, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	papers := make([]domain.Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		if p, ok := e.toPaper(); ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"`
	Authors    []author   `xml:"author"`
	Categories []category `xml:"category"`
	DOI        string     `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string     `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

type author struct {
	Name        string `xml:"name"`
	Affiliation string `xml:"http://arxiv.org/schemas/atom affiliation"`
}

type category struct {
	Term string `xml:"term,attr"`
}

func (e entry) toPaper() (domain.Paper, bool) {
	title := collapseSpace(e.Title)
	if title == "" || extractArxivID(e.ID) == "" {
		return domain.Paper{}, false
	}

	p := domain.Paper{
		DOI:       domain.StringPtr(e.DOI),
		Title:     title,
		Abstract:  collapseSpace(e.Summary),
		Journal:   collapseSpace(e.JournalRef),
		Source:    Name,
		SourceURL: strings.TrimSpace(e.ID),
		Keywords:  domain.StringArray{},
	}
	for _, a := range e.Authors {
		if name := collapseSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, domain.Author{Name: name, Affiliation: collapseSpace(a.Affiliation)})
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			p.Keywords = append(p.Keywords, c.Term)
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		t = t.UTC()
		p.PublishDate = &t
	}
	p.EnsureID()
	return p, true
}

// extractArxivID pulls the bare id out of an entry URL, e.g.
// "http://arxiv.org/abs/2301.07041v2" -> "2301.07041".
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
