// Package openalex fetches papers from the OpenAlex works API.
package openalex

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/timmy/paperpilot/internal/domain"
)

const (
	Name           = "openalex"
	DefaultBaseURL = "https://api.openalex.org/works"
	maxPerPage     = 200
	maxConcepts    = 10
)

// Config configures the connector.
type Config struct {
	BaseURL   string
	Email     string // sent as mailto for the polite pool
	RateLimit float64
	Timeout   time.Duration
}

// Connector queries OpenAlex.
type Connector struct {
	client  *resty.Client
	baseURL string
	email   string
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config) *Connector {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &Connector{
		client:  client,
		baseURL: baseURL,
		email:   cfg.Email,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Search(ctx context.Context, keywords []string, limit int) ([]domain.Paper, error) {
	var terms []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			terms = append(terms, kw)
		}
	}
	if len(terms) == 0 || limit <= 0 {
		return []domain.Paper{}, nil
	}
	return c.query(ctx, map[string]string{
		"search":   strings.Join(terms, " "),
		"per_page": strconv.Itoa(min(limit, maxPerPage)),
		"page":     "1",
	})
}

// FetchLatest lists works published within the window, most cited first.
func (c *Connector) FetchLatest(ctx context.Context, days int) ([]domain.Paper, error) {
	from := c.now().AddDate(0, 0, -days).Format("2006-01-02")
	return c.query(ctx, map[string]string{
		"filter":   "from_publication_date:" + from,
		"sort":     "cited_by_count:desc",
		"per_page": strconv.Itoa(maxPerPage),
		"page":     "1",
	})
}

func (c *Connector) query(ctx context.Context, params map[string]string) ([]domain.Paper, error) {
	if c.email != "" {
		params["mailto"] = c.email
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewSourceError(Name, err)
	}

	var body worksResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get(c.baseURL)
	if err != nil {
		return nil, domain.NewSourceError(Name, fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, domain.NewSourceError(Name, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}
	if body.Results == nil {
		return nil, domain.NewSourceError(Name, fmt.Errorf("%w: missing results", domain.ErrMalformedResponse))
	}

	papers := make([]domain.Paper, 0, len(body.Results))
	for _, w := range body.Results {
		if p, ok := w.toPaper(); ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

type worksResponse struct {
	Results []work `json:"results"`
}

type work struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	DOI                   string           `json:"doi"`
	PublicationDate       string           `json:"publication_date"`
	PublicationYear       int              `json:"publication_year"`
	CitedByCount          int              `json:"cited_by_count"`
	Authorships           []authorship     `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Concepts              []concept        `json:"concepts"`
	PrimaryLocation       *location        `json:"primary_location"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
	Institutions []struct {
		DisplayName string `json:"display_name"`
	} `json:"institutions"`
}

type concept struct {
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
}

type location struct {
	LandingPageURL string `json:"landing_page_url"`
	Source         *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

func (w work) toPaper() (domain.Paper, bool) {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return domain.Paper{}, false
	}

	p := domain.Paper{
		DOI:           domain.StringPtr(strings.TrimPrefix(w.DOI, "https://doi.org/")),
		Title:         title,
		Abstract:      reconstructAbstract(w.AbstractInvertedIndex),
		Source:        Name,
		SourceURL:     w.ID,
		CitationCount: w.CitedByCount,
		Keywords:      domain.StringArray{},
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName == "" {
			continue
		}
		author := domain.Author{Name: a.Author.DisplayName}
		if len(a.Institutions) > 0 {
			author.Affiliation = a.Institutions[0].DisplayName
		}
		p.Authors = append(p.Authors, author)
	}
	for i, c := range w.Concepts {
		if i == maxConcepts {
			break
		}
		if c.DisplayName != "" {
			p.Keywords = append(p.Keywords, c.DisplayName)
		}
	}
	if loc := w.PrimaryLocation; loc != nil {
		if loc.LandingPageURL != "" {
			p.SourceURL = loc.LandingPageURL
		}
		if loc.Source != nil {
			p.Journal = loc.Source.DisplayName
		}
	}
	if t, err := time.Parse("2006-01-02", w.PublicationDate); err == nil {
		p.PublishDate = &t
	} else if w.PublicationYear > 0 {
		t := time.Date(w.PublicationYear, 1, 1, 0, 0, 0, 0, time.UTC)
		p.PublishDate = &t
	}
	p.EnsureID()
	return p, true
}

// reconstructAbstract rebuilds plain text from OpenAlex's
// abstract_inverted_index (word -> positions).
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range index {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos, word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
