// Package staging serves papers from a local JSON Lines manifest, typically
// produced by an offline crawler or an export.
package staging

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
)

// ManifestFileName is the JSONL manifest file name in staging sources.
const ManifestFileName = "manifest.jsonl"

// ManifestItem is one line of manifest.jsonl.
type ManifestItem struct {
	Title         string          `json:"title"`
	Abstract      string          `json:"abstract"`
	DOI           string          `json:"doi"`
	Keywords      []string        `json:"keywords"`
	Authors       []domain.Author `json:"authors"`
	Journal       string          `json:"journal"`
	SourceURL     string          `json:"source_url"`
	CitationCount int             `json:"citation_count"`
	PublishDate   string          `json:"publish_date"` // YYYY-MM-DD
}

// Adapter implements source.Connector over <basePath>/<sourceID>/manifest.jsonl.
type Adapter struct {
	basePath string
	sourceID string
	now      func() time.Time

	once    sync.Once
	papers  []domain.Paper
	loadErr error
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: sub-directory holding the manifest.
//
// Returns:
//   - *Adapter: adapter that loads the manifest on first use.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{basePath: basePath, sourceID: sourceID, now: time.Now}
}

// Name returns the source identifier with a "staging:" prefix.
func (a *Adapter) Name() string {
	return "staging:" + a.sourceID
}

func (a *Adapter) FetchLatest(_ context.Context, days int) ([]domain.Paper, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	cutoff := a.now().AddDate(0, 0, -days)
	out := make([]domain.Paper, 0)
	for _, p := range a.papers {
		if p.PublishDate != nil && !p.PublishDate.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Search matches keywords case-insensitively against title, abstract and
// keywords, keeping manifest order.
func (a *Adapter) Search(_ context.Context, keywords []string, limit int) ([]domain.Paper, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	var terms []string
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			terms = append(terms, kw)
		}
	}

	out := make([]domain.Paper, 0)
	for _, p := range a.papers {
		if len(out) >= limit {
			break
		}
		haystack := strings.ToLower(p.Title + " " + p.Abstract + " " + strings.Join(p.Keywords, " "))
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (a *Adapter) load() error {
	a.once.Do(func() {
		a.papers, a.loadErr = a.loadManifest()
		if a.loadErr != nil {
			a.loadErr = domain.NewSourceError(a.Name(), a.loadErr)
		}
	})
	return a.loadErr
}

func (a *Adapter) loadManifest() ([]domain.Paper, error) {
	manifestPath := filepath.Join(a.basePath, a.sourceID, ManifestFileName)

	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", manifestPath, err)
	}
	defer file.Close()

	var papers []domain.Paper
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			logger.Warn("staging %s: skipping malformed line %d: %v", a.sourceID, lineNo, err)
			continue
		}
		if p, ok := a.toPaper(item); ok {
			papers = append(papers, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	sort.SliceStable(papers, func(i, j int) bool { return papers[i].ID < papers[j].ID })
	return papers, nil
}

func (a *Adapter) toPaper(item ManifestItem) (domain.Paper, bool) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return domain.Paper{}, false
	}
	p := domain.Paper{
		DOI:           domain.StringPtr(item.DOI),
		Title:         title,
		Abstract:      item.Abstract,
		Keywords:      append(domain.StringArray{}, item.Keywords...),
		Authors:       item.Authors,
		Journal:       item.Journal,
		Source:        a.Name(),
		SourceURL:     item.SourceURL,
		CitationCount: item.CitationCount,
	}
	if t, err := time.Parse("2006-01-02", item.PublishDate); err == nil {
		p.PublishDate = &t
	}
	p.EnsureID()
	return p, true
}
