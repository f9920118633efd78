package source

import (
	"context"
	"sort"
	"strings"

	"github.com/timmy/paperpilot/internal/domain"
)

// Connector is one external or local paper source.
type Connector interface {
	// Name returns the stable identifier used for logging, caching and
	// the Paper.Source field.
	// Parameters: none.
	// Returns:
	//   - string: connector name.
	Name() string

	// FetchLatest returns papers published within the last days.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - days: look-back window in days.
	// Returns:
	//   - []domain.Paper: fetched papers, ids filled in.
	//   - error: a domain.SourceError on failure.
	FetchLatest(ctx context.Context, days int) ([]domain.Paper, error)

	// Search returns up to limit papers matching any of keywords.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - keywords: search terms; an empty list yields no results.
	//   - limit: maximum number of papers.
	// Returns:
	//   - []domain.Paper: matches in source relevance order.
	//   - error: a domain.SourceError on failure.
	Search(ctx context.Context, keywords []string, limit int) ([]domain.Paper, error)
}

// Registry is a name-keyed set of connectors.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry builds a registry from cs. A later connector with the same
// name replaces an earlier one.
func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector, len(cs))}
	for _, c := range cs {
		r.Register(c)
	}
	return r
}

// Register adds c under its lowercased name, replacing any connector with
// the same name.
func (r *Registry) Register(c Connector) {
	r.connectors[strings.ToLower(c.Name())] = c
}

func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the connectors sorted by name.
func (r *Registry) All() []Connector {
	names := r.Names()
	out := make([]Connector, len(names))
	for i, name := range names {
		out[i] = r.connectors[name]
	}
	return out
}

// Select returns the named connectors in sorted order; names match
// case-insensitively and unknown names are skipped. An empty list selects all.
func (r *Registry) Select(names []string) []Connector {
	if len(names) == 0 {
		return r.All()
	}
	sorted := make([]string, len(names))
	for i, n := range names {
		sorted[i] = strings.ToLower(strings.TrimSpace(n))
	}
	sort.Strings(sorted)
	var out []Connector
	seen := make(map[string]bool, len(sorted))
	for _, name := range sorted {
		if c, ok := r.connectors[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, c)
		}
	}
	return out
}
