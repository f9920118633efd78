package service

import (
	"strings"
	"unicode"

	"github.com/timmy/paperpilot/internal/domain"
)

// normalizeTitle lowercases, drops punctuation and symbols and collapses
// whitespace.
func normalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Deduplicate removes duplicates in arrival order. Two papers are the same
// when their DOIs match or their normalized titles match. When the kept copy
// has no embedding and a later duplicate does, the duplicate takes its place.
func Deduplicate(papers []domain.Paper) []domain.Paper {
	out := make([]domain.Paper, 0, len(papers))
	byDOI := make(map[string]int, len(papers))
	byTitle := make(map[string]int, len(papers))

	register := func(p *domain.Paper, idx int) {
		if doi := p.NormalizedDOI(); doi != "" {
			byDOI[doi] = idx
		}
		if title := normalizeTitle(p.Title); title != "" {
			byTitle[title] = idx
		}
	}

	for i := range papers {
		p := &papers[i]
		idx := -1
		if doi := p.NormalizedDOI(); doi != "" {
			if j, ok := byDOI[doi]; ok {
				idx = j
			}
		}
		if idx < 0 {
			if j, ok := byTitle[normalizeTitle(p.Title)]; ok {
				idx = j
			}
		}

		if idx >= 0 {
			if !out[idx].HasEmbedding() && p.HasEmbedding() {
				out[idx] = *p
				register(p, idx)
			}
			continue
		}
		out = append(out, *p)
		register(p, len(out)-1)
	}
	return out
}
