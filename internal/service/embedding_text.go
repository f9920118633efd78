package service

import (
	"strings"

	"github.com/timmy/paperpilot/internal/domain"
)

const maxEmbeddingTextRunes = 4000

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// BuildPaperEmbeddingText renders the text embedded for a stored paper:
// title, abstract and keywords, one labelled segment per line.
func BuildPaperEmbeddingText(p *domain.Paper) string {
	segments := make([]string, 0, 3)
	if title := normalizeWhitespace(p.Title); title != "" {
		segments = append(segments, "title:"+title)
	}
	if abstract := normalizeWhitespace(p.Abstract); abstract != "" {
		segments = append(segments, "abstract:"+abstract)
	}
	if kws := dedupeStrings(p.Keywords); len(kws) > 0 {
		segments = append(segments, "keywords:"+strings.Join(kws, " "))
	}
	return truncateRunes(strings.Join(segments, "\n"), maxEmbeddingTextRunes)
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
