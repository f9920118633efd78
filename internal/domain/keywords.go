package domain

import (
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TimeRange is the publication window preferred by a query.
type TimeRange string

const (
	TimeRangeRecent1Year  TimeRange = "recent_1_year"
	TimeRangeRecent3Years TimeRange = "recent_3_years"
	TimeRangeRecent5Years TimeRange = "recent_5_years"
	TimeRangeAllTime      TimeRange = "all_time"
)

// Valid reports whether r is one of the known ranges.
func (r TimeRange) Valid() bool {
	switch r {
	case TimeRangeRecent1Year, TimeRangeRecent3Years, TimeRangeRecent5Years, TimeRangeAllTime:
		return true
	}
	return false
}

// Since returns the earliest publish date admitted by the range.
// Unknown values behave like all_time.
func (r TimeRange) Since(now time.Time) time.Time {
	const day = 24 * time.Hour
	switch r {
	case TimeRangeRecent1Year:
		return now.Add(-365 * day)
	case TimeRangeRecent3Years:
		return now.Add(-3 * 365 * day)
	case TimeRangeRecent5Years:
		return now.Add(-5 * 365 * day)
	default:
		return time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// KeywordPayload is the structured output of keyword extraction.
type KeywordPayload struct {
	CoreKeywordsZh   []string  `json:"core_keywords_zh"`
	CoreKeywordsEn   []string  `json:"core_keywords_en"`
	ExtendedKeywords []string  `json:"extended_keywords"`
	TimeRange        TimeRange `json:"time_range"`
	PreferredTypes   []string  `json:"preferred_types"`
}

// FallbackKeywordPayload treats the raw query as the only keyword.
func FallbackKeywordPayload(query string) KeywordPayload {
	return KeywordPayload{
		CoreKeywordsZh:   []string{query},
		CoreKeywordsEn:   []string{},
		ExtendedKeywords: []string{},
		TimeRange:        TimeRangeRecent5Years,
		PreferredTypes:   []string{"research_article"},
	}
}

// AllKeywords returns core (zh, en) and extended keywords in that order,
// deduplicated case-insensitively.
func (k KeywordPayload) AllKeywords() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range [][]string{k.CoreKeywordsZh, k.CoreKeywordsEn, k.ExtendedKeywords} {
		for _, kw := range group {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			lower := strings.ToLower(kw)
			if _, ok := seen[lower]; ok {
				continue
			}
			seen[lower] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

// EmbeddingText joins all keywords into the text embedded for local retrieval.
func (k KeywordPayload) EmbeddingText() string {
	return strings.Join(k.AllKeywords(), " ")
}

// Value implements the driver.Valuer interface for database serialization.
func (k KeywordPayload) Value() (driver.Value, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (k *KeywordPayload) Scan(value interface{}) error {
	if value == nil {
		*k = KeywordPayload{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan KeywordPayload")
	}
	return json.Unmarshal(bytes, k)
}
