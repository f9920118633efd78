package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/domain"
)

type canonicalPayload struct {
	Kind      string   `json:"kind"`
	Scope     string   `json:"scope"`
	Keywords  []string `json:"keywords"`
	TimeRange string   `json:"time_range"`
	Types     []string `json:"types"`
}

// QueryKey identifies a ranked result list for query under payload.
func QueryKey(query string, payload domain.KeywordPayload) string {
	return hashKey(canonicalPayload{
		Kind:      "query",
		Scope:     strings.ToLower(strings.TrimSpace(query)),
		Keywords:  normalizeList(payload.AllKeywords()),
		TimeRange: string(payload.TimeRange),
		Types:     normalizeList(payload.PreferredTypes),
	})
}

// SourceKey identifies one connector's raw results for payload.
func SourceKey(source string, payload domain.KeywordPayload) string {
	return hashKey(canonicalPayload{
		Kind:      "source",
		Scope:     source,
		Keywords:  normalizeList(payload.AllKeywords()),
		TimeRange: string(payload.TimeRange),
	})
}

// KeywordKey identifies an extracted keyword payload for query.
func KeywordKey(query string) string {
	return hashKey(canonicalPayload{Kind: "keywords", Scope: strings.TrimSpace(query)})
}

// UserKey identifies a user's recommendation list of the given length.
func UserKey(userID string, limit int) string {
	return UserPrefix(userID) + strconv.Itoa(limit)
}

// UserPrefix is shared by every UserKey of userID.
func UserPrefix(userID string) string {
	return hashKey(canonicalPayload{Kind: "user", Scope: userID}) + ":"
}

// normalizeList lowercases, trims, dedupes and sorts so that key equality
// does not depend on keyword order.
func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func hashKey(p canonicalPayload) string {
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return p.Kind + ":" + hex.EncodeToString(sum[:])
}
