package domain

// MaxReasonLength bounds the rune length of a recommendation reason.
const MaxReasonLength = 200

// ScoredPaper is a paper annotated with a relevance score and a reason.
type ScoredPaper struct {
	Paper
	RelevanceScore       float64 `json:"relevance_score"`
	RecommendationReason string  `json:"recommendation_reason"`
}

// TruncateReason cuts reason to MaxReasonLength runes.
func TruncateReason(reason string) string {
	r := []rune(reason)
	if len(r) <= MaxReasonLength {
		return reason
	}
	return string(r[:MaxReasonLength])
}

// PaperIDs returns the ids of the scored papers in order.
func PaperIDs(papers []ScoredPaper) []string {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
	}
	return ids
}
