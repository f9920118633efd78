// Package jobs runs the background work of the recommender: crawling sources,
// analyzing trends, precomputing recommendations and rebuilding embeddings.
//
// Jobs are submitted onto an in-process watermill Pub/Sub and executed by a
// Runner, which records every execution as a domain.JobRun.
package jobs

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/timmy/paperpilot/internal/domain"
)

// Kind names a job type.
type Kind string

const (
	KindDailyCrawl          Kind = "daily_crawl"
	KindWeeklyTrends        Kind = "weekly_trends"
	KindUserRecommendations Kind = "user_recommendations"
	KindRebuildEmbeddings   Kind = "rebuild_embeddings"
)

// Kinds lists every known job kind.
var Kinds = []Kind{KindDailyCrawl, KindWeeklyTrends, KindUserRecommendations, KindRebuildEmbeddings}

// ParseKind validates a job kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidInput, s)
}

// Job is one unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewJob builds a job with a fresh id. A nil payload leaves Payload empty so
// the handler applies its defaults.
func NewJob(kind Kind, payload interface{}) (Job, error) {
	job := Job{ID: uuid.New().String(), Kind: kind, SubmittedAt: time.Now().UTC()}
	if payload == nil {
		return job, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	job.Payload = raw
	return job, nil
}

// CrawlPayload configures a daily_crawl job.
type CrawlPayload struct {
	Days    int      `json:"days"`
	Sources []string `json:"sources,omitempty"`
}

// TrendsPayload configures a weekly_trends job.
type TrendsPayload struct {
	Days     int `json:"days"`
	Clusters int `json:"clusters"`
}

// RecommendationsPayload configures a user_recommendations job.
type RecommendationsPayload struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// RebuildPayload configures a rebuild_embeddings job.
type RebuildPayload struct {
	BatchSize int `json:"batch_size"`
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
