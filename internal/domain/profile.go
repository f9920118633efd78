package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MaxProfileKeywords bounds the keyword set of a user interest profile.
const MaxProfileKeywords = 50

// InteractionAction is the kind of user interaction with a paper.
type InteractionAction string

const (
	ActionView     InteractionAction = "view"
	ActionSave     InteractionAction = "save"
	ActionDownload InteractionAction = "download"
)

// ParseInteractionAction validates an action string.
func ParseInteractionAction(s string) (InteractionAction, error) {
	switch a := InteractionAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionView, ActionSave, ActionDownload:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown interaction action %q", ErrInvalidInput, s)
	}
}

// ReadingEvent is one entry of a user's reading history.
type ReadingEvent struct {
	PaperID   string            `json:"paper_id"`
	Action    InteractionAction `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReadingHistory is an append-only list of reading events stored as JSON.
type ReadingHistory []ReadingEvent

// Value implements the driver.Valuer interface for database serialization.
func (h ReadingHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (h *ReadingHistory) Scan(value interface{}) error {
	if value == nil {
		*h = ReadingHistory{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan ReadingHistory")
	}
	return json.Unmarshal(bytes, h)
}

// UserInterestProfile holds the per-user signals used for personalization.
// It is created lazily on the first interaction and only ever appended to.
type UserInterestProfile struct {
	UserID         string         `gorm:"type:varchar(50);primaryKey" json:"user_id"`
	Keywords       StringArray    `gorm:"type:text" json:"keywords"`
	Authors        StringArray    `gorm:"type:text" json:"authors"`
	Journals       StringArray    `gorm:"type:text" json:"journals"`
	ReadingHistory ReadingHistory `gorm:"type:text" json:"reading_history"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for UserInterestProfile.
func (UserInterestProfile) TableName() string {
	return "user_profiles"
}

// NewUserInterestProfile returns an empty profile for userID.
func NewUserInterestProfile(userID string) *UserInterestProfile {
	return &UserInterestProfile{
		UserID:         userID,
		Keywords:       StringArray{},
		Authors:        StringArray{},
		Journals:       StringArray{},
		ReadingHistory: ReadingHistory{},
	}
}

// AddKeywords folds keywords into the profile. Matching is case-insensitive;
// a keyword seen again moves to the most recent end, and the oldest entries
// are evicted once the set exceeds MaxProfileKeywords.
func (p *UserInterestProfile) AddKeywords(keywords ...string) {
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		kept := p.Keywords[:0:0]
		for _, existing := range p.Keywords {
			if strings.ToLower(existing) != lower {
				kept = append(kept, existing)
			}
		}
		p.Keywords = append(kept, kw)
	}
	if len(p.Keywords) > MaxProfileKeywords {
		p.Keywords = append(StringArray(nil), p.Keywords[len(p.Keywords)-MaxProfileKeywords:]...)
	}
}

// RecordEvent appends to the reading history.
func (p *UserInterestProfile) RecordEvent(paperID string, action InteractionAction, at time.Time) {
	p.ReadingHistory = append(p.ReadingHistory, ReadingEvent{
		PaperID:   paperID,
		Action:    action,
		Timestamp: at,
	})
}

// SeenPaperIDs returns the set of paper ids present in the reading history.
func (p *UserInterestProfile) SeenPaperIDs() map[string]struct{} {
	seen := make(map[string]struct{}, len(p.ReadingHistory))
	for _, ev := range p.ReadingHistory {
		seen[ev.PaperID] = struct{}{}
	}
	return seen
}

// RecentPaperIDs returns up to n distinct paper ids from the reading history,
// most recent first.
func (p *UserInterestProfile) RecentPaperIDs(n int) []string {
	ids := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := len(p.ReadingHistory) - 1; i >= 0 && len(ids) < n; i-- {
		id := p.ReadingHistory[i].PaperID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
