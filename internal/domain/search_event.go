package domain

import "time"

// SearchEvent is an immutable log row written once per search.
type SearchEvent struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string         `gorm:"type:varchar(50);index:idx_search_events_user" json:"user_id,omitempty"`
	Query             string         `gorm:"type:text;not null" json:"query"`
	ExtractedKeywords KeywordPayload `gorm:"type:text" json:"extracted_keywords"`
	ResultIDs         StringArray    `gorm:"type:text" json:"result_ids"`
	ResultCount       int            `json:"result_count"`
	ResponseTime      float64        `json:"response_time"`
	CreatedAt         time.Time      `gorm:"index:idx_search_events_created" json:"created_at"`
}

// TableName returns the database table name for SearchEvent.
func (SearchEvent) TableName() string {
	return "search_events"
}
