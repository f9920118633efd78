package domain

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// KeywordCount is one bucket of a keyword histogram.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// TrendCluster is one group produced by clustering an analysis window.
type TrendCluster struct {
	ClusterIndex     int            `json:"cluster_index"`
	MemberPaperIDs   []string       `json:"member_paper_ids"`
	KeywordHistogram []KeywordCount `json:"keyword_histogram"`
	Summary          string         `json:"summary,omitempty"`
}

// TrendClusters stores clusters as a JSON column.
type TrendClusters []TrendCluster

// Value implements the driver.Valuer interface for database serialization.
func (c TrendClusters) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *TrendClusters) Scan(value interface{}) error {
	if value == nil {
		*c = TrendClusters{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan TrendClusters")
	}
	return json.Unmarshal(bytes, c)
}

// TrendReport is the persisted result of one trend analysis window.
// Reports are recomputed wholesale and never updated in place.
type TrendReport struct {
	ID           uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic        string        `gorm:"type:varchar(200);not null;index:idx_trend_reports_topic" json:"topic"`
	Summary      string        `gorm:"type:text" json:"summary"`
	Clusters     TrendClusters `gorm:"type:text" json:"clusters"`
	HotPaperIDs  StringArray   `gorm:"type:text" json:"hot_paper_ids"`
	Keywords     StringArray   `gorm:"type:text" json:"keywords"`
	AnalysisDate time.Time     `gorm:"not null;index:idx_trend_reports_date" json:"analysis_date"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	PaperCount   int           `json:"paper_count"`
	AvgCitation  float64       `json:"avg_citation"`
	ArchiveKey   string        `gorm:"type:text" json:"archive_key,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// TableName returns the database table name for TrendReport.
func (TrendReport) TableName() string {
	return "trend_reports"
}
