package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// SourceLocal marks papers that were stored directly in the local corpus.
const SourceLocal = "local"

// Paper is a retrieved or stored publication record.
// A paper with a DOI is unique by DOI; otherwise it is unique by ID.
type Paper struct {
	ID            string           `gorm:"type:varchar(100);primaryKey" json:"id"`
	DOI           *string          `gorm:"type:varchar(100);uniqueIndex:idx_papers_doi" json:"doi,omitempty"`
	Title         string           `gorm:"type:text;not null" json:"title"`
	Abstract      string           `gorm:"type:text" json:"abstract"`
	Keywords      StringArray      `gorm:"type:text" json:"keywords"`
	Authors       Authors          `gorm:"type:text" json:"authors"`
	Journal       string           `gorm:"type:varchar(200);index:idx_papers_journal" json:"journal,omitempty"`
	Source        string           `gorm:"type:varchar(50);index:idx_papers_source" json:"source"`
	SourceURL     string           `gorm:"type:text" json:"source_url,omitempty"`
	CitationCount int              `gorm:"default:0" json:"citation_count"`
	PublishDate   *time.Time       `gorm:"index:idx_papers_publish_date" json:"publish_date,omitempty"`
	Embedding     *pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Paper.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Paper) TableName() string {
	return "papers"
}

// NewPaperID derives the stable content hash used as a paper identifier.
// Parameters:
//   - source: provenance of the record (connector name or "local").
//   - title: paper title.
//
// Returns:
//   - string: hex-encoded md5 of "source:title".
func NewPaperID(source, title string) string {
	sum := md5.Sum([]byte(source + ":" + title))
	return hex.EncodeToString(sum[:])
}

// EnsureID fills in the ID from source and title when it is missing.
func (p *Paper) EnsureID() {
	if p.ID == "" {
		p.ID = NewPaperID(p.Source, p.Title)
	}
}

// HasEmbedding reports whether the paper carries a usable vector.
func (p *Paper) HasEmbedding() bool {
	if p.Embedding == nil {
		return false
	}
	for _, f := range p.Embedding.Slice() {
		if f != 0 {
			return true
		}
	}
	return false
}

// Vector returns the embedding as a float slice, or nil when absent.
func (p *Paper) Vector() []float32 {
	if p.Embedding == nil {
		return nil
	}
	return p.Embedding.Slice()
}

// SetVector replaces the embedding wholesale. A nil or empty vector clears it.
func (p *Paper) SetVector(v []float32) {
	if len(v) == 0 {
		p.Embedding = nil
		return
	}
	vec := pgvector.NewVector(append([]float32(nil), v...))
	p.Embedding = &vec
}

// NormalizedDOI returns the trimmed, lowercased DOI or "".
func (p *Paper) NormalizedDOI() string {
	if p.DOI == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*p.DOI))
}

// AgeDays returns the number of whole days between the publish date and now.
// The second return value is false when the paper has no publish date.
func (p *Paper) AgeDays(now time.Time) (int, bool) {
	if p.PublishDate == nil {
		return 0, false
	}
	return int(now.Sub(*p.PublishDate).Hours() / 24), true
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
