package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/paperpilot/internal/domain"
)

// SaveOutcome tells whether Save inserted a row or updated an existing one.
type SaveOutcome int

const (
	SaveInserted SaveOutcome = iota
	SaveUpdated
)

// PaperRepository handles paper persistence.
type PaperRepository struct {
	db *gorm.DB
}

// NewPaperRepository creates a new PaperRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *PaperRepository: repository instance bound to db.
func NewPaperRepository(db *gorm.DB) *PaperRepository {
	return &PaperRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

// Save writes a paper and its embedding in one transaction. An existing row
// with the same id, DOI or title takes over: the incoming record keeps the
// stored id and is upserted onto it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - paper: paper to persist; its ID is rewritten to the stored one on update.
//
// Returns:
//   - SaveOutcome: whether a row was inserted or updated.
//   - error: non-nil if the transaction fails and was rolled back.
func (r *PaperRepository) Save(ctx context.Context, paper *domain.Paper) (SaveOutcome, error) {
	paper.EnsureID()
	outcome := SaveInserted

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findExisting(tx, paper)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = SaveUpdated
			paper.ID = existing.ID
			paper.CreatedAt = existing.CreatedAt
			if paper.Embedding == nil {
				paper.Embedding = existing.Embedding
			}
			if paper.DOI == nil {
				paper.DOI = existing.DOI
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(paper).Error
	})
	if err != nil {
		return outcome, fmt.Errorf("save paper %s: %w", paper.ID, err)
	}
	return outcome, nil
}

// FindMatch returns the stored paper that Save would update for paper, or
// domain.ErrNotFound.
func (r *PaperRepository) FindMatch(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	paper.EnsureID()
	found, err := findExisting(r.db.WithContext(ctx), paper)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func findExisting(tx *gorm.DB, paper *domain.Paper) (*domain.Paper, error) {
	var found domain.Paper

	err := tx.Where("id = ?", paper.ID).Take(&found).Error
	if err == nil {
		return &found, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if doi := paper.NormalizedDOI(); doi != "" {
		err = tx.Where("LOWER(doi) = ?", doi).Take(&found).Error
		if err == nil {
			return &found, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err = tx.Where("title = ?", paper.Title).Take(&found).Error
	if err == nil {
		return &found, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return nil, nil
}

// GetByID retrieves a paper by id.
// Returns domain.ErrNotFound when it does not exist.
func (r *PaperRepository) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	var paper domain.Paper
	if err := r.db.WithContext(ctx).First(&paper, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &paper, nil
}

// GetByIDs retrieves papers and returns them in the order of ids. Unknown
// ids are skipped.
func (r *PaperRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Paper, error) {
	if len(ids) == 0 {
		return []domain.Paper{}, nil
	}
	var rows []domain.Paper
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Paper, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	out := make([]domain.Paper, 0, len(rows))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListPublishedSince returns papers published at or after since, most cited first.
func (r *PaperRepository) ListPublishedSince(ctx context.Context, since time.Time, limit int) ([]domain.Paper, error) {
	var papers []domain.Paper
	q := r.db.WithContext(ctx).
		Where("publish_date >= ?", since.UTC()).
		Order("citation_count DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// ListRecentUnseen returns papers published since the cutoff that are not in
// exclude, most cited first.
func (r *PaperRepository) ListRecentUnseen(ctx context.Context, since time.Time, exclude []string, limit int) ([]domain.Paper, error) {
	var papers []domain.Paper
	q := r.db.WithContext(ctx).Where("publish_date >= ?", since.UTC())
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	err := q.Order("citation_count DESC").Order("id ASC").Limit(limit).Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// ListWithoutEmbedding returns up to limit papers lacking an embedding,
// oldest first.
func (r *PaperRepository) ListWithoutEmbedding(ctx context.Context, limit int) ([]domain.Paper, error) {
	var papers []domain.Paper
	err := r.db.WithContext(ctx).
		Where("embedding IS NULL").
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// ListWithEmbedding pages through papers that carry an embedding, ordered
// by id. Pass the last id of the previous page as afterID.
func (r *PaperRepository) ListWithEmbedding(ctx context.Context, afterID string, limit int) ([]domain.Paper, error) {
	var papers []domain.Paper
	err := r.db.WithContext(ctx).
		Where("embedding IS NOT NULL").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// UpdateEmbedding replaces the embedding of one paper.
func (r *PaperRepository) UpdateEmbedding(ctx context.Context, paper *domain.Paper) error {
	res := r.db.WithContext(ctx).Model(&domain.Paper{}).
		Where("id = ?", paper.ID).
		Update("embedding", paper.Embedding)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SearchByKeywords does a case-insensitive substring match on title and
// abstract.
func (r *PaperRepository) SearchByKeywords(ctx context.Context, keywords []string, since time.Time, limit int) ([]domain.Paper, error) {
	var clauses []string
	var args []interface{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		like := "%" + kw + "%"
		clauses = append(clauses, "LOWER(title) LIKE ? OR LOWER(abstract) LIKE ?")
		args = append(args, like, like)
	}
	if len(clauses) == 0 {
		return []domain.Paper{}, nil
	}

	var papers []domain.Paper
	err := r.db.WithContext(ctx).
		Where("("+strings.Join(clauses, " OR ")+")", args...).
		Where("(publish_date IS NULL OR publish_date >= ?)", since.UTC()).
		Order("citation_count DESC").Order("id ASC").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// Count returns the number of stored papers.
func (r *PaperRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Paper{}).Count(&n).Error
	return n, err
}

// CountWithEmbedding returns the number of papers carrying an embedding.
func (r *PaperRepository) CountWithEmbedding(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Paper{}).Where("embedding IS NOT NULL").Count(&n).Error
	return n, err
}
