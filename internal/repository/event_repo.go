package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/paperpilot/internal/domain"
)

// SearchEventRepository appends search log rows.
type SearchEventRepository struct {
	db *gorm.DB
}

func NewSearchEventRepository(db *gorm.DB) *SearchEventRepository {
	return &SearchEventRepository{db: db}
}

// Create inserts ev. Events are never updated.
func (r *SearchEventRepository) Create(ctx context.Context, ev *domain.SearchEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// CountSince returns the number of searches logged since t.
func (r *SearchEventRepository) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.SearchEvent{}).Where("created_at >= ?", t).Count(&n).Error
	return n, err
}

// TrendRepository stores trend reports.
type TrendRepository struct {
	db *gorm.DB
}

func NewTrendRepository(db *gorm.DB) *TrendRepository {
	return &TrendRepository{db: db}
}

func (r *TrendRepository) Create(ctx context.Context, report *domain.TrendReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// SetArchiveKey records where the report JSON was archived.
func (r *TrendRepository) SetArchiveKey(ctx context.Context, id uint, key string) error {
	return r.db.WithContext(ctx).Model(&domain.TrendReport{}).Where("id = ?", id).Update("archive_key", key).Error
}

// Latest returns the most recent report or domain.ErrNotFound.
func (r *TrendRepository) Latest(ctx context.Context) (*domain.TrendReport, error) {
	var report domain.TrendReport
	err := r.db.WithContext(ctx).Order("analysis_date DESC").Order("id DESC").First(&report).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &report, nil
}

// List returns up to limit reports, newest first.
func (r *TrendRepository) List(ctx context.Context, limit int) ([]domain.TrendReport, error) {
	var reports []domain.TrendReport
	err := r.db.WithContext(ctx).Order("analysis_date DESC").Order("id DESC").Limit(limit).Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// JobRunRepository tracks background job executions.
type JobRunRepository struct {
	db *gorm.DB
}

func NewJobRunRepository(db *gorm.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

func (r *JobRunRepository) Create(ctx context.Context, run *domain.JobRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *JobRunRepository) Update(ctx context.Context, run *domain.JobRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *JobRunRepository) GetByID(ctx context.Context, id string) (*domain.JobRun, error) {
	var run domain.JobRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListRecent returns up to limit runs, newest first, optionally filtered by kind.
func (r *JobRunRepository) ListRecent(ctx context.Context, kind string, limit int) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
