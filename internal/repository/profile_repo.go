package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/paperpilot/internal/domain"
)

// ProfileRepository handles user interest profiles.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the profile of userID or domain.ErrNotFound.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*domain.UserInterestProfile, error) {
	var p domain.UserInterestProfile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Update loads (or lazily creates) the profile of userID under a row lock,
// applies fn and writes the result, all in one transaction. When fn returns
// an error nothing is written.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: profile owner.
//   - fn: mutation applied to the locked profile; tx is the open transaction.
//
// Returns:
//   - *domain.UserInterestProfile: the stored profile after fn.
//   - error: fn's error or a database error.
func (r *ProfileRepository) Update(ctx context.Context, userID string, fn func(tx *gorm.DB, p *domain.UserInterestProfile) error) (*domain.UserInterestProfile, error) {
	var out *domain.UserInterestProfile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.UserInterestProfile
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.First(&p, "user_id = ?", userID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = *domain.NewUserInterestProfile(userID)
		case err != nil:
			return err
		}

		if err := fn(tx, &p); err != nil {
			return err
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
