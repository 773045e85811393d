// Package bookmarks tracks which posts and replies a user has saved.
// Bookmark state is fully independent of reaction state: toggling one never
// touches the other.
package bookmarks

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/models"
	"github.com/sajalbasnet/chautari/internal/reactions"
)

// Registry stores and lists saved targets.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Toggle flips the bookmark for (userID, target) and returns whether it is
// now set. Two calls return to the original state. A duplicate-key race gets
// one retry from a fresh read before ErrConflict.
func (r *Registry) Toggle(ctx context.Context, userID uint, target reactions.Target) (bool, error) {
	if userID == 0 {
		return false, apperr.ErrUnauthorized
	}
	if !target.Type.Valid() {
		return false, apperr.Invalid("unknown target type")
	}

	on, err := r.flip(ctx, userID, target)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		on, err = r.flip(ctx, userID, target)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, apperr.ErrConflict
		}
	}
	return on, err
}

func (r *Registry) flip(ctx context.Context, userID uint, target reactions.Target) (bool, error) {
	var on bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Bookmark
		err := tx.Where("user_id = ? AND target_type = ? AND target_id = ?",
			userID, target.Type, target.ID).Take(&row).Error
		switch {
		case err == nil:
			if err := tx.Delete(&row).Error; err != nil {
				return apperr.Storage(err)
			}
			on = false
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.Bookmark{UserID: userID, TargetType: target.Type, TargetID: target.ID}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return err
				}
				return apperr.Storage(err)
			}
			on = true
			return nil
		default:
			return apperr.Storage(err)
		}
	})
	if err != nil {
		return false, err
	}
	return on, nil
}

// List returns one page of the user's bookmarks of the given type, most
// recently saved first. page starts at 1. The read goes straight to the
// table, so a toggle in the same session is visible immediately.
func (r *Registry) List(ctx context.Context, userID uint, targetType models.TargetType, page, pageSize int) ([]models.Bookmark, error) {
	if userID == 0 {
		return nil, apperr.ErrUnauthorized
	}
	if !targetType.Valid() {
		return nil, apperr.Invalid("unknown target type")
	}
	if page < 1 || pageSize < 1 {
		return nil, apperr.Invalid("page and pageSize must be positive")
	}

	var rows []models.Bookmark
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ?", userID, targetType).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return rows, nil
}

// IsBookmarked reports whether the user has saved the target.
func (r *Registry) IsBookmarked(ctx context.Context, userID uint, target reactions.Target) (bool, error) {
	if userID == 0 {
		return false, apperr.ErrUnauthorized
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Bookmark{}).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, target.Type, target.ID).
		Count(&n).Error
	if err != nil {
		return false, apperr.Storage(err)
	}
	return n > 0, nil
}
