package reactions

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/models"
)

// Delta is the adjustment a ledger change makes to a target's vote counts.
// Both fields are applied together; readers never see one without the other.
type Delta struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}

// Aggregator owns the upvotes/downvotes/score columns on posts and replies.
// Nothing else writes them; the ledger calls ApplyDelta inside its own
// transaction so ledger and aggregate commit or roll back as one.
type Aggregator struct {
	db *gorm.DB
}

func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// ApplyDelta adjusts the target's counts in place and returns the new triple.
// Must be called with the transaction the ledger change runs in.
func (a *Aggregator) ApplyDelta(tx *gorm.DB, target Target, d Delta) (models.Aggregate, error) {
	updates := map[string]interface{}{
		"upvotes":   gorm.Expr("upvotes + ?", d.Upvotes),
		"downvotes": gorm.Expr("downvotes + ?", d.Downvotes),
		"score":     gorm.Expr("score + ?", d.Upvotes-d.Downvotes),
	}

	// UpdateColumns: a vote is not an edit, so the post's updated_at stays.
	var res *gorm.DB
	switch target.Type {
	case models.TargetPost:
		res = tx.Model(&models.Post{}).Where("id = ?", target.ID).UpdateColumns(updates)
	case models.TargetReply:
		res = tx.Model(&models.Reply{}).Where("id = ?", target.ID).UpdateColumns(updates)
	default:
		return models.Aggregate{}, apperr.Invalid("unknown target type")
	}
	if res.Error != nil {
		return models.Aggregate{}, apperr.Storage(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Aggregate{}, apperr.ErrNotFound
	}

	return a.readAggregate(tx, target)
}

// Get returns the current triple for a target. The read goes straight to the
// row, so a vote committed by SetReaction is visible to the next Get.
func (a *Aggregator) Get(ctx context.Context, target Target) (models.Aggregate, error) {
	if !target.Type.Valid() {
		return models.Aggregate{}, apperr.Invalid("unknown target type")
	}
	return a.readAggregate(a.db.WithContext(ctx), target)
}

func (a *Aggregator) readAggregate(tx *gorm.DB, target Target) (models.Aggregate, error) {
	var agg models.Aggregate
	q := tx.Select("upvotes", "downvotes", "score").Where("id = ?", target.ID)
	var err error
	if target.Type == models.TargetPost {
		err = q.Model(&models.Post{}).Take(&agg).Error
	} else {
		err = q.Model(&models.Reply{}).Take(&agg).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Aggregate{}, apperr.ErrNotFound
		}
		return models.Aggregate{}, apperr.Storage(err)
	}
	return agg, nil
}
