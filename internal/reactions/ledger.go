// Package reactions implements the vote ledger and the derived score
// aggregate. The ledger stores at most one row per (user, target); the
// aggregate columns on the target row are maintained in the same
// transaction, so the two can never diverge.
package reactions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/models"
)

// Target identifies the post or reply a reaction applies to.
type Target struct {
	Type models.TargetType `json:"targetType"`
	ID   uint              `json:"targetId"`
}

// Desired reaction states accepted by SetReaction.
const (
	DesiredUp   = "up"
	DesiredDown = "down"
	DesiredNone = "none"
)

// Result reports the state transition and the aggregate after it, so the
// caller can update its view without a follow-up read.
type Result struct {
	Previous  string           `json:"previous"`
	Current   string           `json:"current"`
	Delta     Delta            `json:"delta"`
	Aggregate models.Aggregate `json:"aggregate"`
}

// Service is the reaction ledger.
type Service struct {
	db    *gorm.DB
	agg   *Aggregator
	locks keyMutex
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, agg: NewAggregator(db)}
}

// Aggregator exposes the read side for callers that only need scores.
func (s *Service) Aggregator() *Aggregator {
	return s.agg
}

// SetReaction records userID's desired vote on target. Asking for the value
// already stored retracts it (second click on the same button). The ledger
// row and the aggregate columns change in one transaction; on a duplicate-key
// race the operation is retried once from a fresh read before giving up with
// ErrConflict.
func (s *Service) SetReaction(ctx context.Context, userID uint, target Target, desired string) (Result, error) {
	if userID == 0 {
		return Result{}, apperr.ErrUnauthorized
	}
	if !target.Type.Valid() {
		return Result{}, apperr.Invalid("unknown target type")
	}
	desiredVal, ok := parseDesired(desired)
	if !ok {
		return Result{}, apperr.Invalid("desired must be up, down or none")
	}

	// Serialize per identity so no call commits over another's stale read.
	// Unrelated identities land on other shards and do not block.
	mu := s.locks.lock(fmt.Sprintf("%d/%s/%d", userID, target.Type, target.ID))
	defer mu.Unlock()

	res, err := s.apply(ctx, userID, target, desiredVal)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		res, err = s.apply(ctx, userID, target, desiredVal)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Result{}, apperr.ErrConflict
		}
	}
	return res, err
}

// apply runs one read-compute-write cycle in a transaction.
func (s *Service) apply(ctx context.Context, userID uint, target Target, desiredVal int) (Result, error) {
	var out Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := targetExists(tx, target); err != nil {
			return err
		}

		var row models.Reaction
		prev := 0
		found := true
		err := tx.Where("user_id = ? AND target_type = ? AND target_id = ?",
			userID, target.Type, target.ID).Take(&row).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Storage(err)
			}
			found = false
		} else {
			prev = row.Value
		}

		next := desiredVal
		if next == prev {
			// Same button pressed again: retract.
			next = 0
		}

		switch {
		case next == 0 && found:
			if err := tx.Delete(&row).Error; err != nil {
				return apperr.Storage(err)
			}
		case next != 0 && !found:
			row = models.Reaction{
				UserID:     userID,
				TargetType: target.Type,
				TargetID:   target.ID,
				Value:      next,
			}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return err // retried by the caller with a fresh read
				}
				return apperr.Storage(err)
			}
		case next != 0 && found:
			if err := tx.Model(&row).Update("value", next).Error; err != nil {
				return apperr.Storage(err)
			}
		}

		d := Delta{
			Upvotes:   countOf(next, models.ValueUp) - countOf(prev, models.ValueUp),
			Downvotes: countOf(next, models.ValueDown) - countOf(prev, models.ValueDown),
		}
		agg, err := s.agg.ApplyDelta(tx, target, d)
		if err != nil {
			return err // rolls back the ledger change with it
		}

		out = Result{
			Previous:  stateName(prev),
			Current:   stateName(next),
			Delta:     d,
			Aggregate: agg,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// Current returns the stored reaction state for one identity, "none" when no
// row exists.
func (s *Service) Current(ctx context.Context, userID uint, target Target) (string, error) {
	if userID == 0 {
		return "", apperr.ErrUnauthorized
	}
	var row models.Reaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, target.Type, target.ID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DesiredNone, nil
		}
		return "", apperr.Storage(err)
	}
	return stateName(row.Value), nil
}

// targetExists pins the target row for the rest of the transaction. Under
// postgres the SELECT takes FOR UPDATE, so two server instances flipping the
// same identity serialize on the row instead of double-applying a delta from
// the same stale read. SQLite rejects the syntax and needs no lock: it has a
// single writer per database.
func targetExists(tx *gorm.DB, target Target) error {
	q := tx.Select("id")
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var id uint
	var err error
	switch target.Type {
	case models.TargetPost:
		err = q.Model(&models.Post{}).Where("id = ?", target.ID).Take(&id).Error
	case models.TargetReply:
		err = q.Model(&models.Reply{}).Where("id = ?", target.ID).Take(&id).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return apperr.Storage(err)
	}
	return nil
}

func parseDesired(s string) (int, bool) {
	switch s {
	case DesiredUp:
		return models.ValueUp, true
	case DesiredDown:
		return models.ValueDown, true
	case DesiredNone:
		return 0, true
	}
	return 0, false
}

func stateName(v int) string {
	switch v {
	case models.ValueUp:
		return DesiredUp
	case models.ValueDown:
		return DesiredDown
	}
	return DesiredNone
}

func countOf(v, which int) int64 {
	if v == which {
		return 1
	}
	return 0
}
