// Package numbering assigns sequential document numbers scoped by
// (tenant, prefix, year), formatted as {PREFIX}-{year}-{seq:04d}.
//
// The counter row is advanced with a single UPDATE so concurrent
// creations in the same scope can never observe the same value; the
// first document of a new year starts a fresh row at 1.
package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/courtierpro/billing/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the document number sequencer.
var Module = fx.Module("numbering",
	fx.Provide(NewSequencer),
)

type Sequencer struct {
	genID *snowflake.Node
}

func NewSequencer(genID *snowflake.Node) *Sequencer {
	return &Sequencer{genID: genID}
}

// Next reserves the next sequence value within tx and returns the
// formatted document number. Callers run it inside the same transaction
// that inserts the document, so an aborted creation rolls the counter
// back with it.
func (s *Sequencer) Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, prefix string, year int) (string, error) {
	value, err := s.increment(ctx, tx, tenantID, prefix, year)
	if err != nil {
		return "", err
	}
	return Format(prefix, year, value), nil
}

// Format renders a document number from its parts.
func Format(prefix string, year int, value int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, value)
}

func (s *Sequencer) increment(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, prefix string, year int) (int64, error) {
	now := time.Now().UTC()

	res := tx.WithContext(ctx).
		Model(&DocumentSequence{}).
		Where("tenant_id = ? AND prefix = ? AND year = ?", tenantID, prefix, year).
		Updates(map[string]any{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		seed := &DocumentSequence{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			Prefix:    prefix,
			Year:      year,
			LastValue: 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := tx.WithContext(ctx).Create(seed).Error
		if err == nil {
			return 1, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return 0, err
		}
		// Lost the insert race; the row exists now, advance it.
		res = tx.WithContext(ctx).
			Model(&DocumentSequence{}).
			Where("tenant_id = ? AND prefix = ? AND year = ?", tenantID, prefix, year).
			Updates(map[string]any{
				"last_value": gorm.Expr("last_value + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return 0, res.Error
		}
	}

	// The UPDATE holds the row lock for the rest of the transaction, so
	// this read cannot see another writer's value.
	var current DocumentSequence
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND prefix = ? AND year = ?", tenantID, prefix, year).
		First(&current).Error
	if err != nil {
		return 0, err
	}

	return current.LastValue, nil
}
