package numbering

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DocumentSequence is the per-tenant, per-prefix, per-year counter row
// backing document numbers. The formatted number on a document is
// immutable once assigned; this row is bookkeeping only.
type DocumentSequence struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  snowflake.ID `gorm:"not null;uniqueIndex:ux_document_sequences_scope,priority:1"`
	Prefix    string       `gorm:"type:text;not null;uniqueIndex:ux_document_sequences_scope,priority:2"`
	Year      int          `gorm:"not null;uniqueIndex:ux_document_sequences_scope,priority:3"`
	LastValue int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DocumentSequence) TableName() string { return "document_sequences" }
