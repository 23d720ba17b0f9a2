// Package domain contains the quote (devis) model and lifecycle
// contracts. Status changes go through named transitions only.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status represents quote lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further action transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Quote is a pre-sale priced proposal document.
type Quote struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_quotes_tenant_number,priority:1"`
	ClientID snowflake.ID `json:"client_id" gorm:"not null;index"`
	Number   string       `json:"number" gorm:"type:text;not null;uniqueIndex:ux_quotes_tenant_number,priority:2"`
	Status   Status       `json:"status" gorm:"type:text;not null;default:'draft'"`

	Items     []Item          `json:"line_items" gorm:"foreignKey:QuoteID"`
	TaxRate   decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	Subtotal  decimal.Decimal `json:"subtotal" gorm:"type:numeric(14,2);not null"`
	TaxAmount decimal.Decimal `json:"tax_amount" gorm:"type:numeric(14,2);not null"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(14,2);not null"`

	ValidUntil *time.Time `json:"valid_until,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`

	// ConvertedInvoiceID is set once the accepted quote has been turned
	// into an invoice; a converted quote cannot be deleted.
	ConvertedInvoiceID *snowflake.ID `json:"converted_invoice_id,omitempty" gorm:"index"`

	CreatedBy snowflake.ID      `json:"created_by" gorm:"not null"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt    `json:"-" gorm:"index"`
}

// TableName sets the database table name.
func (Quote) TableName() string { return "quotes" }

// EffectiveStatus derives the displayed status: a non-terminal quote
// past its validity date reads as expired without a persisted write.
func (q Quote) EffectiveStatus(now time.Time) Status {
	if q.Status.Terminal() {
		return q.Status
	}
	if q.ValidUntil != nil && q.ValidUntil.Before(now) {
		return StatusExpired
	}
	return q.Status
}

// Item is one priced row of a quote.
type Item struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID    `json:"-" gorm:"not null;index"`
	QuoteID     snowflake.ID    `json:"-" gorm:"not null;index"`
	Position    int             `json:"position" gorm:"not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(12,3);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	TaxRate     decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	CreatedAt   time.Time       `json:"-" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "quote_items" }
