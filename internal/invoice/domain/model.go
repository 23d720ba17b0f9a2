// Package domain contains the invoice (facture) model, the payment
// ledger and lifecycle contracts. Status changes go through named
// transitions only; the ledger is authoritative once money has moved.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// Invoice is a billing document tracking amount owed and paid.
type Invoice struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_invoices_tenant_number,priority:1"`
	ClientID snowflake.ID `json:"client_id" gorm:"not null;index"`
	Number   string       `json:"number" gorm:"type:text;not null;uniqueIndex:ux_invoices_tenant_number,priority:2"`
	Status   Status       `json:"status" gorm:"type:text;not null;default:'draft'"`

	// QuoteID links back to the quote this invoice was converted from.
	QuoteID *snowflake.ID `json:"quote_id,omitempty" gorm:"index"`

	Items     []Item          `json:"line_items" gorm:"foreignKey:InvoiceID"`
	TaxRate   decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	Subtotal  decimal.Decimal `json:"subtotal" gorm:"type:numeric(14,2);not null"`
	TaxAmount decimal.Decimal `json:"tax_amount" gorm:"type:numeric(14,2);not null"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(14,2);not null"`

	AmountPaid decimal.Decimal `json:"amount_paid" gorm:"type:numeric(14,2);not null"`
	AmountDue  decimal.Decimal `json:"amount_due" gorm:"type:numeric(14,2);not null"`

	DueDate     *time.Time `json:"due_date,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	ExportedToAccounting bool       `json:"exported_to_accounting" gorm:"not null;default:false"`
	ExportedAt           *time.Time `json:"exported_at,omitempty"`

	// Version guards the payment rollup against lost updates; every
	// rollup write is a compare-and-swap on this column.
	Version int64 `json:"-" gorm:"not null;default:0"`

	CreatedBy snowflake.ID      `json:"created_by" gorm:"not null"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt    `json:"-" gorm:"index"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// EffectiveStatus derives the displayed status: a sent or partially
// paid invoice past its due date reads as overdue without a persisted
// write.
func (i Invoice) EffectiveStatus(now time.Time) Status {
	if i.Status != StatusSent && i.Status != StatusPartiallyPaid {
		return i.Status
	}
	if i.DueDate != nil && i.DueDate.Before(now) {
		return StatusOverdue
	}
	return i.Status
}

// Item is one priced row of an invoice.
type Item struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID    `json:"-" gorm:"not null;index"`
	InvoiceID   snowflake.ID    `json:"-" gorm:"not null;index"`
	Position    int             `json:"position" gorm:"not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(12,3);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	TaxRate     decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	CreatedAt   time.Time       `json:"-" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "invoice_items" }

// Payment is one recorded payment against an invoice. Rows are never
// updated or deleted; the invoice columns are the rollup.
type Payment struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID    `json:"-" gorm:"not null;index"`
	InvoiceID  snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Method     string          `json:"method" gorm:"type:text;not null"`
	Reference  string          `json:"reference" gorm:"type:text"`
	ReceivedAt time.Time       `json:"received_at" gorm:"not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "invoice_payments" }
