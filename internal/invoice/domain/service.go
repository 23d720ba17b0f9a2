package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidClient    = errors.New("invalid_client")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrNotFound         = errors.New("invoice_not_found")
	ErrNotEditable      = errors.New("invoice_not_editable")
	ErrAlreadySent      = errors.New("invoice_already_sent")
	ErrCancelled        = errors.New("invoice_cancelled")
	ErrHasPayments      = errors.New("invoice_has_payments")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidMethod    = errors.New("invalid_method")
	ErrPaymentExceeds   = errors.New("payment_exceeds_total")
	ErrConcurrentUpdate = errors.New("concurrent_update")
	ErrAlreadyPaid      = errors.New("invoice_already_paid")
)

type LineItemInput struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
}

type CreateRequest struct {
	ClientID string          `json:"client_id"`
	Items    []LineItemInput `json:"line_items"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	DueDate  *time.Time      `json:"due_date,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
// When Items is present the totals are recomputed server-side and any
// client-supplied totals are ignored.
type UpdateRequest struct {
	Items    *[]LineItemInput `json:"line_items,omitempty"`
	TaxRate  *decimal.Decimal `json:"tax_rate,omitempty"`
	DueDate  *time.Time       `json:"due_date,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

type ListRequest struct {
	Status      *Status
	ClientID    *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	PageToken   string
	PageSize    int
}

type ListResponse struct {
	Invoices      []Invoice `json:"invoices"`
	NextPageToken string    `json:"next_page_token,omitempty"`
	HasMore       bool      `json:"has_more"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Invoice, error)
	// CreateFromQuote converts an accepted quote into a draft invoice
	// carrying its line items; at most one conversion per quote.
	CreateFromQuote(ctx context.Context, quoteID string) (*Invoice, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Invoice, error)
	Send(ctx context.Context, id string) (*Invoice, error)
	RecordPayment(ctx context.Context, id string, req RecordPaymentRequest) (*Invoice, error)
	ListPayments(ctx context.Context, id string) ([]Payment, error)
	Cancel(ctx context.Context, id string) (*Invoice, error)
	ExportToAccounting(ctx context.Context, id string) (*Invoice, error)
	Delete(ctx context.Context, id string) error
}
