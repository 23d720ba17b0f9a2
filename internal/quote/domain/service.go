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
	ErrNotFound         = errors.New("quote_not_found")
	ErrNotEditable      = errors.New("quote_not_editable")
	ErrAlreadySent      = errors.New("quote_already_sent")
	ErrNotSent          = errors.New("quote_not_sent")
	ErrAlreadyDecided   = errors.New("quote_already_decided")
	ErrExpired          = errors.New("quote_expired")
	ErrNotAccepted      = errors.New("quote_not_accepted")
	ErrConverted        = errors.New("quote_converted")
)

type LineItemInput struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
}

type CreateRequest struct {
	ClientID   string          `json:"client_id"`
	Items      []LineItemInput `json:"line_items"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
// When Items is present the totals are recomputed server-side and any
// client-supplied totals are ignored.
type UpdateRequest struct {
	Items      *[]LineItemInput `json:"line_items,omitempty"`
	TaxRate    *decimal.Decimal `json:"tax_rate,omitempty"`
	ValidUntil *time.Time       `json:"valid_until,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
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
	Quotes        []Quote `json:"quotes"`
	NextPageToken string  `json:"next_page_token,omitempty"`
	HasMore       bool    `json:"has_more"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Quote, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (*Quote, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Quote, error)
	Send(ctx context.Context, id string) (*Quote, error)
	MarkViewed(ctx context.Context, id string) (*Quote, error)
	Accept(ctx context.Context, id string) (*Quote, error)
	Reject(ctx context.Context, id string) (*Quote, error)
	Delete(ctx context.Context, id string) error
}
