// Package domain contains the client (customer) model and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidName   = errors.New("invalid_name")
	ErrNotFound      = errors.New("client_not_found")
	ErrHasDocuments  = errors.New("client_has_documents")
)

// Client is a customer of a tenant, referenced by quotes and invoices.
type Client struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID   `json:"tenant_id" gorm:"not null;index"`
	Name      string         `json:"name" gorm:"type:text;not null"`
	Email     string         `json:"email" gorm:"type:text"`
	Company   string         `json:"company" gorm:"type:text"`
	Phone     string         `json:"phone" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

type CreateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}

type ListRequest struct {
	Name  string
	Email string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Client, error)
	List(ctx context.Context, req ListRequest) ([]Client, error)
	GetByID(ctx context.Context, id string) (*Client, error)
	Delete(ctx context.Context, id string) error
}
