// Package domain defines the identity contract the HTTP surface
// depends on: a bearer credential resolves to a user and its active
// tenant membership, or the request is unauthenticated.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenRevoked = errors.New("token_revoked")
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID   snowflake.ID
	TenantID snowflake.ID
}

// APIToken is a long-lived bearer credential bound to one tenant.
// Only the SHA-256 of the token material is stored.
type APIToken struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   snowflake.ID `gorm:"not null;index"`
	UserID     snowflake.ID `gorm:"not null;index"`
	TokenHash  string       `gorm:"type:text;not null;uniqueIndex"`
	Name       string       `gorm:"type:text;not null"`
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIToken) TableName() string { return "api_tokens" }

type Service interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}
