package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	authdomain "github.com/courtierpro/billing/internal/auth/domain"
	"github.com/courtierpro/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log *zap.Logger

	tokenrepo repository.Repository[authdomain.APIToken]
}

func NewService(p ServiceParam) authdomain.Service {
	return &Service{
		log: p.Log.Named("auth.service"),

		tokenrepo: repository.ProvideStore[authdomain.APIToken](p.DB),
	}
}

func (s *Service) Authenticate(ctx context.Context, token string) (authdomain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return authdomain.Identity{}, authdomain.ErrInvalidToken
	}

	record, err := s.tokenrepo.FindOne(ctx, &authdomain.APIToken{TokenHash: HashToken(token)})
	if err != nil {
		return authdomain.Identity{}, err
	}
	if record == nil {
		return authdomain.Identity{}, authdomain.ErrInvalidToken
	}
	if record.RevokedAt != nil {
		return authdomain.Identity{}, authdomain.ErrTokenRevoked
	}

	now := time.Now().UTC()
	_ = s.tokenrepo.Update(ctx, record.ID.String(), map[string]any{"last_used_at": now})

	return authdomain.Identity{
		UserID:   record.UserID,
		TenantID: record.TenantID,
	}, nil
}

// HashToken returns the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
