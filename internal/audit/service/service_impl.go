package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/courtierpro/billing/internal/audit/domain"
	"github.com/courtierpro/billing/internal/tenantctx"
	"github.com/courtierpro/billing/pkg/db/option"
	"github.com/courtierpro/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node

	auditrepo repository.Repository[auditdomain.Entry]
}

func NewService(p ServiceParam) auditdomain.Service {
	return &Service{
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,

		auditrepo: repository.ProvideStore[auditdomain.Entry](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, action, targetType string, targetID *string, metadata map[string]any) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil
	}

	var actorID *snowflake.ID
	if userID, ok := tenantctx.UserID(ctx); ok && userID != 0 {
		actorID = &userID
	}

	entry := &auditdomain.Entry{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     strings.TrimSpace(action),
		TargetType: strings.TrimSpace(targetType),
		TargetID:   targetID,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.auditrepo.Create(ctx, entry); err != nil {
		// Audit failures never fail the business operation.
		s.log.Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}

	return nil
}

func (s *Service) List(ctx context.Context, targetType string, targetID string) ([]auditdomain.Entry, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, nil
	}

	filter := &auditdomain.Entry{
		TenantID:   tenantID,
		TargetType: strings.TrimSpace(targetType),
	}
	if id := strings.TrimSpace(targetID); id != "" {
		filter.TargetID = &id
	}

	items, err := s.auditrepo.Find(ctx, filter, option.WithOrder("created_at DESC"))
	if err != nil {
		return nil, err
	}

	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	return entries, nil
}
