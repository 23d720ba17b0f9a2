package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	"github.com/courtierpro/billing/internal/tenantctx"
	"github.com/courtierpro/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	clientrepo repository.Repository[clientdomain.Client]
}

func NewService(p ServiceParam) clientdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("client.service"),
		genID: p.GenID,

		clientrepo: repository.ProvideStore[clientdomain.Client](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req clientdomain.CreateRequest) (*clientdomain.Client, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, clientdomain.ErrInvalidTenant
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, clientdomain.ErrInvalidName
	}

	now := time.Now().UTC()
	record := &clientdomain.Client{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		Company:   strings.TrimSpace(req.Company),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.clientrepo.Create(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

func (s *Service) List(ctx context.Context, req clientdomain.ListRequest) ([]clientdomain.Client, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, clientdomain.ErrInvalidTenant
	}

	filter := &clientdomain.Client{
		TenantID: tenantID,
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
	}

	items, err := s.clientrepo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	clients := make([]clientdomain.Client, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		clients = append(clients, *item)
	}

	return clients, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*clientdomain.Client, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, clientdomain.ErrInvalidTenant
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, clientdomain.ErrNotFound
	}

	item, err := s.clientrepo.FindOne(ctx, &clientdomain.Client{ID: clientID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, clientdomain.ErrNotFound
	}

	return item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var referenced int64
	err = s.db.WithContext(ctx).
		Table("quotes").
		Where("tenant_id = ? AND client_id = ? AND deleted_at IS NULL", item.TenantID, item.ID).
		Count(&referenced).Error
	if err != nil {
		return err
	}
	if referenced == 0 {
		err = s.db.WithContext(ctx).
			Table("invoices").
			Where("tenant_id = ? AND client_id = ? AND deleted_at IS NULL", item.TenantID, item.ID).
			Count(&referenced).Error
		if err != nil {
			return err
		}
	}
	if referenced > 0 {
		return clientdomain.ErrHasDocuments
	}

	return s.clientrepo.Delete(ctx, item.ID.String())
}
