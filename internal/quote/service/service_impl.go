package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	"github.com/courtierpro/billing/internal/clock"
	"github.com/courtierpro/billing/internal/config"
	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	"github.com/courtierpro/billing/internal/metrics"
	"github.com/courtierpro/billing/internal/money"
	"github.com/courtierpro/billing/internal/numbering"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	"github.com/courtierpro/billing/internal/tenantctx"
	"github.com/courtierpro/billing/pkg/db/option"
	"github.com/courtierpro/billing/pkg/db/pagination"
	"github.com/courtierpro/billing/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	Sequencer  *numbering.Sequencer
	FeatureSvc featuredomain.Service
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	genID      *snowflake.Node
	clock      clock.Clock
	sequencer  *numbering.Sequencer
	featureSvc featuredomain.Service
	metrics    *metrics.Metrics

	quoterepo  repository.Repository[quotedomain.Quote]
	clientrepo repository.Repository[clientdomain.Client]
}

func NewService(p ServiceParam) quotedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quote.service"),
		cfg:        p.Cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		sequencer:  p.Sequencer,
		featureSvc: p.FeatureSvc,
		metrics:    p.Metrics,

		quoterepo:  repository.ProvideStore[quotedomain.Quote](p.DB),
		clientrepo: repository.ProvideStore[clientdomain.Client](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req quotedomain.CreateRequest) (*quotedomain.Quote, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, quotedomain.ErrInvalidTenant
	}

	now := s.clock.Now()
	year := now.Year()

	if err := s.featureSvc.CheckFeature(ctx, featuredomain.FeatureQuotes); err != nil {
		return nil, err
	}
	if err := s.featureSvc.CheckQuota(ctx, featuredomain.FeatureQuotes, year); err != nil {
		return nil, err
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		return nil, quotedomain.ErrInvalidClient
	}
	cli, err := s.clientrepo.FindOne(ctx, &clientdomain.Client{ID: clientID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if cli == nil {
		return nil, quotedomain.ErrInvalidClient
	}

	lines := toMoneyLines(req.Items, req.TaxRate)
	totals, err := money.ComputeTotals(lines, req.TaxRate)
	if err != nil {
		return nil, err
	}

	record := &quotedomain.Quote{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		ClientID:   clientID,
		Status:     quotedomain.StatusDraft,
		TaxRate:    req.TaxRate,
		Subtotal:   totals.Subtotal,
		TaxAmount:  totals.TaxAmount,
		Total:      totals.Total,
		ValidUntil: req.ValidUntil,
		Metadata:   datatypes.JSONMap(req.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if userID, ok := tenantctx.UserID(ctx); ok {
		record.CreatedBy = userID
	}
	record.Items = buildItems(s.genID, tenantID, record.ID, lines, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.sequencer.Next(ctx, tx, tenantID, s.cfg.QuotePrefix, year)
		if err != nil {
			return err
		}
		record.Number = number
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DocumentsCreated.WithLabelValues("quote").Inc()
	}

	s.log.Info("quote created",
		zap.String("quote_id", record.ID.String()),
		zap.String("number", record.Number),
	)

	return s.withEffectiveStatus(record), nil
}

func (s *Service) List(ctx context.Context, req quotedomain.ListRequest) (quotedomain.ListResponse, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return quotedomain.ListResponse{}, quotedomain.ErrInvalidTenant
	}

	filter := &quotedomain.Quote{TenantID: tenantID}
	if req.ClientID != nil {
		clientID, err := snowflake.ParseString(strings.TrimSpace(*req.ClientID))
		if err != nil {
			return quotedomain.ListResponse{}, quotedomain.ErrInvalidClient
		}
		filter.ClientID = clientID
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	opts := []option.QueryOption{
		option.WithPreload("Items"),
		option.WithOrder("created_at DESC, id DESC"),
		option.WithLimit(pageSize + 1),
	}
	if req.CreatedFrom != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.CreatedFrom,
		}))
	}
	if req.CreatedTo != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.CreatedTo,
		}))
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return quotedomain.ListResponse{}, quotedomain.ErrInvalidPageToken
		}
		before, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return quotedomain.ListResponse{}, quotedomain.ErrInvalidPageToken
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return quotedomain.ListResponse{}, quotedomain.ErrInvalidPageToken
		}
		opts = append(opts, option.BeforeKeyset("created_at", "id", before, beforeID))
	}

	items, err := s.quoterepo.Find(ctx, filter, opts...)
	if err != nil {
		return quotedomain.ListResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(q *quotedomain.Quote) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        q.ID.String(),
			CreatedAt: q.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})

	now := s.clock.Now()
	quotes := make([]quotedomain.Quote, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		q := *item
		q.Status = q.EffectiveStatus(now)
		quotes = append(quotes, q)
	}

	resp := quotedomain.ListResponse{Quotes: quotes, HasMore: pageInfo.HasMore}
	if pageInfo.HasMore {
		resp.NextPageToken = pageInfo.NextPageToken
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*quotedomain.Quote, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withEffectiveStatus(record), nil
}

func (s *Service) Update(ctx context.Context, id string, req quotedomain.UpdateRequest) (*quotedomain.Quote, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if record.Status.Terminal() || record.EffectiveStatus(now) == quotedomain.StatusExpired {
		return nil, quotedomain.ErrNotEditable
	}

	taxRate := record.TaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}

	lines := toMoneyLinesFromItems(record.Items, taxRate)
	replaceItems := req.Items != nil
	if replaceItems {
		lines = toMoneyLines(*req.Items, taxRate)
	}

	totals, err := money.ComputeTotals(lines, taxRate)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replaceItems {
			if err := tx.Where("quote_id = ?", record.ID).Delete(&quotedomain.Item{}).Error; err != nil {
				return err
			}
			record.Items = buildItems(s.genID, record.TenantID, record.ID, lines, now)
			if err := tx.Create(&record.Items).Error; err != nil {
				return err
			}
		}

		updates := map[string]any{
			"tax_rate":   taxRate,
			"subtotal":   totals.Subtotal,
			"tax_amount": totals.TaxAmount,
			"total":      totals.Total,
			"updated_at": now,
		}
		if req.ValidUntil != nil {
			updates["valid_until"] = *req.ValidUntil
		}
		if req.Metadata != nil {
			updates["metadata"] = datatypes.JSONMap(req.Metadata)
		}
		return tx.Model(&quotedomain.Quote{}).Where("id = ?", record.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *Service) Send(ctx context.Context, id string) (*quotedomain.Quote, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, quotedomain.ErrAlreadyDecided
	}
	if record.Status != quotedomain.StatusDraft {
		return nil, quotedomain.ErrAlreadySent
	}

	now := s.clock.Now()
	err = s.quoterepo.Update(ctx, record.ID.String(), map[string]any{
		"status":     quotedomain.StatusSent,
		"sent_at":    now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *Service) MarkViewed(ctx context.Context, id string) (*quotedomain.Quote, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, quotedomain.ErrAlreadyDecided
	}
	if record.Status == quotedomain.StatusViewed {
		return s.withEffectiveStatus(record), nil
	}
	if record.Status != quotedomain.StatusSent {
		return nil, quotedomain.ErrNotSent
	}

	now := s.clock.Now()
	err = s.quoterepo.Update(ctx, record.ID.String(), map[string]any{
		"status":     quotedomain.StatusViewed,
		"viewed_at":  now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *Service) Accept(ctx context.Context, id string) (*quotedomain.Quote, error) {
	return s.decide(ctx, id, quotedomain.StatusAccepted)
}

func (s *Service) Reject(ctx context.Context, id string) (*quotedomain.Quote, error) {
	return s.decide(ctx, id, quotedomain.StatusRejected)
}

func (s *Service) decide(ctx context.Context, id string, decision quotedomain.Status) (*quotedomain.Quote, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, quotedomain.ErrAlreadyDecided
	}
	now := s.clock.Now()
	if record.EffectiveStatus(now) == quotedomain.StatusExpired {
		return nil, quotedomain.ErrExpired
	}

	err = s.quoterepo.Update(ctx, record.ID.String(), map[string]any{
		"status":     decision,
		"decided_at": now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quote decided",
		zap.String("quote_id", record.ID.String()),
		zap.String("status", string(decision)),
	)

	return s.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if record.ConvertedInvoiceID != nil {
		return quotedomain.ErrConverted
	}

	return s.quoterepo.Delete(ctx, record.ID.String())
}

func (s *Service) load(ctx context.Context, id string) (*quotedomain.Quote, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, quotedomain.ErrInvalidTenant
	}

	quoteID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, quotedomain.ErrNotFound
	}

	record, err := s.quoterepo.FindOne(ctx,
		&quotedomain.Quote{ID: quoteID, TenantID: tenantID},
		option.WithPreload("Items"),
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, quotedomain.ErrNotFound
	}

	return record, nil
}

func (s *Service) withEffectiveStatus(record *quotedomain.Quote) *quotedomain.Quote {
	q := *record
	q.Status = q.EffectiveStatus(s.clock.Now())
	return &q
}

func toMoneyLines(items []quotedomain.LineItemInput, documentRate decimal.Decimal) []money.Line {
	lines := make([]money.Line, 0, len(items))
	for _, item := range items {
		rate := documentRate
		if item.TaxRate != nil {
			rate = *item.TaxRate
		}
		lines = append(lines, money.Line{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     rate,
		})
	}
	return lines
}

func toMoneyLinesFromItems(items []quotedomain.Item, documentRate decimal.Decimal) []money.Line {
	lines := make([]money.Line, 0, len(items))
	for _, item := range items {
		rate := item.TaxRate
		if rate.IsZero() {
			rate = documentRate
		}
		lines = append(lines, money.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     rate,
		})
	}
	return lines
}

func buildItems(genID *snowflake.Node, tenantID, quoteID snowflake.ID, lines []money.Line, now time.Time) []quotedomain.Item {
	items := make([]quotedomain.Item, 0, len(lines))
	for i, line := range lines {
		items = append(items, quotedomain.Item{
			ID:          genID.Generate(),
			TenantID:    tenantID,
			QuoteID:     quoteID,
			Position:    i + 1,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TaxRate:     line.TaxRate,
			CreatedAt:   now,
		})
	}
	return items
}
