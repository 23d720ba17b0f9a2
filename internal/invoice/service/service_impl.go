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
	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
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

	invoicerepo repository.Repository[invoicedomain.Invoice]
	paymentrepo repository.Repository[invoicedomain.Payment]
	quoterepo   repository.Repository[quotedomain.Quote]
	clientrepo  repository.Repository[clientdomain.Client]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		cfg:        p.Cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		sequencer:  p.Sequencer,
		featureSvc: p.FeatureSvc,
		metrics:    p.Metrics,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		paymentrepo: repository.ProvideStore[invoicedomain.Payment](p.DB),
		quoterepo:   repository.ProvideStore[quotedomain.Quote](p.DB),
		clientrepo:  repository.ProvideStore[clientdomain.Client](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateRequest) (*invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		return nil, invoicedomain.ErrInvalidClient
	}
	cli, err := s.clientrepo.FindOne(ctx, &clientdomain.Client{ID: clientID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if cli == nil {
		return nil, invoicedomain.ErrInvalidClient
	}

	lines := toMoneyLines(req.Items, req.TaxRate)
	return s.create(ctx, tenantID, clientID, nil, lines, req.TaxRate, req.DueDate, req.Metadata)
}

func (s *Service) CreateFromQuote(ctx context.Context, quoteID string) (*invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}

	parsed, err := snowflake.ParseString(strings.TrimSpace(quoteID))
	if err != nil {
		return nil, quotedomain.ErrNotFound
	}

	source, err := s.quoterepo.FindOne(ctx,
		&quotedomain.Quote{ID: parsed, TenantID: tenantID},
		option.WithPreload("Items"),
	)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, quotedomain.ErrNotFound
	}
	if source.Status != quotedomain.StatusAccepted {
		return nil, quotedomain.ErrNotAccepted
	}
	if source.ConvertedInvoiceID != nil {
		return nil, quotedomain.ErrConverted
	}

	lines := make([]money.Line, 0, len(source.Items))
	for _, item := range source.Items {
		lines = append(lines, money.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     item.TaxRate,
		})
	}

	return s.create(ctx, tenantID, source.ClientID, &source.ID, lines, source.TaxRate, nil, nil)
}

func (s *Service) create(
	ctx context.Context,
	tenantID, clientID snowflake.ID,
	quoteID *snowflake.ID,
	lines []money.Line,
	taxRate decimal.Decimal,
	dueDate *time.Time,
	metadata map[string]any,
) (*invoicedomain.Invoice, error) {
	now := s.clock.Now()
	year := now.Year()

	if err := s.featureSvc.CheckFeature(ctx, featuredomain.FeatureInvoices); err != nil {
		return nil, err
	}
	if err := s.featureSvc.CheckQuota(ctx, featuredomain.FeatureInvoices, year); err != nil {
		return nil, err
	}

	totals, err := money.ComputeTotals(lines, taxRate)
	if err != nil {
		return nil, err
	}

	record := &invoicedomain.Invoice{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		ClientID:   clientID,
		QuoteID:    quoteID,
		Status:     invoicedomain.StatusDraft,
		TaxRate:    taxRate,
		Subtotal:   totals.Subtotal,
		TaxAmount:  totals.TaxAmount,
		Total:      totals.Total,
		AmountPaid: decimal.Zero,
		AmountDue:  totals.Total,
		DueDate:    dueDate,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if userID, ok := tenantctx.UserID(ctx); ok {
		record.CreatedBy = userID
	}
	record.Items = buildItems(s.genID, tenantID, record.ID, lines, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.sequencer.Next(ctx, tx, tenantID, s.cfg.InvoicePrefix, year)
		if err != nil {
			return err
		}
		record.Number = number
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if quoteID == nil {
			return nil
		}
		// Claiming the quote shares the invoice transaction. The NULL
		// guard makes the claim first-writer-wins: a rival conversion
		// that already set the marker rolls this invoice back.
		res := tx.Model(&quotedomain.Quote{}).
			Where("id = ? AND tenant_id = ? AND converted_invoice_id IS NULL", *quoteID, tenantID).
			Updates(map[string]any{
				"converted_invoice_id": record.ID,
				"updated_at":           now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return quotedomain.ErrConverted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DocumentsCreated.WithLabelValues("invoice").Inc()
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", record.ID.String()),
		zap.String("number", record.Number),
	)

	return s.withEffectiveStatus(record), nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) (invoicedomain.ListResponse, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidTenant
	}

	filter := &invoicedomain.Invoice{TenantID: tenantID}
	if req.ClientID != nil {
		clientID, err := snowflake.ParseString(strings.TrimSpace(*req.ClientID))
		if err != nil {
			return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidClient
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
			return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidPageToken
		}
		before, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidPageToken
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidPageToken
		}
		opts = append(opts, option.BeforeKeyset("created_at", "id", before, beforeID))
	}

	items, err := s.invoicerepo.Find(ctx, filter, opts...)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(i *invoicedomain.Invoice) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        i.ID.String(),
			CreatedAt: i.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})

	now := s.clock.Now()
	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		inv := *item
		inv.Status = inv.EffectiveStatus(now)
		invoices = append(invoices, inv)
	}

	resp := invoicedomain.ListResponse{Invoices: invoices, HasMore: pageInfo.HasMore}
	if pageInfo.HasMore {
		resp.NextPageToken = pageInfo.NextPageToken
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withEffectiveStatus(record), nil
}

func (s *Service) Update(ctx context.Context, id string, req invoicedomain.UpdateRequest) (*invoicedomain.Invoice, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status == invoicedomain.StatusCancelled {
		return nil, invoicedomain.ErrCancelled
	}

	now := s.clock.Now()
	moneyEdit := req.Items != nil || req.TaxRate != nil
	if moneyEdit && record.AmountPaid.IsPositive() {
		// Totals cannot change under recorded payments.
		return nil, invoicedomain.ErrNotEditable
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
			if err := tx.Where("invoice_id = ?", record.ID).Delete(&invoicedomain.Item{}).Error; err != nil {
				return err
			}
			record.Items = buildItems(s.genID, record.TenantID, record.ID, lines, now)
			if err := tx.Create(&record.Items).Error; err != nil {
				return err
			}
		}

		updates := map[string]any{
			"updated_at": now,
		}
		if moneyEdit {
			updates["tax_rate"] = taxRate
			updates["subtotal"] = totals.Subtotal
			updates["tax_amount"] = totals.TaxAmount
			updates["total"] = totals.Total
			updates["amount_due"] = totals.Total.Sub(record.AmountPaid)
		}
		if req.DueDate != nil {
			updates["due_date"] = *req.DueDate
		}
		if req.Metadata != nil {
			updates["metadata"] = datatypes.JSONMap(req.Metadata)
		}
		return tx.Model(&invoicedomain.Invoice{}).Where("id = ?", record.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *Service) Send(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case invoicedomain.StatusCancelled:
		return nil, invoicedomain.ErrCancelled
	case invoicedomain.StatusDraft:
	default:
		return nil, invoicedomain.ErrAlreadySent
	}

	now := s.clock.Now()
	err = s.invoicerepo.Update(ctx, record.ID.String(), map[string]any{
		"status":     invoicedomain.StatusSent,
		"sent_at":    now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// RecordPayment applies a payment to the invoice rollup. The payment
// row insert and the rollup compare-and-swap share one transaction, so
// two simultaneous payments cannot both read the same amount_paid and
// silently drop one of them.
func (s *Service) RecordPayment(ctx context.Context, id string, req invoicedomain.RecordPaymentRequest) (*invoicedomain.Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return nil, invoicedomain.ErrInvalidMethod
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status == invoicedomain.StatusCancelled {
		return nil, invoicedomain.ErrCancelled
	}
	if record.Status == invoicedomain.StatusPaid {
		return nil, invoicedomain.ErrAlreadyPaid
	}

	newPaid := record.AmountPaid.Add(req.Amount)
	if newPaid.GreaterThan(record.Total) {
		return nil, invoicedomain.ErrPaymentExceeds
	}
	newDue := record.Total.Sub(newPaid)

	now := s.clock.Now()
	status := invoicedomain.StatusPartiallyPaid
	updates := map[string]any{
		"amount_paid": newPaid,
		"amount_due":  newDue,
		"version":     record.Version + 1,
		"updated_at":  now,
	}
	if newDue.IsZero() {
		status = invoicedomain.StatusPaid
		updates["paid_at"] = now
	}
	updates["status"] = status

	payment := &invoicedomain.Payment{
		ID:         s.genID.Generate(),
		TenantID:   record.TenantID,
		InvoiceID:  record.ID,
		Amount:     req.Amount,
		Method:     method,
		Reference:  strings.TrimSpace(req.Reference),
		ReceivedAt: now,
		CreatedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		res := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ? AND tenant_id = ? AND version = ?", record.ID, record.TenantID, record.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return invoicedomain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentsRecorded.Inc()
	}

	s.log.Info("payment recorded",
		zap.String("invoice_id", record.ID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("status", string(status)),
	)

	return s.GetByID(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, id string) ([]invoicedomain.Payment, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.paymentrepo.Find(ctx,
		&invoicedomain.Payment{TenantID: record.TenantID, InvoiceID: record.ID},
		option.WithOrder("received_at ASC, id ASC"),
	)
	if err != nil {
		return nil, err
	}

	payments := make([]invoicedomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	return payments, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status == invoicedomain.StatusCancelled {
		return nil, invoicedomain.ErrCancelled
	}
	if record.AmountPaid.IsPositive() {
		return nil, invoicedomain.ErrHasPayments
	}

	now := s.clock.Now()
	err = s.invoicerepo.Update(ctx, record.ID.String(), map[string]any{
		"status":       invoicedomain.StatusCancelled,
		"cancelled_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// ExportToAccounting marks the invoice as handed to the accounting
// integration. Calling it again only refreshes the export timestamp.
func (s *Service) ExportToAccounting(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	if err := s.featureSvc.CheckFeature(ctx, featuredomain.FeatureAccounting); err != nil {
		return nil, err
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.invoicerepo.Update(ctx, record.ID.String(), map[string]any{
		"exported_to_accounting": true,
		"exported_at":            now,
		"updated_at":             now,
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if record.AmountPaid.IsPositive() {
		return invoicedomain.ErrHasPayments
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.QuoteID != nil {
			// Unblock the source quote's delete guard.
			err := tx.Model(&quotedomain.Quote{}).
				Where("id = ? AND tenant_id = ? AND converted_invoice_id = ?",
					*record.QuoteID, record.TenantID, record.ID).
				Update("converted_invoice_id", nil).Error
			if err != nil {
				return err
			}
		}
		return tx.Where("id = ?", record.ID).Delete(&invoicedomain.Invoice{}).Error
	})
}

func (s *Service) load(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	record, err := s.invoicerepo.FindOne(ctx,
		&invoicedomain.Invoice{ID: invoiceID, TenantID: tenantID},
		option.WithPreload("Items"),
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, invoicedomain.ErrNotFound
	}

	return record, nil
}

func (s *Service) withEffectiveStatus(record *invoicedomain.Invoice) *invoicedomain.Invoice {
	inv := *record
	inv.Status = inv.EffectiveStatus(s.clock.Now())
	return &inv
}

func toMoneyLines(items []invoicedomain.LineItemInput, documentRate decimal.Decimal) []money.Line {
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

func toMoneyLinesFromItems(items []invoicedomain.Item, documentRate decimal.Decimal) []money.Line {
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

func buildItems(genID *snowflake.Node, tenantID, invoiceID snowflake.ID, lines []money.Line, now time.Time) []invoicedomain.Item {
	items := make([]invoicedomain.Item, 0, len(lines))
	for i, line := range lines {
		items = append(items, invoicedomain.Item{
			ID:          genID.Generate(),
			TenantID:    tenantID,
			InvoiceID:   invoiceID,
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
