package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	"github.com/courtierpro/billing/internal/clock"
	"github.com/courtierpro/billing/internal/config"
	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	featureservice "github.com/courtierpro/billing/internal/feature/service"
	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
	"github.com/courtierpro/billing/internal/numbering"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	quoteservice "github.com/courtierpro/billing/internal/quote/service"
	"github.com/courtierpro/billing/internal/tenantctx"
)

type harness struct {
	svc      invoicedomain.Service
	quoteSvc quotedomain.Service
	conn     *gorm.DB
	clk      *clock.FakeClock
	ctx      context.Context
	tenant   snowflake.ID
	client   *clientdomain.Client
}

func setup(t *testing.T, tier featuredomain.Tier) *harness {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&clientdomain.Client{},
		&numbering.DocumentSequence{},
		&quotedomain.Quote{},
		&quotedomain.Item{},
		&invoicedomain.Invoice{},
		&invoicedomain.Item{},
		&invoicedomain.Payment{},
		&featuredomain.TenantPlan{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))
	tenant := node.Generate()

	require.NoError(t, conn.Create(&featuredomain.TenantPlan{TenantID: tenant, Tier: tier}).Error)

	cli := &clientdomain.Client{ID: node.Generate(), TenantID: tenant, Name: "Acme"}
	require.NoError(t, conn.Create(cli).Error)

	log := zap.NewNop()
	cfg := config.Config{QuotePrefix: "DEV", InvoicePrefix: "FAC"}
	featureSvc := featureservice.NewService(featureservice.ServiceParam{DB: conn, Log: log})
	sequencer := numbering.NewSequencer(node)

	svc := NewService(ServiceParam{
		DB:         conn,
		Log:        log,
		Cfg:        cfg,
		GenID:      node,
		Clock:      clk,
		Sequencer:  sequencer,
		FeatureSvc: featureSvc,
	})
	quoteSvc := quoteservice.NewService(quoteservice.ServiceParam{
		DB:         conn,
		Log:        log,
		Cfg:        cfg,
		GenID:      node,
		Clock:      clk,
		Sequencer:  sequencer,
		FeatureSvc: featureSvc,
	})

	ctx := tenantctx.WithTenantID(context.Background(), tenant)
	ctx = tenantctx.WithUserID(ctx, node.Generate())

	return &harness{svc: svc, quoteSvc: quoteSvc, conn: conn, clk: clk, ctx: ctx, tenant: tenant, client: cli}
}

func twoLines() []invoicedomain.LineItemInput {
	return []invoicedomain.LineItemInput{
		{Description: "Audit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		{Description: "Conseil", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
	}
}

func (h *harness) createInvoice(t *testing.T) *invoicedomain.Invoice {
	t.Helper()

	inv, err := h.svc.Create(h.ctx, invoicedomain.CreateRequest{
		ClientID: h.client.ID.String(),
		Items:    twoLines(),
		TaxRate:  decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	return inv
}

func (h *harness) pay(t *testing.T, id string, amount int64) *invoicedomain.Invoice {
	t.Helper()

	inv, err := h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(amount),
		Method: "virement",
	})
	require.NoError(t, err)
	return inv
}

func TestCreate_TotalsAndNumber(t *testing.T) {
	h := setup(t, featuredomain.TierPro)

	inv := h.createInvoice(t)

	assert.Equal(t, "FAC-2024-0001", inv.Number)
	assert.Equal(t, invoicedomain.StatusDraft, inv.Status)
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(200)), "subtotal %s", inv.Subtotal)
	assert.True(t, inv.TaxAmount.Equal(decimal.NewFromInt(40)), "tax %s", inv.TaxAmount)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(240)), "total %s", inv.Total)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.True(t, inv.AmountDue.Equal(decimal.NewFromInt(240)), "due %s", inv.AmountDue)

	second := h.createInvoice(t)
	assert.Equal(t, "FAC-2024-0002", second.Number)
}

func TestCreate_FeatureGate(t *testing.T) {
	h := setup(t, featuredomain.TierStarter)

	_, err := h.svc.Create(h.ctx, invoicedomain.CreateRequest{
		ClientID: h.client.ID.String(),
		Items:    twoLines(),
		TaxRate:  decimal.NewFromInt(20),
	})
	assert.ErrorIs(t, err, featuredomain.ErrFeatureDisabled)
}

func TestRecordPayment_FullPayment(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	paid := h.pay(t, id, 240)

	assert.Equal(t, invoicedomain.StatusPaid, paid.Status)
	assert.True(t, paid.AmountPaid.Equal(decimal.NewFromInt(240)))
	assert.True(t, paid.AmountDue.IsZero())
	require.NotNil(t, paid.PaidAt)

	_, err := h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(1),
		Method: "virement",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyPaid)
}

func TestRecordPayment_PartialThenSettled(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	partial := h.pay(t, id, 100)
	assert.Equal(t, invoicedomain.StatusPartiallyPaid, partial.Status)
	assert.True(t, partial.AmountPaid.Equal(decimal.NewFromInt(100)))
	assert.True(t, partial.AmountDue.Equal(decimal.NewFromInt(140)))
	assert.Nil(t, partial.PaidAt)

	h.clk.Advance(time.Hour)
	settled := h.pay(t, id, 140)
	assert.Equal(t, invoicedomain.StatusPaid, settled.Status)
	assert.True(t, settled.AmountDue.IsZero())

	payments, err := h.svc.ListPayments(h.ctx, id)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, payments[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, payments[1].Amount.Equal(decimal.NewFromInt(140)))
	assert.True(t, payments[0].ReceivedAt.Before(payments[1].ReceivedAt))
}

func TestRecordPayment_OverpaymentLeavesStateUnchanged(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	_, err := h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(300),
		Method: "virement",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrPaymentExceeds)

	got, err := h.svc.GetByID(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusDraft, got.Status)
	assert.True(t, got.AmountPaid.IsZero())

	payments, err := h.svc.ListPayments(h.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPayment_Validation(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	_, err := h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.Zero,
		Method: "virement",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)

	_, err = h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(-5),
		Method: "virement",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)

	_, err = h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidMethod)

	_, err = h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(10),
		Method: "   ",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidMethod)
}

func TestRecordPayment_VersionAdvances(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)

	h.pay(t, inv.ID.String(), 100)
	h.pay(t, inv.ID.String(), 50)

	var stored invoicedomain.Invoice
	require.NoError(t, h.conn.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, int64(2), stored.Version)
	assert.True(t, stored.AmountPaid.Equal(decimal.NewFromInt(150)))
	assert.True(t, stored.AmountDue.Equal(decimal.NewFromInt(90)))
}

func TestSend_Guards(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	sent, err := h.svc.Send(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = h.svc.Send(h.ctx, id)
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadySent)
}

func TestOverdue_DerivedAtReadTime(t *testing.T) {
	h := setup(t, featuredomain.TierPro)

	due := h.clk.Now().Add(24 * time.Hour)
	inv, err := h.svc.Create(h.ctx, invoicedomain.CreateRequest{
		ClientID: h.client.ID.String(),
		Items:    twoLines(),
		TaxRate:  decimal.NewFromInt(20),
		DueDate:  &due,
	})
	require.NoError(t, err)
	id := inv.ID.String()

	_, err = h.svc.Send(h.ctx, id)
	require.NoError(t, err)

	h.clk.Advance(48 * time.Hour)

	got, err := h.svc.GetByID(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusOverdue, got.Status)

	// Paying in full clears the derived overdue.
	paid := h.pay(t, id, 240)
	assert.Equal(t, invoicedomain.StatusPaid, paid.Status)
}

func TestUpdate_MoneyLockedAfterPayment(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	h.pay(t, id, 100)

	items := []invoicedomain.LineItemInput{
		{Description: "Audit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500)},
	}
	_, err := h.svc.Update(h.ctx, id, invoicedomain.UpdateRequest{Items: &items})
	assert.ErrorIs(t, err, invoicedomain.ErrNotEditable)

	// Non-money fields stay editable.
	due := h.clk.Now().Add(72 * time.Hour)
	updated, err := h.svc.Update(h.ctx, id, invoicedomain.UpdateRequest{DueDate: &due})
	require.NoError(t, err)
	require.NotNil(t, updated.DueDate)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(240)))
}

func TestUpdate_RecomputesAmountDue(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)

	items := []invoicedomain.LineItemInput{
		{Description: "Audit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
	}
	updated, err := h.svc.Update(h.ctx, inv.ID.String(), invoicedomain.UpdateRequest{Items: &items})
	require.NoError(t, err)

	assert.True(t, updated.Total.Equal(decimal.NewFromInt(120)), "total %s", updated.Total)
	assert.True(t, updated.AmountDue.Equal(decimal.NewFromInt(120)), "due %s", updated.AmountDue)
}

func TestCancel(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	cancelled, err := h.svc.Cancel(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = h.svc.Cancel(h.ctx, id)
	assert.ErrorIs(t, err, invoicedomain.ErrCancelled)

	_, err = h.svc.RecordPayment(h.ctx, id, invoicedomain.RecordPaymentRequest{
		Amount: decimal.NewFromInt(10),
		Method: "virement",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrCancelled)
}

func TestCancel_BlockedByPayments(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)

	h.pay(t, inv.ID.String(), 100)

	_, err := h.svc.Cancel(h.ctx, inv.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrHasPayments)
}

func TestDelete_BlockedByPayments(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)

	h.pay(t, inv.ID.String(), 100)

	err := h.svc.Delete(h.ctx, inv.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrHasPayments)
}

func TestExport_TierGateAndIdempotency(t *testing.T) {
	h := setup(t, featuredomain.TierBusiness)
	inv := h.createInvoice(t)
	id := inv.ID.String()

	exported, err := h.svc.ExportToAccounting(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, exported.ExportedToAccounting)
	require.NotNil(t, exported.ExportedAt)

	again, err := h.svc.ExportToAccounting(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, again.ExportedToAccounting)
}

func TestExport_RequiresBusinessTier(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	inv := h.createInvoice(t)

	_, err := h.svc.ExportToAccounting(h.ctx, inv.ID.String())
	assert.ErrorIs(t, err, featuredomain.ErrFeatureDisabled)
}

func acceptedQuote(t *testing.T, h *harness) *quotedomain.Quote {
	t.Helper()

	q, err := h.quoteSvc.Create(h.ctx, quotedomain.CreateRequest{
		ClientID: h.client.ID.String(),
		Items: []quotedomain.LineItemInput{
			{Description: "Audit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
			{Description: "Conseil", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		},
		TaxRate: decimal.NewFromInt(20),
	})
	require.NoError(t, err)

	_, err = h.quoteSvc.Send(h.ctx, q.ID.String())
	require.NoError(t, err)
	accepted, err := h.quoteSvc.Accept(h.ctx, q.ID.String())
	require.NoError(t, err)
	return accepted
}

func TestCreateFromQuote(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	q := acceptedQuote(t, h)

	inv, err := h.svc.CreateFromQuote(h.ctx, q.ID.String())
	require.NoError(t, err)

	assert.Equal(t, "FAC-2024-0001", inv.Number)
	assert.True(t, inv.Total.Equal(q.Total), "total %s vs %s", inv.Total, q.Total)
	assert.Len(t, inv.Items, 2)
	require.NotNil(t, inv.QuoteID)
	assert.Equal(t, q.ID, *inv.QuoteID)

	converted, err := h.quoteSvc.GetByID(h.ctx, q.ID.String())
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedInvoiceID)
	assert.Equal(t, inv.ID, *converted.ConvertedInvoiceID)

	// One conversion per quote.
	_, err = h.svc.CreateFromQuote(h.ctx, q.ID.String())
	assert.ErrorIs(t, err, quotedomain.ErrConverted)

	// The converted quote cannot be deleted while the invoice exists.
	err = h.quoteSvc.Delete(h.ctx, q.ID.String())
	assert.ErrorIs(t, err, quotedomain.ErrConverted)

	// Deleting the invoice releases the quote.
	require.NoError(t, h.svc.Delete(h.ctx, inv.ID.String()))
	require.NoError(t, h.quoteSvc.Delete(h.ctx, q.ID.String()))
}

func TestCreateFromQuote_RequiresAccepted(t *testing.T) {
	h := setup(t, featuredomain.TierPro)

	q, err := h.quoteSvc.Create(h.ctx, quotedomain.CreateRequest{
		ClientID: h.client.ID.String(),
		Items: []quotedomain.LineItemInput{
			{Description: "Audit", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		},
		TaxRate: decimal.NewFromInt(20),
	})
	require.NoError(t, err)

	_, err = h.svc.CreateFromQuote(h.ctx, q.ID.String())
	assert.ErrorIs(t, err, quotedomain.ErrNotAccepted)
}

// A rival conversion can claim the quote after this one loaded it but
// before it writes the marker. The NULL-guarded claim inside the
// creation transaction must roll the invoice back instead of leaving
// two invoices citing one quote.
func TestCreateFromQuote_RivalClaimRollsBack(t *testing.T) {
	h := setup(t, featuredomain.TierPro)
	q := acceptedQuote(t, h)
	rivalID := q.ID + 1

	const hook = "test:rival_conversion"
	err := h.conn.Callback().Create().After("gorm:create").Register(hook, func(tx *gorm.DB) {
		inv, ok := tx.Statement.Dest.(*invoicedomain.Invoice)
		if !ok || inv.QuoteID == nil {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).
			Model(&quotedomain.Quote{}).
			Where("id = ?", q.ID).
			Update("converted_invoice_id", rivalID)
	})
	require.NoError(t, err)

	_, err = h.svc.CreateFromQuote(h.ctx, q.ID.String())
	assert.ErrorIs(t, err, quotedomain.ErrConverted)
	require.NoError(t, h.conn.Callback().Create().Remove(hook))

	// The losing transaction left nothing behind.
	var count int64
	require.NoError(t, h.conn.Model(&invoicedomain.Invoice{}).Where("tenant_id = ?", h.tenant).Count(&count).Error)
	assert.Zero(t, count)

	reloaded, err := h.quoteSvc.GetByID(h.ctx, q.ID.String())
	require.NoError(t, err)
	assert.Nil(t, reloaded.ConvertedInvoiceID)

	// With the rival gone the quote converts normally.
	inv, err := h.svc.CreateFromQuote(h.ctx, q.ID.String())
	require.NoError(t, err)
	require.NotNil(t, inv.QuoteID)
	assert.Equal(t, q.ID, *inv.QuoteID)
}

func TestList_PaginationWithSharedTimestamps(t *testing.T) {
	h := setup(t, featuredomain.TierPro)

	// Batch creates share one clock reading, so the cursor must break
	// ties on id instead of dropping the rows behind the boundary.
	for i := 0; i < 3; i++ {
		h.createInvoice(t)
	}

	first, err := h.svc.List(h.ctx, invoicedomain.ListRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Invoices, 2)
	require.True(t, first.HasMore)

	second, err := h.svc.List(h.ctx, invoicedomain.ListRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Invoices, 1)
	assert.False(t, second.HasMore)

	seen := map[string]bool{}
	for _, inv := range append(first.Invoices, second.Invoices...) {
		seen[inv.Number] = true
	}
	assert.Len(t, seen, 3)
}
