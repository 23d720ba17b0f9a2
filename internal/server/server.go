package server

import (
	"context"
	"net/http"
	"time"

	"github.com/courtierpro/billing/internal/audit"
	auditdomain "github.com/courtierpro/billing/internal/audit/domain"
	"github.com/courtierpro/billing/internal/auth"
	authdomain "github.com/courtierpro/billing/internal/auth/domain"
	"github.com/courtierpro/billing/internal/client"
	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	"github.com/courtierpro/billing/internal/config"
	"github.com/courtierpro/billing/internal/feature"
	"github.com/courtierpro/billing/internal/invoice"
	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
	"github.com/courtierpro/billing/internal/numbering"
	"github.com/courtierpro/billing/internal/quote"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the HTTP surface and the domain services behind it.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	numbering.Module,
	audit.Module,
	auth.Module,
	client.Module,
	feature.Module,
	quote.Module,
	invoice.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config

	authSvc    authdomain.Service
	auditSvc   auditdomain.Service
	clientSvc  clientdomain.Service
	quoteSvc   quotedomain.Service
	invoiceSvc invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	AuthSvc    authdomain.Service
	AuditSvc   auditdomain.Service
	ClientSvc  clientdomain.Service
	QuoteSvc   quotedomain.Service
	InvoiceSvc invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		authSvc:    p.AuthSvc,
		auditSvc:   p.AuditSvc,
		clientSvc:  p.ClientSvc,
		quoteSvc:   p.QuoteSvc,
		invoiceSvc: p.InvoiceSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.AuthRequired())

	api.POST("/clients", s.CreateClient)
	api.GET("/clients", s.ListClients)
	api.GET("/clients/:id", s.GetClientByID)
	api.DELETE("/clients/:id", s.DeleteClient)

	api.POST("/quotes", s.CreateQuote)
	api.GET("/quotes", s.ListQuotes)
	api.GET("/quotes/:id", s.GetQuoteByID)
	api.PATCH("/quotes/:id", s.UpdateQuote)
	api.POST("/quotes/:id/send", s.SendQuote)
	api.POST("/quotes/:id/view", s.MarkQuoteViewed)
	api.POST("/quotes/:id/accept", s.AcceptQuote)
	api.POST("/quotes/:id/reject", s.RejectQuote)
	api.POST("/quotes/:id/convert", s.ConvertQuote)
	api.DELETE("/quotes/:id", s.DeleteQuote)

	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PATCH("/invoices/:id", s.UpdateInvoice)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/payments", s.RecordInvoicePayment)
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)
	api.POST("/invoices/:id/export", s.ExportInvoice)
	api.DELETE("/invoices/:id", s.DeleteInvoice)

	api.GET("/audit-logs", s.ListAuditLogs)
}
