package server

import (
	"context"
	"net/http"
	"strings"

	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
	"github.com/courtierpro/billing/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "invoice.create", "invoice", resp.ID.String(), map[string]any{
		"number": resp.Number,
		"total":  resp.Total.String(),
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status      string `form:"status"`
		ClientID    string `form:"client_id"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := invoicedomain.ListRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		value := invoicedomain.Status(status)
		req.Status = &value
	}
	if clientID := strings.TrimSpace(query.ClientID); clientID != "" {
		req.ClientID = &clientID
	}

	var err error
	if req.CreatedFrom, err = parseOptionalTime(query.CreatedFrom, false); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.CreatedTo, err = parseOptionalTime(query.CreatedTo, true); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	resp, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateInvoice(c *gin.Context) {
	var req invoicedomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "invoice.update", "invoice", resp.ID.String(), nil)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SendInvoice(c *gin.Context) {
	s.invoiceTransition(c, "invoice.send", s.invoiceSvc.Send)
}

func (s *Server) CancelInvoice(c *gin.Context) {
	s.invoiceTransition(c, "invoice.cancel", s.invoiceSvc.Cancel)
}

func (s *Server) ExportInvoice(c *gin.Context) {
	s.invoiceTransition(c, "invoice.export", s.invoiceSvc.ExportToAccounting)
}

func (s *Server) RecordInvoicePayment(c *gin.Context) {
	var req invoicedomain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.RecordPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "invoice.payment", "invoice", resp.ID.String(), map[string]any{
		"amount":      req.Amount.String(),
		"method":      req.Method,
		"amount_due":  resp.AmountDue.String(),
		"amount_paid": resp.AmountPaid.String(),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	resp, err := s.invoiceSvc.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id := c.Param("id")
	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "invoice.delete", "invoice", id, nil)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) invoiceTransition(c *gin.Context, action string, fn func(ctx context.Context, id string) (*invoicedomain.Invoice, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, action, "invoice", resp.ID.String(), map[string]any{
		"status": string(resp.Status),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
