package server

import (
	"context"
	"net/http"
	"strings"

	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	"github.com/courtierpro/billing/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateQuote(c *gin.Context) {
	var req quotedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.quoteSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "quote.create", "quote", resp.ID.String(), map[string]any{
		"number": resp.Number,
		"total":  resp.Total.String(),
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListQuotes(c *gin.Context) {
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

	req := quotedomain.ListRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		value := quotedomain.Status(status)
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

	resp, err := s.quoteSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetQuoteByID(c *gin.Context) {
	resp, err := s.quoteSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateQuote(c *gin.Context) {
	var req quotedomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.quoteSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "quote.update", "quote", resp.ID.String(), nil)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SendQuote(c *gin.Context) {
	s.quoteTransition(c, "quote.send", s.quoteSvc.Send)
}

func (s *Server) MarkQuoteViewed(c *gin.Context) {
	s.quoteTransition(c, "quote.view", s.quoteSvc.MarkViewed)
}

func (s *Server) AcceptQuote(c *gin.Context) {
	s.quoteTransition(c, "quote.accept", s.quoteSvc.Accept)
}

func (s *Server) RejectQuote(c *gin.Context) {
	s.quoteTransition(c, "quote.reject", s.quoteSvc.Reject)
}

func (s *Server) ConvertQuote(c *gin.Context) {
	resp, err := s.invoiceSvc.CreateFromQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "quote.convert", "invoice", resp.ID.String(), map[string]any{
		"quote_id": c.Param("id"),
		"number":   resp.Number,
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeleteQuote(c *gin.Context) {
	id := c.Param("id")
	if err := s.quoteSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "quote.delete", "quote", id, nil)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) quoteTransition(c *gin.Context, action string, fn func(ctx context.Context, id string) (*quotedomain.Quote, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, action, "quote", resp.ID.String(), map[string]any{
		"status": string(resp.Status),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
