package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListAuditLogs returns the audit trail for one target document.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query struct {
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil || query.TargetType == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	entries, err := s.auditSvc.List(c.Request.Context(), query.TargetType, query.TargetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
