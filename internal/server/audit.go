package server

import "github.com/gin-gonic/gin"

// audit records an audit trail entry for a handler action. Failures are
// swallowed inside the audit service so request handling never depends
// on the trail being writable.
func (s *Server) audit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	var target *string
	if targetID != "" {
		target = &targetID
	}
	_ = s.auditSvc.Record(c.Request.Context(), action, targetType, target, metadata)
}
