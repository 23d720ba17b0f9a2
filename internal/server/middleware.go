package server

import (
	"strings"

	"github.com/courtierpro/billing/internal/tenantctx"
	"github.com/gin-gonic/gin"
)

// AuthRequired resolves the bearer credential to a user and its tenant
// membership and injects both into the request context. Cross-tenant
// requests never get this far: the tenant comes from the credential,
// not the caller.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.authSvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), identity.TenantID)
		ctx = tenantctx.WithUserID(ctx, identity.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
