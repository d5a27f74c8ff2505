package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/elementojuris/billing/internal/auth"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// AuthenticateMiddleware requires a bearer token and puts its tenant, user
// and role on the request context.
func AuthenticateMiddleware(validator *auth.TokenValidator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(types.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.Error(ierr.NewError("missing bearer token").
				WithHint("Authorization header missing or invalid").
				Mark(ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			log.WithContext(c.Request.Context()).Debugw("token rejected", "error", err)
			c.Error(ierr.WithError(err).
				WithHint("Invalid or expired token").
				Mark(ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = types.SetTenantID(ctx, claims.TenantID)
		ctx = types.SetUserID(ctx, claims.UserID)
		ctx = types.SetUserRole(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole rejects authenticated users without the given role.
func RequireRole(role types.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if types.GetUserRole(c.Request.Context()) != role {
			c.Error(ierr.NewError("insufficient role").
				WithHint("Only tenant administrators can manage billing").
				WithReportableDetails(map[string]any{"required_role": string(role)}).
				Mark(ierr.ErrPermissionDenied))
			c.Abort()
			return
		}
		c.Next()
	}
}

// PlatformKeyMiddleware guards operator endpoints with the X-Platform-Key
// header. An unset key disables them.
func PlatformKeyMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	expected := []byte(cfg.Platform.APIKey)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(types.HeaderPlatformKey))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.Error(ierr.NewError("invalid platform key").
				WithHint("Invalid platform key").
				Mark(ierr.ErrUnauthorized))
			c.Abort()
			return
		}
		c.Next()
	}
}
