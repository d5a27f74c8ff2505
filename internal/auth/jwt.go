// Package auth validates the access tokens issued by the platform's session
// service. Issuance lives there; GenerateToken exists for local runs and tests.
package auth

import (
	"fmt"
	"time"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
	"github.com/golang-jwt/jwt/v4"
)

// Claims is what the billing API needs from a token.
type Claims struct {
	UserID   string
	TenantID string
	Role     types.UserRole
}

type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(cfg *config.Configuration) *TokenValidator {
	return &TokenValidator{secret: []byte(cfg.Auth.Secret)}
}

func (v *TokenValidator) ValidateToken(token string) (*Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, _ := claims["user_id"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	if userID == "" || tenantID == "" {
		return nil, ierr.NewError("token missing user or tenant").
			WithHint("Token missing user or tenant").
			Mark(ierr.ErrPermissionDenied)
	}
	role, _ := claims["role"].(string)

	return &Claims{UserID: userID, TenantID: tenantID, Role: types.UserRole(role)}, nil
}

// GenerateToken signs an HS256 token with the given claims.
func (v *TokenValidator) GenerateToken(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   c.UserID,
		"tenant_id": c.TenantID,
		"role":      string(c.Role),
		"exp":       now.Add(ttl).Unix(),
		"iat":       now.Unix(),
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to sign token").
			Mark(ierr.ErrSystem)
	}
	return signed, nil
}
