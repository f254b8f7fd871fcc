package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maltedev/price-tracker/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the auth service.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate requires a bearer token. A missing token is 401, a token
// that does not verify is 403.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			h.respondError(w, http.StatusUnauthorized, "access denied")
			return
		}

		claims, err := ParseToken(token, h.secret)
		if err != nil {
			h.logger.Debug("rejected token", "error", err)
			h.respondError(w, http.StatusForbidden, "invalid token")
			return
		}

		user := models.User{ID: claims.UserID, Email: claims.Email}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

// bearerToken takes the credentials of an Authorization header whose scheme
// is Bearer in any letter case.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// UserFrom returns the authenticated user stored by Authenticate.
func UserFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(models.User)
	return u, ok
}
