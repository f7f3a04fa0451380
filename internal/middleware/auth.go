// internal/middleware/auth.go

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/sirupsen/logrus"
)

// AuthCookie is the cookie carrying the session token.
const AuthCookie = "auth_token"

// ErrMissingToken is returned when a request carries no session token.
var ErrMissingToken = errors.New("missing auth_token")

// UserDirectory looks up display names for users whose token has none.
type UserDirectory interface {
	UserName(ctx context.Context, userID string) (string, error)
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// TokenFromRequest reads the session token from the auth_token cookie or an
// Authorization: Bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Resolve authenticates r and fills in a display name when the token has none.
func Resolve(r *http.Request, dir UserDirectory) (auth.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return auth.Identity{}, ErrMissingToken
	}
	id, err := auth.AuthenticateJWT(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if id.UserName == "" && dir != nil {
		if name, err := dir.UserName(r.Context(), id.UserID); err == nil {
			id.UserName = name
		}
	}
	if id.UserName == "" {
		id.UserName = FallbackName(id.UserID)
	}
	return id, nil
}

// FallbackName is the display name of a user nobody has named.
func FallbackName(userID string) string {
	short := userID
	if len(short) > 4 {
		short = short[:4]
	}
	return "User_" + short
}

// RequireIdentity rejects unauthenticated requests with 401 and stores the
// caller's identity in the request context.
func RequireIdentity(dir UserDirectory, logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Resolve(r, dir)
			if err != nil {
				logger.WithField("path", r.URL.Path).Debugf("rejected request: %v", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
