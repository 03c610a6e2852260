package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/token"
)

type contextKey string

// UserContextKey carries the resolved *models.User through the request.
const UserContextKey contextKey = "user"

// UserStore is the slice of the user store the middleware consumes.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateField(ctx context.Context, id, field, value string) error
}

type AuthMiddleware struct {
	tokens        *token.Engine
	users         UserStore
	versionHeader string
	logger        *logrus.Logger
}

func NewAuthMiddleware(tokens *token.Engine, users UserStore, versionHeader string, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:        tokens,
		users:         users,
		versionHeader: versionHeader,
		logger:        logger,
	}
}

// RequireAuth gates every route not explicitly public. The response body
// never says why a token was rejected; expired vs tampered lives in logs
// only.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			m.respondUnauthorized(w)
			return
		}

		claims, err := m.tokens.Verify(token.KindAccess, raw)
		if err != nil {
			if errors.Is(err, token.ErrExpiredToken) {
				m.logger.Debug("Access token expired")
			} else {
				m.logger.WithError(err).Debug("Access token rejected")
			}
			m.respondUnauthorized(w)
			return
		}

		user, err := m.users.FindByID(r.Context(), claims.Subject)
		if err != nil {
			m.logger.WithError(err).Error("Failed to resolve token subject")
			m.respondUnauthorized(w)
			return
		}
		if user == nil {
			m.respondUnauthorized(w)
			return
		}

		if !m.trackAppVersion(w, r, user) {
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// trackAppVersion persists a changed version header before the request
// proceeds. This is the one side-channel write whose failure is a hard 500
// rather than a degraded continue.
func (m *AuthMiddleware) trackAppVersion(w http.ResponseWriter, r *http.Request, user *models.User) bool {
	v := r.Header.Get(m.versionHeader)
	if v == "" || v == user.AppVersion {
		return true
	}

	if err := m.users.UpdateField(r.Context(), user.ID, "app_version", v); err != nil {
		m.logger.WithError(err).Error("Failed to update user appVersion")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"err":"proxy_error","des":"error updating user appVersion"}`))
		return false
	}
	user.AppVersion = v
	return true
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"err":"unauthorized"}`))
}

// UserFromContext returns the user attached by RequireAuth.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}
