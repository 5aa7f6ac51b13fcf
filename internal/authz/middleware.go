package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/arenarank/arenarank-permissions/internal/identity"
	"github.com/arenarank/arenarank-permissions/internal/observability"
	"github.com/arenarank/arenarank-permissions/internal/platform/httpx"
)

// Resolver yields a user's effective permission set.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Middleware gates HTTP routes on permission codes.
type Middleware struct {
	Resolver Resolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Require ensures the authenticated user holds every listed code. An empty
// list only requires authentication.
func (m Middleware) Require(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := identity.UserFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}

			if len(codes) == 0 || user.Roles.HasRoot() {
				next.ServeHTTP(w, r)
				return
			}

			effective, err := m.Resolver.Resolve(r.Context(), user.ID)
			if err != nil {
				m.log().Error("resolve permissions", slog.String("user_id", user.ID.String()), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if effective == nil {
				effective = []string{}
			}

			if err := Check(codes, user.Roles, effective); err != nil {
				var insufficient *InsufficientError
				switch {
				case errors.As(err, &insufficient):
					m.Metrics.CountDenial()
					m.log().Info("permission denied",
						slog.String("user_id", user.ID.String()),
						slog.Any("required", insufficient.Required))
					httpx.Problem(w, http.StatusForbidden, "Forbidden", insufficient.Error())
				case errors.Is(err, ErrNoPermissions):
					m.log().Error("authorization without permission data",
						slog.String("user_id", user.ID.String()))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				default:
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
