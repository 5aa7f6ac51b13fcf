package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated user id, set by the API gateway
// after it has verified the session token.
const UserIDHeader = "X-User-Id"

// Middleware resolves the gateway-authenticated user and stores it in the
// request context. Requests without the header pass through anonymously;
// permission gates downstream reject them.
type Middleware struct {
	Directory Directory
	Logger    *slog.Logger
}

// Authenticate wires the identity lookup into the handler chain.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		user, err := m.Directory.Lookup(r.Context(), id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if m.Logger != nil {
				m.Logger.Error("identity lookup", slog.String("user_id", raw), slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}
