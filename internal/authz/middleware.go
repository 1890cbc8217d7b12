package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/freedayko/redmine-planning/internal/shared"
)

// UserLookup resolves a user account into an Actor. Implemented by the auth
// service; kept as an interface so handler tests can stub it.
type UserLookup interface {
	LookupActor(ctx context.Context, userID int64) (*Actor, error)
}

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Users  UserLookup
	Logger *slog.Logger
}

// RequireUser ensures the request carries an authenticated session and
// stores the resolved Actor in the request context.
func (m Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := m.resolveActor(r)
		if !ok {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

// RequireAdmin ensures the current user holds the administrator capability.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := m.resolveActor(r)
		if !ok {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		if !actor.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func (m Middleware) resolveActor(r *http.Request) (*Actor, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authz parse user id", slog.String("value", raw))
		}
		return nil, false
	}
	actor, err := m.Users.LookupActor(r.Context(), id)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("authz lookup actor", slog.Int64("user_id", id), slog.Any("error", err))
		}
		return nil, false
	}
	return actor, true
}
