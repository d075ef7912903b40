package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/peterlianpi/appointment-scheduler-sub001/libs/auth"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/httpx"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type actorContextKey struct{}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	return a, ok
}

// WithAuth verifies the Bearer token and stores the caller's identity on the
// request context. Requests without a valid token are rejected.
func WithAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			actor := Actor{ID: claims.Sub, Role: claims.Role}
			if actor.Role == "" {
				actor.Role = RoleUser
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey{}, actor)))
		})
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return Actor{}, false
	}
	return actor, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return Actor{}, false
	}
	if !actor.IsAdmin() {
		http.Error(w, "admin role required", http.StatusForbidden)
		return Actor{}, false
	}
	return actor, true
}
