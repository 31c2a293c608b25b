package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/observability"
)

type identityKey struct{}

const (
	userIDHeader = "X-User-Id"
	rolesHeader  = "X-User-Roles"
	adminRole    = "admin"
)

// Identity extracts the caller identity asserted by the authenticating
// gateway in front of the relay. Requests without a valid user ID are
// rejected; the relay never guesses who is calling. The health endpoint is
// exempt so probes need no identity.
func Identity() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get(userIDHeader)
			userID, err := strconv.ParseUint(raw, 10, 32)
			if raw == "" || err != nil || userID == 0 {
				observability.FromContext(r.Context()).Warn("missing or invalid identity header",
					observability.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required"})
				return
			}

			id := domain.Identity{UserID: uint(userID)}
			for _, role := range strings.Split(r.Header.Get(rolesHeader), ",") {
				if strings.TrimSpace(role) == adminRole {
					id.Admin = true
				}
			}

			ctx := observability.WithUserID(r.Context(), id.UserID)
			ctx = context.WithValue(ctx, identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the caller identity injected by Identity.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}
