package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"recruitd.org/internal/auth"
	"recruitd.org/internal/domain"
	"recruitd.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type userCtxKey struct{}

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/stations",
	"/v1/approve-request",
	"/v1/scans",
}

// withAuth resolves the bearer token to the current user record. Public
// routes accept an optional token; everything else requires one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		public := isPublic(r)
		header := r.Header.Get(authHeader)
		if a.deps.Auth == nil || (public && strings.TrimSpace(header) == "") {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		u, err := a.deps.Auth.Authenticate(r.Context(), token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				obs.Logger().Error("authenticate", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := context.WithValue(r.Context(), userCtxKey{}, u)
		ctx = auth.ContextWithUser(ctx, u.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(domain.User)
	return u, ok
}

// requireUser writes 401 when the request carries no authenticated user.
func requireUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return domain.User{}, false
	}
	return u, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, ok := requireUser(w, r)
	if !ok {
		return u, false
	}
	if !u.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return u, false
	}
	return u, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// isPublic reports whether r may be served without a session. Code landing
// lookups and submissions come from anonymous visitors.
func isPublic(r *http.Request) bool {
	path := r.URL.Path
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if path == "/v1/submissions" && r.Method == http.MethodPost {
		return true
	}
	if rest, ok := strings.CutPrefix(path, "/v1/codes/"); ok && r.Method == http.MethodGet {
		return rest != "" && rest != "personal" && rest != "location" && !strings.Contains(rest, "/")
	}
	return false
}
