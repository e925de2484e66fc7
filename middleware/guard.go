package middleware

import (
	"context"
	"net/http"
	"strings"

	healauth "github.com/healbridge/healauth"
)

type principalContextKey struct{}

// PrincipalFromContext returns the authenticated principal attached by
// Guard, if any.
func PrincipalFromContext(ctx context.Context) (healauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(healauth.Principal)
	return p, ok
}

// Guard rejects requests without a valid bearer access token and attaches
// the authenticated principal to the request context.
func Guard(engine *healauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole layers on top of Guard: the principal must carry one of the
// listed roles or the request is rejected with 403.
func RequireRole(roles ...healauth.Role) func(http.Handler) http.Handler {
	allowed := make(map[healauth.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed[principal.Role] {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
