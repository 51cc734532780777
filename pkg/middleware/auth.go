package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

// Authenticator resolves a raw API key. auth.TokenService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*models.User, *models.APIToken, error)
}

// Authenticate attaches the request user to the context. Requests without
// an Authorization header, or with a scheme other than Token or Bearer,
// carry the anonymous user. A Token or Bearer header that does not resolve
// to a key is rejected with 401.
//
// Accepted forms: "Token <key>" and "Bearer <key>".
func Authenticate(authn Authenticator, audit *auth.AuditLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				ctx := contextkeys.WithUser(r.Context(), models.AnonymousUser())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			key, ours, ok := parseAuthorization(header)
			if !ours {
				// credentials meant for another service, like CI notification hashes
				ctx := contextkeys.WithUser(r.Context(), models.AnonymousUser())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if !ok {
				httputil.WriteUnauthorized(w, "Invalid token header.")
				return
			}

			user, token, err := authn.Authenticate(r.Context(), key)
			if err != nil {
				if errors.Is(err, errors.Unauthorized) {
					audit.LogFromRequest(r, auth.ActionAuthFailure, "token", "", auth.StatusFailure, err)
					httputil.WriteUnauthorized(w, "Invalid token.")
					return
				}
				httputil.WriteErr(w, r, err)
				return
			}

			ctx := contextkeys.WithUser(r.Context(), user)
			ctx = contextkeys.WithToken(ctx, token)
			uid := strconv.FormatInt(user.ID, 10)
			ctx = observability.WithUserID(ctx, uid)
			ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("user_id", uid))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseAuthorization reports whether header uses one of our schemes and,
// if so, whether it carries exactly one key.
func parseAuthorization(header string) (key string, ours, ok bool) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	switch strings.ToLower(scheme) {
	case "token", "bearer":
	default:
		return "", false, false
	}
	key = strings.TrimSpace(rest)
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", true, false
	}
	return key, true, true
}

// RequireUser rejects anonymous requests with 401 and inactive accounts
// with 403. It guards the /me routes, which have no object to check.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := contextkeys.User(r.Context())
		if user.IsAnonymous() {
			httputil.WriteUnauthorized(w, "Authentication credentials were not provided.")
			return
		}
		if !user.IsActive {
			httputil.WriteForbidden(w, "Your account is inactive.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperuser allows only active superusers.
func RequireSuperuser(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !contextkeys.User(r.Context()).IsSuperuser {
			httputil.WriteForbidden(w, "You do not have permission to perform this action.")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
