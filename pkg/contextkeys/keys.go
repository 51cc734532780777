// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here so that a
// value set by one package can be read by another without import cycles.
package contextkeys

import (
	"context"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *models.User.
	// Set by: middleware.Authenticate. Anonymous requests carry models.AnonymousUser().
	UserKey Key = "user"

	// TokenKey contains the *models.APIToken that authenticated the request.
	// Set by: middleware.Authenticate. Used by DELETE /api/v1/tokens/.
	TokenKey Key = "api_token"

	// RequestStartTimeKey contains the request start time.Time.
	RequestStartTimeKey Key = "request_start_time"
)

// WithUser attaches the authenticated (or anonymous) user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// User returns the request user, or the anonymous user when none is set.
func User(ctx context.Context) *models.User {
	if u, ok := ctx.Value(UserKey).(*models.User); ok && u != nil {
		return u
	}
	return models.AnonymousUser()
}

// WithToken attaches the API token used for authentication.
func WithToken(ctx context.Context, token *models.APIToken) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// Token returns the API token, if the request authenticated with one.
func Token(ctx context.Context) (*models.APIToken, bool) {
	t, ok := ctx.Value(TokenKey).(*models.APIToken)
	return t, ok && t != nil
}
