package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, tokenHash, 64)
	assert.Equal(t, tg.HashToken(token), tokenHash)
	assert.Len(t, tokenPrefix, len(TokenPrefix)+8)
	assert.True(t, strings.HasPrefix(token, tokenPrefix))
}

func TestTokenGenerator_GenerateToken_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, _, err := tg.GenerateToken()
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()
	valid, _, _, err := tg.GenerateToken()
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"generated token", valid, false},
		{"wrong prefix", "ghp_abcdefgh", true},
		{"prefix only", TokenPrefix, true},
		{"bad encoding", TokenPrefix + "!!!", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTokenGenerator_ExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()
	assert.Equal(t, "galaxy_abcdefgh", tg.ExtractPrefix("galaxy_abcdefghijkl"))
	assert.Equal(t, "galaxy_abc", tg.ExtractPrefix("galaxy_abc"))
	assert.Empty(t, tg.ExtractPrefix("other_abcdefghijkl"))
}

func newUser(t *testing.T, store *memory.Store, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func TestTokenService_IssueAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewTokenService(store, 24*time.Hour)
	user := newUser(t, store, "alice")

	key, token, err := svc.Issue(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotEqual(t, key, token.KeyHash)
	require.NotNil(t, token.ExpiresAt)

	got, gotToken, err := svc.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, token.ID, gotToken.ID)
	assert.NotNil(t, gotToken.LastUsed)
}

func TestTokenService_IssueAnonymous(t *testing.T) {
	svc := NewTokenService(memory.New(), 0)
	_, _, err := svc.Issue(context.Background(), models.AnonymousUser())
	assert.True(t, errors.Is(err, errors.Unauthorized))
}

func TestTokenService_AuthenticateFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewTokenService(store, time.Hour)
	user := newUser(t, store, "bob")

	t.Run("malformed", func(t *testing.T) {
		_, _, err := svc.Authenticate(ctx, "nope")
		assert.True(t, errors.Is(err, errors.Unauthorized))
	})

	t.Run("unknown", func(t *testing.T) {
		key, _, _, err := NewTokenGenerator().GenerateToken()
		require.NoError(t, err)
		_, _, err = svc.Authenticate(ctx, key)
		assert.True(t, errors.Is(err, errors.Unauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenService(store, -time.Minute)
		key, _, err := expired.Issue(ctx, user)
		require.NoError(t, err)
		_, _, err = svc.Authenticate(ctx, key)
		assert.True(t, errors.Is(err, errors.Unauthorized))
	})

	t.Run("revoked", func(t *testing.T) {
		key, token, err := svc.Issue(ctx, user)
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, token))
		_, _, err = svc.Authenticate(ctx, key)
		assert.True(t, errors.Is(err, errors.Unauthorized))
	})
}

func TestTokenService_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	user := newUser(t, store, "carol")

	_, _, err := NewTokenService(store, -time.Minute).Issue(ctx, user)
	require.NoError(t, err)
	live := NewTokenService(store, time.Hour)
	key, _, err := live.Issue(ctx, user)
	require.NoError(t, err)

	n, err := live.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, err = live.Authenticate(ctx, key)
	assert.NoError(t, err)
}
