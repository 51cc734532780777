package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const (
	// TokenPrefix identifies hub API keys
	TokenPrefix = "galaxy_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32

	// touchInterval limits how often last_used is written for a busy token.
	touchInterval = time.Minute
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: galaxy_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// ExtractPrefix extracts the prefix from a token for display
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}
	return token
}

// TokenService issues, authenticates and revokes hub API keys. Only the hash
// of a key is ever persisted; the plaintext is returned once by Issue.
type TokenService struct {
	users     storage.UserStore
	generator *TokenGenerator
	lifetime  time.Duration
	now       func() time.Time
}

// NewTokenService creates a token service. A zero lifetime issues keys that
// never expire.
func NewTokenService(users storage.UserStore, lifetime time.Duration) *TokenService {
	return &TokenService{
		users:     users,
		generator: NewTokenGenerator(),
		lifetime:  lifetime,
		now:       time.Now,
	}
}

// Issue creates a new key for user and returns its plaintext.
func (s *TokenService) Issue(ctx context.Context, user *models.User) (string, *models.APIToken, error) {
	if user.IsAnonymous() {
		return "", nil, errors.Unauthorizedf("anonymous users cannot hold tokens")
	}

	plain, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	token := &models.APIToken{
		UserID:  user.ID,
		KeyHash: hash,
		Prefix:  prefix,
		Created: now,
	}
	if s.lifetime > 0 {
		exp := now.Add(s.lifetime)
		token.ExpiresAt = &exp
	}
	if err := s.users.CreateToken(ctx, token); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}
	return plain, token, nil
}

// Authenticate resolves a raw key to its user. Every failure that a client
// can cause is reported as errors.Unauthorized. Inactive users are returned
// as-is; rejecting them is the access layer's job.
func (s *TokenService) Authenticate(ctx context.Context, raw string) (*models.User, *models.APIToken, error) {
	if err := s.generator.ValidateTokenFormat(raw); err != nil {
		return nil, nil, errors.Unauthorizedf("invalid token")
	}

	token, err := s.users.GetTokenByHash(ctx, s.generator.HashToken(raw))
	if errors.Is(err, errors.NotFound) {
		return nil, nil, errors.Unauthorizedf("invalid token")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if token.IsExpired() {
		return nil, nil, errors.Unauthorizedf("token has expired")
	}

	user, err := s.users.GetUser(ctx, token.UserID)
	if errors.Is(err, errors.NotFound) {
		return nil, nil, errors.Unauthorizedf("invalid token")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token owner: %w", err)
	}

	now := s.now()
	if token.LastUsed == nil || now.Sub(*token.LastUsed) > touchInterval {
		if err := s.users.TouchToken(ctx, token.ID, now); err != nil {
			logrus.WithError(err).WithField("token_id", token.ID).Warn("failed to record token use")
		} else {
			token.LastUsed = &now
		}
	}
	return user, token, nil
}

// Revoke deletes a key.
func (s *TokenService) Revoke(ctx context.Context, token *models.APIToken) error {
	if token == nil {
		return errors.NotFoundf("token")
	}
	return s.users.DeleteToken(ctx, token.ID)
}

// PurgeExpired deletes every key past its expiry and reports how many went.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.users.DeleteExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return n, nil
}
