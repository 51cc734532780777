package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const userColumns = `id, username, email, full_name, avatar_url, github_login,
	is_active, is_staff, is_superuser, date_joined, last_login`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.AvatarURL, &u.GitHubLogin,
		&u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.DateJoined, &lastLogin); err != nil {
		return nil, err
	}
	u.LastLogin = timePtr(lastLogin)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, avatar_url, github_login,
			is_active, is_staff, is_superuser, date_joined, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		user.Username, user.Email, user.FullName, user.AvatarURL, user.GitHubLogin,
		user.IsActive, user.IsStaff, user.IsSuperuser, user.DateJoined, user.LastLogin,
	).Scan(&user.ID)
	return classify(err, fmt.Sprintf("user %q", user.Username))
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.replica().QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.replica().QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("user %q", username))
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	what := fmt.Sprintf("user %d", user.ID)
	res, err := s.primary().ExecContext(ctx, `
		UPDATE users SET username = $2, email = $3, full_name = $4, avatar_url = $5,
			github_login = $6, is_active = $7, is_staff = $8, is_superuser = $9, last_login = $10
		WHERE id = $1`,
		user.ID, user.Username, user.Email, user.FullName, user.AvatarURL,
		user.GitHubLogin, user.IsActive, user.IsStaff, user.IsSuperuser, user.LastLogin)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) ListUsers(ctx context.Context, filter storage.UserFilter, page models.PageRequest) ([]*models.User, int64, error) {
	var c conds
	if filter.Username != "" {
		c.add("username ILIKE ?", "%"+filter.Username+"%")
	}
	if filter.Active != nil {
		c.add("is_active = ?", *filter.Active)
	}

	total, err := s.count(ctx, "users", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+c.where()+` ORDER BY id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *Store) CreateToken(ctx context.Context, token *models.APIToken) error {
	if token.Created.IsZero() {
		token.Created = time.Now().UTC()
	}
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, key_hash, prefix, created, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		token.UserID, token.KeyHash, token.Prefix, token.Created, token.ExpiresAt,
	).Scan(&token.ID)
	return classify(err, fmt.Sprintf("token owner %d", token.UserID))
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	var t models.APIToken
	var lastUsed, expires sql.NullTime
	err := s.primary().QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, prefix, created, last_used, expires_at
		FROM api_tokens WHERE key_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.KeyHash, &t.Prefix, &t.Created, &lastUsed, &expires)
	if err != nil {
		return nil, classify(err, "token")
	}
	t.LastUsed = timePtr(lastUsed)
	t.ExpiresAt = timePtr(expires)
	return &t, nil
}

func (s *Store) TouchToken(ctx context.Context, id int64, at time.Time) error {
	what := fmt.Sprintf("token %d", id)
	res, err := s.primary().ExecContext(ctx, `UPDATE api_tokens SET last_used = $2 WHERE id = $1`, id, at)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) DeleteToken(ctx context.Context, id int64) error {
	what := fmt.Sprintf("token %d", id)
	res, err := s.primary().ExecContext(ctx, `DELETE FROM api_tokens WHERE id = $1`, id)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.primary().ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
