package memory

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return errors.AlreadyExistsf("user %q", user.Username)
		}
	}
	user.ID = s.nextID("user")
	if user.DateJoined.IsZero() {
		user.DateJoined = s.now()
	}
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFoundf("user %d", id)
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("user %q", username)
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return errors.NotFoundf("user %d", user.ID)
	}
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *Store) ListUsers(ctx context.Context, filter storage.UserFilter, page models.PageRequest) ([]*models.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.User
	for _, u := range s.users {
		if filter.Username != "" && !strings.Contains(strings.ToLower(u.Username), strings.ToLower(filter.Username)) {
			continue
		}
		if filter.Active != nil && u.IsActive != *filter.Active {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	sortByID(out, func(u *models.User) int64 { return u.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) CreateToken(ctx context.Context, token *models.APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return errors.NotValidf("token owner %d", token.UserID)
	}
	token.ID = s.nextID("token")
	if token.Created.IsZero() {
		token.Created = s.now()
	}
	c := *token
	s.tokens[token.ID] = &c
	return nil
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.KeyHash == hash {
			c := *t
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("token")
}

func (s *Store) TouchToken(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return errors.NotFoundf("token %d", id)
	}
	t.LastUsed = &at
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return errors.NotFoundf("token %d", id)
	}
	delete(s.tokens, id)
	return nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}
