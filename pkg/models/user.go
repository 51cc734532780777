package models

import "time"

// User is a hub account. Accounts are created on first token exchange
// against GitHub and are never deleted, only deactivated.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	GitHubLogin string     `json:"github_user,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsStaff     bool       `json:"staff"`
	IsSuperuser bool       `json:"is_superuser"`
	DateJoined  time.Time  `json:"date_joined"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// AnonymousUser returns the user attached to unauthenticated requests.
func AnonymousUser() *User {
	return &User{ID: 0, Username: "", IsActive: true}
}

// IsAnonymous reports whether u is the unauthenticated user.
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == 0
}

// IsAuthenticated reports whether u is a real, active account.
func (u *User) IsAuthenticated() bool {
	return !u.IsAnonymous() && u.IsActive
}

// APIToken is a hub API key. Only the sha256 hash of the key is persisted.
type APIToken struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	KeyHash   string     `json:"-"`
	Prefix    string     `json:"prefix"`
	Created   time.Time  `json:"created"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the token is past its expiry.
func (t *APIToken) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}
