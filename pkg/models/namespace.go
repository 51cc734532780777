package models

import (
	"regexp"
	"strings"
	"time"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidName reports whether name is usable as a namespace or collection name.
// Names are lowercase alphanumerics and underscores, must not start with an
// underscore and must be at least two characters long.
func ValidName(name string) bool {
	return len(name) >= 2 && namePattern.MatchString(name) && !strings.HasPrefix(name, "_")
}

// Namespace groups provider namespaces and owns repositories and collections.
type Namespace struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Company     string    `json:"company,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Location    string    `json:"location,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	IsVendor    bool      `json:"is_vendor"`
	Active      bool      `json:"active"`
	Owners      []int64   `json:"owners"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// HasOwner reports whether userID is one of the namespace owners.
func (n *Namespace) HasOwner(userID int64) bool {
	for _, id := range n.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// Provider is a content source such as GitHub.
type Provider struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// ProviderGitHub is the name of the seeded GitHub provider.
const ProviderGitHub = "GitHub"

// ProviderNamespace is a provider-scoped account (a GitHub user or org)
// linked to a hub Namespace.
type ProviderNamespace struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	ProviderID  int64     `json:"provider"`
	NamespaceID *int64    `json:"namespace,omitempty"`
	Description string    `json:"description,omitempty"`
	Company     string    `json:"company,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	Followers   int       `json:"followers"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}
