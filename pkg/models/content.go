package models

import "time"

// Content type names known to the importer.
const (
	ContentTypeRole          = "role"
	ContentTypeModule        = "module"
	ContentTypeModuleUtils   = "module_utils"
	ContentTypeActionPlugin  = "action_plugin"
	ContentTypeFilterPlugin  = "filter_plugin"
	ContentTypeLookupPlugin  = "lookup_plugin"
	ContentTypeApb           = "apb"
	ContentTypeStrategy      = "strategy_plugin"
	ContentTypeCallback      = "callback_plugin"
	ContentTypeConnection    = "connection_plugin"
	ContentTypeInventory     = "inventory_plugin"
	ContentTypeTest          = "test_plugin"
	ContentTypeCacheStrategy = "cache_plugin"
)

// KnownContentTypes is the seed list of content types.
var KnownContentTypes = []string{
	ContentTypeRole, ContentTypeModule, ContentTypeModuleUtils, ContentTypeActionPlugin,
	ContentTypeFilterPlugin, ContentTypeLookupPlugin, ContentTypeApb, ContentTypeStrategy,
	ContentTypeCallback, ContentTypeConnection, ContentTypeInventory, ContentTypeTest,
	ContentTypeCacheStrategy,
}

// ContentType describes a kind of importable content.
type ContentType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Platform is an operating system family with a release, e.g. EL/8.
type Platform struct {
	Name    string `json:"name"`
	Release string `json:"release"`
}

// Content is a role or plugin discovered in a repository.
type Content struct {
	ID                 int64      `json:"id"`
	RepositoryID       int64      `json:"repository"`
	NamespaceID        int64      `json:"namespace"`
	ContentType        string     `json:"content_type"`
	Name               string     `json:"name"`
	OriginalName       string     `json:"original_name"`
	Description        string     `json:"description,omitempty"`
	Author             string     `json:"author,omitempty"`
	Company            string     `json:"company,omitempty"`
	License            string     `json:"license,omitempty"`
	MinAnsibleVersion  string     `json:"min_ansible_version,omitempty"`
	Platforms          []Platform `json:"platforms"`
	CloudPlatforms     []string   `json:"cloud_platforms"`
	Tags               []string   `json:"tags"`
	Dependencies       []string   `json:"dependencies"`
	QualityScore       *float64   `json:"quality_score"`
	MetadataScore      *float64   `json:"metadata_score,omitempty"`
	CompatibilityScore *float64   `json:"compatibility_score,omitempty"`
	ContentScore       *float64   `json:"content_score,omitempty"`
	Deprecated         bool       `json:"deprecated"`
	DownloadCount      int64      `json:"download_count"`
	Created            time.Time  `json:"created"`
	Modified           time.Time  `json:"modified"`
}

// PlatformNames returns the distinct platform names of c.
func (c *Content) PlatformNames() []string {
	seen := make(map[string]bool, len(c.Platforms))
	names := make([]string, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		if !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	return names
}

// Facet is a distinct tag or platform value with the number of content
// items that carry it.
type Facet struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
