package models

import (
	"fmt"
	"time"
)

// Collection is a namespaced, versioned Ansible content bundle.
type Collection struct {
	ID                   int64     `json:"id"`
	NamespaceID          int64     `json:"namespace"`
	NamespaceName        string    `json:"namespace_name"`
	Name                 string    `json:"name"`
	Deprecated           bool      `json:"deprecated"`
	DownloadCount        int64     `json:"download_count"`
	CommunityScore       *float64  `json:"community_score"`
	CommunitySurveyCount int       `json:"community_survey_count"`
	LatestVersionID      *int64    `json:"latest_version,omitempty"`
	Tags                 []string  `json:"tags"`
	Created              time.Time `json:"created"`
	Modified             time.Time `json:"modified"`
}

// FQN returns namespace.name.
func (c *Collection) FQN() string {
	return c.NamespaceName + "." + c.Name
}

// CollectionMetadata is the collection_info block of MANIFEST.json.
type CollectionMetadata struct {
	Namespace     string            `json:"namespace"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Authors       []string          `json:"authors"`
	Description   string            `json:"description,omitempty"`
	License       []string          `json:"license,omitempty"`
	LicenseFile   string            `json:"license_file,omitempty"`
	Tags          []string          `json:"tags"`
	Readme        string            `json:"readme,omitempty"`
	Repository    string            `json:"repository,omitempty"`
	Documentation string            `json:"documentation,omitempty"`
	Homepage      string            `json:"homepage,omitempty"`
	Issues        string            `json:"issues,omitempty"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
}

// CollectionContent is a single plugin, role or module shipped in a version.
type CollectionContent struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Description string `json:"description,omitempty"`
}

// CollectionVersion is one published release of a Collection.
type CollectionVersion struct {
	ID               int64               `json:"id"`
	CollectionID     int64               `json:"collection"`
	Version          string              `json:"version"`
	Hidden           bool                `json:"hidden"`
	Metadata         CollectionMetadata  `json:"metadata"`
	Contents         []CollectionContent `json:"contents"`
	QualityScore     *float64            `json:"quality_score"`
	ArtifactFilename string              `json:"artifact_filename"`
	ArtifactKey      string              `json:"-"`
	ArtifactSHA256   string              `json:"artifact_sha256"`
	ArtifactSize     int64               `json:"artifact_size"`
	ImportTaskID     *int64              `json:"import_task,omitempty"`
	Created          time.Time           `json:"created"`
}

// ArtifactFilename returns the canonical tarball name for a release.
func ArtifactFilename(namespace, name, version string) string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", namespace, name, version)
}

// ArtifactKey returns the artifact store key for a release tarball.
// Releases record the key they were stored under, so it is only computed
// at upload time.
func ArtifactKey(namespace, name, version string) string {
	return fmt.Sprintf("collections/%s/%s/%s", namespace, name, ArtifactFilename(namespace, name, version))
}
