package models

import "time"

// RepositoryFormat describes the layout of an imported repository.
type RepositoryFormat string

const (
	FormatRole       RepositoryFormat = "role"
	FormatMulti      RepositoryFormat = "multi"
	FormatCollection RepositoryFormat = "collection"
)

// Repository is a source repository imported into the hub.
type Repository struct {
	ID                   int64            `json:"id"`
	ProviderNamespaceID  int64            `json:"provider_namespace"`
	Name                 string           `json:"name"`
	OriginalName         string           `json:"original_name"`
	Description          string           `json:"description,omitempty"`
	Format               RepositoryFormat `json:"format"`
	ImportBranch         string           `json:"import_branch,omitempty"`
	Commit               string           `json:"commit,omitempty"`
	CommitMessage        string           `json:"commit_message,omitempty"`
	CommitURL            string           `json:"commit_url,omitempty"`
	CommitCreated        *time.Time       `json:"commit_created,omitempty"`
	Stargazers           int              `json:"stargazers_count"`
	Watchers             int              `json:"watchers_count"`
	Forks                int              `json:"forks_count"`
	OpenIssues           int              `json:"open_issues_count"`
	DownloadCount        int64            `json:"download_count"`
	QualityScore         *float64         `json:"quality_score"`
	CommunityScore       *float64         `json:"community_score"`
	CommunitySurveyCount int              `json:"community_survey_count"`
	Deprecated           bool             `json:"deprecated"`
	IsEnabled            bool             `json:"is_enabled"`
	Readme               string           `json:"readme,omitempty"`
	ReadmeType           string           `json:"readme_type,omitempty"`
	Owners               []int64          `json:"owners"`
	Created              time.Time        `json:"created"`
	Modified             time.Time        `json:"modified"`
}

// HasOwner reports whether userID was granted explicit ownership of the repository.
func (r *Repository) HasOwner(userID int64) bool {
	for _, id := range r.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// RepositoryVersion is a semver git tag found during import.
type RepositoryVersion struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository"`
	Version      string     `json:"version"`
	Tag          string     `json:"tag"`
	CommitSHA    string     `json:"commit_sha,omitempty"`
	CommitDate   *time.Time `json:"commit_date,omitempty"`
}
