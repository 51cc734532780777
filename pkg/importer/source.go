package importer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/juju/errors"
	"golang.org/x/oauth2"
)

// RepoInfo is the repository metadata the importer copies onto a Repository.
type RepoInfo struct {
	Owner         string
	Name          string
	Description   string
	DefaultBranch string
	HTMLURL       string
	Stargazers    int
	Watchers      int
	Forks         int
	OpenIssues    int
}

// CommitInfo identifies the commit an import was built from.
type CommitInfo struct {
	SHA     string
	Message string
	URL     string
	Date    *time.Time
}

// Tag is a git tag and the commit it points at.
type Tag struct {
	Name      string
	CommitSHA string
}

// Readme is a rendered-later README file.
type Readme struct {
	Content string
	Type    string
}

// RepoSource reads role repositories. Missing repositories, refs and files
// are reported as errors.NotFound.
type RepoSource interface {
	GetRepository(ctx context.Context, owner, name string) (*RepoInfo, error)
	GetCommit(ctx context.Context, owner, name, ref string) (*CommitInfo, error)
	GetFile(ctx context.Context, owner, name, ref, filePath string) ([]byte, error)
	GetReadme(ctx context.Context, owner, name, ref string) (*Readme, error)
	ListTags(ctx context.Context, owner, name string) ([]Tag, error)
}

// GitHubSource reads repositories through the GitHub REST API.
type GitHubSource struct {
	client *github.Client
}

var _ RepoSource = (*GitHubSource)(nil)

// NewGitHubSource creates a source for the API at apiURL (api.github.com when
// empty). A non-empty token authenticates every request, which lifts the
// anonymous rate limit.
func NewGitHubSource(apiURL, token string) (*GitHubSource, error) {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, errors.NotValidf("github api url %q", apiURL)
		}
		client.BaseURL = u
	}
	return &GitHubSource{client: client}, nil
}

// classify turns GitHub 404s into errors.NotFound.
func classify(err error, what string) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return errors.NotFoundf("%s", what)
	}
	return fmt.Errorf("github: failed to fetch %s: %w", what, err)
}

func (s *GitHubSource) GetRepository(ctx context.Context, owner, name string) (*RepoInfo, error) {
	repo, _, err := s.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify(err, "repository "+owner+"/"+name)
	}
	return &RepoInfo{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		Description:   repo.GetDescription(),
		DefaultBranch: repo.GetDefaultBranch(),
		HTMLURL:       repo.GetHTMLURL(),
		Stargazers:    repo.GetStargazersCount(),
		Watchers:      repo.GetSubscribersCount(),
		Forks:         repo.GetForksCount(),
		OpenIssues:    repo.GetOpenIssuesCount(),
	}, nil
}

func (s *GitHubSource) GetCommit(ctx context.Context, owner, name, ref string) (*CommitInfo, error) {
	commit, _, err := s.client.Repositories.GetCommit(ctx, owner, name, ref, nil)
	if err != nil {
		return nil, classify(err, "ref "+ref)
	}
	info := &CommitInfo{
		SHA:     commit.GetSHA(),
		Message: commit.GetCommit().GetMessage(),
		URL:     commit.GetHTMLURL(),
	}
	if date := commit.GetCommit().GetCommitter().GetDate(); !date.IsZero() {
		t := date.UTC()
		info.Date = &t
	}
	return info, nil
}

func (s *GitHubSource) GetFile(ctx context.Context, owner, name, ref, filePath string) ([]byte, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, owner, name, filePath,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, classify(err, filePath)
	}
	if file == nil {
		return nil, errors.NotFoundf("file %s", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return []byte(content), nil
}

func (s *GitHubSource) GetReadme(ctx context.Context, owner, name, ref string) (*Readme, error) {
	file, _, err := s.client.Repositories.GetReadme(ctx, owner, name,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, classify(err, "README")
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode README: %w", err)
	}
	return &Readme{Content: content, Type: ReadmeType(file.GetName())}, nil
}

// ListTags pages through every tag of the repository.
func (s *GitHubSource) ListTags(ctx context.Context, owner, name string) ([]Tag, error) {
	var tags []Tag
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := s.client.Repositories.ListTags(ctx, owner, name, opts)
		if err != nil {
			return nil, classify(err, "tags of "+owner+"/"+name)
		}
		for _, t := range page {
			tags = append(tags, Tag{Name: t.GetName(), CommitSHA: t.GetCommit().GetSHA()})
		}
		if resp.NextPage == 0 {
			return tags, nil
		}
		opts.Page = resp.NextPage
	}
}

// ReadmeType maps a README file name to "md", "rst" or "text".
func ReadmeType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".md", ".markdown":
		return "md"
	case ".rst":
		return "rst"
	default:
		return "text"
	}
}
