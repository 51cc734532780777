package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// GitHubProfile is the subset of a GitHub account the hub keeps.
type GitHubProfile struct {
	ID        int64
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// GitHubVerifier resolves a GitHub OAuth token to the account it belongs to.
type GitHubVerifier interface {
	Verify(ctx context.Context, githubToken string) (*GitHubProfile, error)
}

// GitHubClient verifies tokens against the GitHub REST API.
type GitHubClient struct {
	baseURL *url.URL
}

// NewGitHubClient returns a verifier for the API at apiURL. An empty apiURL
// means api.github.com.
func NewGitHubClient(apiURL string) (*GitHubClient, error) {
	c := &GitHubClient{}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, errors.NotValidf("github api url %q", apiURL)
		}
		c.baseURL = u
	}
	return c, nil
}

func (c *GitHubClient) client(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

// Verify calls GET /user with the token.
func (c *GitHubClient) Verify(ctx context.Context, githubToken string) (*GitHubProfile, error) {
	if strings.TrimSpace(githubToken) == "" {
		return nil, errors.WithType(errors.New("github_token is required"), errors.BadRequest)
	}

	user, _, err := c.client(ctx, githubToken).Users.Get(ctx, "")
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil &&
			(ghErr.Response.StatusCode == http.StatusUnauthorized || ghErr.Response.StatusCode == http.StatusForbidden) {
			return nil, errors.Unauthorizedf("github rejected the token")
		}
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}
	if user.GetLogin() == "" {
		return nil, errors.Unauthorizedf("github returned no login for the token")
	}

	return &GitHubProfile{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}

// Exchanger turns a GitHub token into a hub API key, creating the hub
// account on first use.
type Exchanger struct {
	verifier GitHubVerifier
	users    storage.UserStore
	tokens   *TokenService
	audit    *AuditLogger
}

// NewExchanger wires an exchanger. audit may be nil.
func NewExchanger(verifier GitHubVerifier, users storage.UserStore, tokens *TokenService, audit *AuditLogger) *Exchanger {
	return &Exchanger{verifier: verifier, users: users, tokens: tokens, audit: audit}
}

// Exchange verifies githubToken and returns the hub user plus a fresh key.
func (e *Exchanger) Exchange(ctx context.Context, githubToken string) (*models.User, string, error) {
	profile, err := e.verifier.Verify(ctx, githubToken)
	if err != nil {
		e.audit.Log(ctx, &AuditEvent{Action: ActionAuthFailure, ResourceType: "token", Status: StatusFailure, Error: err.Error()})
		return nil, "", err
	}

	user, err := e.findOrCreate(ctx, profile)
	if err != nil {
		return nil, "", err
	}
	if !user.IsActive {
		e.audit.Log(ctx, &AuditEvent{Action: ActionAuthFailure, UserID: user.ID, ResourceType: "token", Status: StatusDenied})
		return nil, "", errors.WithType(errors.New("Your account is inactive."), errors.Forbidden)
	}

	key, token, err := e.tokens.Issue(ctx, user)
	if err != nil {
		return nil, "", err
	}
	e.audit.Log(ctx, &AuditEvent{
		Action:       ActionTokenCreate,
		UserID:       user.ID,
		ResourceType: "token",
		ResourceID:   fmt.Sprint(token.ID),
		Status:       StatusSuccess,
	})
	return user, key, nil
}

func (e *Exchanger) findOrCreate(ctx context.Context, profile *GitHubProfile) (*models.User, error) {
	now := e.tokens.now()

	user, err := e.users.GetUserByUsername(ctx, profile.Login)
	if errors.Is(err, errors.NotFound) {
		user = &models.User{
			Username:    profile.Login,
			Email:       profile.Email,
			FullName:    profile.Name,
			AvatarURL:   profile.AvatarURL,
			GitHubLogin: profile.Login,
			IsActive:    true,
			DateJoined:  now,
			LastLogin:   &now,
		}
		if err := e.users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user %s: %w", profile.Login, err)
		}
		logrus.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"username": user.Username,
		}).Info("created user from github login")
		e.audit.Log(ctx, &AuditEvent{
			Action:       ActionUserCreate,
			UserID:       user.ID,
			ResourceType: "user",
			ResourceID:   fmt.Sprint(user.ID),
			Status:       StatusSuccess,
		})
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", profile.Login, err)
	}

	// Profile fields follow GitHub; local edits to email survive.
	user.GitHubLogin = profile.Login
	user.AvatarURL = profile.AvatarURL
	if profile.Name != "" {
		user.FullName = profile.Name
	}
	if user.Email == "" {
		user.Email = profile.Email
	}
	user.LastLogin = &now
	if err := e.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user %s: %w", profile.Login, err)
	}
	return user, nil
}
