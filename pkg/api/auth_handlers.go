package api

import (
	"net/http"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/middleware"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func (s *Server) registerAuthRoutes() {
	s.router.HandleFunc("/api/v1/tokens/", s.exchangeToken).Methods(http.MethodPost)
	s.router.Handle("/api/v1/tokens/", middleware.RequireUser(http.HandlerFunc(s.revokeToken))).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/v1/me/", s.getMe).Methods(http.MethodGet)
}

type tokenRequest struct {
	GitHubToken string `json:"github_token"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// exchangeToken handles POST /api/v1/tokens/
func (s *Server) exchangeToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	fields := httputil.FieldErrors{}
	fields.Require("github_token", req.GitHubToken)
	if fields.WriteIfAny(w) {
		return
	}
	if s.Exchanger == nil {
		httputil.WriteErr(w, r, errors.NotSupportedf("token exchange"))
		return
	}

	user, key, err := s.Exchanger.Exchange(r.Context(), req.GitHubToken)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, tokenResponse{Token: key, Username: user.Username})
}

// revokeToken handles DELETE /api/v1/tokens/ and revokes the key the
// request was made with.
func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	token, ok := contextkeys.Token(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "The request was not made with an API token.")
		return
	}
	if !s.authorize(w, r, access.KindToken, token, nil) {
		return
	}
	if err := s.Tokens.Revoke(r.Context(), token); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	s.Audit.LogFromRequest(r, auth.ActionTokenRevoke, "token", token.Prefix, auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

type meResponse struct {
	*models.User
	Authenticated bool `json:"authenticated"`
}

// getMe handles GET /api/v1/me/
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user := contextkeys.User(r.Context())
	httputil.WriteSuccess(w, meResponse{User: user, Authenticated: !user.IsAnonymous()})
}
