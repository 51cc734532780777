// Package auth handles hub API keys and GitHub sign-in.
//
// Keys have the form galaxy_<base64url(32 random bytes)>. Only the SHA256
// hash is stored; the plaintext is shown once, when the key is issued.
//
//	tokens := auth.NewTokenService(store, cfg.Maintenance.TokenLifetime)
//	user, token, err := tokens.Authenticate(ctx, key)
//
// Accounts are created on first exchange of a GitHub OAuth token:
//
//	gh, _ := auth.NewGitHubClient(cfg.GitHub.APIURL)
//	ex := auth.NewExchanger(gh, store, tokens, auth.NewAuditLogger(nil))
//	user, key, err := ex.Exchange(ctx, githubToken)
//
// Security-relevant actions are written by AuditLogger as log lines with
// audit=true.
package auth
