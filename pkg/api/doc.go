// Package api serves the hub's REST API.
//
// # Overview
//
// Server wires every handler group onto one gorilla/mux router:
//
//   - Auth: GitHub token exchange, token revocation and the current user
//   - Users: profiles, notification preferences and the notification inbox
//   - Namespaces, providers and provider namespaces
//   - Repositories, their versions, content and roles
//   - Imports: role imports from GitHub and collection import status
//   - Collections: tarball upload, versions and artifact download
//   - Community surveys
//   - Search, tag and platform facets (package search)
//   - Outbound webhook management and inbound GitHub/Travis hooks (package webhooks)
//
// # Request pipeline
//
// Every request passes through, in order: panic recovery, request ID and
// logger injection, request logging, optional CORS, prometheus HTTP metrics,
// an optional per-request timeout, token authentication and rate limiting.
// Handlers then authorize through access.ModelAccessPermission, which maps
// the HTTP method to an action and consults the registered strategies for
// the object kind.
//
// # Responses
//
// Lists are wrapped in models.Page ({count, next, previous, results}) and
// take page and page_size parameters. Errors are {"detail": "..."} with the
// status chosen by httputil.WriteErr from the juju error class; validation
// failures add per-field messages under "errors".
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Store:     store,
//		Artifacts: artifacts,
//		Importer:  imp,
//		Notifier:  notifier,
//		Surveys:   notify.NewSurveys(store, notifier),
//		Tokens:    tokens,
//		Exchanger: exchanger,
//		Search:    searchService,
//	})
//	http.ListenAndServe(":8080", server)
package api
