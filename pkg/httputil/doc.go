// Package httputil holds the JSON response helpers, request parsing,
// pagination envelope and middleware shared by galaxyhub's HTTP handlers.
//
// Errors are always written as {"detail": "..."}; WriteErr maps juju error
// classes onto status codes:
//
//	ns, err := store.GetNamespace(ctx, id)
//	if err != nil {
//		httputil.WriteErr(w, r, err) // NotFound -> 404, NotValid -> 400, ...
//		return
//	}
//
// List endpoints return models.Page via WritePage, which builds absolute
// next/previous links that preserve the other query parameters.
package httputil
