package access

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// ModelAccessPermission applies the request-level rules of the API on top
// of a Registry:
//
//   - anonymous users may only read (401 otherwise)
//   - inactive accounts are refused (403)
//   - superusers are always allowed
//   - a read with no object (a list) is allowed
//   - everything else is the registry's decision
type ModelAccessPermission struct {
	registry *Registry
	audit    *auth.AuditLogger
}

// NewModelAccessPermission wraps registry. audit may be nil.
func NewModelAccessPermission(registry *Registry, audit *auth.AuditLogger) *ModelAccessPermission {
	return &ModelAccessPermission{registry: registry, audit: audit}
}

// Registry returns the wrapped registry.
func (p *ModelAccessPermission) Registry() *Registry {
	return p.registry
}

// Check authorizes the action implied by the request method.
func (p *ModelAccessPermission) Check(r *http.Request, kind Kind, obj, data interface{}) error {
	return p.CheckAction(r, kind, ActionForMethod(r.Method), obj, data)
}

// CheckParent authorizes reading the parent of a nested route. Handlers call
// it before checking the child.
func (p *ModelAccessPermission) CheckParent(r *http.Request, kind Kind, parent interface{}) error {
	return p.CheckAction(r, kind, ActionRead, parent, nil)
}

// CheckAction authorizes action on obj. The error is classified for
// httputil.WriteErr: errors.Unauthorized or errors.Forbidden.
func (p *ModelAccessPermission) CheckAction(r *http.Request, kind Kind, action Action, obj, data interface{}) error {
	user := contextkeys.User(r.Context())

	if err := gate(user, action); err != nil {
		p.registry.observe(Decision{Kind: kind, Action: action})
		return err
	}
	if user.IsSuperuser {
		p.registry.observe(Decision{Allowed: true, Kind: kind, Action: action, Strategy: "superuser"})
		return nil
	}
	if action == ActionRead && obj == nil {
		p.registry.observe(Decision{Allowed: true, Kind: kind, Action: action, Strategy: "list"})
		return nil
	}

	d := p.registry.Check(r.Context(), user, kind, action, obj, data)
	if d.Allowed {
		return nil
	}
	p.audit.LogFromRequest(r, auth.ActionAccessDenied, string(kind), objectID(obj), auth.StatusDenied, fmt.Errorf("%s", d.Reason))
	if user.IsAnonymous() {
		return errNotAuthenticated
	}
	return errPermissionDenied
}

// Allows applies the same rules as CheckAction without auditing a denial.
// Handlers use it to shape a response rather than to refuse one.
func (p *ModelAccessPermission) Allows(r *http.Request, kind Kind, action Action, obj, data interface{}) bool {
	user := contextkeys.User(r.Context())
	if gate(user, action) != nil {
		return false
	}
	if user.IsSuperuser || (action == ActionRead && obj == nil) {
		return true
	}
	return p.registry.CheckUserAccess(r.Context(), user, kind, action, obj, data)
}

var (
	errNotAuthenticated = errors.WithType(errors.New("Authentication credentials were not provided."), errors.Unauthorized)
	errPermissionDenied = errors.WithType(errors.New("You do not have permission to perform this action."), errors.Forbidden)
	errInactive         = errors.WithType(errors.New("Your account is inactive."), errors.Forbidden)
)

// gate holds the rules that do not depend on the object.
func gate(user *models.User, action Action) error {
	if user.IsAnonymous() {
		if !action.IsSafe() {
			return errNotAuthenticated
		}
		return nil
	}
	if !user.IsActive {
		return errInactive
	}
	return nil
}

// Require is route middleware for the object-independent rules, so that
// anonymous writes and inactive accounts are refused before a handler
// loads anything.
func (p *ModelAccessPermission) Require(kind Kind) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := ActionForMethod(r.Method)
			if err := gate(contextkeys.User(r.Context()), action); err != nil {
				p.registry.observe(Decision{Kind: kind, Action: action})
				httputil.WriteErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func objectID(obj interface{}) string {
	switch o := obj.(type) {
	case *models.User:
		return fmt.Sprint(o.ID)
	case *models.Namespace:
		return fmt.Sprint(o.ID)
	case *models.ProviderNamespace:
		return fmt.Sprint(o.ID)
	case *models.Repository:
		return fmt.Sprint(o.ID)
	case *models.Content:
		return fmt.Sprint(o.ID)
	case *models.Collection:
		return fmt.Sprint(o.ID)
	case *models.CollectionVersion:
		return fmt.Sprint(o.ID)
	case *models.ImportTask:
		return fmt.Sprint(o.ID)
	case *models.Survey:
		return fmt.Sprint(o.ID)
	case *models.Notification:
		return fmt.Sprint(o.ID)
	case *models.APIToken:
		return fmt.Sprint(o.ID)
	case *models.Webhook:
		return fmt.Sprint(o.ID)
	default:
		return ""
	}
}
