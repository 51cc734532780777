package access

import (
	"context"
	"net/http"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Action is an operation on an object.
type Action string

const (
	ActionRead   Action = "read"
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionDelete Action = "delete"
)

// ActionForMethod maps an HTTP method onto the action it performs.
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	case http.MethodPost:
		return ActionAdd
	case http.MethodPut, http.MethodPatch:
		return ActionChange
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionChange
	}
}

// IsSafe reports whether a only reads state.
func (a Action) IsSafe() bool {
	return a == ActionRead
}

// Kind names the type of object being accessed.
type Kind string

const (
	KindUser              Kind = "user"
	KindNamespace         Kind = "namespace"
	KindProviderNamespace Kind = "provider_namespace"
	KindRepository        Kind = "repository"
	KindContent           Kind = "content"
	KindCollection        Kind = "collection"
	KindCollectionVersion Kind = "collection_version"
	KindImportTask        Kind = "import_task"
	KindSurvey            Kind = "survey"
	KindNotification      Kind = "notification"
	KindToken             Kind = "token"
	KindWebhook           Kind = "webhook"
)

// Access is the authorization strategy for one kind of object. obj is the
// existing object (nil for list reads); data is the proposed new state for
// add and change (may be nil).
type Access interface {
	CanRead(ctx context.Context, user *models.User, obj interface{}) bool
	CanAdd(ctx context.Context, user *models.User, data interface{}) bool
	CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool
	CanDelete(ctx context.Context, user *models.User, obj interface{}) bool
}

// Decision is the outcome of a registry check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Kind     Kind   `json:"kind"`
	Action   Action `json:"action"`
	Strategy string `json:"strategy,omitempty"`
	Reason   string `json:"reason"`
}
