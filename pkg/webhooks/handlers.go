package webhooks

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/middleware"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Handlers serves webhook management. Every route is superuser only.
type Handlers struct {
	manager *Manager
	perm    *access.ModelAccessPermission
}

// NewHandlers creates the management handlers.
func NewHandlers(manager *Manager, perm *access.ModelAccessPermission) *Handlers {
	return &Handlers{manager: manager, perm: perm}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	handle := func(path string, fn http.HandlerFunc, method string) {
		router.Handle(path, middleware.RequireSuperuser(fn)).Methods(method)
	}
	handle("/api/v1/webhooks/", h.listWebhooks, http.MethodGet)
	handle("/api/v1/webhooks/", h.createWebhook, http.MethodPost)
	handle("/api/v1/webhooks/{id:[0-9]+}/", h.getWebhook, http.MethodGet)
	handle("/api/v1/webhooks/{id:[0-9]+}/", h.updateWebhook, http.MethodPut)
	handle("/api/v1/webhooks/{id:[0-9]+}/", h.deleteWebhook, http.MethodDelete)
	handle("/api/v1/webhooks/{id:[0-9]+}/deliveries/", h.listDeliveries, http.MethodGet)
}

type createRequest struct {
	URL         string             `json:"url"`
	Events      []models.EventType `json:"events"`
	Secret      string             `json:"secret"`
	Description string             `json:"description"`
}

// createdWebhook is the only reply that carries the secret.
type createdWebhook struct {
	*models.Webhook
	Secret string `json:"secret"`
}

func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	hook := &models.Webhook{
		URL:         req.URL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
		CreatedBy:   contextkeys.User(r.Context()).ID,
	}
	if err := h.perm.Check(r, access.KindWebhook, nil, hook); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := h.manager.Register(r.Context(), hook); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, createdWebhook{Webhook: hook, Secret: hook.Secret})
}

func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	hooks, total, err := h.manager.Store().ListWebhooks(r.Context(), page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, hooks, total, page)
}

// load fetches the webhook named in the path and checks the request's
// action on it.
func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*models.Webhook, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	hook, err := h.manager.Store().GetWebhook(r.Context(), id)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return nil, false
	}
	if err := h.perm.Check(r, access.KindWebhook, hook, nil); err != nil {
		httputil.WriteErr(w, r, err)
		return nil, false
	}
	return hook, true
}

func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, hook)
}

type updateRequest struct {
	Active *bool `json:"active"`
}

func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.load(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteValidationErrors(w, map[string][]string{"active": {"This field is required."}})
		return
	}
	if err := h.manager.Store().SetActive(r.Context(), hook.ID, *req.Active); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	hook.Active = *req.Active
	httputil.WriteSuccess(w, hook)
}

func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.manager.Unregister(r.Context(), hook.ID); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.load(w, r)
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	deliveries, total, err := h.manager.Store().ListDeliveries(r.Context(), hook.ID, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, deliveries, total, page)
}
