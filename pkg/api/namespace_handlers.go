package api

import (
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerNamespaceRoutes() {
	s.router.HandleFunc("/api/v1/namespaces/", s.listNamespaces).Methods(http.MethodGet)
	s.guard("/api/v1/namespaces/", access.KindNamespace, s.createNamespace, http.MethodPost)
	s.router.HandleFunc("/api/v1/namespaces/{id:[0-9]+}/", s.getNamespace).Methods(http.MethodGet)
	s.guard("/api/v1/namespaces/{id:[0-9]+}/", access.KindNamespace, s.updateNamespace, http.MethodPut)
	s.guard("/api/v1/namespaces/{id:[0-9]+}/", access.KindNamespace, s.deleteNamespace, http.MethodDelete)
	s.router.HandleFunc("/api/v1/namespaces/{id:[0-9]+}/provider_namespaces/", s.listNamespaceProviderNamespaces).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/providers/", s.listProviders).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/provider_namespaces/", s.listProviderNamespaces).Methods(http.MethodGet)
	s.guard("/api/v1/provider_namespaces/", access.KindProviderNamespace, s.createProviderNamespace, http.MethodPost)
	s.router.HandleFunc("/api/v1/provider_namespaces/{id:[0-9]+}/", s.getProviderNamespace).Methods(http.MethodGet)
	s.guard("/api/v1/provider_namespaces/{id:[0-9]+}/", access.KindProviderNamespace, s.updateProviderNamespace, http.MethodPut)
	s.guard("/api/v1/provider_namespaces/{id:[0-9]+}/", access.KindProviderNamespace, s.deleteProviderNamespace, http.MethodDelete)
}

// namespaceRequest is the writable part of a namespace. Pointer fields are
// left unchanged on update when absent.
type namespaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Company     *string `json:"company"`
	Email       *string `json:"email"`
	AvatarURL   *string `json:"avatar_url"`
	Location    *string `json:"location"`
	HTMLURL     *string `json:"html_url"`
	IsVendor    *bool   `json:"is_vendor"`
	Active      *bool   `json:"active"`
	Owners      []int64 `json:"owners"`
}

func (req *namespaceRequest) apply(ns *models.Namespace) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	if req.Name != nil {
		ns.Name = strings.ToLower(strings.TrimSpace(*req.Name))
	}
	set(&ns.Description, req.Description)
	set(&ns.Company, req.Company)
	set(&ns.Email, req.Email)
	set(&ns.AvatarURL, req.AvatarURL)
	set(&ns.Location, req.Location)
	set(&ns.HTMLURL, req.HTMLURL)
	if req.IsVendor != nil {
		ns.IsVendor = *req.IsVendor
	}
	if req.Active != nil {
		ns.Active = *req.Active
	}
	if req.Owners != nil {
		ns.Owners = req.Owners
	}
}

// validateOwners checks that every owner is an existing account.
func (s *Server) validateOwners(r *http.Request, owners []int64, fields httputil.FieldErrors) error {
	for _, id := range owners {
		_, err := s.Store.GetUser(r.Context(), id)
		if errors.Is(err, errors.NotFound) {
			fields.Add("owners", "User %d does not exist.", id)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// listNamespaces handles GET /api/v1/namespaces/
func (s *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindNamespace, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	owner, ok := queryInt64(w, r, "owner")
	if !ok {
		return
	}
	vendor, ok := queryBool(w, r, "is_vendor")
	if !ok {
		return
	}
	filter := storage.NamespaceFilter{Name: r.URL.Query().Get("name"), OwnerID: owner, Vendor: vendor}
	items, total, err := s.Store.ListNamespaces(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// createNamespace handles POST /api/v1/namespaces/. The caller becomes an
// owner; only superusers may create vendor namespaces.
func (s *Server) createNamespace(w http.ResponseWriter, r *http.Request) {
	var req namespaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	user := contextkeys.User(r.Context())
	ns := &models.Namespace{Active: true}
	req.apply(ns)
	if !user.IsAnonymous() && !ns.HasOwner(user.ID) {
		ns.Owners = append(ns.Owners, user.ID)
	}

	fields := httputil.FieldErrors{}
	fields.Require("name", ns.Name)
	if ns.Name != "" && !models.ValidName(ns.Name) {
		fields.Add("name", "Name can only contain [a-z0-9_] and must not start with an underscore.")
	}
	if ns.IsVendor && !user.IsSuperuser {
		fields.Add("is_vendor", "Only superusers may create vendor namespaces.")
	}
	if err := s.validateOwners(r, ns.Owners, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}
	if !s.authorize(w, r, access.KindNamespace, nil, ns) {
		return
	}

	if err := s.Store.CreateNamespace(r.Context(), ns); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	s.dispatch(r, models.EventNamespaceCreated, map[string]interface{}{
		"namespace_id": ns.ID,
		"namespace":    ns.Name,
		"message":      "Namespace " + ns.Name + " was created",
	})
	httputil.WriteCreated(w, ns)
}

// getNamespace handles GET /api/v1/namespaces/{id}/
func (s *Server) getNamespace(w http.ResponseWriter, r *http.Request) {
	ns, ok := loadByID(s, w, r, access.KindNamespace, s.Store.GetNamespace)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, ns)
}

// updateNamespace handles PUT /api/v1/namespaces/{id}/
func (s *Server) updateNamespace(w http.ResponseWriter, r *http.Request) {
	ns, ok := loadByID(s, w, r, access.KindNamespace, s.Store.GetNamespace)
	if !ok {
		return
	}
	var req namespaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	wasVendor := ns.IsVendor
	req.apply(ns)

	fields := httputil.FieldErrors{}
	if !models.ValidName(ns.Name) {
		fields.Add("name", "Name can only contain [a-z0-9_] and must not start with an underscore.")
	}
	if ns.IsVendor != wasVendor && !contextkeys.User(r.Context()).IsSuperuser {
		fields.Add("is_vendor", "Only superusers may change the vendor flag.")
	}
	if len(ns.Owners) == 0 {
		fields.Add("owners", "A namespace needs at least one owner.")
	}
	if err := s.validateOwners(r, req.Owners, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}

	if err := s.Store.UpdateNamespace(r.Context(), ns); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ns)
}

// deleteNamespace handles DELETE /api/v1/namespaces/{id}/
func (s *Server) deleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns, ok := loadByID(s, w, r, access.KindNamespace, s.Store.GetNamespace)
	if !ok {
		return
	}
	if err := s.Store.DeleteNamespace(r.Context(), ns.ID); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listNamespaceProviderNamespaces handles
// GET /api/v1/namespaces/{id}/provider_namespaces/
func (s *Server) listNamespaceProviderNamespaces(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	ns, err := s.Store.GetNamespace(r.Context(), id)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if !s.authorizeParent(w, r, access.KindNamespace, ns) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	items, total, err := s.Store.ListProviderNamespaces(r.Context(), storage.ProviderNamespaceFilter{NamespaceID: ns.ID}, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// listProviders handles GET /api/v1/providers/
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	providers, err := s.Store.ListProviders(r.Context())
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, window(providers, page), int64(len(providers)), page)
}

type providerNamespaceRequest struct {
	Name        *string `json:"name"`
	DisplayName *string `json:"display_name"`
	Provider    *int64  `json:"provider"`
	Namespace   *int64  `json:"namespace"`
	Description *string `json:"description"`
	Company     *string `json:"company"`
	Email       *string `json:"email"`
	AvatarURL   *string `json:"avatar_url"`
	HTMLURL     *string `json:"html_url"`
}

func (req *providerNamespaceRequest) apply(pns *models.ProviderNamespace) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&pns.Name, req.Name)
	set(&pns.DisplayName, req.DisplayName)
	set(&pns.Description, req.Description)
	set(&pns.Company, req.Company)
	set(&pns.Email, req.Email)
	set(&pns.AvatarURL, req.AvatarURL)
	set(&pns.HTMLURL, req.HTMLURL)
	if req.Provider != nil {
		pns.ProviderID = *req.Provider
	}
	if req.Namespace != nil {
		ns := *req.Namespace
		pns.NamespaceID = &ns
	}
}

// checkProviderNamespace validates the provider and namespace references.
func (s *Server) checkProviderNamespace(r *http.Request, pns *models.ProviderNamespace, fields httputil.FieldErrors) error {
	fields.Require("name", pns.Name)
	if _, err := s.Store.GetProvider(r.Context(), pns.ProviderID); errors.Is(err, errors.NotFound) {
		fields.Add("provider", "Provider %d does not exist.", pns.ProviderID)
	} else if err != nil {
		return err
	}
	if pns.NamespaceID == nil {
		fields.Add("namespace", "This field is required.")
		return nil
	}
	if _, err := s.Store.GetNamespace(r.Context(), *pns.NamespaceID); errors.Is(err, errors.NotFound) {
		fields.Add("namespace", "Namespace %d does not exist.", *pns.NamespaceID)
	} else if err != nil {
		return err
	}
	return nil
}

// listProviderNamespaces handles GET /api/v1/provider_namespaces/
func (s *Server) listProviderNamespaces(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindProviderNamespace, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	nsID, ok := queryInt64(w, r, "namespace")
	if !ok {
		return
	}
	providerID, ok := queryInt64(w, r, "provider")
	if !ok {
		return
	}
	filter := storage.ProviderNamespaceFilter{NamespaceID: nsID, ProviderID: providerID, Name: r.URL.Query().Get("name")}
	items, total, err := s.Store.ListProviderNamespaces(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// createProviderNamespace handles POST /api/v1/provider_namespaces/. The
// provider defaults to GitHub.
func (s *Server) createProviderNamespace(w http.ResponseWriter, r *http.Request) {
	var req providerNamespaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	pns := &models.ProviderNamespace{}
	req.apply(pns)
	if req.Provider == nil {
		gh, err := s.Store.GetProviderByName(r.Context(), models.ProviderGitHub)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		pns.ProviderID = gh.ID
	}

	fields := httputil.FieldErrors{}
	if err := s.checkProviderNamespace(r, pns, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}
	if !s.authorize(w, r, access.KindProviderNamespace, nil, pns) {
		return
	}
	if err := s.Store.CreateProviderNamespace(r.Context(), pns); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, pns)
}

// getProviderNamespace handles GET /api/v1/provider_namespaces/{id}/
func (s *Server) getProviderNamespace(w http.ResponseWriter, r *http.Request) {
	pns, ok := loadByID(s, w, r, access.KindProviderNamespace, s.Store.GetProviderNamespace)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, pns)
}

// updateProviderNamespace handles PUT /api/v1/provider_namespaces/{id}/.
// Moving it to another namespace also requires ownership of the target.
func (s *Server) updateProviderNamespace(w http.ResponseWriter, r *http.Request) {
	pns, ok := loadByID(s, w, r, access.KindProviderNamespace, s.Store.GetProviderNamespace)
	if !ok {
		return
	}
	var req providerNamespaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	changed := *pns
	req.apply(&changed)

	fields := httputil.FieldErrors{}
	if err := s.checkProviderNamespace(r, &changed, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}
	if !s.authorize(w, r, access.KindProviderNamespace, pns, &changed) {
		return
	}
	if err := s.Store.UpdateProviderNamespace(r.Context(), &changed); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, &changed)
}

// deleteProviderNamespace handles DELETE /api/v1/provider_namespaces/{id}/
func (s *Server) deleteProviderNamespace(w http.ResponseWriter, r *http.Request) {
	pns, ok := loadByID(s, w, r, access.KindProviderNamespace, s.Store.GetProviderNamespace)
	if !ok {
		return
	}
	if err := s.Store.DeleteProviderNamespace(r.Context(), pns.ID); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
