package api

import (
	"net/http"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/middleware"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerUserRoutes() {
	s.router.HandleFunc("/api/v1/users/", s.listUsers).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/users/{id:[0-9]+}/", s.getUser).Methods(http.MethodGet)
	s.guard("/api/v1/users/{id:[0-9]+}/", access.KindUser, s.updateUser, http.MethodPut)

	me := s.router.PathPrefix("/api/v1/me/").Subrouter()
	me.Use(middleware.RequireUser)
	me.HandleFunc("/preferences/", s.getPreferences).Methods(http.MethodGet)
	me.HandleFunc("/preferences/", s.updatePreferences).Methods(http.MethodPut)
	me.HandleFunc("/notifications/", s.listNotifications).Methods(http.MethodGet)
	me.HandleFunc("/notifications/clear/", s.clearNotifications).Methods(http.MethodPost)
	me.HandleFunc("/notifications/{id:[0-9]+}/", s.updateNotification).Methods(http.MethodPut)
	me.HandleFunc("/notifications/{id:[0-9]+}/", s.deleteNotification).Methods(http.MethodDelete)
}

// listUsers handles GET /api/v1/users/
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindUser, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	active, ok := queryBool(w, r, "is_active")
	if !ok {
		return
	}
	filter := storage.UserFilter{Username: r.URL.Query().Get("username"), Active: active}
	users, total, err := s.Store.ListUsers(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, users, total, page)
}

// getUser handles GET /api/v1/users/{id}/
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := loadByID(s, w, r, access.KindUser, s.Store.GetUser)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, user)
}

type userUpdate struct {
	FullName    *string `json:"full_name"`
	Email       *string `json:"email"`
	AvatarURL   *string `json:"avatar_url"`
	IsActive    *bool   `json:"is_active"`
	IsStaff     *bool   `json:"staff"`
	IsSuperuser *bool   `json:"is_superuser"`
}

// updateUser handles PUT /api/v1/users/{id}/. Account flags can only be
// changed by superusers.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := loadByID(s, w, r, access.KindUser, s.Store.GetUser)
	if !ok {
		return
	}
	var req userUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller := contextkeys.User(r.Context())
	if (req.IsActive != nil || req.IsStaff != nil || req.IsSuperuser != nil) && !caller.IsSuperuser {
		httputil.WriteForbidden(w, "Only superusers may change account flags.")
		return
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsStaff != nil {
		user.IsStaff = *req.IsStaff
	}
	if req.IsSuperuser != nil {
		user.IsSuperuser = *req.IsSuperuser
	}

	if err := s.Store.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	s.Audit.LogFromRequest(r, auth.ActionUserUpdate, "user", user.Username, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, user)
}

// getPreferences handles GET /api/v1/me/preferences/
func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.Store.GetPreferences(r.Context(), contextkeys.User(r.Context()).ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, prefs)
}

// updatePreferences handles PUT /api/v1/me/preferences/ with a partial
// {"type": bool} map.
func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var changes map[models.NotificationType]bool
	if !httputil.ParseJSONOrError(w, r, &changes) {
		return
	}
	prefs, err := s.Notifier.UpdatePreferences(r.Context(), contextkeys.User(r.Context()).ID, changes)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, prefs)
}

// listNotifications handles GET /api/v1/me/notifications/
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	items, total, err := s.Store.ListNotifications(r.Context(), contextkeys.User(r.Context()).ID, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

type seenRequest struct {
	Seen bool `json:"seen"`
}

// updateNotification handles PUT /api/v1/me/notifications/{id}/
func (s *Server) updateNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := loadByID(s, w, r, access.KindNotification, s.Store.GetNotification)
	if !ok {
		return
	}
	var req seenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.Notifier.MarkSeen(r.Context(), n, req.Seen); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, n)
}

// deleteNotification handles DELETE /api/v1/me/notifications/{id}/
func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := loadByID(s, w, r, access.KindNotification, s.Store.GetNotification)
	if !ok {
		return
	}
	if err := s.Store.DeleteNotification(r.Context(), n.ID); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// clearNotifications handles POST /api/v1/me/notifications/clear/
func (s *Server) clearNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.Store.ClearNotifications(r.Context(), contextkeys.User(r.Context()).ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"deleted": n})
}
