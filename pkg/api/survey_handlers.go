package api

import (
	"net/http"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/notify"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerSurveyRoutes() {
	base := "/api/v1/community_surveys/{kind:repository|collection}/"
	s.router.HandleFunc(base, s.listSurveys).Methods(http.MethodGet)
	s.guard(base, access.KindSurvey, s.createSurvey, http.MethodPost)
	s.router.HandleFunc(base+"{id:[0-9]+}/", s.getSurvey).Methods(http.MethodGet)
	s.guard(base+"{id:[0-9]+}/", access.KindSurvey, s.updateSurvey, http.MethodPut)
	s.guard(base+"{id:[0-9]+}/", access.KindSurvey, s.deleteSurvey, http.MethodDelete)
}

// surveyAnswers is the writable part of a survey.
type surveyAnswers struct {
	ObjectID         int64 `json:"object_id"`
	Docs             *int  `json:"docs"`
	EaseOfUse        *int  `json:"ease_of_use"`
	DoesWhatItSays   *int  `json:"does_what_it_says"`
	WorksAsIs        *int  `json:"works_as_is"`
	UsedInProduction *int  `json:"used_in_production"`
}

func (a *surveyAnswers) apply(s *models.Survey) {
	s.Docs = a.Docs
	s.EaseOfUse = a.EaseOfUse
	s.DoesWhatItSays = a.DoesWhatItSays
	s.WorksAsIs = a.WorksAsIs
	s.UsedInProduction = a.UsedInProduction
}

func surveyKind(w http.ResponseWriter, r *http.Request) (models.SurveyKind, bool) {
	kind, err := notify.ParseKind(httputil.PathString(r, "kind"))
	if err != nil {
		httputil.WriteErr(w, r, errors.NewNotFound(err, ""))
		return "", false
	}
	return kind, true
}

// listSurveys handles GET /api/v1/community_surveys/{kind}/
func (s *Server) listSurveys(w http.ResponseWriter, r *http.Request) {
	kind, ok := surveyKind(w, r)
	if !ok || !s.authorize(w, r, access.KindSurvey, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	filter := storage.SurveyFilter{Kind: kind}
	if filter.ObjectID, ok = queryInt64(w, r, "object_id"); !ok {
		return
	}
	if filter.UserID, ok = queryInt64(w, r, "user"); !ok {
		return
	}
	items, total, err := s.Store.ListSurveys(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// createSurvey handles POST /api/v1/community_surveys/{kind}/
func (s *Server) createSurvey(w http.ResponseWriter, r *http.Request) {
	kind, ok := surveyKind(w, r)
	if !ok {
		return
	}
	var req surveyAnswers
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	survey := &models.Survey{Kind: kind, ObjectID: req.ObjectID}
	req.apply(survey)
	if errs := notify.Validate(survey); len(errs) > 0 {
		httputil.WriteValidationErrors(w, errs)
		return
	}
	if !s.authorize(w, r, access.KindSurvey, nil, survey) {
		return
	}
	if err := s.Surveys.Create(r.Context(), contextkeys.User(r.Context()), survey); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, survey)
}

// loadSurvey fetches {id} within {kind}.
func (s *Server) loadSurvey(w http.ResponseWriter, r *http.Request) (*models.Survey, bool) {
	kind, ok := surveyKind(w, r)
	if !ok {
		return nil, false
	}
	survey, ok := loadByID(s, w, r, access.KindSurvey, s.Store.GetSurvey)
	if !ok {
		return nil, false
	}
	if survey.Kind != kind {
		httputil.WriteNotFound(w)
		return nil, false
	}
	return survey, true
}

// getSurvey handles GET /api/v1/community_surveys/{kind}/{id}/
func (s *Server) getSurvey(w http.ResponseWriter, r *http.Request) {
	survey, ok := s.loadSurvey(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, survey)
}

// updateSurvey handles PUT /api/v1/community_surveys/{kind}/{id}/. The
// rated object cannot change.
func (s *Server) updateSurvey(w http.ResponseWriter, r *http.Request) {
	survey, ok := s.loadSurvey(w, r)
	if !ok {
		return
	}
	var req surveyAnswers
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.apply(survey)
	errs := notify.Validate(survey)
	if req.ObjectID != 0 && req.ObjectID != survey.ObjectID {
		errs["object_id"] = append(errs["object_id"], "The rated object cannot be changed.")
	}
	if len(errs) > 0 {
		httputil.WriteValidationErrors(w, errs)
		return
	}
	if err := s.Surveys.Update(r.Context(), survey); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, survey)
}

// deleteSurvey handles DELETE /api/v1/community_surveys/{kind}/{id}/
func (s *Server) deleteSurvey(w http.ResponseWriter, r *http.Request) {
	survey, ok := s.loadSurvey(w, r)
	if !ok {
		return
	}
	if err := s.Surveys.Delete(r.Context(), survey); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
