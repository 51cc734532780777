package memory

import (
	"context"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Store) surveyTargetExists(kind models.SurveyKind, id int64) bool {
	switch kind {
	case models.SurveyRepository:
		_, ok := s.repositories[id]
		return ok
	case models.SurveyCollection:
		_, ok := s.collections[id]
		return ok
	}
	return false
}

func (s *Store) CreateSurvey(ctx context.Context, survey *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.surveyTargetExists(survey.Kind, survey.ObjectID) {
		return errors.NotValidf("%s %d", survey.Kind, survey.ObjectID)
	}
	for _, existing := range s.surveys {
		if existing.UserID == survey.UserID && existing.Kind == survey.Kind && existing.ObjectID == survey.ObjectID {
			return errors.AlreadyExistsf("survey for %s %d", survey.Kind, survey.ObjectID)
		}
	}
	survey.ID = s.nextID("survey")
	survey.Created = s.now()
	survey.Modified = survey.Created
	c := *survey
	s.surveys[survey.ID] = &c
	return nil
}

func (s *Store) GetSurvey(ctx context.Context, id int64) (*models.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, ok := s.surveys[id]
	if !ok {
		return nil, errors.NotFoundf("survey %d", id)
	}
	c := *sv
	return &c, nil
}

func (s *Store) UpdateSurvey(ctx context.Context, survey *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.surveys[survey.ID]
	if !ok {
		return errors.NotFoundf("survey %d", survey.ID)
	}
	survey.UserID = existing.UserID
	survey.Kind = existing.Kind
	survey.ObjectID = existing.ObjectID
	survey.Created = existing.Created
	survey.Modified = s.now()
	c := *survey
	s.surveys[survey.ID] = &c
	return nil
}

func (s *Store) DeleteSurvey(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.surveys[id]; !ok {
		return errors.NotFoundf("survey %d", id)
	}
	delete(s.surveys, id)
	return nil
}

func (s *Store) ListSurveys(ctx context.Context, filter storage.SurveyFilter, page models.PageRequest) ([]*models.Survey, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Survey
	for _, sv := range s.surveys {
		if filter.Kind != "" && sv.Kind != filter.Kind {
			continue
		}
		if filter.ObjectID != 0 && sv.ObjectID != filter.ObjectID {
			continue
		}
		if filter.UserID != 0 && sv.UserID != filter.UserID {
			continue
		}
		c := *sv
		out = append(out, &c)
	}
	sortByID(out, func(sv *models.Survey) int64 { return sv.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) RecomputeCommunityScore(ctx context.Context, kind models.SurveyKind, objectID int64) (*float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []*models.Survey
	for _, sv := range s.surveys {
		if sv.Kind == kind && sv.ObjectID == objectID {
			matching = append(matching, sv)
		}
	}
	score, n := models.CommunityScore(matching)

	switch kind {
	case models.SurveyRepository:
		r, ok := s.repositories[objectID]
		if !ok {
			return nil, 0, errors.NotFoundf("repository %d", objectID)
		}
		r.CommunityScore = score
		r.CommunitySurveyCount = n
	case models.SurveyCollection:
		c, ok := s.collections[objectID]
		if !ok {
			return nil, 0, errors.NotFoundf("collection %d", objectID)
		}
		c.CommunityScore = score
		c.CommunitySurveyCount = n
	default:
		return nil, 0, errors.NotValidf("survey kind %q", kind)
	}
	return score, n, nil
}
