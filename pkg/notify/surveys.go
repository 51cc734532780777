package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/async"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// Surveys records community ratings and keeps the community score of the
// rated repository or collection current.
type Surveys struct {
	store    storage.Store
	notifier *Service
}

// NewSurveys creates a survey service. notifier may be nil.
func NewSurveys(store storage.Store, notifier *Service) *Surveys {
	return &Surveys{store: store, notifier: notifier}
}

// ParseKind validates a survey kind taken from a URL.
func ParseKind(s string) (models.SurveyKind, error) {
	switch k := models.SurveyKind(s); k {
	case models.SurveyRepository, models.SurveyCollection:
		return k, nil
	}
	return "", errors.NotValidf("survey kind %q", s)
}

// Validate reports field errors by JSON name.
func Validate(s *models.Survey) map[string][]string {
	errs := map[string][]string{}
	answers := map[string]*int{
		"docs":               s.Docs,
		"ease_of_use":        s.EaseOfUse,
		"does_what_it_says":  s.DoesWhatItSays,
		"works_as_is":        s.WorksAsIs,
		"used_in_production": s.UsedInProduction,
	}
	for field, v := range answers {
		if v != nil && (*v < 1 || *v > 5) {
			errs[field] = append(errs[field], "Ensure this value is between 1 and 5.")
		}
	}
	if s.ObjectID <= 0 {
		errs["object_id"] = append(errs["object_id"], "This field is required.")
	}
	return errs
}

// Create stores author's survey, refreshes the score and tells the owners
// of the rated object.
func (s *Surveys) Create(ctx context.Context, author *models.User, survey *models.Survey) error {
	if !survey.Valid() {
		return errors.NotValidf("survey answers")
	}
	survey.UserID = author.ID
	if err := s.store.CreateSurvey(ctx, survey); err != nil {
		return err
	}
	if err := s.recompute(ctx, survey); err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}

	target, owners, err := s.describe(ctx, survey)
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Warn("failed to resolve survey target owners")
		return nil
	}
	tmpl := models.Notification{
		Type:    models.NotifySurvey,
		Message: fmt.Sprintf("%s rated %s", author.Username, target),
	}
	if survey.Kind == models.SurveyRepository {
		tmpl.RepositoryID = &survey.ObjectID
	} else {
		tmpl.CollectionID = &survey.ObjectID
	}
	if _, err := s.notifier.Notify(ctx, owners, tmpl); err != nil {
		observability.GetLogger(ctx).WithError(err).Warn("failed to send survey notifications")
	}
	return nil
}

// Update replaces the answers of an existing survey.
func (s *Surveys) Update(ctx context.Context, survey *models.Survey) error {
	if !survey.Valid() {
		return errors.NotValidf("survey answers")
	}
	if err := s.store.UpdateSurvey(ctx, survey); err != nil {
		return err
	}
	return s.recompute(ctx, survey)
}

// Delete removes a survey and refreshes the score.
func (s *Surveys) Delete(ctx context.Context, survey *models.Survey) error {
	if err := s.store.DeleteSurvey(ctx, survey.ID); err != nil {
		return err
	}
	return s.recompute(ctx, survey)
}

func (s *Surveys) recompute(ctx context.Context, survey *models.Survey) error {
	score, n, err := s.store.RecomputeCommunityScore(ctx, survey.Kind, survey.ObjectID)
	if err != nil {
		return fmt.Errorf("failed to recompute community score: %w", err)
	}
	logger := observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"kind":    survey.Kind,
		"object":  survey.ObjectID,
		"surveys": n,
	})
	if score != nil {
		logger = logger.WithField("score", *score)
	}
	logger.Debug("community score updated")
	return nil
}

type surveyTarget struct {
	kind models.SurveyKind
	id   int64
}

// RecomputeAll refreshes the community score of every repository and
// collection, workers at a time. It returns the number of objects visited
// and the first error; one failure does not stop the rest.
func (s *Surveys) RecomputeAll(ctx context.Context, workers int) (int, error) {
	var targets []surveyTarget
	for page := models.NewPageRequest(1, models.MaxPageSize); ; page.Page++ {
		repos, total, err := s.store.ListRepositories(ctx, storage.RepositoryFilter{}, page)
		if err != nil {
			return 0, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, r := range repos {
			targets = append(targets, surveyTarget{models.SurveyRepository, r.ID})
		}
		if len(repos) == 0 || int64(page.Offset()+len(repos)) >= total {
			break
		}
	}
	for page := models.NewPageRequest(1, models.MaxPageSize); ; page.Page++ {
		colls, total, err := s.store.ListCollections(ctx, storage.CollectionFilter{}, page)
		if err != nil {
			return 0, fmt.Errorf("failed to list collections: %w", err)
		}
		for _, c := range colls {
			targets = append(targets, surveyTarget{models.SurveyCollection, c.ID})
		}
		if len(colls) == 0 || int64(page.Offset()+len(colls)) >= total {
			break
		}
	}

	errs := async.Batch(ctx, targets, workers, time.Minute, func(ctx context.Context, t surveyTarget) error {
		_, _, err := s.store.RecomputeCommunityScore(ctx, t.kind, t.id)
		return err
	})
	if len(errs) > 0 {
		return len(targets), fmt.Errorf("%d of %d scores failed, first: %w", len(errs), len(targets), errs[0])
	}
	return len(targets), nil
}

// describe names the rated object and lists the users who own it.
func (s *Surveys) describe(ctx context.Context, survey *models.Survey) (string, []int64, error) {
	switch survey.Kind {
	case models.SurveyRepository:
		repo, err := s.store.GetRepository(ctx, survey.ObjectID)
		if err != nil {
			return "", nil, err
		}
		pns, err := s.store.GetProviderNamespace(ctx, repo.ProviderNamespaceID)
		if err != nil {
			return "", nil, err
		}
		owners := append([]int64(nil), repo.Owners...)
		if pns.NamespaceID != nil {
			more, err := s.notifier.namespaceOwners(ctx, *pns.NamespaceID)
			if err != nil {
				return "", nil, err
			}
			owners = append(owners, more...)
		}
		return pns.Name + "/" + repo.Name, owners, nil

	case models.SurveyCollection:
		c, err := s.store.GetCollection(ctx, survey.ObjectID)
		if err != nil {
			return "", nil, err
		}
		ns, err := s.store.GetNamespace(ctx, c.NamespaceID)
		if err != nil {
			return "", nil, err
		}
		return ns.Name + "." + c.Name, ns.Owners, nil
	}
	return "", nil, errors.NotValidf("survey kind %q", survey.Kind)
}
