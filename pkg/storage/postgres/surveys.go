package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

var surveyTargets = map[models.SurveyKind]string{
	models.SurveyRepository: "repositories",
	models.SurveyCollection: "collections",
}

const surveyColumns = `id, user_id, kind, object_id, docs, ease_of_use, does_what_it_says,
	works_as_is, used_in_production, created, modified`

func scanSurvey(row rowScanner) (*models.Survey, error) {
	var sv models.Survey
	var docs, ease, does, works, used sql.NullInt64
	if err := row.Scan(&sv.ID, &sv.UserID, &sv.Kind, &sv.ObjectID, &docs, &ease, &does,
		&works, &used, &sv.Created, &sv.Modified); err != nil {
		return nil, err
	}
	sv.Docs = intPtr(docs)
	sv.EaseOfUse = intPtr(ease)
	sv.DoesWhatItSays = intPtr(does)
	sv.WorksAsIs = intPtr(works)
	sv.UsedInProduction = intPtr(used)
	return &sv, nil
}

func (s *Store) CreateSurvey(ctx context.Context, survey *models.Survey) error {
	table, ok := surveyTargets[survey.Kind]
	if !ok {
		return errors.NotValidf("survey kind %q", survey.Kind)
	}
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO surveys (user_id, kind, object_id, docs, ease_of_use, does_what_it_says,
			works_as_is, used_in_production)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE EXISTS (SELECT 1 FROM `+table+` WHERE id = $3)
		RETURNING id, created, modified`,
		survey.UserID, string(survey.Kind), survey.ObjectID, survey.Docs, survey.EaseOfUse,
		survey.DoesWhatItSays, survey.WorksAsIs, survey.UsedInProduction,
	).Scan(&survey.ID, &survey.Created, &survey.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotValidf("%s %d", survey.Kind, survey.ObjectID)
	}
	return classify(err, fmt.Sprintf("survey for %s %d", survey.Kind, survey.ObjectID))
}

func (s *Store) GetSurvey(ctx context.Context, id int64) (*models.Survey, error) {
	sv, err := scanSurvey(s.replica().QueryRowContext(ctx,
		`SELECT `+surveyColumns+` FROM surveys WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("survey %d", id))
	}
	return sv, nil
}

// UpdateSurvey rewrites the answers only; owner and target are immutable.
func (s *Store) UpdateSurvey(ctx context.Context, survey *models.Survey) error {
	var kind string
	err := s.primary().QueryRowContext(ctx, `
		UPDATE surveys SET docs = $2, ease_of_use = $3, does_what_it_says = $4, works_as_is = $5,
			used_in_production = $6, modified = NOW()
		WHERE id = $1
		RETURNING user_id, kind, object_id, created, modified`,
		survey.ID, survey.Docs, survey.EaseOfUse, survey.DoesWhatItSays, survey.WorksAsIs, survey.UsedInProduction,
	).Scan(&survey.UserID, &kind, &survey.ObjectID, &survey.Created, &survey.Modified)
	if err != nil {
		return classify(err, fmt.Sprintf("survey %d", survey.ID))
	}
	survey.Kind = models.SurveyKind(kind)
	return nil
}

func (s *Store) DeleteSurvey(ctx context.Context, id int64) error {
	what := fmt.Sprintf("survey %d", id)
	res, err := s.primary().ExecContext(ctx, `DELETE FROM surveys WHERE id = $1`, id)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) ListSurveys(ctx context.Context, filter storage.SurveyFilter, page models.PageRequest) ([]*models.Survey, int64, error) {
	var c conds
	if filter.Kind != "" {
		c.add("kind = ?", string(filter.Kind))
	}
	if filter.ObjectID != 0 {
		c.add("object_id = ?", filter.ObjectID)
	}
	if filter.UserID != 0 {
		c.add("user_id = ?", filter.UserID)
	}

	total, err := s.count(ctx, "surveys", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count surveys: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+surveyColumns+` FROM surveys`+c.where()+` ORDER BY id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list surveys: %w", err)
	}
	defer rows.Close()

	var out []*models.Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sv)
	}
	return out, total, rows.Err()
}

// RecomputeCommunityScore reads every survey for the object and writes the
// aggregate back in one transaction.
func (s *Store) RecomputeCommunityScore(ctx context.Context, kind models.SurveyKind, objectID int64) (*float64, int, error) {
	table, ok := surveyTargets[kind]
	if !ok {
		return nil, 0, errors.NotValidf("survey kind %q", kind)
	}

	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// recomputes of one object queue on its row, so the last to commit has
	// read every survey committed before it
	var locked int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE id = $1 FOR UPDATE`, objectID).Scan(&locked); err != nil {
		return nil, 0, classify(err, fmt.Sprintf("%s %d", kind, objectID))
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+surveyColumns+` FROM surveys WHERE kind = $1 AND object_id = $2`, string(kind), objectID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load surveys: %w", err)
	}
	var surveys []*models.Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		surveys = append(surveys, sv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	score, n := models.CommunityScore(surveys)
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET community_score = $2, community_survey_count = $3 WHERE id = $1`,
		objectID, score, n)
	if err != nil {
		return nil, 0, classify(err, fmt.Sprintf("%s %d", kind, objectID))
	}
	if err := mustAffect(res, fmt.Sprintf("%s %d", kind, objectID)); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	if kind == models.SurveyRepository {
		s.cache.invalidate(ctx, repositoryKey(objectID))
	} else if err := s.cache.InvalidatePatterns(ctx, "collection:*"); err != nil {
		logrus.WithError(err).Warn("failed to invalidate cached collections")
	}
	return score, n, nil
}
