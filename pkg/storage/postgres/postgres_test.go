package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/juju/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithConnections(NewConnectionManagerFromDB(db), nil, storage.Config{}), mock
}

var namespaceCols = []string{"id", "name", "description", "company", "email", "avatar_url", "location",
	"html_url", "is_vendor", "active", "created", "modified"}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil, "x"))
	assert.True(t, errors.Is(classify(sql.ErrNoRows, "user 1"), errors.NotFound))
	assert.True(t, errors.Is(classify(&pq.Error{Code: "23505"}, "user"), errors.AlreadyExists))
	assert.True(t, errors.Is(classify(&pq.Error{Code: "23503"}, "user"), errors.NotValid))
	assert.True(t, errors.Is(classify(&pq.Error{Code: "23514"}, "user"), errors.NotValid))

	boom := stderrors.New("boom")
	err := classify(boom, "user")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "user: boom")
}

func TestConds(t *testing.T) {
	var c conds
	assert.Equal(t, "", c.where())

	c.add("name ILIKE ?", "%x%")
	c.raw("active")
	c.add("owner_id = ?", int64(4))
	assert.Equal(t, " WHERE name ILIKE $1 AND active AND owner_id = $2", c.where())

	limit, args := c.limit(models.NewPageRequest(3, 20))
	assert.Equal(t, " LIMIT $3 OFFSET $4", limit)
	assert.Equal(t, []any{"%x%", int64(4), 20, 40}, args)
	assert.Len(t, c.args, 2, "limit must not grow the filter args")
}

func TestCreateUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "a@example.com", "", "", "alice", true, false, false, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	u := &models.User{Username: "alice", Email: "a@example.com", GitHubLogin: "alice", IsActive: true}
	require.NoError(t, s.CreateUser(context.Background(), u))
	assert.Equal(t, int64(3), u.ID)
	assert.False(t, u.DateJoined.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateUser(context.Background(), &models.User{Username: "alice"})
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestGetUser_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).WithArgs(int64(7)).WillReturnError(sql.ErrNoRows)

	_, err := s.GetUser(context.Background(), 7)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteToken_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM api_tokens WHERE id = \$1`).WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteToken(context.Background(), 9)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestGetNamespace_LoadsOwners(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM namespaces WHERE id = \$1`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(namespaceCols).
			AddRow(1, "acme", "", "", "", "", "", "", false, true, now, now))
	mock.ExpectQuery(`SELECT namespace_id, user_id FROM namespace_owners`).
		WillReturnRows(sqlmock.NewRows([]string{"namespace_id", "user_id"}).AddRow(1, 5).AddRow(1, 9))

	ns, err := s.GetNamespace(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "acme", ns.Name)
	assert.Equal(t, []int64{5, 9}, ns.Owners)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNamespaces_FiltersAndPages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM namespaces WHERE name ILIKE \$1 AND id IN`).
		WithArgs("%ac%", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(`SELECT .* FROM namespaces WHERE .* ORDER BY id LIMIT \$3 OFFSET \$4`).
		WithArgs("%ac%", int64(5), 10, 10).
		WillReturnRows(sqlmock.NewRows(namespaceCols).
			AddRow(11, "acme", "", "", "", "", "", "", false, true, now, now))
	mock.ExpectQuery(`SELECT namespace_id, user_id FROM namespace_owners`).
		WillReturnRows(sqlmock.NewRows([]string{"namespace_id", "user_id"}))

	items, total, err := s.ListNamespaces(context.Background(),
		storage.NamespaceFilter{Name: "ac", OwnerID: 5}, models.NewPageRequest(2, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(11), total)
	require.Len(t, items, 1)
	assert.Equal(t, []int64{}, items[0].Owners)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNamespace_WithCollections(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`DELETE FROM namespaces`).WithArgs(int64(2)).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "collections_namespace_id_fkey"})

	err := s.DeleteNamespace(context.Background(), 2)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestUpsertContent_UnknownType(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM content_types WHERE name = \$1`).WithArgs("bogus").
		WillReturnError(sql.ErrNoRows)

	err := s.UpsertContent(context.Background(), &models.Content{RepositoryID: 1, ContentType: "bogus", Name: "x"})
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentTypeLookupIsCached(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, name, description FROM content_types`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).AddRow(1, "role", ""))

	_, err := s.ListContentTypes(context.Background())
	require.NoError(t, err)

	id, err := s.contentTypeID(context.Background(), "role")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRepositoryDownloads(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE repositories SET download_count = download_count \+ 1`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"download_count"}).AddRow(42))

	n, err := s.IncrementRepositoryDownloads(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestRecomputeCommunityScore(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "user_id", "kind", "object_id", "docs", "ease_of_use", "does_what_it_says",
		"works_as_is", "used_in_production", "created", "modified"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM repositories WHERE id = \$1 FOR UPDATE`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(`SELECT .* FROM surveys WHERE kind = \$1 AND object_id = \$2`).
		WithArgs("repository", int64(4)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 10, "repository", 4, 5, 3, nil, nil, nil, now, now).
			AddRow(2, 11, "repository", 4, 2, nil, nil, nil, nil, now, now).
			AddRow(3, 12, "repository", 4, nil, nil, nil, nil, nil, now, now))
	mock.ExpectExec(`UPDATE repositories SET community_score = \$2, community_survey_count = \$3`).
		WithArgs(int64(4), 3.0, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	score, n, err := s.RecomputeCommunityScore(context.Background(), models.SurveyRepository, 4)
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.InDelta(t, 3.0, *score, 1e-9)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeCommunityScore_MissingTarget(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM collections WHERE id = \$1 FOR UPDATE`).WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := s.RecomputeCommunityScore(context.Background(), models.SurveyCollection, 9)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSurvey_MissingTarget(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO surveys`).WillReturnError(sql.ErrNoRows)

	err := s.CreateSurvey(context.Background(), &models.Survey{UserID: 1, Kind: models.SurveyCollection, ObjectID: 99})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestGetPreferences_Defaults(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT preferences FROM notification_preferences`).WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)

	prefs, err := s.GetPreferences(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, prefs.Wants(models.NotifyImportFail))
	assert.False(t, prefs.Wants(models.NotifyImportSuccess))
}

func TestGetPreferences_MergesStored(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT preferences FROM notification_preferences`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"preferences"}).AddRow([]byte(`{"import_success":true,"survey":false}`)))

	prefs, err := s.GetPreferences(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, prefs.Wants(models.NotifyImportSuccess))
	assert.False(t, prefs.Wants(models.NotifySurvey))
	assert.True(t, prefs.Wants(models.NotifyNewRelease))
}

func TestListStaleImportTasks_Query(t *testing.T) {
	s, mock := newMockStore(t)
	before := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`WHERE state = \$1 AND COALESCE\(started, created\) < \$2`).
		WithArgs("RUNNING", before).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	tasks, err := s.ListStaleImportTasks(context.Background(), models.TaskRunning, before)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSetCollectionVersionHidden(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE collection_versions v SET hidden = \$2`).WithArgs(int64(5), true).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name"}).AddRow("acme", "web"))
	require.NoError(t, s.SetCollectionVersionHidden(context.Background(), 5, true))

	mock.ExpectQuery(`UPDATE collection_versions v SET hidden = \$2`).WithArgs(int64(6), false).
		WillReturnError(sql.ErrNoRows)
	err := s.SetCollectionVersionHidden(context.Background(), 6, false)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
