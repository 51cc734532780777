package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const importTaskColumns = `id, type, state, owner_id, repository_id, namespace_id, collection_version_id,
	github_user, github_repo, github_reference, alternate_role_name, artifact_key, commit_sha,
	commit_message, import_branch, error, messages, warning_count, error_count, created, started, finished`

func scanImportTask(row rowScanner) (*models.ImportTask, error) {
	var t models.ImportTask
	var repoID, nsID, versionID sql.NullInt64
	var messages []byte
	var started, finished sql.NullTime
	if err := row.Scan(&t.ID, &t.Type, &t.State, &t.OwnerID, &repoID, &nsID, &versionID,
		&t.GitHubUser, &t.GitHubRepo, &t.GitHubReference, &t.AlternateRoleName, &t.ArtifactKey, &t.CommitSHA,
		&t.CommitMessage, &t.ImportBranch, &t.Error, &messages, &t.WarningCount, &t.ErrorCount,
		&t.Created, &started, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &t.Messages); err != nil {
		return nil, fmt.Errorf("bad messages for import task %d: %w", t.ID, err)
	}
	t.RepositoryID = int64Ptr(repoID)
	t.NamespaceID = int64Ptr(nsID)
	t.CollectionVersionID = int64Ptr(versionID)
	t.Started = timePtr(started)
	t.Finished = timePtr(finished)
	return &t, nil
}

func (s *Store) CreateImportTask(ctx context.Context, task *models.ImportTask) (err error) {
	ctx, span := startSpan(ctx, "CreateImportTask", attribute.String("import.type", string(task.Type)))
	defer func() { endSpan(span, err) }()

	if task.State == "" {
		task.State = models.TaskPending
	}
	messages, err := json.Marshal(nonNil(task.Messages))
	if err != nil {
		return fmt.Errorf("failed to encode import messages: %w", err)
	}
	err = s.primary().QueryRowContext(ctx, `
		INSERT INTO import_tasks (type, state, owner_id, repository_id, namespace_id, collection_version_id,
			github_user, github_repo, github_reference, alternate_role_name, artifact_key, commit_sha,
			commit_message, import_branch, error, messages, warning_count, error_count, started, finished)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created`,
		string(task.Type), string(task.State), task.OwnerID, task.RepositoryID, task.NamespaceID, task.CollectionVersionID,
		task.GitHubUser, task.GitHubRepo, task.GitHubReference, task.AlternateRoleName, task.ArtifactKey, task.CommitSHA,
		task.CommitMessage, task.ImportBranch, task.Error, messages, task.WarningCount, task.ErrorCount,
		task.Started, task.Finished,
	).Scan(&task.ID, &task.Created)
	return classify(err, "import task")
}

func (s *Store) GetImportTask(ctx context.Context, id int64) (*models.ImportTask, error) {
	t, err := scanImportTask(s.primary().QueryRowContext(ctx,
		`SELECT `+importTaskColumns+` FROM import_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("import task %d", id))
	}
	return t, nil
}

func (s *Store) UpdateImportTask(ctx context.Context, task *models.ImportTask) error {
	what := fmt.Sprintf("import task %d", task.ID)
	messages, err := json.Marshal(nonNil(task.Messages))
	if err != nil {
		return fmt.Errorf("failed to encode import messages: %w", err)
	}
	err = s.primary().QueryRowContext(ctx, `
		UPDATE import_tasks SET state = $2, repository_id = $3, namespace_id = $4, collection_version_id = $5,
			commit_sha = $6, commit_message = $7, import_branch = $8, error = $9, messages = $10,
			warning_count = $11, error_count = $12, started = $13, finished = $14
		WHERE id = $1
		RETURNING created`,
		task.ID, string(task.State), task.RepositoryID, task.NamespaceID, task.CollectionVersionID,
		task.CommitSHA, task.CommitMessage, task.ImportBranch, task.Error, messages,
		task.WarningCount, task.ErrorCount, task.Started, task.Finished,
	).Scan(&task.Created)
	return classify(err, what)
}

func (s *Store) ListImportTasks(ctx context.Context, filter storage.ImportFilter, page models.PageRequest) ([]*models.ImportTask, int64, error) {
	var c conds
	if filter.OwnerID != 0 {
		c.add("owner_id = ?", filter.OwnerID)
	}
	if filter.RepositoryID != 0 {
		c.add("repository_id = ?", filter.RepositoryID)
	}
	if filter.NamespaceID != 0 {
		c.add("namespace_id = ?", filter.NamespaceID)
	}
	if filter.Type != "" {
		c.add("type = ?", string(filter.Type))
	}
	if filter.State != "" {
		c.add("state = ?", string(filter.State))
	}

	total, err := s.count(ctx, "import_tasks", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count import tasks: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+importTaskColumns+` FROM import_tasks`+c.where()+` ORDER BY id DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportTask
	for rows.Next() {
		t, err := scanImportTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// ListStaleImportTasks returns tasks in state whose start (or creation, if
// never started) is older than before.
func (s *Store) ListStaleImportTasks(ctx context.Context, state models.TaskState, before time.Time) ([]*models.ImportTask, error) {
	rows, err := s.primary().QueryContext(ctx, `SELECT `+importTaskColumns+` FROM import_tasks
		WHERE state = $1 AND COALESCE(started, created) < $2 ORDER BY id`, string(state), before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale import tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportTask
	for rows.Next() {
		t, err := scanImportTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
