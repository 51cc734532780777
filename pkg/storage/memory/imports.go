package memory

import (
	"context"
	"slices"
	"time"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func copyTask(t *models.ImportTask) *models.ImportTask {
	out := *t
	out.Messages = slices.Clone(t.Messages)
	return &out
}

func (s *Store) CreateImportTask(ctx context.Context, task *models.ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.ID = s.nextID("import_task")
	if task.State == "" {
		task.State = models.TaskPending
	}
	task.Created = s.now()
	s.importTasks[task.ID] = copyTask(task)
	return nil
}

func (s *Store) GetImportTask(ctx context.Context, id int64) (*models.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.importTasks[id]
	if !ok {
		return nil, errors.NotFoundf("import task %d", id)
	}
	return copyTask(t), nil
}

func (s *Store) UpdateImportTask(ctx context.Context, task *models.ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.importTasks[task.ID]
	if !ok {
		return errors.NotFoundf("import task %d", task.ID)
	}
	task.Created = existing.Created
	s.importTasks[task.ID] = copyTask(task)
	return nil
}

func (s *Store) ListImportTasks(ctx context.Context, filter storage.ImportFilter, page models.PageRequest) ([]*models.ImportTask, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ImportTask
	for _, t := range s.importTasks {
		if filter.OwnerID != 0 && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.RepositoryID != 0 && (t.RepositoryID == nil || *t.RepositoryID != filter.RepositoryID) {
			continue
		}
		if filter.NamespaceID != 0 && (t.NamespaceID == nil || *t.NamespaceID != filter.NamespaceID) {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.State != "" && t.State != filter.State {
			continue
		}
		out = append(out, copyTask(t))
	}
	// newest first
	sortByID(out, func(t *models.ImportTask) int64 { return -t.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) ListStaleImportTasks(ctx context.Context, state models.TaskState, before time.Time) ([]*models.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ImportTask
	for _, t := range s.importTasks {
		if t.State != state {
			continue
		}
		ref := t.Created
		if t.Started != nil {
			ref = *t.Started
		}
		if ref.Before(before) {
			out = append(out, copyTask(t))
		}
	}
	sortByID(out, func(t *models.ImportTask) int64 { return t.ID })
	return out, nil
}
