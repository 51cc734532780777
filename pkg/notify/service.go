package notify

import (
	"context"
	"fmt"
	"path"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// Service raises in-app notifications. Each recipient's preferences decide
// whether a notification is stored for them.
type Service struct {
	store storage.Store
}

var _ importer.Notifier = (*Service)(nil)

// NewService creates a notification service backed by store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Notify stores a notification built from tmpl for every recipient that
// wants its type. It returns how many were stored. Duplicate and zero user
// IDs are skipped.
func (s *Service) Notify(ctx context.Context, recipients []int64, tmpl models.Notification) (int, error) {
	seen := make(map[int64]bool, len(recipients))
	var sent int
	for _, userID := range recipients {
		if userID == 0 || seen[userID] {
			continue
		}
		seen[userID] = true

		prefs, err := s.store.GetPreferences(ctx, userID)
		if err != nil && !errors.Is(err, errors.NotFound) {
			return sent, fmt.Errorf("failed to load preferences of user %d: %w", userID, err)
		}
		if !prefs.Wants(tmpl.Type) {
			continue
		}
		n := tmpl
		n.UserID = userID
		n.Seen = false
		if err := s.store.CreateNotification(ctx, &n); err != nil {
			if errors.Is(err, errors.NotValid) {
				// the user was removed since the recipients were collected
				continue
			}
			return sent, fmt.Errorf("failed to notify user %d: %w", userID, err)
		}
		sent++
	}
	return sent, nil
}

// namespaceOwners returns the owners of namespace id, or nil if it is gone.
func (s *Service) namespaceOwners(ctx context.Context, id int64) ([]int64, error) {
	ns, err := s.store.GetNamespace(ctx, id)
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ns.Owners, nil
}

// ImportFinished tells the task owner and the namespace owners how an
// import ended.
func (s *Service) ImportFinished(ctx context.Context, task *models.ImportTask) error {
	recipients := []int64{task.OwnerID}
	if task.NamespaceID != nil {
		owners, err := s.namespaceOwners(ctx, *task.NamespaceID)
		if err != nil {
			return err
		}
		recipients = append(recipients, owners...)
	}

	subject := path.Base(task.ArtifactKey)
	if task.Type == models.TaskTypeRole {
		subject = task.GitHubUser + "/" + task.GitHubRepo
	}
	tmpl := models.Notification{
		Type:         models.NotifyImportSuccess,
		Message:      fmt.Sprintf("Import of %s succeeded", subject),
		RepositoryID: task.RepositoryID,
		ImportTaskID: &task.ID,
	}
	if task.State == models.TaskFailed {
		tmpl.Type = models.NotifyImportFail
		tmpl.Message = fmt.Sprintf("Import of %s failed: %s", subject, task.Error)
	}

	sent, err := s.Notify(ctx, recipients, tmpl)
	if err != nil {
		return err
	}
	observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"task_id":    task.ID,
		"type":       tmpl.Type,
		"recipients": sent,
	}).Debug("import notifications sent")
	return nil
}

// CollectionPublished tells the namespace owners about a new release.
func (s *Service) CollectionPublished(ctx context.Context, c *models.Collection, v *models.CollectionVersion) error {
	owners, err := s.namespaceOwners(ctx, c.NamespaceID)
	if err != nil {
		return err
	}
	_, err = s.Notify(ctx, owners, models.Notification{
		Type:         models.NotifyNewRelease,
		Message:      fmt.Sprintf("%s %s was published", c.FQN(), v.Version),
		CollectionID: &c.ID,
		ImportTaskID: v.ImportTaskID,
	})
	return err
}

// MarkSeen flags a notification as read.
func (s *Service) MarkSeen(ctx context.Context, n *models.Notification, seen bool) error {
	n.Seen = seen
	return s.store.UpdateNotification(ctx, n)
}

// UpdatePreferences merges changes into the stored preferences of userID.
// Unknown notification types are rejected.
func (s *Service) UpdatePreferences(ctx context.Context, userID int64, changes map[models.NotificationType]bool) (*models.NotificationPreferences, error) {
	for t := range changes {
		if !knownType(t) {
			return nil, errors.NotValidf("notification type %q", t)
		}
	}
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs.Preferences == nil {
		prefs.Preferences = map[models.NotificationType]bool{}
	}
	for t, v := range changes {
		prefs.Preferences[t] = v
	}
	if err := s.store.SavePreferences(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

func knownType(t models.NotificationType) bool {
	for _, known := range models.AllNotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}
