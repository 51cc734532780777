package memory

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[n.UserID]; !ok {
		return errors.NotValidf("user %d", n.UserID)
	}
	n.ID = s.nextID("notification")
	n.Created = s.now()
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, errors.NotFoundf("notification %d", id)
	}
	c := *n
	return &c, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.notifications[n.ID]
	if !ok {
		return errors.NotFoundf("notification %d", n.ID)
	}
	existing.Seen = n.Seen
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return errors.NotFoundf("notification %d", id)
	}
	delete(s.notifications, id)
	return nil
}

// ListNotifications returns unseen notifications first, newest first within each group.
func (s *Store) ListNotifications(ctx context.Context, userID int64, page models.PageRequest) ([]*models.Notification, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seen != out[j].Seen {
			return !out[i].Seen
		}
		return out[i].ID > out[j].ID
	})
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) ClearNotifications(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, notification := range s.notifications {
		if notification.UserID == userID {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeNotifications(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, notification := range s.notifications {
		if notification.Seen && notification.Created.Before(before) {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID int64) (*models.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[userID]
	if !ok {
		return models.DefaultPreferences(userID), nil
	}
	prefs := make(map[models.NotificationType]bool, len(p.Preferences))
	for k, v := range p.Preferences {
		prefs[k] = v
	}
	return &models.NotificationPreferences{UserID: userID, Preferences: prefs}, nil
}

func (s *Store) SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[prefs.UserID]; !ok {
		return errors.NotFoundf("user %d", prefs.UserID)
	}
	stored := models.DefaultPreferences(prefs.UserID)
	for k, v := range prefs.Preferences {
		stored.Preferences[k] = v
	}
	s.preferences[prefs.UserID] = stored
	return nil
}
