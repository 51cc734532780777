package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

const notificationColumns = `id, user_id, type, message, repository_id, collection_id, import_task_id, seen, created`

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var repoID, collID, taskID sql.NullInt64
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &repoID, &collID, &taskID, &n.Seen, &n.Created); err != nil {
		return nil, err
	}
	n.RepositoryID = int64Ptr(repoID)
	n.CollectionID = int64Ptr(collID)
	n.ImportTaskID = int64Ptr(taskID)
	return &n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, message, repository_id, collection_id, import_task_id, seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created`,
		n.UserID, string(n.Type), n.Message, n.RepositoryID, n.CollectionID, n.ImportTaskID, n.Seen,
	).Scan(&n.ID, &n.Created)
	return classify(err, fmt.Sprintf("notification for user %d", n.UserID))
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	n, err := scanNotification(s.primary().QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("notification %d", id))
	}
	return n, nil
}

// UpdateNotification only toggles the seen flag.
func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	what := fmt.Sprintf("notification %d", n.ID)
	res, err := s.primary().ExecContext(ctx, `UPDATE notifications SET seen = $2 WHERE id = $1`, n.ID, n.Seen)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) DeleteNotification(ctx context.Context, id int64) error {
	what := fmt.Sprintf("notification %d", id)
	res, err := s.primary().ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, page models.PageRequest) ([]*models.Notification, int64, error) {
	var c conds
	c.add("user_id = ?", userID)

	total, err := s.count(ctx, "notifications", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.primary().QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications`+c.where()+` ORDER BY seen, id DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *Store) ClearNotifications(ctx context.Context, userID int64) (int64, error) {
	res, err := s.primary().ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear notifications: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PurgeNotifications(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.primary().ExecContext(ctx, `DELETE FROM notifications WHERE seen AND created < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetPreferences(ctx context.Context, userID int64) (*models.NotificationPreferences, error) {
	prefs := models.DefaultPreferences(userID)
	var raw []byte
	err := s.replica().QueryRowContext(ctx,
		`SELECT preferences FROM notification_preferences WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}

	var stored map[models.NotificationType]bool
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("bad notification preferences for user %d: %w", userID, err)
	}
	for k, v := range stored {
		prefs.Preferences[k] = v
	}
	return prefs, nil
}

// SavePreferences stores the full preference set, filling unspecified types
// from the defaults.
func (s *Store) SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	merged := models.DefaultPreferences(prefs.UserID)
	for k, v := range prefs.Preferences {
		merged.Preferences[k] = v
	}
	raw, err := json.Marshal(merged.Preferences)
	if err != nil {
		return fmt.Errorf("failed to encode notification preferences: %w", err)
	}
	_, err = s.primary().ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, preferences) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET preferences = EXCLUDED.preferences`,
		prefs.UserID, raw)
	if err != nil {
		err = classify(err, fmt.Sprintf("user %d", prefs.UserID))
		// a missing user surfaces as a foreign key violation
		if errors.Is(err, errors.NotValid) {
			return errors.NotFoundf("user %d", prefs.UserID)
		}
		return err
	}
	return nil
}
