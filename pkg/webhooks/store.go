package webhooks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Store persists outbound subscriptions and their delivery log.
type Store interface {
	CreateWebhook(ctx context.Context, hook *models.Webhook) error
	GetWebhook(ctx context.Context, id int64) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, page models.PageRequest) ([]*models.Webhook, int64, error)
	// ListSubscribers returns the active webhooks subscribed to event.
	ListSubscribers(ctx context.Context, event models.EventType) ([]*models.Webhook, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteWebhook(ctx context.Context, id int64) error

	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
	ListDeliveries(ctx context.Context, webhookID int64, page models.PageRequest) ([]*models.WebhookDelivery, int64, error)
	PurgeDeliveries(ctx context.Context, before time.Time) (int64, error)
}

// Dialect selects the DDL used by SQLStore.Migrate.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// SQLStore is a Store on database/sql. Queries use $n placeholders in
// ascending order so the same text runs on postgres and sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenStore opens the store named by dsn and migrates it. "sqlite:<path>"
// opens a sqlite file (":memory:" for a private in-memory database);
// anything else is treated as a postgres URL.
func OpenStore(ctx context.Context, dsn string) (*SQLStore, error) {
	driver, source := DialectPostgres, dsn
	if strings.HasPrefix(dsn, "sqlite:") {
		driver, source = DialectSQLite, strings.TrimPrefix(dsn, "sqlite:")
	}
	db, err := sql.Open(string(driver), source)
	if err != nil {
		return nil, fmt.Errorf("failed to open webhook store: %w", err)
	}
	if driver == DialectSQLite {
		// a second connection would see a different :memory: database
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT NOT NULL,
	secret      TEXT NOT NULL,
	events      TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT 1,
	description TEXT NOT NULL DEFAULT '',
	created_by  INTEGER NOT NULL,
	created     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           TEXT PRIMARY KEY,
	webhook_id   INTEGER NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event        TEXT NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	success      BOOLEAN NOT NULL DEFAULT 0,
	attempt      INTEGER NOT NULL DEFAULT 1,
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	delivered_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries(webhook_id, delivered_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL,
	secret      TEXT NOT NULL,
	events      TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	description TEXT NOT NULL DEFAULT '',
	created_by  BIGINT NOT NULL,
	created     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           TEXT PRIMARY KEY,
	webhook_id   BIGINT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event        TEXT NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	success      BOOLEAN NOT NULL DEFAULT FALSE,
	attempt      INTEGER NOT NULL DEFAULT 1,
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	delivered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries(webhook_id, delivered_at);
`

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ddl := postgresSchema
	if s.dialect == DialectSQLite {
		ddl = sqliteSchema
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to migrate webhook store: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func joinEvents(events []models.EventType) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}

func splitEvents(s string) []models.EventType {
	var events []models.EventType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			events = append(events, models.EventType(part))
		}
	}
	return events
}

const webhookColumns = `id, url, secret, events, active, description, created_by, created`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row scanner) (*models.Webhook, error) {
	var hook models.Webhook
	var events string
	if err := row.Scan(&hook.ID, &hook.URL, &hook.Secret, &events, &hook.Active,
		&hook.Description, &hook.CreatedBy, &hook.Created); err != nil {
		return nil, err
	}
	hook.Events = splitEvents(events)
	return &hook, nil
}

// CreateWebhook inserts hook and sets its ID and Created.
func (s *SQLStore) CreateWebhook(ctx context.Context, hook *models.Webhook) error {
	if hook.Created.IsZero() {
		hook.Created = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (url, secret, events, active, description, created_by, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		hook.URL, hook.Secret, joinEvents(hook.Events), hook.Active, hook.Description, hook.CreatedBy, hook.Created,
	).Scan(&hook.ID)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns errors.NotFound for unknown ids.
func (s *SQLStore) GetWebhook(ctx context.Context, id int64) (*models.Webhook, error) {
	hook, err := scanWebhook(s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("webhook %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return hook, nil
}

func (s *SQLStore) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]*models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*models.Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}

// ListWebhooks returns one page of webhooks, oldest first.
func (s *SQLStore) ListWebhooks(ctx context.Context, page models.PageRequest) ([]*models.Webhook, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhooks: %w", err)
	}
	hooks, err := s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks ORDER BY id LIMIT $1 OFFSET $2`,
		page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return hooks, total, nil
}

// ListSubscribers filters in Go because events is a flat text column.
func (s *SQLStore) ListSubscribers(ctx context.Context, event models.EventType) ([]*models.Webhook, error) {
	hooks, err := s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE active = $1 ORDER BY id`, true)
	if err != nil {
		return nil, err
	}
	out := hooks[:0]
	for _, hook := range hooks {
		if hook.Subscribes(event) {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (s *SQLStore) affected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFoundf("webhook %d", id)
	}
	return nil
}

// SetActive enables or disables deliveries to a webhook.
func (s *SQLStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE webhooks SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return s.affected(res, id)
}

// DeleteWebhook removes a webhook and its delivery log.
func (s *SQLStore) DeleteWebhook(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// sqlite only cascades with PRAGMA foreign_keys on
	if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE webhook_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete deliveries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if err := s.affected(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordDelivery appends an attempt to the delivery log.
func (s *SQLStore) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event, status_code, success, attempt, error, duration_ms, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.WebhookID, string(d.Event), d.StatusCode, d.Success, d.Attempt, d.Error, d.DurationMS, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns a page of a webhook's attempts, newest first.
func (s *SQLStore) ListDeliveries(ctx context.Context, webhookID int64, page models.PageRequest) ([]*models.WebhookDelivery, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1`, webhookID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count deliveries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event, status_code, success, attempt, error, duration_ms, delivered_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY delivered_at DESC, attempt DESC
		LIMIT $2 OFFSET $3`,
		webhookID, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		var event string
		if err := rows.Scan(&d.ID, &d.WebhookID, &event, &d.StatusCode, &d.Success, &d.Attempt,
			&d.Error, &d.DurationMS, &d.DeliveredAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Event = models.EventType(event)
		out = append(out, &d)
	}
	return out, total, rows.Err()
}

// PurgeDeliveries drops log entries older than before.
func (s *SQLStore) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE delivered_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*SQLStore)(nil)
