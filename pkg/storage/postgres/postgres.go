// Package postgres implements storage.Store on PostgreSQL, with an optional
// Redis read-through cache and S3 artifact storage.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

var tracer = otel.Tracer("galaxyhub/storage/postgres")

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using PostgreSQL + Redis
type Store struct {
	conns  *ConnectionManager
	cache  *RedisCache
	lookup *expirable.LRU[string, int64]
	config storage.Config
}

// New connects to PostgreSQL (and Redis when caching is enabled), applies
// pending migrations and returns a ready store.
func New(ctx context.Context, config storage.Config) (*Store, error) {
	conns, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL:  config.PostgresURL,
		ReplicaURLs: config.PostgresReplicaURLs,
		MaxConns:    config.PostgresMaxConns,
		MinConns:    config.PostgresMinConns,
		Timeout:     config.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := Migrate(ctx, conns.Primary()); err != nil {
		conns.Close()
		return nil, err
	}

	var cache *RedisCache
	if config.CacheEnabled && config.RedisURL != "" {
		cache, err = NewRedisCache(config)
		if err != nil {
			conns.Close()
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
	}

	return NewWithConnections(conns, cache, config), nil
}

// NewWithConnections builds a store on existing connections. cache may be nil.
func NewWithConnections(conns *ConnectionManager, cache *RedisCache, config storage.Config) *Store {
	size := config.L1CacheSize
	if size <= 0 {
		size = 256
	}
	return &Store{
		conns:  conns,
		cache:  cache,
		lookup: expirable.NewLRU[string, int64](size, nil, 15*time.Minute),
		config: config,
	}
}

// DB returns the primary handle, used by the search engine and webhook store.
func (s *Store) DB() *sql.DB {
	return s.conns.Primary()
}

func (s *Store) primary() *sql.DB { return s.conns.Primary() }
func (s *Store) replica() *sql.DB { return s.conns.Replica() }

// HealthCheck implements storage.Store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.conns.HealthCheck(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.conns.Close()
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "postgresql"), attribute.String("db.operation", op))
	return tracer.Start(ctx, "Postgres."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func int64Ptr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
