package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseReplicaURLs tests the ParseReplicaURLs function
func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace and empty entries",
			input:    " postgres://host1:5432/db ,, postgres://host2:5432/db ,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

// TestConnectionManager_Replica tests replica selection
func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primary, _ := newPingMock(t)
		cm := NewConnectionManagerFromDB(primary)
		assert.Same(t, primary, cm.Replica())
		assert.Same(t, primary, cm.Primary())
	})

	t.Run("round-robin selection", func(t *testing.T) {
		primary, _ := newPingMock(t)
		r1, _ := newPingMock(t)
		r2, _ := newPingMock(t)
		cm := NewConnectionManagerFromDB(primary, r1, r2)

		selections := make(map[*sql.DB]int)
		for i := 0; i < 20; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 10, selections[r1])
		assert.Equal(t, 10, selections[r2])
		assert.Zero(t, selections[primary])
	})

	t.Run("concurrent selection", func(t *testing.T) {
		primary, _ := newPingMock(t)
		r1, _ := newPingMock(t)
		r2, _ := newPingMock(t)
		cm := NewConnectionManagerFromDB(primary, r1, r2)

		var wg sync.WaitGroup
		results := make(chan *sql.DB, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}
		wg.Wait()
		close(results)

		count := 0
		for db := range results {
			assert.True(t, db == r1 || db == r2)
			count++
		}
		assert.Equal(t, 100, count)
	})
}

// TestConnectionManager_HealthCheck tests primary and replica pings
func TestConnectionManager_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, replica)
		assert.NoError(t, cm.HealthCheck(ctx))
		assert.NoError(t, pm.ExpectationsWereMet())
		assert.NoError(t, rm.ExpectationsWereMet())
	})

	t.Run("primary down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary)
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := NewConnectionManagerFromDB(primary, replica)
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "replica-0")
	})
}

// TestConnectionManager_RemoveUnhealthyReplicas tests replica pruning
func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	good, gm := newPingMock(t)
	bad, bm := newPingMock(t)
	gm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("gone"))
	bm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, good, bad)
	removed := cm.RemoveUnhealthyReplicas(context.Background())
	assert.Equal(t, 1, removed)
	assert.Same(t, good, cm.Replica())
}
