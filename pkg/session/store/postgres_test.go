//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/reelhaven/reelhaven/pkg/session"
)

// TestPostgresStore runs the store against a real PostgreSQL, exercising the
// golang-migrate path and the row-level CAS guards under the dialect that
// production uses.
func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reelhaven_test"),
		tcpostgres.WithUsername("reelhaven_test"),
		tcpostgres.WithPassword("reelhaven_test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "reelhaven_test",
			User:     "reelhaven_test",
			Password: "reelhaven_test",
			SSLMode:  "disable",
		},
	}

	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Ping(ctx))

	sess := &session.Session{
		ID:             uuid.NewString(),
		OwnerID:        "alice",
		IdempotencyKey: "k1",
		Filename:       "a.mp4",
		DeclaredMIME:   "video/mp4",
		DeclaredSize:   100,
		ChunkSize:      8 << 20,
		State:          session.StateOpen,
	}
	require.NoError(t, s.Create(ctx, sess))

	// Unique constraint comes from the migration, not AutoMigrate.
	dup := *sess
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.Create(ctx, &dup), session.ErrDuplicateKey)

	require.NoError(t, s.AdvanceReceived(ctx, sess.ID, 0, 100))
	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateUploaded, got.State)

	require.NoError(t, s.AcquireLease(ctx, sess.ID, "w1", time.Minute))
	assert.ErrorIs(t, s.AcquireLease(ctx, sess.ID, "w2", time.Minute), session.ErrLeaseHeld)
	require.NoError(t, s.ReleaseLease(ctx, sess.ID, "w1"))
}
