package store

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(io.Discard, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	db := openTestDB(t)

	// re-running migrations on an already-migrated schema is a no-op
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.SQL().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestOpen_EnforcesForeignKeys(t *testing.T) {
	db := openTestDB(t)

	var on int
	require.NoError(t, db.SQL().QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestStandupStore_SaveAndRead(t *testing.T) {
	s := NewStandupStore(openTestDB(t))

	now := time.Now()
	require.NoError(t, s.SaveRound("round-1", []domain.Report{
		{Agent: "alice", Text: "shipped the parser", CollectedAt: now},
		{Agent: "bob", Text: "reviewing", CollectedAt: now},
	}))
	require.NoError(t, s.SaveRound("round-2", []domain.Report{
		{Agent: "alice", Text: "on to the lexer", CollectedAt: now},
	}))

	rounds, err := s.RecentRounds(10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	assert.Equal(t, "round-2", rounds[0].RoundID)
	require.Len(t, rounds[0].Reports, 1)
	assert.Equal(t, "on to the lexer", rounds[0].Reports[0].Text)

	assert.Equal(t, "round-1", rounds[1].RoundID)
	assert.Len(t, rounds[1].Reports, 2)
}

func TestStandupStore_RecentRoundsEmpty(t *testing.T) {
	s := NewStandupStore(openTestDB(t))
	rounds, err := s.RecentRounds(5)
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestStandupStore_Audit(t *testing.T) {
	s := NewStandupStore(openTestDB(t))

	require.NoError(t, s.Audit("trigger", "agentA finished T1"))
	require.NoError(t, s.Audit("trigger", "agentB started review"))
	require.NoError(t, s.Audit("registry", "dropped 2 queue entries"))

	entries, err := s.AuditEntries("trigger", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first
	assert.Equal(t, "agentB started review", entries[0])
}
