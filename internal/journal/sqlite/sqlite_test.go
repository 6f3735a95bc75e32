package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stimsync/internal/journal"
)

func setupTestJournal(t *testing.T) (journal.Journal, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_cycles.db")
	store := New(dbPath)
	err := store.Init(context.Background())
	require.NoError(t, err, "Failed to initialize test journal")

	cleanup := func() {
		assert.NoError(t, store.Close(), "Failed to close test journal")
	}
	return store, cleanup
}

func TestRecordAndRecent(t *testing.T) {
	store, cleanup := setupTestJournal(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := journal.Entry{
		Timestamp: now,
		Outcome:   journal.OutcomeDelivered,
		LatencyMS: 42,
	}

	id, err := store.Record(ctx, entry)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, journal.OutcomeDelivered, got.Outcome)
	assert.Equal(t, now, got.Timestamp.UTC().Truncate(time.Second))
	assert.Equal(t, int64(42), got.LatencyMS)
}

func TestCyclesTableColumns(t *testing.T) {
	store, cleanup := setupTestJournal(t)
	defer cleanup()

	// The table records what happened and when, never the reported
	// values themselves.
	s := store.(*Store)
	rows, err := s.db.Query("PRAGMA table_info(cycles)")
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		require.NoError(t, rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	assert.ElementsMatch(t, []string{"id", "timestamp", "outcome", "latency_ms"}, cols)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store, cleanup := setupTestJournal(t)
	defer cleanup()

	ctx := context.Background()
	outcomes := []journal.Outcome{
		journal.OutcomeSkippedNoSettings,
		journal.OutcomeAbsent,
		journal.OutcomeDelivered,
	}
	for _, o := range outcomes {
		_, err := store.Record(ctx, journal.Entry{Outcome: o})
		require.NoError(t, err)
	}

	entries, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, journal.OutcomeDelivered, entries[0].Outcome)
	assert.Equal(t, journal.OutcomeAbsent, entries[1].Outcome)
}

func TestRecordFillsTimestamp(t *testing.T) {
	store, cleanup := setupTestJournal(t)
	defer cleanup()

	ctx := context.Background()
	_, err := store.Record(ctx, journal.Entry{Outcome: journal.OutcomeSkippedUnconfirmed})
	require.NoError(t, err)

	entries, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.WithinDuration(t, time.Now(), entries[0].Timestamp, time.Minute)
}

func TestRecordAfterClose(t *testing.T) {
	store, cleanup := setupTestJournal(t)
	cleanup()

	_, err := store.Record(context.Background(), journal.Entry{Outcome: journal.OutcomeDelivered})
	assert.Error(t, err)
}
