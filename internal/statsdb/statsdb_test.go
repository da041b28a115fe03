package statsdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "stats.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIndexCassette_UpsertsByDomainAndFingerprint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.IndexCassette(ctx, "example.com", "fp1", "GET", "/widgets", "GET_widgets_fp1", now))
	require.NoError(t, db.IndexCassette(ctx, "example.com", "fp1", "GET", "/widgets", "GET_widgets_fp1_v2", now))

	rows, err := db.ListCassettes(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "GET_widgets_fp1_v2", rows[0].CassetteID)
}

func TestRemoveDomainAndRemoveAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, db.IndexCassette(ctx, "a.com", "fp1", "GET", "/x", "id1", now))
	require.NoError(t, db.IndexCassette(ctx, "b.com", "fp2", "GET", "/y", "id2", now))

	require.NoError(t, db.RemoveDomain(ctx, "a.com"))
	rows, err := db.ListCassettes(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b.com", rows[0].Domain)

	require.NoError(t, db.RemoveAll(ctx))
	rows, err = db.ListCassettes(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCounters_SaveAndLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, found, err := db.LoadCounters()
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.SaveCounters(10, 4, 3, 3, 0))
	row, found, err := db.LoadCounters()
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 10, row.Total)
	assert.EqualValues(t, 4, row.Hits)

	require.NoError(t, db.SaveCounters(20, 8, 6, 6, 0))
	row, found, err = db.LoadCounters()
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 20, row.Total)
}
