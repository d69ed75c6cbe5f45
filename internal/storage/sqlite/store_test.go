package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/postrelay/internal/relay"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "postrelay.db")
	st, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	t.Parallel()

	st, path := openTestStore(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	var version string
	require.NoError(t, st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version))
	require.Equal(t, "1", version)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	st, path := openTestStore(t)
	require.NoError(t, st.Save(context.Background(), relay.Cursor{Source: "e621", LastID: 9}))
	require.NoError(t, st.Close())

	again, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer again.Close() //nolint:errcheck // test cleanup

	got, ok, err := again.Load(context.Background(), "e621")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), got.LastID)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	t.Parallel()

	st, path := openTestStore(t)
	_, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(context.Background(), path)
	require.ErrorContains(t, err, "newer than supported")
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t)
	_, ok, err := st.Load(context.Background(), "e621")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveKeepsHighestPosition(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, relay.Cursor{Source: "e621", LastID: 106, UpdatedAt: first}))
	require.NoError(t, st.Save(ctx, relay.Cursor{Source: "e621", LastID: 104, UpdatedAt: first.Add(time.Hour)}))

	got, ok, err := st.Load(ctx, "e621")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(106), got.LastID)
	require.True(t, first.Equal(got.UpdatedAt))

	require.NoError(t, st.Save(ctx, relay.Cursor{Source: "e621", LastID: 110, UpdatedAt: first.Add(2 * time.Hour)}))
	got, _, err = st.Load(ctx, "e621")
	require.NoError(t, err)
	require.Equal(t, int64(110), got.LastID)
}

func TestOverwriteRewinds(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, relay.Cursor{Source: "e621", LastID: 500}))
	require.NoError(t, st.Overwrite(ctx, relay.Cursor{Source: "e621", LastID: 10}))

	got, _, err := st.Load(ctx, "e621")
	require.NoError(t, err)
	require.Equal(t, int64(10), got.LastID)
}

func TestConcurrentSavesConvergeOnMax(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = st.Save(ctx, relay.Cursor{Source: "e621", LastID: id})
		}(i)
	}
	wg.Wait()

	got, _, err := st.Load(ctx, "e621")
	require.NoError(t, err)
	require.Equal(t, int64(20), got.LastID)
}

func TestSaveRejectsInvalidSource(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t)
	require.Error(t, st.Save(context.Background(), relay.Cursor{Source: "", LastID: 1}))
}
