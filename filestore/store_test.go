package filestore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velmie/actionqueue"
	"github.com/velmie/actionqueue/filestore"
)

func TestStoreMissingFileIsEmpty(t *testing.T) {
	store, err := filestore.New(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)

	entries, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "queue.json")

	store, err := filestore.New(path)
	require.NoError(t, err)
	q, err := actionqueue.OpenQueue(ctx, store)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, actionqueue.KindPurchaseItem, json.RawMessage(`{"item":"potion"}`))
	require.NoError(t, err)

	reopened, err := filestore.New(path)
	require.NoError(t, err)
	q2, err := actionqueue.OpenQueue(ctx, reopened)
	require.NoError(t, err)
	require.Equal(t, 1, q2.Size())
	require.Equal(t, actionqueue.KindPurchaseItem, q2.SnapshotForFlush()[0].ActionKind)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	matches, err := filepath.Glob(path + ".tmp-*")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"entries":[]}`), 0o600))

	store, err := filestore.New(path)
	require.NoError(t, err)
	_, err = store.LoadAll(context.Background())
	require.ErrorIs(t, err, actionqueue.ErrUnsupportedVersion)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := filestore.New("")
	require.ErrorIs(t, err, filestore.ErrPathRequired)
}
