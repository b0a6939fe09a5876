package boltdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/decsync-go/decsync/internal/localstore"
)

func TestOpen_CreatesBucket(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "local.db")

	store, err := Open(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer func() { require.NoError(t, store.Close()) }()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	err = store.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketInfo) == nil {
			return os.ErrNotExist
		}
		return nil
	})
	require.NoError(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "local.db")
	store, err := Open(dbPath)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.Nil(t, store.db)
	require.NoError(t, store.Close())
}

func TestCollection_SaveThenLoadRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "local.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	version := 2
	want := localstore.Info{Version: &version, LastActive: "2024-06-01"}

	contacts := store.Collection("contacts/personal")
	require.NoError(t, contacts.Save(ctx, want))

	got, err := contacts.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCollection_IsolatedByKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "local.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	v1, v2 := 1, 2
	require.NoError(t, store.Collection("contacts").Save(ctx, localstore.Info{Version: &v1}))
	require.NoError(t, store.Collection("calendars").Save(ctx, localstore.Info{Version: &v2}))

	contactsInfo, err := store.Collection("contacts").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, *contactsInfo.Version)

	calendarsInfo, err := store.Collection("calendars").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, *calendarsInfo.Version)
}
