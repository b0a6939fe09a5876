package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync-go/decsync/fs"
)

func TestJSONStore_LoadEmptyReturnsZeroValue(t *testing.T) {
	store := NewJSON(fs.NewMem(), []string{"info"})
	info, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Info{}, info)
}

func TestJSONStore_SaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewJSON(fs.NewMem(), []string{"info"})

	version := 2
	want := Info{Version: &version, LastActive: "2024-06-01", SupportedVersion: &version}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJSONStore_SaveOverwritesWhole(t *testing.T) {
	ctx := context.Background()
	store := NewJSON(fs.NewMem(), []string{"info"})

	v1 := 1
	require.NoError(t, store.Save(ctx, Info{Version: &v1}))

	v2 := 2
	require.NoError(t, store.Save(ctx, Info{Version: &v2, LastActive: "2024-06-02"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", got.LastActive)
	assert.Equal(t, 2, *got.Version)
}
