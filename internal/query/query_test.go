package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync-go/decsync/fs"
	"github.com/decsync-go/decsync/internal/engine/v1"
	"github.com/decsync-go/decsync/internal/engine/v2"
	"github.com/decsync-go/decsync/internal/model"
)

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func entry(t *testing.T, datetime string, key, value interface{}) model.Entry {
	return model.Entry{Datetime: datetime, Key: rawJSON(t, key), Value: rawJSON(t, value)}
}

func TestStaticInfo_V2WinsTiesOverV1(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	v1Engine := v1.New(root, []string{"rt", "col", "v1"}, "app-v1", nil)
	v2Engine := v2.New(root, []string{"rt", "col"}, "app-v2", nil)

	require.NoError(t, v1Engine.SetEntriesForPath(ctx, []string{"info"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "last-active-app-v1", "from-v1"),
	}))
	require.NoError(t, v2Engine.SetEntriesForPath(ctx, []string{"info"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "last-active-app-v1", "from-v2"),
	}))

	info, err := StaticInfo(ctx, []VersionedEngine{
		{Version: 1, Engine: v1Engine},
		{Version: 2, Engine: v2Engine},
	})
	require.NoError(t, err)

	got, ok := info["\"last-active-app-v1\""]
	require.True(t, ok)
	assert.JSONEq(t, `"from-v2"`, string(got.Value))
}

func TestActiveApps_UnionsAndSorts(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	v1Engine := v1.New(root, []string{"rt", "col", "v1"}, "dev1-foo", nil)
	v2Engine := v2.New(root, []string{"rt", "col"}, "dev2-bar", nil)

	require.NoError(t, v1Engine.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-05-01T00:00:00Z", "k", "v"),
	}))
	require.NoError(t, v2Engine.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-05-02T00:00:00Z", "k", "v"),
	}))
	require.NoError(t, v1Engine.SetEntriesForPath(ctx, []string{"info"}, []model.Entry{
		entry(t, "2024-05-01T00:00:00Z", "last-active-dev1-foo", "2024-05-01"),
	}))
	require.NoError(t, v2Engine.SetEntriesForPath(ctx, []string{"info"}, []model.Entry{
		entry(t, "2024-05-02T00:00:00Z", "last-active-dev2-bar", "2024-05-02"),
	}))

	engines := []VersionedEngine{{Version: 1, Engine: v1Engine}, {Version: 2, Engine: v2Engine}}
	staticInfo, err := StaticInfo(ctx, engines)
	require.NoError(t, err)

	apps, err := ActiveApps(ctx, engines, staticInfo)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "dev1-foo", apps[0].AppID)
	assert.Equal(t, "dev2-bar", apps[1].AppID)
}

func TestDeleteAppData_V1DeletionAlsoDropsLegacyLogWhenV2IsCurrent(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	v1Engine := v1.New(root, []string{"rt", "col", "v1"}, "dev1-foo", nil)
	require.NoError(t, v1Engine.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-05-01T00:00:00Z", "k", "v"),
	}))

	require.NoError(t, DeleteAppData(ctx, v1Engine, 1, 2, "dev1-foo"))

	writers, err := v1Engine.WriterAppIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, writers, "dev1-foo", "new-entries subtree must be gone once currentVersion > 1")
}

func TestPermDeleteCollection_RemovesWholeSubtree(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	eng := v2.New(root, []string{"rt", "col"}, "app", nil)
	require.NoError(t, eng.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "k", "v"),
	}))

	require.NoError(t, PermDeleteCollection(ctx, root, []string{"rt", "col"}))

	kind, err := root.NodeKind(ctx, []string{"rt", "col"})
	require.NoError(t, err)
	assert.Equal(t, fs.Absent, kind)
}
