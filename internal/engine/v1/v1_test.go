package v1

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync-go/decsync/fs"
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

func TestSetEntriesForPath_ThenExecuteAllNewEntries_DispatchesOwnWrite(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"resource-type", "collection"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	var delivered []model.EntryWithPath
	err := e.ExecuteAllNewEntries(ctx, func(_ context.Context, path []string, entries []model.EntryWithPath, isInit bool) bool {
		assert.False(t, isInit)
		delivered = append(delivered, entries...)
		return true
	}, false)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, []string{"cats"}, delivered[0].Path)
	assert.JSONEq(t, `"persian"`, string(delivered[0].Key))
}

func TestExecuteAllNewEntries_IsIdempotentAcrossCalls(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"resource-type", "collection"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	calls := 0
	dispatch := func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		calls += len(entries)
		return true
	}
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	assert.Equal(t, 1, calls, "second scan must not redeliver an already-advanced cursor")
}

func TestExecuteAllNewEntries_RedeliversOnDispatchFailure(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"resource-type", "collection"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	attempt := 0
	dispatch := func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		attempt++
		return attempt > 1 // first attempt fails, second succeeds
	}
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	assert.Equal(t, 2, attempt, "a failed dispatch must be re-offered on the next scan")
}

func TestExecuteAllNewEntries_MergesConcurrentWritersByDatetime(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()

	writerA := New(root, []string{"rt", "col"}, "app-a", nil)
	writerB := New(root, []string{"rt", "col"}, "app-b", nil)
	reader := New(root, []string{"rt", "col"}, "app-reader", nil)

	require.NoError(t, writerA.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "old-value"),
	}))
	require.NoError(t, writerB.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-06-01T00:00:00Z", "persian", "new-value"),
	}))

	var delivered []model.EntryWithPath
	err := reader.ExecuteAllNewEntries(ctx, func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		delivered = append(delivered, entries...)
		return true
	}, false)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.JSONEq(t, `"new-value"`, string(delivered[0].Value))
}

func TestExecuteAllNewEntries_FiltersInfoMetadataKeys(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"info"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "last-active-own-app", "2024-01-01"),
		entry(t, "2024-01-01T00:00:00Z", "some-user-key", "value"),
	}))

	var delivered []model.EntryWithPath
	err := e.ExecuteAllNewEntries(ctx, func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		delivered = append(delivered, entries...)
		return true
	}, false)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.JSONEq(t, `"some-user-key"`, string(delivered[0].Key))
}

func TestSetEntriesForPath_OwnStoredEntriesNeverRegress(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-06-01T00:00:00Z", "persian", "new"),
	}))
	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "stale"),
	}))

	stored, err := e.readStoredEntries(ctx, "own-app", "63617473")
	require.NoError(t, err)
	got, ok := stored["\"persian\""]
	require.True(t, ok)
	assert.JSONEq(t, `"new"`, string(got.Value))
}
