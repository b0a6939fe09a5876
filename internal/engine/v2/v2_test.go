package v2

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
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	var delivered []model.EntryWithPath
	err := e.ExecuteAllNewEntries(ctx, func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		delivered = append(delivered, entries...)
		return true
	}, false)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "persian", mustUnquote(t, delivered[0].Key))
}

func mustUnquote(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestExecuteAllNewEntries_CursorAdvancesEvenOnDispatchFailure(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	attempts := 0
	dispatch := func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		attempts++
		return attempts > 1
	}
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	assert.Equal(t, 2, attempts, "a failed group must be retried from the pending file, not by re-reading the log")

	offset, err := e.readCursor(ctx, "own-app", "own-app")
	require.NoError(t, err)
	assert.Positive(t, offset, "the main cursor advances past parsed bytes regardless of dispatch outcome")
}

func TestExecuteAllNewEntries_PendingClearsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))

	attempts := 0
	dispatch := func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
		attempts++
		return attempts > 1
	}
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))
	require.NoError(t, e.ExecuteAllNewEntries(ctx, dispatch, false))

	pending, err := e.readPending(ctx, "own-app", "own-app")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A third call with no new writes and no pending work must not
	// redispatch anything.
	require.NoError(t, e.ExecuteAllNewEntries(ctx, func(_ context.Context, _ []string, _ []model.EntryWithPath, _ bool) bool {
		t.Fatal("dispatch should not be called with nothing new and nothing pending")
		return true
	}, false))
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

func TestDeleteApp_RemovesWriterSubtree(t *testing.T) {
	ctx := context.Background()
	root := fs.NewMem()
	e := New(root, []string{"rt", "col"}, "own-app", nil)

	require.NoError(t, e.SetEntriesForPath(ctx, []string{"cats"}, []model.Entry{
		entry(t, "2024-01-01T00:00:00Z", "persian", "fluffy"),
	}))
	require.NoError(t, e.DeleteApp(ctx, "own-app", false))

	apps, err := e.WriterAppIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, apps, "own-app")
}
