package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMem_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	_, ok, err := f.Read(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Write(ctx, []string{"a", "b"}, []byte("hello")))

	data, ok, err := f.Read(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestMem_Append(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Append(ctx, []string{"log"}, []byte("line1\n")))
	require.NoError(t, f.Append(ctx, []string{"log"}, []byte("line2\n")))

	data, ok, err := f.Read(ctx, []string{"log"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "line1\nline2\n", string(data))
}

func TestMem_ReadFrom(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Append(ctx, []string{"log"}, []byte("line1\n")))
	data, offset, ok, err := f.ReadFrom(ctx, []string{"log"}, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "line1\n", string(data))
	assert.EqualValues(t, 6, offset)

	require.NoError(t, f.Append(ctx, []string{"log"}, []byte("line2\n")))
	data, offset, ok, err = f.ReadFrom(ctx, []string{"log"}, offset)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "line2\n", string(data))
	assert.EqualValues(t, 12, offset)
}

func TestMem_ListDirectoriesAndNodeKind(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"v2", "app1", "entries", "0"}, []byte("x")))
	require.NoError(t, f.Write(ctx, []string{"v2", "app2", "entries", "0"}, []byte("x")))

	kind, err := f.NodeKind(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, Directory, kind)

	kind, err = f.NodeKind(ctx, []string{"v2", "app1", "entries", "0"})
	require.NoError(t, err)
	assert.Equal(t, File, kind)

	kind, err = f.NodeKind(ctx, []string{"nope"})
	require.NoError(t, err)
	assert.Equal(t, Absent, kind)

	dirs, err := f.ListDirectories(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1", "app2"}, dirs)
}

func TestMem_ListFiles(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"new-entries", "app1", "696e666f"}, []byte("x")))
	require.NoError(t, f.Write(ctx, []string{"new-entries", "app1", "636174732d70"}, []byte("x")))

	files, err := f.ListFiles(ctx, []string{"new-entries", "app1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"696e666f", "636174732d70"}, files)

	dirs, err := f.ListDirectories(ctx, []string{"new-entries"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, dirs)
}

func TestMem_ListDirectoriesSeesNewEntriesWithoutResetCache(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"v2", "app1", "entries", "0"}, []byte("x")))
	dirs, err := f.ListDirectories(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, dirs)

	// A later peer joining and writing under a brand-new app-id must be
	// discoverable on the very next scan, with no explicit ResetCache.
	require.NoError(t, f.Write(ctx, []string{"v2", "app2", "entries", "0"}, []byte("x")))
	dirs, err = f.ListDirectories(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1", "app2"}, dirs)
}

func TestMem_ListFilesSeesNewFileInAlreadyListedDirectory(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"new-entries", "app1", "696e666f"}, []byte("x")))
	files, err := f.ListFiles(ctx, []string{"new-entries", "app1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"696e666f"}, files)

	require.NoError(t, f.Write(ctx, []string{"new-entries", "app1", "636174732d70"}, []byte("x")))
	files, err = f.ListFiles(ctx, []string{"new-entries", "app1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"696e666f", "636174732d70"}, files)
}

func TestMem_ListDirectoriesReflectsDelete(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"v2", "app1", "entries", "0"}, []byte("x")))
	require.NoError(t, f.Write(ctx, []string{"v2", "app2", "entries", "0"}, []byte("x")))
	dirs, err := f.ListDirectories(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1", "app2"}, dirs)

	require.NoError(t, f.Delete(ctx, []string{"v2", "app2"}))
	dirs, err = f.ListDirectories(ctx, []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, dirs)
}

func TestMem_Delete(t *testing.T) {
	ctx := context.Background()
	f := NewMem()

	require.NoError(t, f.Write(ctx, []string{"v2", "app1", "entries", "0"}, []byte("x")))
	require.NoError(t, f.Delete(ctx, []string{"v2", "app1"}))

	kind, err := f.NodeKind(ctx, []string{"v2", "app1"})
	require.NoError(t, err)
	assert.Equal(t, Absent, kind)

	// Deleting an absent path is not an error.
	require.NoError(t, f.Delete(ctx, []string{"v2", "app1"}))
}

func TestOS_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewOS(t.TempDir())

	require.NoError(t, f.Write(ctx, []string{"sub", "file"}, []byte("payload")))
	data, ok, err := f.Read(ctx, []string{"sub", "file"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
}
