// Package fs defines the filesystem capability DecSync's core depends on
// and two concrete backends built on github.com/spf13/afero: an
// OS-rooted backend for real synced directories and an in-memory backend
// for tests and for hosts that want to stage writes before flushing.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// NodeKind describes what, if anything, exists at a path.
type NodeKind int

const (
	// Absent means nothing exists at the path.
	Absent NodeKind = iota
	// File means the path is a regular file.
	File
	// Directory means the path is a directory.
	Directory
)

//go:generate moq -out fs_mock.go . FS

// FS is the abstract, ordered, byte-oriented hierarchical store the
// DecSync core requires. Paths are given as segment slices, joined with
// "/" internally; callers are responsible for running names through
// pathcodec before handing them to FS.
type FS interface {
	// Read returns the full contents of path, or ok=false if absent.
	Read(ctx context.Context, path []string) (data []byte, ok bool, err error)

	// Write creates or replaces path atomically.
	Write(ctx context.Context, path []string, data []byte) error

	// Append creates path if absent and atomically appends data to it.
	// Concurrent appends from other processes to other files are never
	// observed as interleaved with this call, since writers never share
	// files; concurrent appends to the *same* file from within
	// one process are serialised by the caller (the façade), not by FS.
	Append(ctx context.Context, path []string, data []byte) error

	// ReadFrom reads path starting at byte offset, returning the bytes
	// read and the new offset (offset+len(data)). If path is absent it
	// returns ok=false.
	ReadFrom(ctx context.Context, path []string, offset int64) (data []byte, newOffset int64, ok bool, err error)

	// ListDirectories lists the immediate child directory names of path.
	ListDirectories(ctx context.Context, path []string) ([]string, error)

	// ListFiles lists the immediate child file names of path.
	ListFiles(ctx context.Context, path []string) ([]string, error)

	// NodeKind reports what exists at path.
	NodeKind(ctx context.Context, path []string) (NodeKind, error)

	// Delete removes path, recursively if it is a directory. Deleting an
	// absent path is not an error.
	Delete(ctx context.Context, path []string) error

	// ResetCache hints that any host-side directory-listing cache should
	// be dropped. Called around version upgrades to
	// avoid reading stale snapshots created by the other engine version.
	ResetCache()
}

// aferoFS adapts an afero.Fs into FS. It additionally serialises Append
// calls per-file within this process, since afero.Fs itself makes no
// atomicity guarantee about concurrent writers to the same *os.File
// handle beyond what the OS gives a single append-mode file descriptor.
type aferoFS struct {
	afs afero.Fs

	mu       sync.Mutex
	appendMu map[string]*sync.Mutex

	listMu sync.Mutex
	// listCache memoizes ListDirectories/ListFiles results. Write, Append
	// and Delete invalidate every ancestor directory of the path they
	// touch, since any of them can make a new child appear or disappear;
	// ResetCache is a coarser drop kept for the version-upgrade path,
	// which switches to reading a whole different subtree at once.
	listCache map[string][]string
}

// NewOS returns an FS rooted at root on the real filesystem.
func NewOS(root string) FS {
	return newAferoFS(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewMem returns an FS backed entirely by memory. Useful for tests and for
// hosts that want to stage decsync state before syncing it to a real
// directory by some other means.
func NewMem() FS {
	return newAferoFS(afero.NewMemMapFs())
}

func newAferoFS(afs afero.Fs) FS {
	return &aferoFS{
		afs:       afs,
		appendMu:  make(map[string]*sync.Mutex),
		listCache: make(map[string][]string),
	}
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return "."
	}
	return path.Join(segments...)
}

func (a *aferoFS) Read(_ context.Context, p []string) ([]byte, bool, error) {
	data, err := afero.ReadFile(a.afs, joinPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fs: read %s: %w", joinPath(p), err)
	}
	return data, true, nil
}

func (a *aferoFS) Write(_ context.Context, p []string, data []byte) error {
	full := joinPath(p)
	if err := a.afs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fs: mkdir for %s: %w", full, err)
	}
	tmp := full + ".tmp"
	if err := afero.WriteFile(a.afs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("fs: write %s: %w", full, err)
	}
	if err := a.afs.Rename(tmp, full); err != nil {
		return fmt.Errorf("fs: replace %s: %w", full, err)
	}
	a.invalidatePath(full)
	return nil
}

// invalidatePath drops any cached listing full itself could hold (if it
// is a directory) and every ancestor directory's listing, since Write,
// Append and Delete can each make full newly appear or disappear as a
// child of its parent.
func (a *aferoFS) invalidatePath(full string) {
	a.listMu.Lock()
	defer a.listMu.Unlock()
	delete(a.listCache, "d:"+full)
	delete(a.listCache, "f:"+full)
	for dir := path.Dir(full); ; dir = path.Dir(dir) {
		delete(a.listCache, "d:"+dir)
		delete(a.listCache, "f:"+dir)
		if dir == "." {
			break
		}
	}
}

func (a *aferoFS) fileMutex(full string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.appendMu[full]
	if !ok {
		m = &sync.Mutex{}
		a.appendMu[full] = m
	}
	return m
}

func (a *aferoFS) Append(_ context.Context, p []string, data []byte) error {
	full := joinPath(p)
	m := a.fileMutex(full)
	m.Lock()
	defer m.Unlock()

	if err := a.afs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fs: mkdir for %s: %w", full, err)
	}
	f, err := a.afs.OpenFile(full, iofsAppendFlags(), 0o644)
	if err != nil {
		return fmt.Errorf("fs: open %s for append: %w", full, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("fs: append to %s: %w", full, err)
	}
	a.invalidatePath(full)
	return nil
}

func (a *aferoFS) ReadFrom(_ context.Context, p []string, offset int64) ([]byte, int64, bool, error) {
	full := joinPath(p)
	f, err := a.afs.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, offset, false, nil
		}
		return nil, offset, false, fmt.Errorf("fs: open %s: %w", full, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, false, fmt.Errorf("fs: seek %s: %w", full, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, false, fmt.Errorf("fs: read %s: %w", full, err)
	}
	return data, offset + int64(len(data)), true, nil
}

func (a *aferoFS) ListDirectories(_ context.Context, p []string) ([]string, error) {
	return a.list(joinPath(p), "d", func(e fs.FileInfo) bool { return e.IsDir() })
}

// ListFiles lists the immediate child file (non-directory) names of path.
// Needed alongside ListDirectories because V1's new-entries/stored-entries
// trees hold one file per encoded path under each app-id directory; the
// The abstract capability elides this distinction, but the engines can't enumerate
// path files without it.
func (a *aferoFS) ListFiles(_ context.Context, p []string) ([]string, error) {
	return a.list(joinPath(p), "f", func(e fs.FileInfo) bool { return !e.IsDir() })
}

func (a *aferoFS) list(full, cacheKind string, keep func(fs.FileInfo) bool) ([]string, error) {
	cacheKey := cacheKind + ":" + full

	a.listMu.Lock()
	if cached, ok := a.listCache[cacheKey]; ok {
		a.listMu.Unlock()
		return cached, nil
	}
	a.listMu.Unlock()

	entries, err := afero.ReadDir(a.afs, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fs: list %s: %w", full, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	a.listMu.Lock()
	a.listCache[cacheKey] = names
	a.listMu.Unlock()

	return names, nil
}

func (a *aferoFS) NodeKind(_ context.Context, p []string) (NodeKind, error) {
	full := joinPath(p)
	info, err := a.afs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, nil
		}
		return Absent, fmt.Errorf("fs: stat %s: %w", full, err)
	}
	if info.IsDir() {
		return Directory, nil
	}
	return File, nil
}

func (a *aferoFS) Delete(_ context.Context, p []string) error {
	full := joinPath(p)
	if err := a.afs.RemoveAll(full); err != nil {
		return fmt.Errorf("fs: delete %s: %w", full, err)
	}
	a.invalidatePath(full)
	return nil
}

func (a *aferoFS) ResetCache() {
	a.listMu.Lock()
	a.listCache = make(map[string][]string)
	a.listMu.Unlock()
}

// PathString renders a path the way error messages and logs should show
// it, independent of the OS path separator.
func PathString(p []string) string {
	return strings.Join(p, "/")
}
