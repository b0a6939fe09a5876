// Package v1 implements DecsyncV1: the "new-entries + stored-entries"
// layout. Every writer keeps one new-entries file per path it
// has ever written, plus a stored-entries snapshot of its own view; every
// reader keeps one cursor file per (writer, path) pair it has read from.
package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/decsync-go/decsync/fs"
	"github.com/decsync-go/decsync/internal/engine"
	"github.com/decsync-go/decsync/internal/model"
	"github.com/decsync-go/decsync/internal/wireformat"
	"github.com/decsync-go/decsync/pathcodec"
)

// scanConcurrency bounds how many peer app-id subtrees are scanned in
// parallel, following the same "don't let one huge tree monopolise every
// goroutine slot" reasoning as the teacher's bounded-worker patterns.
const scanConcurrency = 8

// Engine implements engine.Engine for the V1 on-disk format.
type Engine struct {
	fs     fs.FS
	sub    []string // path of this sync type/collection's subtree root
	ownApp string
	logger *slog.Logger
}

// New constructs a V1 engine rooted at sub within root.
func New(root fs.FS, sub []string, ownAppID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fs: root, sub: sub, ownApp: ownAppID, logger: logger}
}

func (e *Engine) Version() int { return 1 }

func (e *Engine) path(parts ...string) []string {
	out := make([]string, 0, len(e.sub)+len(parts))
	out = append(out, e.sub...)
	out = append(out, parts...)
	return out
}

func (e *Engine) newEntriesFile(appID, fileName string) []string {
	return e.path("new-entries", appID, fileName)
}

func (e *Engine) storedEntriesFile(appID, fileName string) []string {
	return e.path("stored-entries", appID, fileName)
}

func (e *Engine) cursorFile(reader, writer, fileName string) []string {
	return e.path("read", reader, writer, fileName)
}

// SetEntriesForPath implements engine.Engine.
func (e *Engine) SetEntriesForPath(ctx context.Context, path []string, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	fileName := pathcodec.EncodeFileName(path)

	var buf []byte
	for _, entry := range entries {
		line, err := wireformat.EncodeLine(entry)
		if err != nil {
			return fmt.Errorf("v1: encode entry for %s: %w", fs.PathString(path), err)
		}
		buf = append(buf, line...)
	}
	if err := e.fs.Append(ctx, e.newEntriesFile(e.ownApp, fileName), buf); err != nil {
		return fmt.Errorf("v1: append new-entries: %w", err)
	}

	// Optimistic local echo into our own stored-entries:
	// only overwrite a key when it has no existing line yet or the existing
	// line is strictly older. This runs independent of the read-side fold
	// used by ExecuteAllNewEntries.
	stored, err := e.readStoredEntries(ctx, e.ownApp, fileName)
	if err != nil {
		return err
	}
	changed := false
	for _, entry := range entries {
		existing, ok := stored[entry.KeyText()]
		if !ok || existing.Datetime < entry.Datetime {
			stored[entry.KeyText()] = entry
			changed = true
		}
	}
	if changed {
		if err := e.writeStoredEntries(ctx, e.ownApp, fileName, stored); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readStoredEntries(ctx context.Context, appID, fileName string) (map[string]model.Entry, error) {
	data, ok, err := e.fs.Read(ctx, e.storedEntriesFile(appID, fileName))
	if err != nil {
		return nil, fmt.Errorf("v1: read stored-entries: %w", err)
	}
	if !ok {
		return map[string]model.Entry{}, nil
	}
	parsed, parseErr := wireformat.ParseStoredEntries(data)
	if parseErr != nil {
		e.logger.Warn("v1: malformed stored-entries lines skipped", "app_id", appID, "file", fileName, "error", parseErr)
	}
	return parsed, nil
}

func (e *Engine) writeStoredEntries(ctx context.Context, appID, fileName string, entries map[string]model.Entry) error {
	data, err := wireformat.SerializeStoredEntries(entries)
	if err != nil {
		return fmt.Errorf("v1: serialize stored-entries: %w", err)
	}
	if err := e.fs.Write(ctx, e.storedEntriesFile(appID, fileName), data); err != nil {
		return fmt.Errorf("v1: write stored-entries: %w", err)
	}
	return nil
}

func (e *Engine) readCursor(ctx context.Context, reader, writer, fileName string) (int64, error) {
	data, ok, err := e.fs.Read(ctx, e.cursorFile(reader, writer, fileName))
	if err != nil {
		return 0, fmt.Errorf("v1: read cursor: %w", err)
	}
	if !ok {
		return 0, nil
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		e.logger.Warn("v1: malformed cursor, restarting from 0", "reader", reader, "writer", writer, "file", fileName)
		return 0, nil
	}
	return offset, nil
}

func (e *Engine) writeCursor(ctx context.Context, reader, writer, fileName string, offset int64) error {
	if err := e.fs.Write(ctx, e.cursorFile(reader, writer, fileName), []byte(strconv.FormatInt(offset, 10))); err != nil {
		return fmt.Errorf("v1: write cursor: %w", err)
	}
	return nil
}

// candidate tracks a still-live contender for one key while merging new
// entries observed from possibly-several writers in one scan.
type candidate struct {
	appID string
	model.Entry
}

// rawGroup is everything read from one (writer, path-file) pair in one scan.
type rawGroup struct {
	writer      string
	path        []string
	fileName    string
	entries     []model.Entry // deduped within this single writer's own batch
	startOffset int64
	endOffset   int64
}

// ExecuteAllNewEntries implements engine.Engine.
func (e *Engine) ExecuteAllNewEntries(ctx context.Context, dispatch engine.Dispatch, isInit bool) error {
	writers, err := e.fs.ListDirectories(ctx, e.path("new-entries"))
	if err != nil {
		return fmt.Errorf("v1: list writers: %w", err)
	}

	groups, err := e.scanWriters(ctx, writers)
	if err != nil {
		return err
	}

	byPath := groupByFileName(groups)
	for fileName, groupsForPath := range byPath {
		if err := e.processPathGroup(ctx, fileName, groupsForPath, dispatch, isInit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanWriters(ctx context.Context, writers []string) ([]rawGroup, error) {
	results := make([][]rawGroup, len(writers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for i, writer := range writers {
		i, writer := i, writer
		g.Go(func() error {
			groups, err := e.scanWriter(gctx, writer)
			if err != nil {
				return err
			}
			results[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []rawGroup
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (e *Engine) scanWriter(ctx context.Context, writer string) ([]rawGroup, error) {
	files, err := e.fs.ListFiles(ctx, e.path("new-entries", writer))
	if err != nil {
		return nil, fmt.Errorf("v1: list %s's paths: %w", writer, err)
	}

	var groups []rawGroup
	for _, fileName := range files {
		path, err := pathcodec.DecodeFileName(fileName)
		if err != nil {
			e.logger.Warn("v1: unreadable path filename skipped", "writer", writer, "file", fileName, "error", err)
			continue
		}

		startOffset, err := e.readCursor(ctx, e.ownApp, writer, fileName)
		if err != nil {
			return nil, err
		}
		data, endOffset, ok, err := e.fs.ReadFrom(ctx, e.newEntriesFile(writer, fileName), startOffset)
		if err != nil {
			return nil, fmt.Errorf("v1: read new-entries %s/%s: %w", writer, fileName, err)
		}
		if !ok || len(data) == 0 {
			continue
		}

		entries, parseErr := wireformat.ParseEntryLines(data)
		if parseErr != nil {
			e.logger.Warn("v1: malformed new-entries lines skipped", "writer", writer, "file", fileName, "error", parseErr)
		}
		if len(entries) == 0 {
			// Nothing usable, but the bytes were consumed; still advance
			// past them so a persistently-malformed line can't wedge scans.
			if err := e.writeCursor(ctx, e.ownApp, writer, fileName, endOffset); err != nil {
				return nil, err
			}
			continue
		}

		groups = append(groups, rawGroup{
			writer:      writer,
			path:        path,
			fileName:    fileName,
			entries:     dedupeOwnBatch(entries),
			startOffset: startOffset,
			endOffset:   endOffset,
		})
	}
	return groups, nil
}

// dedupeOwnBatch collapses duplicate keys within one writer's own batch,
// keeping the highest datetime (ties keep the later occurrence, since a
// single writer's own log is already totally ordered by append order).
func dedupeOwnBatch(entries []model.Entry) []model.Entry {
	byKey := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		existing, ok := byKey[e.KeyText()]
		if !ok || e.Datetime >= existing.Datetime {
			byKey[e.KeyText()] = e
		}
	}
	out := make([]model.Entry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	return out
}

func groupByFileName(groups []rawGroup) map[string][]rawGroup {
	out := make(map[string][]rawGroup)
	for _, g := range groups {
		out[g.fileName] = append(out[g.fileName], g)
	}
	return out
}

func (e *Engine) processPathGroup(ctx context.Context, fileName string, groups []rawGroup, dispatch engine.Dispatch, isInit bool) error {
	path := groups[0].path

	merged := make(map[string]candidate)
	for _, g := range groups {
		for _, entry := range g.entries {
			existing, ok := merged[entry.KeyText()]
			if !ok || engine.IsNewer(g.writer, entry.Datetime, existing.appID, existing.Datetime, e.ownApp) {
				merged[entry.KeyText()] = candidate{appID: g.writer, Entry: entry}
			}
		}
	}

	stored, err := e.foldedStoredValues(ctx, fileName)
	if err != nil {
		return err
	}

	survivors := make(map[string]model.Entry, len(merged))
	for key, cand := range merged {
		if existingDatetime, found := stored[key]; !found || cand.Datetime >= existingDatetime {
			survivors[key] = cand.Entry
		}
	}

	// Update this reader's own stored-entries snapshot unconditionally
	// regardless of whether dispatch below succeeds.
	if len(survivors) > 0 {
		own, err := e.readStoredEntries(ctx, e.ownApp, fileName)
		if err != nil {
			return err
		}
		for key, entry := range survivors {
			own[key] = entry
		}
		if err := e.writeStoredEntries(ctx, e.ownApp, fileName, own); err != nil {
			return err
		}
	}

	dispatchEntries := filterInfoMetadata(path, toEntryWithPath(path, survivors))

	ok := true
	if len(dispatchEntries) > 0 {
		ok = dispatch(ctx, path, dispatchEntries, isInit)
	}
	if !ok {
		return nil // cursors left untouched; re-offered next call
	}

	for _, g := range groups {
		if err := e.writeCursor(ctx, e.ownApp, g.writer, fileName, g.endOffset); err != nil {
			return err
		}
	}
	return nil
}

// foldedStoredValues folds every app-id's stored-entries for one path into
// a single "most recent datetime seen per key" view: compare against the
// current stored-entries view, folded across all writers. Only the
// datetime survives the fold since stored-entries
// lines don't carry the writer's app-id ([datetime,key,value]); see
// SPEC_FULL.md for why this stays a datetime-only comparison rather than a
// full tie-break at this boundary.
func (e *Engine) foldedStoredValues(ctx context.Context, fileName string) (map[string]string, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path("stored-entries"))
	if err != nil {
		return nil, fmt.Errorf("v1: list stored-entries apps: %w", err)
	}

	type result struct {
		entries map[string]model.Entry
	}
	results := make([]result, len(appIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for i, appID := range appIDs {
		i, appID := i, appID
		g.Go(func() error {
			data, ok, err := e.fs.Read(gctx, e.storedEntriesFile(appID, fileName))
			if err != nil {
				return fmt.Errorf("v1: read stored-entries %s: %w", appID, err)
			}
			if !ok {
				return nil
			}
			parsed, parseErr := wireformat.ParseStoredEntries(data)
			if parseErr != nil {
				e.logger.Warn("v1: malformed stored-entries skipped during fold", "app_id", appID, "file", fileName, "error", parseErr)
			}
			results[i] = result{entries: parsed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	folded := make(map[string]string)
	for _, r := range results {
		for key, entry := range r.entries {
			if cur, ok := folded[key]; !ok || entry.Datetime > cur {
				folded[key] = entry.Datetime
			}
		}
	}
	return folded, nil
}

func toEntryWithPath(path []string, byKey map[string]model.Entry) []model.EntryWithPath {
	out := make([]model.EntryWithPath, 0, len(byKey))
	for _, entry := range byKey {
		out = append(out, model.EntryWithPath{Path: path, Entry: entry})
	}
	return out
}

// ExecuteStoredEntriesForPathPrefix implements engine.Engine.
func (e *Engine) ExecuteStoredEntriesForPathPrefix(ctx context.Context, prefix []string, dispatch engine.Dispatch, keys map[string]bool) error {
	byFileName, err := e.unionStoredEntryFiles(ctx)
	if err != nil {
		return err
	}

	for fileName, path := range byFileName {
		if !hasPrefix(path, prefix) {
			continue
		}
		merged, err := e.foldedStoredEntries(ctx, fileName)
		if err != nil {
			return err
		}
		var entries []model.EntryWithPath
		for keyText, entry := range merged {
			if keys != nil && !keys[keyText] {
				continue
			}
			entries = append(entries, model.EntryWithPath{Path: path, Entry: entry})
		}
		if len(entries) == 0 {
			continue
		}
		dispatch(ctx, path, entries, false)
	}
	return nil
}

// StoredEntriesCount implements engine.Engine.
func (e *Engine) StoredEntriesCount(ctx context.Context, prefix []string) (int, error) {
	byFileName, err := e.unionStoredEntryFiles(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for fileName, path := range byFileName {
		if !hasPrefix(path, prefix) {
			continue
		}
		merged, err := e.foldedStoredEntries(ctx, fileName)
		if err != nil {
			return 0, err
		}
		for _, entry := range merged {
			if string(entry.Value) != "null" {
				count++
			}
		}
	}
	return count, nil
}

// WriterAppIDs implements engine.Engine.
func (e *Engine) WriterAppIDs(ctx context.Context) ([]string, error) {
	writers, err := e.fs.ListDirectories(ctx, e.path("new-entries"))
	if err != nil {
		return nil, fmt.Errorf("v1: list writers: %w", err)
	}
	return writers, nil
}

// DeleteApp implements engine.Engine.
func (e *Engine) DeleteApp(ctx context.Context, appID string, deleteLegacyLog bool) error {
	if err := e.fs.Delete(ctx, e.path("stored-entries", appID)); err != nil {
		return fmt.Errorf("v1: delete stored-entries for %s: %w", appID, err)
	}
	if err := e.fs.Delete(ctx, e.path("read", appID)); err != nil {
		return fmt.Errorf("v1: delete read cursors for %s: %w", appID, err)
	}
	if deleteLegacyLog {
		if err := e.fs.Delete(ctx, e.path("new-entries", appID)); err != nil {
			return fmt.Errorf("v1: delete new-entries for %s: %w", appID, err)
		}
	}
	return nil
}

// unionStoredEntryFiles returns every encoded path filename that appears
// under any writer's stored-entries directory, decoded back to its path.
// Different writers can have written to disjoint sets of paths, so the
// union - not any single writer's listing - is the full set of live paths.
func (e *Engine) unionStoredEntryFiles(ctx context.Context) (map[string][]string, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path("stored-entries"))
	if err != nil {
		return nil, fmt.Errorf("v1: list stored-entries apps: %w", err)
	}

	byFileName := make(map[string][]string)
	for _, appID := range appIDs {
		files, err := e.fs.ListFiles(ctx, e.path("stored-entries", appID))
		if err != nil {
			return nil, fmt.Errorf("v1: list stored-entries files for %s: %w", appID, err)
		}
		for _, fileName := range files {
			if _, ok := byFileName[fileName]; ok {
				continue
			}
			path, err := pathcodec.DecodeFileName(fileName)
			if err != nil {
				e.logger.Warn("v1: unreadable stored-entries filename skipped", "app_id", appID, "file", fileName, "error", err)
				continue
			}
			byFileName[fileName] = path
		}
	}
	return byFileName, nil
}

// foldedStoredEntries is like foldedStoredValues but keeps the full winning
// Entry (needed to replay values, not just to compare datetimes against a
// merge candidate). On equal datetimes the entry from the app-id that
// sorts first is kept, since app-ids are visited in sorted order and only
// a strictly newer datetime replaces an earlier pick; stored-entries lines
// carry no writer app-id to apply the engine's full tie-break rule.
func (e *Engine) foldedStoredEntries(ctx context.Context, fileName string) (map[string]model.Entry, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path("stored-entries"))
	if err != nil {
		return nil, fmt.Errorf("v1: list stored-entries apps: %w", err)
	}

	merged := make(map[string]model.Entry)
	for _, appID := range appIDs {
		data, ok, err := e.fs.Read(ctx, e.storedEntriesFile(appID, fileName))
		if err != nil {
			return nil, fmt.Errorf("v1: read stored-entries %s: %w", appID, err)
		}
		if !ok {
			continue
		}
		parsed, parseErr := wireformat.ParseStoredEntries(data)
		if parseErr != nil {
			e.logger.Warn("v1: malformed stored-entries skipped during fold", "app_id", appID, "file", fileName, "error", parseErr)
		}
		for key, entry := range parsed {
			if existing, ok := merged[key]; !ok || entry.Datetime > existing.Datetime {
				merged[key] = entry
			}
		}
	}
	return merged, nil
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

// filterInfoMetadata strips path=["info"] entries whose key is internal
// bookkeeping: last-active-* and
// supported-version-*. These still land in stored-entries above; they are
// only withheld from listener dispatch.
func filterInfoMetadata(path []string, entries []model.EntryWithPath) []model.EntryWithPath {
	if len(path) != 1 || path[0] != "info" {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		var key string
		if err := json.Unmarshal(e.Key, &key); err == nil {
			if strings.HasPrefix(key, "last-active-") || strings.HasPrefix(key, "supported-version-") {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
