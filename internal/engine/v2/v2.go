// Package v2 implements DecsyncV2: a single append-only log per writer
// (no per-path sharding), a per-writer stored-entries snapshot, and one
// byte-offset cursor per (reader, writer) pair kept in the writer's own
// subtree.
package v2

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

const scanConcurrency = 8

// entryLogShard is the single log shard name V2 writes to. Earlier
// decsync-web drafts sharded the log by path prefix; this engine always
// uses shard 0, matching what the reference V2 client actually ships.
const entryLogShard = "0"

// Engine implements engine.Engine for the V2 on-disk format.
type Engine struct {
	fs     fs.FS
	sub    []string
	ownApp string
	logger *slog.Logger
}

// New constructs a V2 engine rooted at sub within root.
func New(root fs.FS, sub []string, ownAppID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fs: root, sub: sub, ownApp: ownAppID, logger: logger}
}

func (e *Engine) Version() int { return 2 }

func (e *Engine) path(parts ...string) []string {
	out := make([]string, 0, len(e.sub)+1+len(parts))
	out = append(out, e.sub...)
	out = append(out, "v2")
	out = append(out, parts...)
	return out
}

func (e *Engine) logFile(appID string) []string {
	return e.path(appID, "entries", entryLogShard)
}

func (e *Engine) storedEntriesFile(appID, fileName string) []string {
	return e.path(appID, "stored-entries", fileName)
}

func (e *Engine) cursorFile(writer, reader string) []string {
	return e.path(writer, "sequences", reader)
}

func (e *Engine) pendingFile(writer, reader string) []string {
	return e.path(writer, "sequences", reader+".pending")
}

// SetEntriesForPath implements engine.Engine.
func (e *Engine) SetEntriesForPath(ctx context.Context, path []string, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf []byte
	for _, entry := range entries {
		line, err := wireformat.EncodeLine(model.EntryWithPath{Path: path, Entry: entry})
		if err != nil {
			return fmt.Errorf("v2: encode entry for %s: %w", fs.PathString(path), err)
		}
		buf = append(buf, line...)
	}
	if err := e.fs.Append(ctx, e.logFile(e.ownApp), buf); err != nil {
		return fmt.Errorf("v2: append entries: %w", err)
	}

	fileName := pathcodec.EncodeFileName(path)
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
		return nil, fmt.Errorf("v2: read stored-entries: %w", err)
	}
	if !ok {
		return map[string]model.Entry{}, nil
	}
	parsed, parseErr := wireformat.ParseStoredEntries(data)
	if parseErr != nil {
		e.logger.Warn("v2: malformed stored-entries lines skipped", "app_id", appID, "file", fileName, "error", parseErr)
	}
	return parsed, nil
}

func (e *Engine) writeStoredEntries(ctx context.Context, appID, fileName string, entries map[string]model.Entry) error {
	data, err := wireformat.SerializeStoredEntries(entries)
	if err != nil {
		return fmt.Errorf("v2: serialize stored-entries: %w", err)
	}
	if err := e.fs.Write(ctx, e.storedEntriesFile(appID, fileName), data); err != nil {
		return fmt.Errorf("v2: write stored-entries: %w", err)
	}
	return nil
}

func (e *Engine) readCursor(ctx context.Context, writer, reader string) (int64, error) {
	data, ok, err := e.fs.Read(ctx, e.cursorFile(writer, reader))
	if err != nil {
		return 0, fmt.Errorf("v2: read cursor: %w", err)
	}
	if !ok {
		return 0, nil
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		e.logger.Warn("v2: malformed cursor, restarting from 0", "writer", writer, "reader", reader)
		return 0, nil
	}
	return offset, nil
}

func (e *Engine) writeCursor(ctx context.Context, writer, reader string, offset int64) error {
	if err := e.fs.Write(ctx, e.cursorFile(writer, reader), []byte(strconv.FormatInt(offset, 10))); err != nil {
		return fmt.Errorf("v2: write cursor: %w", err)
	}
	return nil
}

func (e *Engine) readPending(ctx context.Context, writer, reader string) ([]model.EntryWithPath, error) {
	data, ok, err := e.fs.Read(ctx, e.pendingFile(writer, reader))
	if err != nil {
		return nil, fmt.Errorf("v2: read pending: %w", err)
	}
	if !ok {
		return nil, nil
	}
	entries, parseErr := wireformat.ParseEntryWithPathLines(data)
	if parseErr != nil {
		e.logger.Warn("v2: malformed pending lines skipped", "writer", writer, "reader", reader, "error", parseErr)
	}
	return entries, nil
}

func (e *Engine) writePending(ctx context.Context, writer, reader string, entries []model.EntryWithPath) error {
	if len(entries) == 0 {
		return e.fs.Delete(ctx, e.pendingFile(writer, reader))
	}
	var buf []byte
	for _, entry := range entries {
		line, err := wireformat.EncodeLine(entry)
		if err != nil {
			return fmt.Errorf("v2: encode pending entry: %w", err)
		}
		buf = append(buf, line...)
	}
	if err := e.fs.Write(ctx, e.pendingFile(writer, reader), buf); err != nil {
		return fmt.Errorf("v2: write pending: %w", err)
	}
	return nil
}

// writerBatch is everything one writer contributed to this scan: its
// previously-pending entries plus whatever was freshly read, deduped by
// key within each path this round.
type writerBatch struct {
	writer     string
	byFileName map[string][]model.EntryWithPath
	endOffset  int64
	hadLog     bool
}

// ExecuteAllNewEntries implements engine.Engine.
func (e *Engine) ExecuteAllNewEntries(ctx context.Context, dispatch engine.Dispatch, isInit bool) error {
	writers, err := e.fs.ListDirectories(ctx, e.path())
	if err != nil {
		return fmt.Errorf("v2: list writers: %w", err)
	}

	batches, err := e.scanWriters(ctx, writers)
	if err != nil {
		return err
	}

	// contributions[fileName][writer] = deduped entries that writer offered
	// this round for that path, used both for the cross-writer merge and to
	// know what to persist back into pending on a dispatch failure.
	contributions := make(map[string]map[string][]model.EntryWithPath)
	var pathOf = make(map[string][]string)
	for _, b := range batches {
		for fileName, entries := range b.byFileName {
			if _, ok := contributions[fileName]; !ok {
				contributions[fileName] = make(map[string][]model.EntryWithPath)
			}
			contributions[fileName][b.writer] = entries
			if len(entries) > 0 {
				pathOf[fileName] = entries[0].Path
			}
		}
	}

	failed := make(map[string]map[string][]model.EntryWithPath) // fileName -> writer -> entries to keep pending

	for fileName, byWriter := range contributions {
		path := pathOf[fileName]
		ok, err := e.processPathGroup(ctx, path, fileName, byWriter, dispatch, isInit)
		if err != nil {
			return err
		}
		if !ok {
			failed[fileName] = byWriter
		}
	}

	for _, b := range batches {
		if b.hadLog {
			if err := e.writeCursor(ctx, b.writer, e.ownApp, b.endOffset); err != nil {
				return err
			}
		}
		var stillPending []model.EntryWithPath
		for _, byWriter := range failed {
			stillPending = append(stillPending, byWriter[b.writer]...)
		}
		if err := e.writePending(ctx, b.writer, e.ownApp, stillPending); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanWriters(ctx context.Context, writers []string) ([]writerBatch, error) {
	results := make([]writerBatch, len(writers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for i, writer := range writers {
		i, writer := i, writer
		g.Go(func() error {
			b, err := e.scanWriter(gctx, writer)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) scanWriter(ctx context.Context, writer string) (writerBatch, error) {
	pending, err := e.readPending(ctx, writer, e.ownApp)
	if err != nil {
		return writerBatch{}, err
	}

	offset, err := e.readCursor(ctx, writer, e.ownApp)
	if err != nil {
		return writerBatch{}, err
	}
	data, endOffset, hadLog, err := e.fs.ReadFrom(ctx, e.logFile(writer), offset)
	if err != nil {
		return writerBatch{}, fmt.Errorf("v2: read log for %s: %w", writer, err)
	}

	var fresh []model.EntryWithPath
	if hadLog && len(data) > 0 {
		fresh, err = parseFresh(e.logger, writer, data)
		if err != nil {
			return writerBatch{}, err
		}
	}
	if !hadLog {
		endOffset = offset
	}

	byFileName := make(map[string][]model.EntryWithPath)
	group := func(entry model.EntryWithPath) {
		fileName := pathcodec.EncodeFileName(entry.Path)
		byFileName[fileName] = append(byFileName[fileName], entry)
	}
	for _, entry := range pending {
		group(entry)
	}
	for _, entry := range fresh {
		group(entry)
	}
	for fileName, entries := range byFileName {
		byFileName[fileName] = dedupeOwnBatch(entries)
	}

	return writerBatch{writer: writer, byFileName: byFileName, endOffset: endOffset, hadLog: hadLog}, nil
}

func parseFresh(logger *slog.Logger, writer string, data []byte) ([]model.EntryWithPath, error) {
	entries, parseErr := wireformat.ParseEntryWithPathLines(data)
	if parseErr != nil {
		logger.Warn("v2: malformed log lines skipped", "writer", writer, "error", parseErr)
	}
	return entries, nil
}

func dedupeOwnBatch(entries []model.EntryWithPath) []model.EntryWithPath {
	byKey := make(map[string]model.EntryWithPath, len(entries))
	for _, e := range entries {
		existing, ok := byKey[e.KeyText()]
		if !ok || e.Datetime >= existing.Datetime {
			byKey[e.KeyText()] = e
		}
	}
	out := make([]model.EntryWithPath, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	return out
}

// processPathGroup merges one path's per-writer contributions, folds them
// against the persisted baseline, dispatches survivors, and updates the
// own stored-entries snapshot unconditionally. It reports whether dispatch
// accepted the batch (false means the caller must keep these entries
// pending for a retry).
func (e *Engine) processPathGroup(ctx context.Context, path []string, fileName string, byWriter map[string][]model.EntryWithPath, dispatch engine.Dispatch, isInit bool) (bool, error) {
	type candidate struct {
		appID string
		model.Entry
	}
	merged := make(map[string]candidate)
	for writer, entries := range byWriter {
		for _, entry := range entries {
			existing, ok := merged[entry.KeyText()]
			if !ok || engine.IsNewer(writer, entry.Datetime, existing.appID, existing.Datetime, e.ownApp) {
				merged[entry.KeyText()] = candidate{appID: writer, Entry: entry.Entry}
			}
		}
	}

	baseline, err := e.foldedStoredValues(ctx, fileName)
	if err != nil {
		return false, err
	}

	survivors := make(map[string]model.Entry, len(merged))
	for key, cand := range merged {
		if existingDatetime, found := baseline[key]; !found || cand.Datetime >= existingDatetime {
			survivors[key] = cand.Entry
		}
	}

	if len(survivors) > 0 {
		own, err := e.readStoredEntries(ctx, e.ownApp, fileName)
		if err != nil {
			return false, err
		}
		for key, entry := range survivors {
			own[key] = entry
		}
		if err := e.writeStoredEntries(ctx, e.ownApp, fileName, own); err != nil {
			return false, err
		}
	}

	dispatchEntries := filterInfoMetadata(path, toEntryWithPath(path, survivors))
	if len(dispatchEntries) == 0 {
		return true, nil
	}
	return dispatch(ctx, path, dispatchEntries, isInit), nil
}

func (e *Engine) foldedStoredValues(ctx context.Context, fileName string) (map[string]string, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path())
	if err != nil {
		return nil, fmt.Errorf("v2: list apps: %w", err)
	}

	folded := make(map[string]string)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	results := make([]map[string]model.Entry, len(appIDs))
	for i, appID := range appIDs {
		i, appID := i, appID
		g.Go(func() error {
			data, ok, err := e.fs.Read(gctx, e.storedEntriesFile(appID, fileName))
			if err != nil {
				return fmt.Errorf("v2: read stored-entries %s: %w", appID, err)
			}
			if !ok {
				return nil
			}
			parsed, parseErr := wireformat.ParseStoredEntries(data)
			if parseErr != nil {
				e.logger.Warn("v2: malformed stored-entries skipped during fold", "app_id", appID, "file", fileName, "error", parseErr)
			}
			results[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, parsed := range results {
		for key, entry := range parsed {
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
	apps, err := e.fs.ListDirectories(ctx, e.path())
	if err != nil {
		return nil, fmt.Errorf("v2: list apps: %w", err)
	}
	return apps, nil
}

// DeleteApp implements engine.Engine. deleteLegacyLog is accepted to
// satisfy engine.Engine but has no effect here: V2 has no legacy-log
// concept of its own, that cleanup only ever applies to a V1 subtree.
func (e *Engine) DeleteApp(ctx context.Context, appID string, deleteLegacyLog bool) error {
	_ = deleteLegacyLog
	if err := e.fs.Delete(ctx, e.path(appID)); err != nil {
		return fmt.Errorf("v2: delete app %s: %w", appID, err)
	}
	return nil
}

func (e *Engine) unionStoredEntryFiles(ctx context.Context) (map[string][]string, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path())
	if err != nil {
		return nil, fmt.Errorf("v2: list apps: %w", err)
	}

	byFileName := make(map[string][]string)
	for _, appID := range appIDs {
		files, err := e.fs.ListFiles(ctx, e.path(appID, "stored-entries"))
		if err != nil {
			return nil, fmt.Errorf("v2: list stored-entries for %s: %w", appID, err)
		}
		for _, fileName := range files {
			if _, ok := byFileName[fileName]; ok {
				continue
			}
			path, err := pathcodec.DecodeFileName(fileName)
			if err != nil {
				e.logger.Warn("v2: unreadable stored-entries filename skipped", "app_id", appID, "file", fileName, "error", err)
				continue
			}
			byFileName[fileName] = path
		}
	}
	return byFileName, nil
}

func (e *Engine) foldedStoredEntries(ctx context.Context, fileName string) (map[string]model.Entry, error) {
	appIDs, err := e.fs.ListDirectories(ctx, e.path())
	if err != nil {
		return nil, fmt.Errorf("v2: list apps: %w", err)
	}

	merged := make(map[string]model.Entry)
	for _, appID := range appIDs {
		data, ok, err := e.fs.Read(ctx, e.storedEntriesFile(appID, fileName))
		if err != nil {
			return nil, fmt.Errorf("v2: read stored-entries %s: %w", appID, err)
		}
		if !ok {
			continue
		}
		parsed, parseErr := wireformat.ParseStoredEntries(data)
		if parseErr != nil {
			e.logger.Warn("v2: malformed stored-entries skipped during fold", "app_id", appID, "file", fileName, "error", parseErr)
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
