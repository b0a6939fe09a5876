// Package wireformat implements the on-disk line format shared by the V1
// and V2 engines: one JSON value per line, UTF-8, newline-terminated. A
// line whose parse fails or whose array arity is wrong is skipped, never
// fatal — the caller collects such failures for logging.
package wireformat

import (
	"bytes"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/decsync-go/decsync/internal/model"
)

// ParseEntryLines parses a buffer of newline-terminated Entry tuples.
// Malformed lines are skipped and combined into a single non-fatal error
// via multierr so a caller can log everything that went wrong in one line
// instead of only the first failure.
func ParseEntryLines(data []byte) ([]model.Entry, error) {
	var entries []model.Entry
	var errs error
	for i, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e model.Entry
		if err := e.UnmarshalJSON(line); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", i, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

// ParseEntryWithPathLines parses a buffer of newline-terminated
// EntryWithPath tuples, as used by V2's per-writer append log.
func ParseEntryWithPathLines(data []byte) ([]model.EntryWithPath, error) {
	var entries []model.EntryWithPath
	var errs error
	for i, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e model.EntryWithPath
		if err := e.UnmarshalJSON(line); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", i, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

func splitLines(data []byte) [][]byte {
	return bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
}

// EncodeLine renders one JSON-marshalable value as a single terminated line.
func EncodeLine(v interface{ MarshalJSON() ([]byte, error) }) ([]byte, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ParseStoredEntries decodes a stored-entries file into a map keyed by the
// JSON text of each entry's key, one line per key.
func ParseStoredEntries(data []byte) (map[string]model.Entry, error) {
	entries, err := ParseEntryLines(data)
	out := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		out[e.KeyText()] = e
	}
	return out, err
}

// SerializeStoredEntries renders a stored-entries map back to its on-disk
// form, one sorted-by-key line per entry so the file is byte-stable across
// runs that produce the same logical content (helps diffing and tests).
func SerializeStoredEntries(entries map[string]model.Entry) ([]byte, error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		line, err := EncodeLine(entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}
