package model

import (
	"encoding/json"
	"fmt"
)

// Entry is a single (datetime, key, value) record. Datetime is an ISO-8601
// UTC string; it is lexicographically comparable, which is what makes
// last-writer-wins comparisons a plain string compare. Key and Value are
// arbitrary JSON values, kept as raw JSON text rather than decoded into a
// Go type, since DecSync never interprets the shape of a stored value.
type Entry struct {
	Datetime string
	Key      json.RawMessage
	Value    json.RawMessage
}

// MarshalJSON writes an Entry as the on-disk tuple [datetime, key, value].
func (e Entry) MarshalJSON() ([]byte, error) {
	key := e.Key
	if key == nil {
		key = json.RawMessage("null")
	}
	value := e.Value
	if value == nil {
		value = json.RawMessage("null")
	}
	return json.Marshal([3]json.RawMessage{
		json.RawMessage(mustQuote(e.Datetime)),
		key,
		value,
	})
}

// UnmarshalJSON parses the on-disk tuple [datetime, key, value].
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decsync: entry is not a 3-element array: %w", err)
	}
	var datetime string
	if err := json.Unmarshal(raw[0], &datetime); err != nil {
		return fmt.Errorf("decsync: entry datetime is not a string: %w", err)
	}
	e.Datetime = datetime
	e.Key = append(json.RawMessage(nil), raw[1]...)
	e.Value = append(json.RawMessage(nil), raw[2]...)
	return nil
}

func mustQuote(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		// s is always a plain Go string; json.Marshal on a string never fails.
		panic(err)
	}
	return b
}

// KeyText returns the exact JSON text of Key, used as the map key for
// last-writer-wins folding. Two keys compare equal iff their JSON text is
// byte-identical; this is a deliberate simplification documented in
// SPEC_FULL.md (keys are treated as opaque JSON, not canonicalized).
func (e Entry) KeyText() string {
	return string(e.Key)
}

// EntryWithPath is an Entry paired with the path it was written at. It is
// the unit exchanged between engines and listeners, and the unit the
// on-disk V2 log stores.
type EntryWithPath struct {
	Path []string
	Entry
}

// MarshalJSON writes the on-disk tuple [[p1,...,pn], datetime, key, value].
func (e EntryWithPath) MarshalJSON() ([]byte, error) {
	entryJSON, err := e.Entry.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(entryJSON, &tuple); err != nil {
		return nil, err
	}
	pathJSON, err := json.Marshal(e.Path)
	if err != nil {
		return nil, fmt.Errorf("decsync: marshal path: %w", err)
	}
	return json.Marshal([4]json.RawMessage{json.RawMessage(pathJSON), tuple[0], tuple[1], tuple[2]})
}

// UnmarshalJSON parses the on-disk tuple [[p1,...,pn], datetime, key, value].
func (e *EntryWithPath) UnmarshalJSON(data []byte) error {
	var raw [4]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decsync: entry-with-path is not a 4-element array: %w", err)
	}
	var path []string
	if err := json.Unmarshal(raw[0], &path); err != nil {
		return fmt.Errorf("decsync: entry-with-path path is not a string array: %w", err)
	}
	inner, err := json.Marshal([3]json.RawMessage{raw[1], raw[2], raw[3]})
	if err != nil {
		return err
	}
	var entry Entry
	if err := entry.UnmarshalJSON(inner); err != nil {
		return err
	}
	e.Path = path
	e.Entry = entry
	return nil
}

// StoredEntry identifies one merged cell in the logical map: a path and a
// key, without the value or datetime.
type StoredEntry struct {
	Path []string
	Key  json.RawMessage
}

// AppData describes what static info reveals about one peer app.
type AppData struct {
	AppID            string
	LastActive       *string // YYYY-MM-DD, nil if never observed
	Version          int
	SupportedVersion *int
}

// IsLegacy reports whether this app is a recently active peer that would
// be stranded by an upgrade to defaultVersion, and so blocks the automatic
// upgrade: it must have been active at least as recently as oldestAllowed,
// and it must declare a SupportedVersion strictly below defaultVersion. An app that never declared
// SupportedVersion predates the declaration and is treated as
// forward-compatible, never legacy.
func (a AppData) IsLegacy(oldestAllowed string, defaultVersion int) bool {
	if a.LastActive == nil || *a.LastActive < oldestAllowed {
		return false
	}
	if a.SupportedVersion == nil {
		return false
	}
	return *a.SupportedVersion < defaultVersion
}
