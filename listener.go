package decsync

import (
	"strings"

	"github.com/decsync-go/decsync/internal/model"
)

// Extra is opaque, caller-supplied context threaded through from an
// executeAllNewEntries/executeStoredEntry* call to every listener it
// fires. Hosts use it to pass things like a database transaction handle
// down to the callback without a global.
type Extra any

// EntryListener receives one entry at a time.
type EntryListener func(extra Extra, path []string, entry Entry)

// EntryListenerWithSuccess is like EntryListener but reports whether the
// entry was durably consumed. Returning false re-offers the entry (and
// the whole batch it arrived in) on the next call.
type EntryListenerWithSuccess func(extra Extra, path []string, entry Entry) bool

// MultiEntryListener receives every surviving entry for one path in a
// single call. Returning false re-offers the whole batch.
type MultiEntryListener func(extra Extra, path []string, entries []Entry) bool

type listenerKind int

const (
	kindSingle listenerKind = iota
	kindSingleWithSuccess
	kindMulti
)

type registration struct {
	prefix []string
	kind   listenerKind
	single EntryListener
	withOK EntryListenerWithSuccess
	multi  MultiEntryListener
}

func (r registration) matches(path []string) bool {
	if len(r.prefix) > len(path) {
		return false
	}
	for i, seg := range r.prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

// AddListener installs cb for every path having subpath as a prefix. The
// entry is always considered consumed; use AddListenerWithSuccess to
// participate in redelivery.
func (d *Decsync) AddListener(subpath []string, cb EntryListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, registration{prefix: append([]string(nil), subpath...), kind: kindSingle, single: cb})
}

// AddListenerWithSuccess installs cb for every path having subpath as a
// prefix. cb reports per-entry whether it was durably consumed.
func (d *Decsync) AddListenerWithSuccess(subpath []string, cb EntryListenerWithSuccess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, registration{prefix: append([]string(nil), subpath...), kind: kindSingleWithSuccess, withOK: cb})
}

// AddMultiListener installs cb to receive the whole batch of surviving
// entries for one path in a single call.
func (d *Decsync) AddMultiListener(subpath []string, cb MultiEntryListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, registration{prefix: append([]string(nil), subpath...), kind: kindMulti, multi: cb})
}

// runListeners invokes every registration matching path with entries,
// returning true only if every matching registration accepted the batch.
// A path with no matching registration is treated as accepted so its
// cursor still advances (there's nothing to redeliver it for).
func (d *Decsync) runListeners(extra Extra, path []string, entries []model.EntryWithPath) bool {
	d.mu.Lock()
	regs := make([]registration, len(d.listeners))
	copy(regs, d.listeners)
	d.mu.Unlock()

	ok := true
	for _, r := range regs {
		if !r.matches(path) {
			continue
		}
		switch r.kind {
		case kindSingle:
			for _, e := range entries {
				r.single(extra, path, e.Entry)
			}
		case kindSingleWithSuccess:
			for _, e := range entries {
				if !r.withOK(extra, path, e.Entry) {
					ok = false
				}
			}
		case kindMulti:
			plain := make([]Entry, len(entries))
			for i, e := range entries {
				plain[i] = e.Entry
			}
			if !r.multi(extra, path, plain) {
				ok = false
			}
		}
	}
	return ok
}

// pathString renders a path for logging, matching fs.PathString's format
// without importing the fs package into every log call site.
func pathString(path []string) string {
	return strings.Join(path, "/")
}
