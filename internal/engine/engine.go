// Package engine defines the interface the two on-disk format engines
// (v1 and v2) implement, and the pieces shared between them: a listener
// dispatch contract and the tie-breaking rule for last-writer-wins merges.
//
// The façade (the decsync package) holds a single Engine behind one field
// and swaps it during an online upgrade between formats, a sum type behind
// a trait-like interface.
package engine

import (
	"context"

	"github.com/decsync-go/decsync/internal/model"
)

// Dispatch delivers a batch of entries observed for one path to whatever
// listener the façade has registered for it. It returns true if the
// listener accepted the batch (advance the cursor) or false if it should
// be re-offered on the next call (matches addListenerWithSuccess semantics).
//
// isInit distinguishes InitStoredEntries' silent traversal (no listener
// is ever invoked) from a normal ExecuteAllNewEntries call: when isInit is
// true, Dispatch must still be called so the engine can update cursors and
// stored-entries, but the implementation must not invoke any user
// callback.
type Dispatch func(ctx context.Context, path []string, entries []model.EntryWithPath, isInit bool) (ok bool)

// Engine is the shared surface DecsyncV1 and DecsyncV2 implement.
type Engine interface {
	// Version reports which format version this engine implements (1 or 2).
	Version() int

	// SetEntriesForPath appends entries to ownAppID's log/new-entries and
	// updates ownAppID's stored-entries snapshot.
	SetEntriesForPath(ctx context.Context, path []string, entries []model.Entry) error

	// ExecuteAllNewEntries scans every peer app-id (including ownAppID) for
	// entries this reader hasn't advanced its cursor past, folds them
	// against the current stored-entries view, and calls dispatch once per
	// surviving path group. Entries of a group dispatch rejects are
	// re-offered on the next call: v1 leaves that group's cursor files
	// where they were, while v2 advances its per-writer cursor and keeps
	// the rejected entries in a per-reader pending file instead.
	ExecuteAllNewEntries(ctx context.Context, dispatch Dispatch, isInit bool) error

	// ExecuteStoredEntriesForPathPrefix replays the current merged value of
	// every stored cell under prefix through dispatch, without touching
	// cursors. If keys is non-nil, only cells whose key text is in keys are
	// replayed.
	ExecuteStoredEntriesForPathPrefix(ctx context.Context, prefix []string, dispatch Dispatch, keys map[string]bool) error

	// StoredEntriesCount counts cells under prefix whose merged value is
	// present and not JSON null, for this engine's version alone.
	StoredEntriesCount(ctx context.Context, prefix []string) (int, error)

	// WriterAppIDs lists the app-ids that have written under this
	// engine's version.
	WriterAppIDs(ctx context.Context) ([]string, error)

	// DeleteApp removes appID's writer subtree for this version.
	// deleteLegacyLog additionally removes v1's now-unread new-entries when
	// a newer version is already current.
	DeleteApp(ctx context.Context, appID string, deleteLegacyLog bool) error
}

// IsNewer implements the tie-breaking rule for last-writer-wins merges:
// greatest Datetime wins; ties are broken by preferring ownAppID if it is
// one of the two writers, else the lexicographically greatest AppID.
func IsNewer(candidateAppID, candidateDatetime, existingAppID, existingDatetime, ownAppID string) bool {
	if candidateDatetime != existingDatetime {
		return candidateDatetime > existingDatetime
	}
	if candidateAppID == existingAppID {
		return false
	}
	if candidateAppID == ownAppID {
		return true
	}
	if existingAppID == ownAppID {
		return false
	}
	return candidateAppID > existingAppID
}
