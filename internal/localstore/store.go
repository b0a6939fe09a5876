// Package localstore persists the per-app local metadata that is never
// synced: the format version this app last saw, the date it was last
// active, and the newest format version it declares support for. Two
// backends are provided: a JSON file (the default, matching the on-disk
// "localDir/info" file) and a BoltDB database for hosts that want a
// single-file store shared across several collections.
package localstore

import "context"

//go:generate moq -out store_mock.go . Store

// Info is the persisted local-metadata record for one decsync directory.
type Info struct {
	Version          *int   `json:"version,omitempty"`
	LastActive       string `json:"last-active,omitempty"`
	SupportedVersion *int   `json:"supported-version,omitempty"`
}

// Store loads and saves one Info record. Implementations rewrite the
// entire record on every Save; there is no partial update.
type Store interface {
	Load(ctx context.Context) (Info, error)
	Save(ctx context.Context, info Info) error
}
