package decsync

import (
	"context"
	"fmt"

	"github.com/decsync-go/decsync/internal/query"
)

// AppSummary describes one peer app-id: which format version it writes
// under, and its last-known-active date and declared supported version
// (both possibly zero-valued if the peer never published them).
type AppSummary = query.AppSummary

// StaticInfo returns the current merged value of every key ever written
// to path ["info"], across every format version present on disk.
func (d *Decsync) StaticInfo(ctx context.Context) (map[string]Entry, error) {
	if err := d.checkNotClosed(); err != nil {
		return nil, err
	}
	info, err := query.StaticInfo(ctx, d.allVersionedEngines())
	if err != nil {
		return nil, fmt.Errorf("decsync: static info: %w", err)
	}
	return info, nil
}

// ActiveApps lists every peer app-id ever seen writing to this
// collection, across every format version present on disk, annotated
// with its last-active date and declared supported version.
func (d *Decsync) ActiveApps(ctx context.Context) ([]AppSummary, error) {
	if err := d.checkNotClosed(); err != nil {
		return nil, err
	}
	engines := d.allVersionedEngines()
	staticInfo, err := query.StaticInfo(ctx, engines)
	if err != nil {
		return nil, fmt.Errorf("decsync: active apps: %w", err)
	}
	apps, err := query.ActiveApps(ctx, engines, staticInfo)
	if err != nil {
		return nil, fmt.Errorf("decsync: active apps: %w", err)
	}
	return apps, nil
}

// EntriesCount counts merged cells under prefix in the currently active
// format version.
func (d *Decsync) EntriesCount(ctx context.Context, prefix []string) (int, error) {
	if err := d.checkNotClosed(); err != nil {
		return 0, err
	}
	count, err := query.EntriesCount(ctx, d.eng, prefix)
	if err != nil {
		return 0, fmt.Errorf("decsync: entries count: %w", err)
	}
	return count, nil
}

// DeleteAppData removes appID's writer subtree under the given format
// version. Pass the version reported by ActiveApps for that app, which
// may differ from this Decsync's current version for a peer that hasn't
// upgraded yet.
func (d *Decsync) DeleteAppData(ctx context.Context, appID string, version int) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	eng := d.newEngine(version)
	if err := query.DeleteAppData(ctx, eng, version, d.version, appID); err != nil {
		return fmt.Errorf("decsync: delete app data: %w", err)
	}
	return nil
}

// PermDeleteCollection permanently deletes the entire on-disk subtree for
// this collection, across every format version, and marks this Decsync
// closed. It does not touch localDir's private metadata.
func (d *Decsync) PermDeleteCollection(ctx context.Context) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	if err := query.PermDeleteCollection(ctx, d.fsys, d.sub); err != nil {
		return fmt.Errorf("decsync: perm delete collection: %w", err)
	}
	return d.Close()
}
