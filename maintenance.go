package decsync

import (
	"context"
	"fmt"

	"github.com/decsync-go/decsync/internal/model"
	"github.com/decsync-go/decsync/internal/query"
)

// runMaintenance is the pass ExecuteAllNewEntries runs after every
// successful scan unless the caller disabled it: consider an online
// upgrade to a newer format version, then publish this app's activity.
// extra is the same value the triggering ExecuteAllNewEntries call
// received, so any listener fired by the upgrade's post-migration
// rescan sees it too.
func (d *Decsync) runMaintenance(ctx context.Context, extra Extra) error {
	preferred, err := d.preferredVersion(ctx)
	if err != nil {
		return fmt.Errorf("decsync: compute preferred version: %w", err)
	}
	if preferred > d.version {
		if err := d.upgrade(ctx, preferred, extra); err != nil {
			return fmt.Errorf("decsync: upgrade to v%d: %w", preferred, err)
		}
	}
	if err := d.publishActivity(ctx); err != nil {
		return fmt.Errorf("decsync: publish activity: %w", err)
	}
	return nil
}

// preferredVersion is DefaultVersion unless "fixed" is set on
// .decsync-info, which pins this directory to its current version, or
// some peer active within legacyWindow declares a supportedVersion below
// it, in which case an upgrade would strand that peer and is deferred by
// staying at the current version.
func (d *Decsync) preferredVersion(ctx context.Context) (int, error) {
	if d.fixed || d.version >= DefaultVersion {
		return d.version, nil
	}

	engines := d.allVersionedEngines()
	staticInfo, err := query.StaticInfo(ctx, engines)
	if err != nil {
		return 0, err
	}
	activeApps, err := query.ActiveApps(ctx, engines, staticInfo)
	if err != nil {
		return 0, err
	}

	oldest := d.oldDatetime()
	for _, app := range activeApps {
		if app.AppID == d.ownAppID {
			continue
		}
		data := model.AppData{
			AppID:            app.AppID,
			Version:          app.Version,
			SupportedVersion: app.SupportedVersion,
		}
		if app.LastActive != "" {
			la := app.LastActive
			data.LastActive = &la
		}
		if data.IsLegacy(oldest, DefaultVersion) {
			d.logger.Info("decsync: deferring upgrade, legacy peer present", "app_id", app.AppID, "supported_version", *app.SupportedVersion)
			return d.version, nil
		}
	}
	return DefaultVersion, nil
}

func (d *Decsync) oldDatetime() string {
	return d.now().Add(-d.legacyWindow).UTC().Format("2006-01-02")
}

// upgrade replays every currently-visible stored entry from the current
// engine into a freshly-created engine for newVersion, switches this
// Decsync over to it, schedules the now-obsolete subtree for background
// deletion, and re-scans the new engine's new-entries so nothing surfaced
// mid-migration is missed. extra is forwarded to that rescan's listeners.
func (d *Decsync) upgrade(ctx context.Context, newVersion int, extra Extra) error {
	oldEngine := d.eng
	oldVersion := d.version

	d.fsys.ResetCache()

	byPath := make(map[string][]model.Entry)
	pathByKey := make(map[string][]string)
	collect := func(_ context.Context, path []string, entries []model.EntryWithPath, _ bool) bool {
		key := pathString(path)
		if _, ok := byPath[key]; !ok {
			pathByKey[key] = append([]string(nil), path...)
		}
		for _, e := range entries {
			byPath[key] = append(byPath[key], e.Entry)
		}
		return true
	}
	if err := oldEngine.ExecuteStoredEntriesForPathPrefix(ctx, nil, collect, nil); err != nil {
		return fmt.Errorf("read stored entries from v%d: %w", oldVersion, err)
	}

	newEngine := d.newEngine(newVersion)
	for key, entries := range byPath {
		if err := newEngine.SetEntriesForPath(ctx, pathByKey[key], entries); err != nil {
			return fmt.Errorf("replay into v%d: %w", newVersion, err)
		}
	}

	d.mu.Lock()
	d.eng = newEngine
	d.version = newVersion
	d.mu.Unlock()

	local, err := d.localStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local info: %w", err)
	}
	local.Version = &newVersion
	if err := d.localStore.Save(ctx, local); err != nil {
		return fmt.Errorf("save local info: %w", err)
	}

	if err := d.writeDecsyncInfo(ctx, decsyncInfo{Version: newVersion}); err != nil {
		return fmt.Errorf("update .decsync-info: %w", err)
	}

	d.upgradeWG.Add(1)
	go func() {
		defer d.upgradeWG.Done()
		deleteCtx := context.Background()
		if err := oldEngine.DeleteApp(deleteCtx, d.ownAppID, oldVersion == 1); err != nil {
			d.logger.Warn("decsync: failed to delete own subtree after upgrade", "old_version", oldVersion, "error", err)
		}
	}()

	dispatch := func(ctx context.Context, path []string, entries []model.EntryWithPath, isInit bool) bool {
		return d.runListeners(extra, path, entries)
	}
	if err := newEngine.ExecuteAllNewEntries(ctx, dispatch, false); err != nil {
		return fmt.Errorf("rescan v%d after upgrade: %w", newVersion, err)
	}
	return nil
}

// publishActivity writes last-active-<ownAppId> at most once per day and
// supported-version-<ownAppId> whenever this build's SupportedVersion
// increases, tracking what was already published in local info so
// unrelated scans don't rewrite ["info"] every call.
func (d *Decsync) publishActivity(ctx context.Context) error {
	local, err := d.localStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local info: %w", err)
	}

	today := d.now().UTC().Format("2006-01-02")
	var entries []model.Entry
	changed := false

	if local.LastActive != today {
		entries = append(entries, model.Entry{
			Key:   quoteJSON("last-active-" + d.ownAppID),
			Value: quoteJSON(today),
		})
		local.LastActive = today
		changed = true
	}
	if local.SupportedVersion == nil || *local.SupportedVersion < SupportedVersion {
		entries = append(entries, model.Entry{
			Key:   quoteJSON("supported-version-" + d.ownAppID),
			Value: quoteJSON(SupportedVersion),
		})
		sv := SupportedVersion
		local.SupportedVersion = &sv
		changed = true
	}
	if !changed {
		return nil
	}

	if err := d.SetEntriesForPath(ctx, []string{"info"}, entries); err != nil {
		return err
	}
	if err := d.localStore.Save(ctx, local); err != nil {
		return fmt.Errorf("save local info: %w", err)
	}
	return nil
}
