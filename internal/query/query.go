// Package query implements the cross-version read and maintenance
// operations that don't belong to a single engine: unioning info across
// whichever format versions are present on disk, counting merged cells,
// listing every writer that has ever been seen, and deleting a writer's
// or a whole collection's data.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/decsync-go/decsync/fs"
	"github.com/decsync-go/decsync/internal/engine"
	"github.com/decsync-go/decsync/internal/model"
)

// VersionedEngine pairs an engine with the format version it implements,
// so callers can hand query functions "whatever versions are present"
// without the query package needing to import internal/engine/v1 or v2
// directly.
type VersionedEngine struct {
	Version int
	Engine  engine.Engine
}

// StaticInfo returns, for every key ever written to path ["info"], the
// entry with the greatest datetime across every engine given. Ties are
// broken in favor of the engine listed later, so callers should list
// engines oldest-version-first: passing [v1, v2] makes V2 win ties with
// V1, matching the "newer format wins" rule.
func StaticInfo(ctx context.Context, engines []VersionedEngine) (map[string]model.Entry, error) {
	merged := make(map[string]model.Entry)
	for _, ve := range engines {
		collected := make(map[string]model.Entry)
		dispatch := func(_ context.Context, _ []string, entries []model.EntryWithPath, _ bool) bool {
			for _, e := range entries {
				collected[e.KeyText()] = e.Entry
			}
			return true
		}
		if err := ve.Engine.ExecuteStoredEntriesForPathPrefix(ctx, []string{"info"}, dispatch, nil); err != nil {
			return nil, fmt.Errorf("query: static info for v%d: %w", ve.Version, err)
		}
		for key, entry := range collected {
			existing, ok := merged[key]
			if !ok || entry.Datetime >= existing.Datetime {
				merged[key] = entry
			}
		}
	}
	return merged, nil
}

// EntriesCount counts merged cells under prefix in a single engine, the
// one for whichever version is current (callers query only the latest
// present version, per the on-disk upgrade model).
func EntriesCount(ctx context.Context, eng engine.Engine, prefix []string) (int, error) {
	count, err := eng.StoredEntriesCount(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("query: entries count: %w", err)
	}
	return count, nil
}

// AppSummary is one row of getActiveApps: an app-id, the version it
// currently writes under, and its last-known-active date and declared
// supported version (both possibly empty/nil if never published).
type AppSummary struct {
	AppID            string
	Version          int
	LastActive       string
	SupportedVersion *int
}

// ActiveApps unions the writer app-ids under every engine given,
// annotates each with its last-active-<appId> and supported-version-<appId>
// from staticInfo, and sorts by (LastActive asc, Version asc, AppID asc).
func ActiveApps(ctx context.Context, engines []VersionedEngine, staticInfo map[string]model.Entry) ([]AppSummary, error) {
	type writerAt struct {
		appID   string
		version int
	}

	results := make([][]string, len(engines))
	g, gctx := errgroup.WithContext(ctx)
	for i, ve := range engines {
		i, ve := i, ve
		g.Go(func() error {
			appIDs, err := ve.Engine.WriterAppIDs(gctx)
			if err != nil {
				return fmt.Errorf("query: writer app-ids for v%d: %w", ve.Version, err)
			}
			results[i] = appIDs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var writers []writerAt
	seen := make(map[string]bool)
	for i, ve := range engines {
		for _, appID := range results[i] {
			if seen[appID] {
				continue
			}
			seen[appID] = true
			writers = append(writers, writerAt{appID: appID, version: ve.Version})
		}
	}

	summaries := make([]AppSummary, 0, len(writers))
	for _, w := range writers {
		summary := AppSummary{AppID: w.appID, Version: w.version}
		if entry, ok := staticInfo[quoteKey("last-active-"+w.appID)]; ok {
			var s string
			if err := json.Unmarshal(entry.Value, &s); err == nil {
				summary.LastActive = s
			}
		}
		if entry, ok := staticInfo[quoteKey("supported-version-"+w.appID)]; ok {
			var v int
			if err := json.Unmarshal(entry.Value, &v); err == nil {
				summary.SupportedVersion = &v
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.LastActive != b.LastActive {
			return a.LastActive < b.LastActive
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.AppID < b.AppID
	})
	return summaries, nil
}

func quoteKey(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DeleteAppData removes appID's writer subtree under eng, which
// implements the given version. deleteLegacyLog should be true when
// version is 1 and currentVersion is strictly greater, so the now-unread
// new-entries log is also removed.
func DeleteAppData(ctx context.Context, eng engine.Engine, version int, currentVersion int, appID string) error {
	deleteLegacyLog := version == 1 && currentVersion > 1
	if err := eng.DeleteApp(ctx, appID, deleteLegacyLog); err != nil {
		return fmt.Errorf("query: delete app %s (v%d): %w", appID, version, err)
	}
	return nil
}

// PermDeleteCollection deletes the entire subtree a collection lives
// under, regardless of which format versions are present, since a single
// recursive delete of sub covers both layouts at once.
func PermDeleteCollection(ctx context.Context, fsys fs.FS, sub []string) error {
	if err := fsys.Delete(ctx, sub); err != nil {
		return fmt.Errorf("query: delete collection %s: %w", strings.Join(sub, "/"), err)
	}
	return nil
}
