// Package decsync implements conflict-free synchronization of
// hierarchical key/value maps across devices using a shared directory as
// the only transport. Each app writes to its own subtree and merges
// updates it observes in peers' subtrees by last-writer-wins on an
// ISO-8601 datetime. There is no server and no network protocol: the
// filesystem is the protocol.
package decsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/decsync-go/decsync/fs"
	"github.com/decsync-go/decsync/internal/engine"
	v1engine "github.com/decsync-go/decsync/internal/engine/v1"
	v2engine "github.com/decsync-go/decsync/internal/engine/v2"
	"github.com/decsync-go/decsync/internal/localstore"
	"github.com/decsync-go/decsync/internal/model"
	"github.com/decsync-go/decsync/internal/query"
)

// defaultLegacyWindow is how far back "recently active" reaches when
// deciding whether a peer blocks an auto-upgrade (spec's oldDatetime()).
const defaultLegacyWindow = 180 * 24 * time.Hour

// Decsync manages one sync-type/collection directory for one app. It is
// safe to share across goroutines only insofar as callers serialize their
// own calls; internally, only the fire-and-forget subtree cleanup spawned
// by an online upgrade runs concurrently with the calling goroutine.
type Decsync struct {
	mu sync.Mutex

	fsys         fs.FS
	infoPath     []string
	sub          []string
	ownAppID     string
	logger       *slog.Logger
	now          func() time.Time
	localStore   localstore.Store
	legacyWindow time.Duration
	fixed        bool

	version int
	eng     engine.Engine

	listeners []registration
	isInInit  bool
	closed    bool

	upgradeWG sync.WaitGroup
}

// config accumulates Option values before New builds a Decsync.
type config struct {
	fsys         fs.FS
	logger       *slog.Logger
	now          func() time.Time
	localStore   localstore.Store
	legacyWindow time.Duration
}

// Option configures New.
type Option func(*config)

// WithFS overrides the filesystem capability backing decsyncDir. Defaults
// to fs.NewOS(decsyncDir).
func WithFS(fsys fs.FS) Option { return func(c *config) { c.fsys = fsys } }

// WithLogger overrides the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option { return func(c *config) { c.logger = logger } }

// WithClock overrides the time source, for deterministic tests. Defaults
// to time.Now.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithLocalStore overrides where local, never-synced metadata (chosen
// version, last-active date, published supported version) is kept.
// Defaults to a JSON file at localDir/info.
func WithLocalStore(store localstore.Store) Option { return func(c *config) { c.localStore = store } }

// WithLegacyWindow overrides how far back "recently active" reaches when
// deciding whether a peer's low supportedVersion blocks an auto-upgrade.
// Defaults to 180 days.
func WithLegacyWindow(d time.Duration) Option { return func(c *config) { c.legacyWindow = d } }

// New opens, creating if absent, the decsync directory for one sync type
// and optional collection under decsyncDir, using localDir for this app's
// private metadata.
func New(decsyncDir, localDir, syncType, collection, ownAppID string, opts ...Option) (*Decsync, error) {
	cfg := &config{now: time.Now, logger: slog.Default(), legacyWindow: defaultLegacyWindow}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.fsys == nil {
		cfg.fsys = fs.NewOS(decsyncDir)
	}
	if cfg.localStore == nil {
		cfg.localStore = localstore.NewJSON(fs.NewOS(localDir), []string{"info"})
	}

	sub := []string{syncType}
	if collection != "" {
		sub = append(sub, collection)
	}

	d := &Decsync{
		fsys:         cfg.fsys,
		infoPath:     []string{".decsync-info"},
		sub:          sub,
		ownAppID:     ownAppID,
		logger:       cfg.logger,
		now:          cfg.now,
		localStore:   cfg.localStore,
		legacyWindow: cfg.legacyWindow,
	}

	ctx := context.Background()
	if err := d.loadOrCreateDecsyncInfo(ctx); err != nil {
		return nil, err
	}
	version, err := d.chooseVersion(ctx)
	if err != nil {
		return nil, err
	}
	d.version = version
	d.eng = d.newEngine(version)

	d.logger.Info("decsync: opened", "sync_type", syncType, "collection", collection, "own_app_id", ownAppID, "version", version)
	return d, nil
}

func (d *Decsync) newEngine(version int) engine.Engine {
	switch version {
	case 1:
		return v1engine.New(d.fsys, d.sub, d.ownAppID, d.logger)
	default:
		return v2engine.New(d.fsys, d.sub, d.ownAppID, d.logger)
	}
}

// allVersionedEngines returns cheap, stateless wrappers for every format
// version this build knows, regardless of which is currently active, so
// cross-version queries can see peers still writing an older layout.
func (d *Decsync) allVersionedEngines() []query.VersionedEngine {
	return []query.VersionedEngine{
		{Version: 1, Engine: v1engine.New(d.fsys, d.sub, d.ownAppID, d.logger)},
		{Version: 2, Engine: v2engine.New(d.fsys, d.sub, d.ownAppID, d.logger)},
	}
}

func (d *Decsync) loadOrCreateDecsyncInfo(ctx context.Context) error {
	data, ok, err := d.fsys.Read(ctx, d.infoPath)
	if err != nil {
		return fmt.Errorf("decsync: read .decsync-info: %w", err)
	}
	if !ok {
		return d.writeDecsyncInfo(ctx, defaultDecsyncInfo())
	}
	var info decsyncInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInfo, err)
	}
	if info.Version < MinVersion || info.Version > SupportedVersion {
		return fmt.Errorf("%w: version %d", ErrUnsupportedVersion, info.Version)
	}
	d.fixed = info.Fixed
	return nil
}

func (d *Decsync) writeDecsyncInfo(ctx context.Context, info decsyncInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("decsync: encode .decsync-info: %w", err)
	}
	if err := d.fsys.Write(ctx, d.infoPath, data); err != nil {
		return fmt.Errorf("decsync: write .decsync-info: %w", err)
	}
	return nil
}

// chooseVersion implements construction step 2: use the persisted local
// choice if there is one, otherwise infer one from what's on disk and
// persist it for next time.
func (d *Decsync) chooseVersion(ctx context.Context) (int, error) {
	local, err := d.localStore.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("decsync: load local info: %w", err)
	}
	if local.Version != nil {
		return *local.Version, nil
	}

	version, err := d.inferVersion(ctx)
	if err != nil {
		return 0, err
	}
	local.Version = &version
	if err := d.localStore.Save(ctx, local); err != nil {
		return 0, fmt.Errorf("decsync: save local info: %w", err)
	}
	return version, nil
}

func (d *Decsync) inferVersion(ctx context.Context) (int, error) {
	v2Own, err := d.fsys.NodeKind(ctx, append(append([]string{}, d.sub...), "v2", d.ownAppID))
	if err != nil {
		return 0, fmt.Errorf("decsync: probe v2 own subtree: %w", err)
	}
	if v2Own == fs.Directory {
		return 2, nil
	}

	v2Any, err := d.fsys.NodeKind(ctx, append(append([]string{}, d.sub...), "v2"))
	if err != nil {
		return 0, fmt.Errorf("decsync: probe v2 subtree: %w", err)
	}
	if v2Any == fs.Directory {
		return 2, nil
	}

	v1Any, err := d.fsys.NodeKind(ctx, append(append([]string{}, d.sub...), "new-entries"))
	if err != nil {
		return 0, fmt.Errorf("decsync: probe v1 subtree: %w", err)
	}
	if v1Any == fs.Directory {
		return 1, nil
	}

	data, ok, err := d.fsys.Read(ctx, d.infoPath)
	if err != nil {
		return 0, fmt.Errorf("decsync: read .decsync-info: %w", err)
	}
	if !ok {
		return DefaultVersion, nil
	}
	var info decsyncInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInfo, err)
	}
	return info.Version, nil
}

// Close marks this Decsync closed. Any background upgrade cleanup already
// in flight is left to finish; WaitForBackgroundWork blocks for tests
// that need it to observe the cleanup's effects deterministically.
func (d *Decsync) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// WaitForBackgroundWork blocks until any in-flight asynchronous old-
// subtree deletion from a prior upgrade has finished. Production callers
// never need this; it exists so tests can assert on post-upgrade cleanup
// deterministically instead of racing a goroutine.
func (d *Decsync) WaitForBackgroundWork() {
	d.upgradeWG.Wait()
}

func (d *Decsync) checkNotClosed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

func (d *Decsync) nowISO() string {
	return d.now().UTC().Format("2006-01-02T15:04:05Z")
}

func quoteJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("decsync: value is not JSON-marshalable: %v", err))
	}
	return b
}

// SetEntry writes a single (key, value) cell at path.
func (d *Decsync) SetEntry(ctx context.Context, path []string, key, value any) error {
	return d.SetEntriesForPath(ctx, path, []Entry{{Key: quoteJSON(key), Value: quoteJSON(value)}})
}

// SetEntries writes entries that may target different paths. Observably
// equivalent to calling SetEntriesForPath once per distinct path, grouped
// in first-seen order.
func (d *Decsync) SetEntries(ctx context.Context, entries []EntryWithPath) error {
	order := make([]string, 0)
	byPath := make(map[string][]Entry)
	pathByKey := make(map[string][]string)
	for _, e := range entries {
		key := pathString(e.Path)
		if _, ok := byPath[key]; !ok {
			order = append(order, key)
			pathByKey[key] = e.Path
		}
		byPath[key] = append(byPath[key], e.Entry)
	}
	for _, key := range order {
		if err := d.SetEntriesForPath(ctx, pathByKey[key], byPath[key]); err != nil {
			return err
		}
	}
	return nil
}

// SetEntriesForPath writes every entry in entries to path. Any entry with
// an empty Datetime is stamped with the current time before it reaches
// the engine.
func (d *Decsync) SetEntriesForPath(ctx context.Context, path []string, entries []Entry) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	stamped := make([]model.Entry, len(entries))
	for i, e := range entries {
		if e.Datetime == "" {
			e.Datetime = d.nowISO()
		}
		stamped[i] = e
	}
	if err := d.eng.SetEntriesForPath(ctx, path, stamped); err != nil {
		return fmt.Errorf("decsync: set entries for %s: %w", pathString(path), err)
	}
	return nil
}

// ExecuteAllNewEntries scans every peer for entries this app hasn't seen,
// dispatches them to matching listeners, and — unless disableMaintenance
// is set — runs the version-upgrade and activity-publishing maintenance
// pass. A call made while InitStoredEntries is in progress does nothing.
func (d *Decsync) ExecuteAllNewEntries(ctx context.Context, extra Extra, disableMaintenance bool) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.isInInit {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	dispatch := func(ctx context.Context, path []string, entries []model.EntryWithPath, isInit bool) bool {
		return d.runListeners(extra, path, entries)
	}
	if err := d.eng.ExecuteAllNewEntries(ctx, dispatch, false); err != nil {
		return fmt.Errorf("decsync: execute all new entries: %w", err)
	}
	if disableMaintenance {
		return nil
	}
	return d.runMaintenance(ctx, extra)
}

// InitStoredEntries advances every cursor and repopulates stored-entries
// as if every currently-visible entry had just arrived, without invoking
// any listener. Intended to run once right after listeners are installed.
func (d *Decsync) InitStoredEntries(ctx context.Context) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	d.mu.Lock()
	d.isInInit = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.isInInit = false
		d.mu.Unlock()
	}()

	noop := func(context.Context, []string, []model.EntryWithPath, bool) bool { return true }
	if err := d.eng.ExecuteAllNewEntries(ctx, noop, true); err != nil {
		return fmt.Errorf("decsync: init stored entries: %w", err)
	}
	return nil
}

// ExecuteStoredEntry replays the current merged value of one cell.
func (d *Decsync) ExecuteStoredEntry(ctx context.Context, path []string, key any, extra Extra) error {
	keys := map[string]bool{string(quoteJSON(key)): true}
	return d.ExecuteStoredEntriesForPathExact(ctx, path, extra, keys)
}

// ExecuteStoredEntries replays the current merged value of every cell
// under this collection.
func (d *Decsync) ExecuteStoredEntries(ctx context.Context, extra Extra) error {
	return d.ExecuteStoredEntriesForPathPrefix(ctx, nil, extra, nil)
}

// ExecuteStoredEntriesForPathExact replays the current merged value of
// every cell at exactly path. keys == nil means every key present.
func (d *Decsync) ExecuteStoredEntriesForPathExact(ctx context.Context, path []string, extra Extra, keys map[string]bool) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	dispatch := func(ctx context.Context, p []string, entries []model.EntryWithPath, isInit bool) bool {
		if !pathEqual(p, path) {
			return true
		}
		return d.runListeners(extra, p, entries)
	}
	if err := d.eng.ExecuteStoredEntriesForPathPrefix(ctx, path, dispatch, keys); err != nil {
		return fmt.Errorf("decsync: execute stored entries for %s: %w", pathString(path), err)
	}
	return nil
}

// ExecuteStoredEntriesForPathPrefix replays the current merged value of
// every cell under prefix. keys == nil means every key present.
func (d *Decsync) ExecuteStoredEntriesForPathPrefix(ctx context.Context, prefix []string, extra Extra, keys map[string]bool) error {
	if err := d.checkNotClosed(); err != nil {
		return err
	}
	dispatch := func(ctx context.Context, p []string, entries []model.EntryWithPath, isInit bool) bool {
		return d.runListeners(extra, p, entries)
	}
	if err := d.eng.ExecuteStoredEntriesForPathPrefix(ctx, prefix, dispatch, keys); err != nil {
		return fmt.Errorf("decsync: execute stored entries for prefix %s: %w", pathString(prefix), err)
	}
	return nil
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
