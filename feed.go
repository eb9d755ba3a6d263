package gtfscache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitboard/gtfscache/config"
	"github.com/transitboard/gtfscache/downloader"
	"github.com/transitboard/gtfscache/model"
	"github.com/transitboard/gtfscache/parse"
)

// StaticFeed owns the parsed static dataset of one provider: the
// stop, route, trip and agency indices, and the on-disk archive cache
// they were loaded from.
//
// The indices are read-only for everyone holding an acquired handle.
// Only the load path mutates them, and it does so by swapping in a
// fully built replacement, so readers never observe a half-populated
// dataset.
type StaticFeed struct {
	provider string
	cfg      config.Provider
	ttl      time.Duration
	maxSize  int64

	archivePath   string
	timestampPath string

	dl  downloader.Downloader
	mgr *Manager
	log zerolog.Logger

	// loadMu serializes downloads and parses. Lookups don't touch
	// it, a slow refresh never blocks readers.
	loadMu sync.Mutex

	mu         sync.RWMutex
	index      *parse.Index
	lastLoaded time.Time
}

func newStaticFeed(mgr *Manager, providerID string, pcfg config.Provider) *StaticFeed {
	return &StaticFeed{
		provider:      providerID,
		cfg:           pcfg,
		ttl:           mgr.cfg.CacheTTL.Std(),
		maxSize:       mgr.cfg.StaticMaxSize,
		archivePath:   filepath.Join(mgr.cfg.CacheDir, providerID+".zip"),
		timestampPath: filepath.Join(mgr.cfg.CacheDir, providerID+"_timestamp.txt"),
		dl:            mgr.dl,
		mgr:           mgr,
		log:           mgr.log.With().Str("provider", providerID).Logger(),
	}
}

func (f *StaticFeed) Provider() string { return f.provider }

// EnsureLoaded makes sure the indices are populated, downloading the
// archive if the cache is missing or stale, otherwise loading from
// the cached copy. Returns immediately when already loaded.
//
// Concurrent callers converge on a single download: whoever arrives
// while a load is in flight blocks on the feed lock and then sees the
// populated indices.
func (f *StaticFeed) EnsureLoaded(ctx context.Context) error {
	if f.mgr.ShuttingDown() {
		return ErrShuttingDown
	}

	f.loadMu.Lock()
	defer f.loadMu.Unlock()

	// Re-check after taking the lock; shutdown may have started
	// while we waited.
	if f.mgr.ShuttingDown() {
		return ErrShuttingDown
	}

	if f.loaded() {
		return nil
	}

	if f.shouldUpdate() {
		if err := f.downloadAndLoad(ctx); err != nil {
			f.log.Error().Err(err).Msg("static download failed")
			return err
		}
	} else if err := f.loadFromCache(ctx); err != nil {
		f.log.Error().Err(err).Msg("loading static cache failed")
		return err
	}

	if !f.loaded() {
		return ErrEmptyFeed
	}
	return nil
}

// ForceUpdate re-downloads and re-parses regardless of cache
// freshness.
func (f *StaticFeed) ForceUpdate(ctx context.Context) error {
	if f.mgr.ShuttingDown() {
		return ErrShuttingDown
	}

	f.loadMu.Lock()
	defer f.loadMu.Unlock()

	if f.mgr.ShuttingDown() {
		return ErrShuttingDown
	}

	f.log.Info().Msg("forcing static feed update")
	if err := f.downloadAndLoad(ctx); err != nil {
		f.log.Error().Err(err).Msg("forced update failed")
		return err
	}

	if !f.loaded() {
		return ErrEmptyFeed
	}
	return nil
}

// Stale reports whether the cached archive is missing or older than
// the TTL. An unreadable or malformed freshness marker also counts as
// stale.
func (f *StaticFeed) Stale() bool {
	return f.shouldUpdate()
}

func (f *StaticFeed) shouldUpdate() bool {
	if _, err := os.Stat(f.archivePath); err != nil {
		return true
	}

	buf, err := os.ReadFile(f.timestampPath)
	if err != nil {
		return true
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(buf)))
	if err != nil {
		f.log.Warn().Err(err).Msg("unreadable cache timestamp")
		return true
	}

	return time.Since(ts) >= f.ttl
}

func (f *StaticFeed) downloadAndLoad(ctx context.Context) error {
	// Announce the download so Release and Shutdown can cancel it
	// instead of leaking it.
	ctx, cancel := context.WithCancel(ctx)
	task := f.mgr.registerDownload(f.provider, cancel)
	defer f.mgr.unregisterDownload(f.provider, task)

	if err := os.MkdirAll(filepath.Dir(f.archivePath), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	size, err := f.dl.FetchFile(ctx, f.cfg.StaticURL, f.archivePath, downloader.FetchOptions{
		Timeout:   f.cfg.StaticTimeout.Std(),
		ChunkSize: f.cfg.ChunkSize,
		MaxSize:   f.maxSize,
	})
	if err != nil {
		// FetchFile already removed any partial file.
		return err
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(f.timestampPath, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("writing freshness marker: %w", err)
	}

	f.log.Info().Int64("bytes", size).Msg("static archive downloaded")

	return f.loadFromCache(ctx)
}

func (f *StaticFeed) loadFromCache(ctx context.Context) error {
	verdict := parse.Validate(f.archivePath)
	if verdict != parse.ArchiveValid {
		f.log.Error().
			Stringer("verdict", verdict).
			Str("path", f.archivePath).
			Msg("cached archive failed validation")
		f.removeCache()
		return fmt.Errorf("%w: %s", ErrCorruptArchive, verdict)
	}

	// Decompression and CSV decoding of a country-wide dump is the
	// expensive part. One at a time, and never on the path serving
	// lookups.
	select {
	case f.mgr.parseSem <- struct{}{}:
		defer func() { <-f.mgr.parseSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	index, err := parse.ParseStatic(f.archivePath, f.log)
	if err != nil {
		// Don't re-parse the same bad bytes on the next attempt.
		f.removeCache()
		if errors.Is(err, parse.ErrMissingStops) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	f.commit(index)
	return nil
}

// commit swaps the new indices in. All four tables land at once, a
// load is all-or-nothing.
func (f *StaticFeed) commit(index *parse.Index) {
	f.mu.Lock()
	f.index = index
	f.lastLoaded = time.Now()
	f.mu.Unlock()
}

func (f *StaticFeed) removeCache() {
	if err := os.Remove(f.archivePath); err != nil && !os.IsNotExist(err) {
		f.log.Warn().Err(err).Msg("failed to delete cached archive")
	}
	if err := os.Remove(f.timestampPath); err != nil && !os.IsNotExist(err) {
		f.log.Warn().Err(err).Msg("failed to delete freshness marker")
	}
}

func (f *StaticFeed) loaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index != nil && len(f.index.Stops) > 0
}

// Clear drops the indices and releases their memory. Safe to call on
// a feed that never loaded.
func (f *StaticFeed) Clear() {
	f.mu.Lock()
	had := 0
	if f.index != nil {
		had = len(f.index.Stops)
	}
	f.index = nil
	f.lastLoaded = time.Time{}
	f.mu.Unlock()

	if had > 0 {
		f.log.Info().Int("stops", had).Msg("cleared static feed data")
	}
}

// LastLoaded returns the time of the last successful parse, if any.
func (f *StaticFeed) LastLoaded() (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastLoaded, !f.lastLoaded.IsZero()
}

func (f *StaticFeed) StopName(stopID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return "", false
	}
	stop, ok := f.index.Stops[stopID]
	if !ok || stop.Name == "" {
		return "", false
	}
	return stop.Name, true
}

func (f *StaticFeed) StopPlatformCode(stopID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return "", false
	}
	stop, ok := f.index.Stops[stopID]
	if !ok || stop.PlatformCode == "" {
		return "", false
	}
	return stop.PlatformCode, true
}

func (f *StaticFeed) Route(routeID string) (model.Route, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return model.Route{}, false
	}
	route, ok := f.index.Routes[routeID]
	return route, ok
}

// RouteShortName returns the route's short name, falling back to its
// long name. Display code expects a non-empty line label whenever the
// route is known at all.
func (f *StaticFeed) RouteShortName(routeID string) (string, bool) {
	route, ok := f.Route(routeID)
	if !ok {
		return "", false
	}
	if route.ShortName != "" {
		return route.ShortName, true
	}
	if route.LongName != "" {
		return route.LongName, true
	}
	return "", false
}

func (f *StaticFeed) RouteType(routeID string) (model.RouteType, bool) {
	route, ok := f.Route(routeID)
	if !ok || route.Type < 0 {
		return 0, false
	}
	return route.Type, true
}

func (f *StaticFeed) TripHeadsign(tripID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return "", false
	}
	headsign, ok := f.index.Trips[tripID]
	return headsign, ok
}

// AgencyName resolves the operating agency of a route. Feeds with a
// single agency often omit agency_id on routes; in that case the lone
// agency is assumed.
func (f *StaticFeed) AgencyName(routeID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return "", false
	}

	route, ok := f.index.Routes[routeID]
	if !ok {
		return "", false
	}

	if route.AgencyID == "" {
		if len(f.index.Agencies) == 1 {
			for _, a := range f.index.Agencies {
				return a.Name, a.Name != ""
			}
		}
		return "", false
	}

	agency, ok := f.index.Agencies[route.AgencyID]
	if !ok || agency.Name == "" {
		return "", false
	}
	return agency.Name, true
}

const defaultSearchLimit = 20

// SearchStops does a case-insensitive substring match over stop
// names, capped at limit results.
func (f *StaticFeed) SearchStops(term string, limit int) []model.Stop {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	needle := strings.ToLower(term)

	f.mu.RLock()
	defer f.mu.RUnlock()

	results := []model.Stop{}
	if f.index == nil {
		return results
	}

	for _, stop := range f.index.Stops {
		if strings.Contains(strings.ToLower(stop.Name), needle) {
			results = append(results, stop)
			if len(results) >= limit {
				break
			}
		}
	}

	return results
}

// FeedStats is a diagnostics snapshot.
type FeedStats struct {
	Provider   string
	Stops      int
	Routes     int
	Trips      int
	Agencies   int
	LastLoaded time.Time
	Stale      bool
}

func (f *StaticFeed) Stats() FeedStats {
	stats := FeedStats{
		Provider: f.provider,
		Stale:    f.Stale(),
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index != nil {
		stats.Stops = len(f.index.Stops)
		stats.Routes = len(f.index.Routes)
		stats.Trips = len(f.index.Trips)
		stats.Agencies = len(f.index.Agencies)
	}
	stats.LastLoaded = f.lastLoaded

	return stats
}
