package gtfscache_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitboard/gtfscache"
	"github.com/transitboard/gtfscache/config"
	"github.com/transitboard/gtfscache/model"
	"github.com/transitboard/gtfscache/parse"
	"github.com/transitboard/gtfscache/testutil"
)

func seedCache(t *testing.T, cfg *config.Config, archive []byte, age time.Duration) {
	t.Helper()
	path := filepath.Join(cfg.CacheDir, "test.zip")
	require.NoError(t, os.WriteFile(path, archive, 0644))
	writeMarker(t, cfg, age)
}

func TestEnsureLoadedDownloadsAndParses(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	assert.Equal(t, 1, countRequests(mem, testStaticURL))

	name, ok := feed.StopName("s1")
	require.True(t, ok)
	assert.Equal(t, "Central Station", name)

	// Archive and freshness marker land on disk.
	assert.FileExists(t, filepath.Join(cfg.CacheDir, "test.zip"))
	assert.FileExists(t, filepath.Join(cfg.CacheDir, "test_timestamp.txt"))
	assert.False(t, feed.Stale())

	stats := feed.Stats()
	assert.Equal(t, 3, stats.Stops)
	assert.Equal(t, 2, stats.Routes)
	assert.False(t, stats.LastLoaded.IsZero())
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

func TestEnsureLoadedUsesFreshCache(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)
	seedCache(t, cfg, testutil.BuildStaticZip(t, nil), time.Hour)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	assert.Empty(t, mem.Requests)
	_, ok := feed.StopName("s1")
	assert.True(t, ok)
}

func TestEnsureLoadedRedownloadsStaleCache(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)
	seedCache(t, cfg, testutil.BuildStaticZip(t, nil), 25*time.Hour)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

func TestStaleness(t *testing.T) {
	mgr, _, cfg := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	// No archive at all.
	assert.True(t, feed.Stale())

	seedCache(t, cfg, testutil.BuildStaticZip(t, nil), time.Hour)
	assert.False(t, feed.Stale())

	writeMarker(t, cfg, 25*time.Hour)
	assert.True(t, feed.Stale())

	// Garbage marker counts as stale.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, "test_timestamp.txt"), []byte("last tuesday"), 0644))
	assert.True(t, feed.Stale())
}

func TestCorruptCacheIsDeletedAndHealed(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)

	// A fresh but undersized cache entry, the typical leftover of a
	// truncated download.
	seedCache(t, cfg, bytes.Repeat([]byte("junk,"), 100), time.Hour)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	err = feed.EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, gtfscache.ErrCorruptArchive)
	assert.Empty(t, mem.Requests)

	// Both cache files are gone, so the next attempt re-downloads
	// and succeeds.
	assert.NoFileExists(t, filepath.Join(cfg.CacheDir, "test.zip"))
	assert.NoFileExists(t, filepath.Join(cfg.CacheDir, "test_timestamp.txt"))

	require.NoError(t, feed.EnsureLoaded(context.Background()))
	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

func TestDownloadedHTMLPageRejected(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)

	page := append([]byte("<html><body>login required</body></html>"), bytes.Repeat([]byte{' '}, 2000)...)
	mem.Feeds[testStaticURL] = page

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	err = feed.EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, gtfscache.ErrCorruptArchive)
	assert.NoFileExists(t, filepath.Join(cfg.CacheDir, "test.zip"))
}

func TestEnsureLoadedMissingStopsTable(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	mem.Feeds[testStaticURL] = testutil.BuildZip(t, map[string][]string{
		"routes.txt": {"route_id,route_type", "r1,3"},
	})

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	err = feed.EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, parse.ErrMissingStops)

	_, ok := feed.StopName("s1")
	assert.False(t, ok)
}

func TestForceUpdateIgnoresFreshCache(t *testing.T) {
	mgr, mem, cfg := newTestManager(t)
	seedCache(t, cfg, testutil.BuildStaticZip(t, nil), time.Hour)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))
	require.Empty(t, mem.Requests)

	require.NoError(t, feed.ForceUpdate(context.Background()))
	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

func TestFailedRefreshKeepsOldData(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	// Upstream goes away; the forced update fails but the feed
	// keeps serving the previous dataset.
	delete(mem.Feeds, testStaticURL)
	assert.Error(t, feed.ForceUpdate(context.Background()))

	name, ok := feed.StopName("s1")
	require.True(t, ok)
	assert.Equal(t, "Central Station", name)
}

func TestLookups(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	t.Run("stop name", func(t *testing.T) {
		name, ok := feed.StopName("s2")
		require.True(t, ok)
		assert.Equal(t, "Town Hall", name)

		_, ok = feed.StopName("unknown")
		assert.False(t, ok)
	})

	t.Run("platform code", func(t *testing.T) {
		code, ok := feed.StopPlatformCode("s3")
		require.True(t, ok)
		assert.Equal(t, "2a", code)

		// s2 has an empty platform_code column.
		_, ok = feed.StopPlatformCode("s2")
		assert.False(t, ok)
	})

	t.Run("route short name with long name fallback", func(t *testing.T) {
		name, ok := feed.RouteShortName("r1")
		require.True(t, ok)
		assert.Equal(t, "S1", name)

		_, ok = feed.RouteShortName("unknown")
		assert.False(t, ok)
	})

	t.Run("route type", func(t *testing.T) {
		rt, ok := feed.RouteType("r1")
		require.True(t, ok)
		assert.Equal(t, model.RouteTypeRail, rt)
	})

	t.Run("trip headsign", func(t *testing.T) {
		headsign, ok := feed.TripHeadsign("t1")
		require.True(t, ok)
		assert.Equal(t, "Airport", headsign)
	})

	t.Run("agency name", func(t *testing.T) {
		name, ok := feed.AgencyName("r1")
		require.True(t, ok)
		assert.Equal(t, "Metro Transit", name)
	})
}

func TestAgencyNameSingleAgencyFallback(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	// Routes without agency_id, one agency without an id. Common in
	// small single-operator feeds.
	mem.Feeds[testStaticURL] = testutil.BuildZip(t, map[string][]string{
		"stops.txt":  {"stop_id,stop_name", "s1,Somewhere"},
		"routes.txt": {"route_id,route_short_name,route_type", "r1,10,0"},
		"agency.txt": {"agency_id,agency_name", ",City Transit"},
	})

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	name, ok := feed.AgencyName("r1")
	require.True(t, ok)
	assert.Equal(t, "City Transit", name)
}

func TestSearchStops(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	results := feed.SearchStops("station", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "Central Station", results[0].Name)

	assert.Len(t, feed.SearchStops("a", 2), 2)
	assert.Empty(t, feed.SearchStops("xyzzy", 10))
}
