package gtfscache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitboard/gtfscache"
	"github.com/transitboard/gtfscache/config"
	"github.com/transitboard/gtfscache/downloader"
	"github.com/transitboard/gtfscache/testutil"
)

const (
	testStaticURL   = "http://static.test/gtfs.zip"
	testRealtimeURL = "http://rt.test/feed.pb"
)

func newTestManager(t *testing.T) (*gtfscache.Manager, *downloader.Memory, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.Providers = map[string]config.Provider{
		"test": {
			StaticURL:   testStaticURL,
			RealtimeURL: testRealtimeURL,
		},
	}

	mem := downloader.NewMemory()
	mem.Feeds[testStaticURL] = testutil.BuildStaticZip(t, nil)

	mgr := gtfscache.NewManager(cfg, mem, testutil.Logger())
	t.Cleanup(mgr.Shutdown)

	return mgr, mem, cfg
}

func countRequests(mem *downloader.Memory, url string) int {
	n := 0
	for _, r := range mem.Requests {
		if r == url {
			n++
		}
	}
	return n
}

func writeMarker(t *testing.T, cfg *config.Config, age time.Duration) {
	t.Helper()
	stamp := time.Now().Add(-age).UTC().Format(time.RFC3339)
	path := filepath.Join(cfg.CacheDir, "test_timestamp.txt")
	require.NoError(t, os.WriteFile(path, []byte(stamp), 0644))
}

func TestAcquireUnknownProvider(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Acquire("nonexistent")
	assert.ErrorIs(t, err, gtfscache.ErrUnknownProvider)
}

func TestAcquireSharesInstance(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	feed1, err := mgr.Acquire("test")
	require.NoError(t, err)
	feed2, err := mgr.Acquire("test")
	require.NoError(t, err)

	assert.Same(t, feed1, feed2)
	assert.Equal(t, 2, mgr.Refs("test"))
}

func TestReleaseBalancesAcquire(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	const n = 5
	for i := 0; i < n; i++ {
		_, err := mgr.Acquire("test")
		require.NoError(t, err)
	}
	assert.Equal(t, n, mgr.Refs("test"))

	for i := 0; i < n-1; i++ {
		mgr.Release("test")
	}
	assert.Equal(t, 1, mgr.Refs("test"))

	mgr.Release("test")
	assert.Equal(t, 0, mgr.Refs("test"))
	assert.Empty(t, mgr.Feeds())
}

func TestReleaseToZeroClearsData(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	_, ok := feed.StopName("s1")
	require.True(t, ok)

	mgr.Release("test")

	// The held pointer is still safe to use but comes up empty.
	_, ok = feed.StopName("s1")
	assert.False(t, ok)

	// Re-acquiring builds a fresh feed, served from the still-fresh
	// disk cache without another download.
	feed2, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed2.EnsureLoaded(context.Background()))
	name, ok := feed2.StopName("s1")
	require.True(t, ok)
	assert.Equal(t, "Central Station", name)
	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Acquire("test")
	require.NoError(t, err)

	mgr.Release("test")
	assert.NotPanics(t, func() {
		mgr.Release("test")
		mgr.Release("never-acquired")
	})
	assert.Equal(t, 0, mgr.Refs("test"))
}

func TestShutdown(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, feed.EnsureLoaded(context.Background()))

	mgr.Shutdown()

	_, err = mgr.Acquire("test")
	assert.ErrorIs(t, err, gtfscache.ErrShuttingDown)

	assert.ErrorIs(t, feed.EnsureLoaded(context.Background()), gtfscache.ErrShuttingDown)
	assert.ErrorIs(t, feed.ForceUpdate(context.Background()), gtfscache.ErrShuttingDown)

	_, ok := feed.StopName("s1")
	assert.False(t, ok)

	// Idempotent.
	assert.NotPanics(t, mgr.Shutdown)
}

func TestConcurrentEnsureLoadedSingleDownload(t *testing.T) {
	mgr, mem, _ := newTestManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = feed.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, countRequests(mem, testStaticURL))
}

// blockingDownloader hangs FetchFile until its context is cancelled.
type blockingDownloader struct {
	started   chan struct{}
	startOnce sync.Once
}

func (b *blockingDownloader) FetchFile(ctx context.Context, url, dest string, _ downloader.FetchOptions) (int64, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-ctx.Done()
	return 0, ctx.Err()
}

func (b *blockingDownloader) Get(ctx context.Context, url string, _ downloader.FetchOptions) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func newBlockedManager(t *testing.T) (*gtfscache.Manager, *blockingDownloader) {
	t.Helper()

	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.Providers = map[string]config.Provider{
		"test": {StaticURL: testStaticURL},
	}

	bd := &blockingDownloader{started: make(chan struct{})}
	mgr := gtfscache.NewManager(cfg, bd, testutil.Logger())
	t.Cleanup(mgr.Shutdown)

	return mgr, bd
}

func TestReleaseCancelsInflightDownload(t *testing.T) {
	mgr, bd := newBlockedManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- feed.EnsureLoaded(context.Background())
	}()

	<-bd.started
	mgr.Release("test")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download was not cancelled by release")
	}
	assert.Equal(t, 0, mgr.Refs("test"))
}

func TestShutdownCancelsInflightDownload(t *testing.T) {
	mgr, bd := newBlockedManager(t)

	feed, err := mgr.Acquire("test")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- feed.EnsureLoaded(context.Background())
	}()

	<-bd.started
	mgr.Shutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download was not cancelled by shutdown")
	}
}
