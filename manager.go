// Package gtfscache caches GTFS static archives on disk, keeps their
// parsed indices in memory for as long as anyone needs them, and
// joins GTFS Realtime trip updates against them to produce departure
// boards.
package gtfscache

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/transitboard/gtfscache/config"
	"github.com/transitboard/gtfscache/downloader"
)

// downloadTask is a cancellable in-flight static download. done is
// closed by the downloader when it exits, cancelled or not.
type downloadTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type feedEntry struct {
	feed *StaticFeed
	refs int
}

// Manager is the process-wide registry of static feeds. Consumers
// Acquire a feed per provider, share the same instance, and Release
// it when done; the feed's data is dropped when the last reference
// goes away.
type Manager struct {
	cfg *config.Config
	dl  downloader.Downloader
	rt  downloader.Downloader
	log zerolog.Logger

	// parseSem keeps archive decompression to one at a time. A
	// country-wide dump takes real CPU and memory to parse, two at
	// once is how the process gets OOM killed.
	parseSem chan struct{}

	mu        sync.Mutex
	feeds     map[string]*feedEntry
	downloads map[string]*downloadTask
	shutdown  bool
}

func NewManager(cfg *config.Config, dl downloader.Downloader, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		dl:        dl,
		rt:        downloader.NewCached(dl, len(cfg.Providers)+4, cfg.RealtimeTTL.Std()),
		log:       log.With().Str("component", "manager").Logger(),
		parseSem:  make(chan struct{}, 1),
		feeds:     map[string]*feedEntry{},
		downloads: map[string]*downloadTask{},
	}
}

// Acquire returns the shared feed for a provider, creating it on
// first use, and bumps its reference count. Every Acquire must be
// paired with exactly one Release.
func (m *Manager) Acquire(providerID string) (*StaticFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrShuttingDown
	}

	if e, ok := m.feeds[providerID]; ok {
		e.refs++
		m.log.Debug().Str("provider", providerID).Int("refs", e.refs).Msg("feed acquired")
		return e.feed, nil
	}

	pcfg, ok := m.cfg.Providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}

	feed := newStaticFeed(m, providerID, pcfg)
	m.feeds[providerID] = &feedEntry{feed: feed, refs: 1}
	m.log.Info().Str("provider", providerID).Msg("feed registered")
	return feed, nil
}

// Release drops one reference. When the count reaches zero the feed
// is deregistered, any in-flight download for it is cancelled and
// awaited, and its in-memory data is freed. Releasing a provider that
// is not registered is a no-op.
func (m *Manager) Release(providerID string) {
	m.mu.Lock()
	e, ok := m.feeds[providerID]
	if !ok {
		m.mu.Unlock()
		m.log.Warn().Str("provider", providerID).Msg("release of unregistered feed ignored")
		return
	}

	e.refs--
	if e.refs > 0 {
		m.log.Debug().Str("provider", providerID).Int("refs", e.refs).Msg("feed released")
		m.mu.Unlock()
		return
	}

	delete(m.feeds, providerID)
	task := m.downloads[providerID]
	m.mu.Unlock()

	// Cancel and wait outside the lock. The downloader needs the
	// lock to deregister itself.
	if task != nil {
		task.cancel()
		<-task.done
	}

	e.feed.Clear()
	m.log.Info().Str("provider", providerID).Msg("feed deregistered")
}

// Shutdown cancels all in-flight downloads, waits for them to stop,
// and clears every feed. The manager refuses new work afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true

	tasks := make([]*downloadTask, 0, len(m.downloads))
	for _, t := range m.downloads {
		tasks = append(tasks, t)
	}
	feeds := make([]*StaticFeed, 0, len(m.feeds))
	for _, e := range m.feeds {
		feeds = append(feeds, e.feed)
	}
	m.feeds = map[string]*feedEntry{}
	m.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
	for _, f := range feeds {
		f.Clear()
	}

	m.log.Info().Int("feeds", len(feeds)).Msg("manager shut down")
}

func (m *Manager) ShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Feeds returns the currently registered feeds, for the refresh
// driver and diagnostics.
func (m *Manager) Feeds() []*StaticFeed {
	m.mu.Lock()
	defer m.mu.Unlock()

	feeds := make([]*StaticFeed, 0, len(m.feeds))
	for _, e := range m.feeds {
		feeds = append(feeds, e.feed)
	}
	return feeds
}

// Stats returns a diagnostics snapshot of every registered feed,
// ordered by provider.
func (m *Manager) Stats() []FeedStats {
	feeds := m.Feeds()
	stats := make([]FeedStats, 0, len(feeds))
	for _, f := range feeds {
		stats = append(stats, f.Stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Provider < stats[j].Provider
	})
	return stats
}

// Refs reports the reference count of a provider, zero when not
// registered.
func (m *Manager) Refs(providerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.feeds[providerID]; ok {
		return e.refs
	}
	return 0
}

// registerDownload records a cancellable download. At most one per
// provider is in flight; the feed lock guarantees that.
//
// A download racing a concurrent Shutdown is cancelled on the spot:
// Shutdown has already swept m.downloads, so a task registered after
// that sweep would otherwise run to completion and repopulate a
// cleared feed.
func (m *Manager) registerDownload(providerID string, cancel context.CancelFunc) *downloadTask {
	task := &downloadTask{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		cancel()
		return task
	}
	m.downloads[providerID] = task
	m.mu.Unlock()
	return task
}

// unregisterDownload marks the task finished. done is closed exactly
// once, and the registry entry is only removed if it still points at
// this task.
func (m *Manager) unregisterDownload(providerID string, task *downloadTask) {
	m.mu.Lock()
	if m.downloads[providerID] == task {
		delete(m.downloads, providerID)
	}
	m.mu.Unlock()
	close(task.done)
}
