package gtfscache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RefreshDriver re-downloads stale static archives in the background
// so consumers never pay the multi-minute download on their own
// request path. One driver per manager.
type RefreshDriver struct {
	mgr      *Manager
	interval time.Duration
	backoff  time.Duration
	log      zerolog.Logger
}

func NewRefreshDriver(mgr *Manager, log zerolog.Logger) *RefreshDriver {
	return &RefreshDriver{
		mgr:      mgr,
		interval: mgr.cfg.RefreshInterval.Std(),
		backoff:  mgr.cfg.RefreshBackoff.Std(),
		log:      log.With().Str("component", "refresh").Logger(),
	}
}

// Run loops until ctx is cancelled. After a cycle where every stale
// feed refreshed cleanly the next cycle runs a full interval later; a
// cycle with any failure reschedules sooner, so a transient upstream
// outage doesn't leave a feed stale for half a day.
func (d *RefreshDriver) Run(ctx context.Context) {
	d.log.Info().
		Dur("interval", d.interval).
		Dur("backoff", d.backoff).
		Msg("refresh driver started")

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("refresh driver stopped")
			return
		case <-timer.C:
		}

		next := d.interval
		if !d.RunCycle(ctx) {
			next = d.backoff
		}
		timer.Reset(next)
	}
}

// RunCycle refreshes every registered stale feed once. Returns false
// when any refresh failed. One provider's failure, panics included,
// does not abort the cycle for the others.
func (d *RefreshDriver) RunCycle(ctx context.Context) bool {
	if d.mgr.ShuttingDown() {
		d.log.Debug().Msg("manager shutting down, skipping cycle")
		return true
	}

	// Snapshot first; holding a transient reference keeps a feed
	// alive even if its last consumer releases mid-refresh.
	ok := true
	for _, feed := range d.mgr.Feeds() {
		if err := d.refreshOne(ctx, feed.Provider()); err != nil {
			ok = false
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return ok
}

// refreshOne takes a transient reference for the duration of the
// refresh. The release is deferred so the reference cannot leak, not
// even when the refresh panics; the driver must outlive any single
// bad archive.
func (d *RefreshDriver) refreshOne(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("provider", id).Interface("panic", r).Msg("refresh panicked")
			err = fmt.Errorf("refreshing %s: panic: %v", id, r)
		}
	}()

	held, err := d.mgr.Acquire(id)
	if err != nil {
		return err
	}
	defer d.mgr.Release(id)

	return d.refreshFeed(ctx, held)
}

func (d *RefreshDriver) refreshFeed(ctx context.Context, feed *StaticFeed) error {
	if !feed.Stale() {
		d.log.Debug().Str("provider", feed.Provider()).Msg("feed still fresh")
		return nil
	}

	d.log.Info().Str("provider", feed.Provider()).Msg("refreshing stale feed")
	if err := feed.ForceUpdate(ctx); err != nil {
		d.log.Warn().
			Str("provider", feed.Provider()).
			Err(err).
			Msg("refresh failed, will retry after backoff")
		return err
	}

	d.log.Info().Str("provider", feed.Provider()).Msg("feed refreshed")
	return nil
}
