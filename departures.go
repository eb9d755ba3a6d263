package gtfscache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cenkalti/backoff/v4"

	"github.com/transitboard/gtfscache/downloader"
	"github.com/transitboard/gtfscache/model"
	"github.com/transitboard/gtfscache/parse"
	"github.com/transitboard/gtfscache/provider"
)

// Board is the result of joining a realtime feed against the static
// indices for one stop. Truncated reports that the entity scan hit
// its ceiling before the whole feed was examined, so an empty board
// means "nothing found in the scanned window", not "no departures".
type Board struct {
	Departures      []model.Departure
	EntitiesScanned int
	Truncated       bool
}

type JoinOptions struct {
	// MaxScanEntities caps the number of entities examined when
	// the feed size crosses LargeFeedThreshold. Country-wide
	// aggregated feeds carry hundreds of thousands of entities and
	// a full scan per consumer poll does not pay for itself.
	MaxScanEntities    int
	LargeFeedThreshold int

	// Now anchors departures that carry a delay but no timestamp.
	// Zero means time.Now.
	Now time.Time
}

const unknownDestination = "Unknown"

// Join scans the realtime trip updates for stop_time_updates at
// stopID and enriches each hit from the static indices. Collection
// stops at three times the requested limit; callers sort and trim.
func Join(feed *StaticFeed, caps provider.Capabilities, msg *gtfsproto.FeedMessage, stopID string, limit int, opts JoinOptions) Board {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if limit <= 0 {
		limit = 1
	}
	wanted := limit * 3

	entities := msg.GetEntity()
	scanCap := len(entities)
	if opts.MaxScanEntities > 0 && opts.LargeFeedThreshold > 0 &&
		len(entities) > opts.LargeFeedThreshold && scanCap > opts.MaxScanEntities {
		scanCap = opts.MaxScanEntities
	}

	board := Board{Departures: []model.Departure{}}

	for i := 0; i < scanCap; i++ {
		board.EntitiesScanned++

		tu := entities[i].GetTripUpdate()
		if tu == nil || len(tu.GetStopTimeUpdate()) == 0 {
			continue
		}

		trip := tu.GetTrip()
		if trip.GetScheduleRelationship() == gtfsproto.TripDescriptor_CANCELED {
			continue
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetStopId() != stopID {
				continue
			}

			dep := buildDeparture(feed, caps, trip, stu, stopID, now)
			// A skipped stop means the vehicle still runs but
			// won't call here. Shown as cancelled, not hidden.
			dep.Cancelled = stu.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED
			board.Departures = append(board.Departures, dep)
		}

		if len(board.Departures) >= wanted {
			return board
		}
	}

	board.Truncated = scanCap < len(entities)
	return board
}

func buildDeparture(feed *StaticFeed, caps provider.Capabilities, trip *gtfsproto.TripDescriptor, stu *gtfsproto.TripUpdate_StopTimeUpdate, stopID string, now time.Time) model.Departure {
	tripID := trip.GetTripId()
	routeID := trip.GetRouteId()

	ev := stu.GetDeparture()
	if ev == nil {
		ev = stu.GetArrival()
	}

	delay := time.Duration(ev.GetDelay()) * time.Second
	hasLiveTime := ev != nil && ev.Time != nil

	planned := now
	if hasLiveTime {
		planned = time.Unix(ev.GetTime(), 0)
	}
	estimated := planned.Add(delay)

	dep := model.Departure{
		Planned:   planned,
		Estimated: estimated,
		// Truncation toward zero: -90 seconds reads as -1 minute.
		DelayMinutes: int(ev.GetDelay()) / 60,
		Realtime:     caps.IsRealtime(delay, hasLiveTime),
		RouteID:      routeID,
		TripID:       tripID,
		StopID:       stopID,
	}

	if line, ok := feed.RouteShortName(routeID); ok {
		dep.Line = line
	} else {
		dep.Line = routeID
	}

	dep.Destination = destination(feed, tripID, routeID)

	// No type on record reads as bus; that is what the aggregated
	// feeds overwhelmingly carry.
	rt, ok := feed.RouteType(routeID)
	if !ok {
		rt = model.RouteTypeBus
	}
	dep.TransportType = caps.TransportType(rt)

	if code, ok := feed.StopPlatformCode(stopID); ok {
		dep.Platform = caps.Platform(code)
	}

	if name, ok := feed.AgencyName(routeID); ok {
		dep.AgencyName = name
	}

	return dep
}

// destination picks the best available label: the trip's headsign,
// then the route's long name, then its short name.
func destination(feed *StaticFeed, tripID, routeID string) string {
	if headsign, ok := feed.TripHeadsign(tripID); ok && headsign != "" {
		return headsign
	}
	if route, ok := feed.Route(routeID); ok {
		if route.LongName != "" {
			return route.LongName
		}
		if route.ShortName != "" {
			return route.ShortName
		}
	}
	return unknownDestination
}

// Departures fetches the provider's realtime feed, joins it against
// the feed's static indices and returns up to limit departures sorted
// by estimated time. The realtime payload is served from a short TTL
// cache, so many consumers polling the same provider share one
// upstream request.
func (m *Manager) Departures(ctx context.Context, feed *StaticFeed, stopID string, limit int) (Board, error) {
	if m.ShuttingDown() {
		return Board{}, ErrShuttingDown
	}
	if feed.cfg.RealtimeURL == "" {
		return Board{}, fmt.Errorf("%w: provider %s has no realtime feed", ErrUnknownProvider, feed.provider)
	}

	msg, err := m.fetchRealtime(ctx, feed)
	if err != nil {
		return Board{}, err
	}

	board := Join(feed, provider.ForProvider(feed.provider), msg, stopID, limit, JoinOptions{
		MaxScanEntities:    feed.cfg.MaxScanEntities,
		LargeFeedThreshold: feed.cfg.LargeFeedThreshold,
	})

	sort.Slice(board.Departures, func(i, j int) bool {
		return board.Departures[i].Estimated.Before(board.Departures[j].Estimated)
	})
	if len(board.Departures) > limit {
		board.Departures = board.Departures[:limit]
	}

	return board, nil
}

// fetchRealtime retries transient network failures with exponential
// backoff. A payload that fails to decode is not retried: the TTL
// cache would hand back the same bytes.
func (m *Manager) fetchRealtime(ctx context.Context, feed *StaticFeed) (*gtfsproto.FeedMessage, error) {
	opts := downloader.FetchOptions{
		Timeout: feed.cfg.RealtimeTimeout.Std(),
		MaxSize: m.cfg.RealtimeMaxSize,
	}

	var msg *gtfsproto.FeedMessage
	op := func() error {
		payload, err := m.rt.Get(ctx, feed.cfg.RealtimeURL, opts)
		if err != nil {
			if errors.Is(err, downloader.ErrTimeout) {
				return backoff.Permanent(err)
			}
			return err
		}

		msg, err = parse.DecodeRealtime(payload)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrCorruptFeed, err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		feed.log.Warn().Err(err).Msg("realtime fetch failed")
		return nil, err
	}

	return msg, nil
}
