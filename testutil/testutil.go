package testutil

// Helpers and fixtures for tests.

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"
)

func Logger() zerolog.Logger {
	return zerolog.Nop()
}

// BuildZip assembles a GTFS archive from table name to CSV lines. A
// stored (uncompressed) padding member lifts the archive over the
// minimum size an archive must have to pass validation.
func BuildZip(t testing.TB, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}

	pad, err := w.CreateHeader(&zip.FileHeader{
		Name:   "padding.txt",
		Method: zip.Store,
	})
	require.NoError(t, err)
	_, err = pad.Write(bytes.Repeat([]byte{'.'}, 1200))
	require.NoError(t, err)

	require.NoError(t, w.Close())

	return buf.Bytes()
}

// BuildStaticZip fills in a minimal valid archive around the given
// tables, so tests only spell out what they care about.
func BuildStaticZip(t testing.TB, files map[string][]string) []byte {
	if files == nil {
		files = map[string][]string{}
	}
	if files["stops.txt"] == nil {
		files["stops.txt"] = []string{
			"stop_id,stop_name,stop_lat,stop_lon,platform_code",
			"s1,Central Station,52.52,13.40,1",
			"s2,Town Hall,52.51,13.41,",
			"s3,Harbor,52.50,13.42,2a",
		}
	}
	if files["routes.txt"] == nil {
		files["routes.txt"] = []string{
			"route_id,agency_id,route_short_name,route_long_name,route_type",
			"r1,a1,S1,City Line,2",
			"r2,a1,42,,3",
		}
	}
	if files["trips.txt"] == nil {
		files["trips.txt"] = []string{
			"trip_id,trip_headsign",
			"t1,Airport",
			"t2,Harbor",
		}
	}
	if files["agency.txt"] == nil {
		files["agency.txt"] = []string{
			"agency_id,agency_name",
			"a1,Metro Transit",
		}
	}
	return BuildZip(t, files)
}

// WriteFile drops buf into dir under name and returns the path.
func WriteFile(t testing.TB, dir, name string, buf []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

// Helpers for building gtfs-realtime feeds.
type StopUpdate struct {
	StopID         string
	DepartureSet   bool
	DepartureDelay int32
	DepartureTime  time.Time
	ArrivalSet     bool
	ArrivalDelay   int32
	ArrivalTime    time.Time
	Skipped        bool
}

type TripUpdate struct {
	TripID      string
	RouteID     string
	StopUpdates []StopUpdate
	Canceled    bool
}

func BuildFeedMessage(t testing.TB, tripUpdates []TripUpdate) *gtfsproto.FeedMessage {
	entity := make([]*gtfsproto.FeedEntity, 0, len(tripUpdates))

	for i, tripUpdate := range tripUpdates {
		stopTimeUpdate := make([]*gtfsproto.TripUpdate_StopTimeUpdate, 0, len(tripUpdate.StopUpdates))

		for _, stopUpdate := range tripUpdate.StopUpdates {
			schedRel := gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED
			if stopUpdate.Skipped {
				schedRel = gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED
			}

			stup := &gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:               proto.String(stopUpdate.StopID),
				ScheduleRelationship: &schedRel,
			}
			if stopUpdate.DepartureSet {
				stup.Departure = &gtfsproto.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(stopUpdate.DepartureDelay),
				}
				if !stopUpdate.DepartureTime.IsZero() {
					stup.Departure.Time = proto.Int64(stopUpdate.DepartureTime.Unix())
				}
			}
			if stopUpdate.ArrivalSet {
				stup.Arrival = &gtfsproto.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(stopUpdate.ArrivalDelay),
				}
				if !stopUpdate.ArrivalTime.IsZero() {
					stup.Arrival.Time = proto.Int64(stopUpdate.ArrivalTime.Unix())
				}
			}

			stopTimeUpdate = append(stopTimeUpdate, stup)
		}

		tripSchedRel := gtfsproto.TripDescriptor_SCHEDULED
		if tripUpdate.Canceled {
			tripSchedRel = gtfsproto.TripDescriptor_CANCELED
		}

		var tu *gtfsproto.TripUpdate
		if tripUpdate.TripID != "" {
			tu = &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{
					TripId:               proto.String(tripUpdate.TripID),
					RouteId:              proto.String(tripUpdate.RouteID),
					ScheduleRelationship: &tripSchedRel,
				},
				StopTimeUpdate: stopTimeUpdate,
			}
		}

		entity = append(entity, &gtfsproto.FeedEntity{
			Id:         proto.String(tripUpdate.TripID + string(rune('a'+i))),
			TripUpdate: tu,
		})
	}

	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	header := &gtfsproto.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      &incrementality,
		Timestamp:           proto.Uint64(uint64(time.Now().Unix())),
	}

	return &gtfsproto.FeedMessage{Header: header, Entity: entity}
}

func MarshalFeedMessage(t testing.TB, msg *gtfsproto.FeedMessage) []byte {
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	return data
}

func BuildRealtime(t testing.TB, tripUpdates []TripUpdate) []byte {
	return MarshalFeedMessage(t, BuildFeedMessage(t, tripUpdates))
}
