package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spkg/bom"

	"github.com/transitboard/gtfscache/model"
)

// ErrMissingStops is returned when the archive has no stops table, or
// when the table parses to zero stops. Without stops the dataset is
// useless, so this fails the whole load.
var ErrMissingStops = errors.New("no stops in archive")

// gocsv's reader is process-global state. The closure is the same
// every time, so it is installed exactly once and concurrent parses
// never race on it.
var csvReaderOnce sync.Once

func setupCSVReader() {
	csvReaderOnce.Do(func() {
		// LazyCSVReader required (at least) to survive sloppy use
		// of quotes. The BOM reader strips unicode BOMs if present.
		gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
			return gocsv.LazyCSVReader(bom.NewReader(in))
		})
	})
}

// Index holds the parsed tables of one static dump. It is built in
// full before being handed to the caller, so a failed parse never
// leaves a partially populated index behind.
type Index struct {
	Stops    map[string]model.Stop
	Routes   map[string]model.Route
	Trips    map[string]string // trip_id -> headsign
	Agencies map[string]model.Agency
}

// ParseStatic parses the archive at path into an Index.
//
// stops.txt is required; routes.txt, trips.txt and agency.txt are
// each independently optional. Their absence is logged and the
// corresponding lookups simply come up empty.
func ParseStatic(path string, log zerolog.Logger) (*Index, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}
	defer r.Close()

	return parseArchive(&r.Reader, log)
}

// ParseStaticBytes parses an in-memory archive. Mostly useful in
// tests; the production path goes through the disk cache.
func ParseStaticBytes(buf []byte, log zerolog.Logger) (*Index, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	return parseArchive(r, log)
}

func parseArchive(r *zip.Reader, log zerolog.Logger) (*Index, error) {
	// These are the tables we load from static dumps. stop_times
	// is conspicuously absent: it can hold tens of millions of
	// rows and nothing here needs it.
	file := map[string]*zip.File{
		"agency.txt": nil,
		"routes.txt": nil,
		"stops.txt":  nil,
		"trips.txt":  nil,
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}
		file[fName] = f
	}

	if file["stops.txt"] == nil {
		return nil, ErrMissingStops
	}

	setupCSVReader()

	index := &Index{
		Routes:   map[string]model.Route{},
		Trips:    map[string]string{},
		Agencies: map[string]model.Agency{},
	}

	stops, err := parseMember(file["stops.txt"], ParseStops)
	if err != nil {
		return nil, fmt.Errorf("parsing stops.txt: %w", err)
	}
	if len(stops) == 0 {
		return nil, ErrMissingStops
	}
	index.Stops = stops

	if file["routes.txt"] != nil {
		index.Routes, err = parseMember(file["routes.txt"], ParseRoutes)
		if err != nil {
			return nil, fmt.Errorf("parsing routes.txt: %w", err)
		}
	} else {
		log.Warn().Msg("routes.txt not in archive, route names will not be available")
	}

	if file["trips.txt"] != nil {
		index.Trips, err = parseMember(file["trips.txt"], ParseTrips)
		if err != nil {
			return nil, fmt.Errorf("parsing trips.txt: %w", err)
		}
	} else {
		log.Warn().Msg("trips.txt not in archive, destinations will not be available")
	}

	if file["agency.txt"] != nil {
		index.Agencies, err = parseMember(file["agency.txt"], ParseAgencies)
		if err != nil {
			return nil, fmt.Errorf("parsing agency.txt: %w", err)
		}
	} else {
		log.Warn().Msg("agency.txt not in archive, agency names will not be available")
	}

	log.Info().
		Int("stops", len(index.Stops)).
		Int("routes", len(index.Routes)).
		Int("trips", len(index.Trips)).
		Int("agencies", len(index.Agencies)).
		Msg("parsed static archive")

	return index, nil
}

func parseMember[T any](f *zip.File, parse func(io.Reader) (T, error)) (T, error) {
	var zero T

	rc, err := f.Open()
	if err != nil {
		return zero, errors.Wrapf(err, "opening %s", f.Name)
	}
	defer rc.Close()

	data, err := decodeText(rc)
	if err != nil {
		return zero, errors.Wrapf(err, "decoding %s", f.Name)
	}

	return parse(data)
}
