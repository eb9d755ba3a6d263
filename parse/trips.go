package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

type TripCSV struct {
	ID       string `csv:"trip_id"`
	Headsign string `csv:"trip_headsign"`
	// Everything else in trips.txt is deliberately dropped. Trips
	// in a country-wide dump run into the millions, and the only
	// thing the departure board needs from them is the headsign.
}

func ParseTrips(data io.Reader) (map[string]string, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	trips := make(map[string]string, len(tripCsv))
	for _, t := range tripCsv {
		if t.ID == "" || t.Headsign == "" {
			continue
		}
		trips[t.ID] = t.Headsign
	}

	return trips, nil
}
