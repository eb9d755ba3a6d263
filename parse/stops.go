package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/transitboard/gtfscache/model"
)

type StopCSV struct {
	ID   string  `csv:"stop_id"`
	Name string  `csv:"stop_name"`
	Lat  float64 `csv:"stop_lat"`
	Lon  float64 `csv:"stop_lon"`
	// Only the columns the departure board needs are retained. The
	// aggregated country-wide dumps have hundreds of thousands of
	// stops, so every extra column costs real memory.
	PlatformCode string `csv:"platform_code"`
}

func ParseStops(data io.Reader) (map[string]model.Stop, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	stops := make(map[string]model.Stop, len(stopCsv))
	for _, st := range stopCsv {
		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}

		// Aggregated feeds do repeat stop_ids across source
		// agencies. Last one wins.
		stops[st.ID] = model.Stop{
			ID:           st.ID,
			Name:         st.Name,
			Lat:          st.Lat,
			Lon:          st.Lon,
			PlatformCode: st.PlatformCode,
		}
	}

	return stops, nil
}
