package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/transitboard/gtfscache/model"
)

type AgencyCSV struct {
	ID   string `csv:"agency_id"`
	Name string `csv:"agency_name"`
}

func ParseAgencies(data io.Reader) (map[string]model.Agency, error) {
	agencyCsv := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &agencyCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling agency csv: %w", err)
	}

	agencies := make(map[string]model.Agency, len(agencyCsv))
	for _, a := range agencyCsv {
		// agency_id is optional when the feed has a single
		// agency. Fall back to the name as key.
		key := a.ID
		if key == "" {
			key = a.Name
		}
		if key == "" {
			continue
		}
		agencies[key] = model.Agency{ID: a.ID, Name: a.Name}
	}

	return agencies, nil
}
