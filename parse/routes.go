package parse

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/transitboard/gtfscache/model"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Type      string `csv:"route_type"`
}

// RouteTypeUnknown marks routes whose route_type column was absent or
// unparseable. Lookups treat it as "no type known".
const RouteTypeUnknown model.RouteType = -1

func ParseRoutes(data io.Reader) (map[string]model.Route, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &routeCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling routes csv: %w", err)
	}

	routes := make(map[string]model.Route, len(routeCsv))
	for _, r := range routeCsv {
		if r.ID == "" {
			continue
		}

		routeType := RouteTypeUnknown
		if r.Type != "" {
			if t, err := strconv.Atoi(r.Type); err == nil {
				routeType = model.RouteType(t)
			}
		}

		routes[r.ID] = model.Route{
			ID:        r.ID,
			AgencyID:  r.AgencyID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      routeType,
		}
	}

	return routes, nil
}
