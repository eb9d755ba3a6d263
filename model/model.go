package model

import "time"

// Holds all external facing types and constants.

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

// The coarse vehicle classes shown to consumers. Feeds use the
// numeric GTFS route_type; consumers filter on these.
type TransportType string

const (
	TransportTram    TransportType = "tram"
	TransportSubway  TransportType = "subway"
	TransportTrain   TransportType = "train"
	TransportBus     TransportType = "bus"
	TransportFerry   TransportType = "ferry"
	TransportUnknown TransportType = "unknown"
)

// TransportType maps the numeric route_type onto a consumer-facing
// class. Unknown and extended route_type codes map to bus, which is
// what the big aggregated feeds overwhelmingly carry.
func (t RouteType) TransportType() TransportType {
	switch t {
	case RouteTypeTram, RouteTypeCable:
		return TransportTram
	case RouteTypeSubway:
		return TransportSubway
	case RouteTypeRail, RouteTypeMonorail, RouteTypeFunicular:
		return TransportTrain
	case RouteTypeBus, RouteTypeTrolleybus:
		return TransportBus
	case RouteTypeFerry:
		return TransportFerry
	}
	return TransportBus
}

type Stop struct {
	ID           string
	Name         string
	Lat          float64
	Lon          float64
	PlatformCode string
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Type      RouteType
}

type Agency struct {
	ID   string
	Name string
}

// A vehicle departing from a stop, enriched with static feed data.
type Departure struct {
	Line          string
	Destination   string
	Planned       time.Time
	Estimated     time.Time
	DelayMinutes  int
	Platform      string
	TransportType TransportType
	Realtime      bool
	Cancelled     bool
	AgencyName    string
	RouteID       string
	TripID        string
	StopID        string
}
