// Package provider holds the per-provider quirks: how a numeric
// route_type maps to a vehicle class, where the platform comes from,
// and what counts as a live (as opposed to scheduled) departure.
// Selected once per provider, never branched on per record.
package provider

import (
	"time"

	"github.com/transitboard/gtfscache/model"
)

type Capabilities interface {
	TransportType(routeType model.RouteType) model.TransportType
	Platform(platformCode string) string
	IsRealtime(delay time.Duration, hasLiveTime bool) bool
}

// Default covers feeds that follow the GTFS route_type table and
// report live timestamps.
type Default struct{}

func (Default) TransportType(t model.RouteType) model.TransportType {
	return t.TransportType()
}

func (Default) Platform(platformCode string) string {
	return platformCode
}

func (Default) IsRealtime(delay time.Duration, hasLiveTime bool) bool {
	return hasLiveTime || delay != 0
}

// gtfsDE: the aggregated German feed sets timestamps on everything,
// so only a non-zero delay marks a departure as actually monitored.
type gtfsDE struct{ Default }

func (gtfsDE) IsRealtime(delay time.Duration, _ bool) bool {
	return delay != 0
}

func ForProvider(id string) Capabilities {
	switch id {
	case "gtfs_de":
		return gtfsDE{}
	}
	return Default{}
}
