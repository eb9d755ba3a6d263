package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var stopsCmd = &cobra.Command{
	Use:   "stops <search term>",
	Short: "Searches the provider's stops by name",
	Args:  cobra.ExactArgs(1),
	RunE:  stops,
}

var searchLimit int

func init() {
	stopsCmd.Flags().IntVarP(&searchLimit, "limit", "l", 20, "Maximum number of stops returned")
}

func stops(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	feed, err := mgr.Acquire(provider)
	if err != nil {
		return err
	}
	defer mgr.Release(provider)

	if err := feed.EnsureLoaded(context.Background()); err != nil {
		return err
	}

	for _, stop := range feed.SearchStops(args[0], searchLimit) {
		place, name := splitStopName(stop.Name)
		fmt.Printf("%s\t%s\t%s\t(%f, %f)\n", stop.ID, name, place, stop.Lat, stop.Lon)
	}

	return nil
}

// splitStopName handles the "Place, Stop" convention of the German
// aggregated feed ("Berlin, Alexanderplatz"). Names without a comma
// have no place part.
func splitStopName(full string) (place, name string) {
	if place, name, found := strings.Cut(full, ", "); found {
		return place, name
	}
	return "", full
}
