package main

import (
	"context"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Forces a re-download of the provider's static feed",
	Args:  cobra.NoArgs,
	RunE:  refresh,
}

func refresh(cmd *cobra.Command, args []string) error {
	mgr, log, err := buildManager()
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	feed, err := mgr.Acquire(provider)
	if err != nil {
		return err
	}
	defer mgr.Release(provider)

	if err := feed.ForceUpdate(context.Background()); err != nil {
		return err
	}

	stats := feed.Stats()
	log.Info().
		Int("stops", stats.Stops).
		Int("routes", stats.Routes).
		Int("trips", stats.Trips).
		Msg("static feed refreshed")

	return nil
}
