package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <stop_id>",
	Short: "Lists upcoming departures from a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var departuresLimit int

func init() {
	departuresCmd.Flags().IntVarP(&departuresLimit, "limit", "l", 10, "Maximum number of departures returned")
}

func departures(cmd *cobra.Command, args []string) error {
	stopID := args[0]

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

	ctx := context.Background()
	if err := feed.EnsureLoaded(ctx); err != nil {
		return err
	}

	board, err := mgr.Departures(ctx, feed, stopID, departuresLimit)
	if err != nil {
		return err
	}

	for _, dep := range board.Departures {
		marker := " "
		if dep.Realtime {
			marker = "*"
		}
		if dep.Cancelled {
			marker = "x"
		}
		fmt.Printf("%s %s  %-6s %-30s +%dm  %s\n",
			marker,
			dep.Estimated.Format("15:04"),
			dep.Line,
			dep.Destination,
			dep.DelayMinutes,
			dep.Platform,
		)
	}

	if board.Truncated {
		fmt.Printf("(scan capped after %d entities, results may be incomplete)\n", board.EntitiesScanned)
	}

	return nil
}
