package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/transitboard/gtfscache"
	"github.com/transitboard/gtfscache/config"
	"github.com/transitboard/gtfscache/downloader"
)

var rootCmd = &cobra.Command{
	Use:          "gtfscache",
	Short:        "Transit feed cache tool",
	Long:         "Downloads, caches and queries GTFS static and realtime feeds",
	SilenceUsage: true,
}

var (
	configPath string
	provider   string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (built-in defaults if omitted)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "gtfs_de", "Provider ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.AddCommand(stopsCmd)
	rootCmd.AddCommand(departuresCmd)
	rootCmd.AddCommand(refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func buildLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func buildManager() (*gtfscache.Manager, zerolog.Logger, error) {
	log := buildLogger()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, log, err
		}
	}

	mgr := gtfscache.NewManager(cfg, downloader.NewHTTP(log), log)
	return mgr, log, nil
}
