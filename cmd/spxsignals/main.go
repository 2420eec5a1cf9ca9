package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/application"
	"github.com/sawpanic/spxsignals/internal/config"
	"github.com/sawpanic/spxsignals/internal/infrastructure/providers"
)

const (
	appName = "spxsignals"
	version = "v0.4.0"
)

var (
	configPath    string
	landscapePath string
	forceRefresh  bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "SPX/SPY cross-market analytics",
		Version: version,
		Long: `spxsignals computes the SPX/SPY basis, projects SPY gamma levels onto SPX,
builds cross-validated fibonacci ladders and scores setups against their
historical analogs. Processes share results through Redis.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to YAML config")
	rootCmd.PersistentFlags().StringVar(&landscapePath, "landscape", "", "Read the gex landscape from a JSON file instead of the shared cache")
	rootCmd.PersistentFlags().BoolVar(&forceRefresh, "force", false, "Bypass cached results")

	rootCmd.AddCommand(newServeCmd(), newBasisCmd(), newImpactCmd(), newFibCmd(), newMemoryCmd(), newSnapshotCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadService reads the config, applies the log level and wires a Service.
func loadService(reg prometheus.Registerer) (*application.Service, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	zerolog.SetGlobalLevel(level)

	var opts []application.Option
	if landscapePath != "" {
		landscape, err := readLandscape(landscapePath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, application.WithLandscapes(providers.StaticLandscapeProvider{Landscape: landscape}))
	}

	svc, err := application.New(cfg, reg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}

func readLandscape(path string) (*crossmarket.UnifiedGEXLandscape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read landscape: %w", err)
	}
	var landscape crossmarket.UnifiedGEXLandscape
	if err := json.Unmarshal(data, &landscape); err != nil {
		return nil, fmt.Errorf("failed to parse landscape %s: %w", path, err)
	}
	return &landscape, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
