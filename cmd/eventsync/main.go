package main

import (
	"fmt"
	"os"

	"github.com/cuemby/eventsync/pkg/config"
	"github.com/cuemby/eventsync/pkg/contract"
	"github.com/cuemby/eventsync/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventsync",
	Short: "eventsync - keep leaderboard, round and profile mirrors in sync with an event stream",
	Long: `eventsync subscribes to a pub/sub event stream over a websocket and keeps
client-side mirrors of leaderboards, rounds and user profiles consistent
with the server, validating every payload against a contract catalog.

Configuration is read from --config and overlaid by EVENTSYNC_* environment
variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"eventsync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(cacheCmd)
}

// loadConfig reads the config named by --config and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}

// loadIndex builds the contract index named by the config or --catalog
func loadIndex(cmd *cobra.Command, cfg *config.Config) (*contract.Index, error) {
	path := cfg.CatalogPath
	if flag := cmd.Flags().Lookup("catalog"); flag != nil && flag.Changed {
		path = flag.Value.String()
	}
	if path == "" {
		return nil, fmt.Errorf("no contract catalog configured: %w", contract.ErrCatalogMissing)
	}

	catalog, err := contract.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return contract.NewIndex(catalog)
}
