package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/eventsync/pkg/config"
	"github.com/cuemby/eventsync/pkg/storage"
	"github.com/spf13/cobra"
)

// Cache commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the mirror cache",
	Long: `The mirror cache keeps the last committed entry and version of every
mirror in <data-dir>/eventsync.db so that redelivered envelopes stay stale
across restarts. Stop the client before running these commands: the cache
is locked while a client holds it.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		streams, err := store.Streams()
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			fmt.Println("No cached streams")
			return nil
		}

		fmt.Printf("%-16s %-8s %s\n", "STREAM", "ENTRIES", "TOMBSTONES")
		for _, stream := range streams {
			records, err := store.LoadRecords(stream)
			if err != nil {
				return err
			}
			tombstones := 0
			for _, rec := range records {
				if rec.Deleted {
					tombstones++
				}
			}
			fmt.Printf("%-16s %-8d %d\n", stream, len(records)-tombstones, tombstones)
		}
		return nil
	},
}

var cacheDumpCmd = &cobra.Command{
	Use:   "dump STREAM [KEY]",
	Short: "Print cached records as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 2 {
			rec, err := store.GetRecord(args[0], args[1])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no cached record %s/%s", args[0], args[1])
			}
			if err != nil {
				return err
			}
			return enc.Encode(rec)
		}

		records, err := store.LoadRecords(args[0])
		if err != nil {
			return err
		}
		return enc.Encode(records)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear STREAM",
	Short: "Drop every cached record of a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetString("backup")

		store, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.LoadRecords(args[0])
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Printf("[DRY RUN] Would drop %d records from %s\n", len(records), args[0])
			return nil
		}

		if backup != "" {
			if err := copyFile(store.Path(), backup); err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Printf("✓ Backup written to %s\n", backup)
		}

		if err := store.DeleteStream(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Dropped %d records from %s\n", len(records), args[0])
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().String("data-dir", "", "Directory holding eventsync.db")
	cacheClearCmd.Flags().Bool("dry-run", false, "Show what would be dropped without making changes")
	cacheClearCmd.Flags().String("backup", "", "Copy the cache file here before clearing")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheDumpCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache(cmd *cobra.Command) (*storage.BoltStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(cmd, cfg)
}

func openStore(cmd *cobra.Command, cfg *config.Config) (*storage.BoltStore, error) {
	dataDir := cfg.DataDir
	if cmd.Flags().Changed("data-dir") {
		dataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if dataDir == "" {
		return nil, errors.New("no data directory configured (--data-dir or EVENTSYNC_DATA_DIR)")
	}
	return storage.NewBoltStore(dataDir)
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
