package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/jitlens/internal/backup"
	"github.com/tinytelemetry/jitlens/internal/duckdb"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [dest]",
	Short: "Copy the run store to dest, or to the snapshot directory",
	Long: "Without dest the snapshot is written to snapshot-dir, uploaded when " +
		"snapshot-bucket-url is set and old snapshots are pruned.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().String("snapshot-dir", "", "directory receiving snapshots")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cleanupLogger, err := configureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		if err := store.SnapshotTo(args[0]); err != nil {
			return err
		}
		fmt.Println(args[0])
		return nil
	}

	bcfg := backupConfig(cfg)
	bcfg.Enabled = true
	m, err := backup.New(store, bcfg)
	if err != nil {
		return err
	}
	defer m.Stop()

	path, err := m.RunOnce(context.Background())
	if path != "" {
		fmt.Println(path)
	}
	return err
}
