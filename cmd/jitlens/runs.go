package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/jitlens/internal/duckdb"
	"github.com/tinytelemetry/jitlens/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntP("limit", "n", 20, "maximum runs to list")
	runsCmd.Flags().Bool("json", false, "output runs as JSON to stdout")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonFlag, _ := cmd.Flags().GetBool("json")

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

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}

	if jsonFlag {
		if runs == nil {
			runs = []model.RunSummary{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("no runs recorded in " + shortenPath(cfg.DBPath)))
		return nil
	}
	for _, r := range runs {
		status := greenStyle.Render("●")
		switch {
		case r.Fatal:
			status = redStyle.Render("●")
		case r.Stopped || r.CompletedAt.IsZero():
			status = yellowStyle.Render("●")
		}
		fmt.Printf("%s %s  %s  %6d events  %4d diagnostics  %s\n",
			status,
			cyanStyle.Render(r.RunID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Events,
			r.Diagnostics,
			dimStyle.Render(shortenPath(r.LogPath)),
		)
	}
	return nil
}
