package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/jitlens/internal/backup"
	"github.com/tinytelemetry/jitlens/internal/duckdb"
	"github.com/tinytelemetry/jitlens/internal/httpserver"
	"github.com/tinytelemetry/jitlens/internal/metrics"
	"github.com/tinytelemetry/jitlens/internal/pipeline"
	"github.com/tinytelemetry/jitlens/internal/watch"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve <log>",
	Short: "Correlate a log, serve the query API and optionally re-run on change",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	addEngineFlags(serveCmd)
	serveCmd.Flags().Bool("watch", false, "re-run the correlation when the log changes")
	serveCmd.Flags().Duration("watch-debounce", 0, "quiet period before a changed log is re-read")
	serveCmd.Flags().Bool("api-enabled", false, "serve the HTTP API")
	serveCmd.Flags().String("api-addr", "", "HTTP API listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logPath := args[0]
	watchLog, _ := cmd.Flags().GetBool("watch")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cleanupLogger, err := configureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()
	log := logrus.WithField("component", "serve")

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Start retention cleaner for automatic run expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
	})
	defer retentionCleaner.Stop()

	// Start periodic snapshots when enabled.
	backupManager, err := backup.NewManager(store, backupConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize snapshots: %w", err)
	}
	defer backupManager.Stop()

	m := metrics.New()
	opts := pipelineOptions(cfg)
	opts.Store = store
	opts.Metrics = m
	analyzer := pipeline.New(opts)
	defer analyzer.Close()

	if cfg.APIEnabled {
		gin.SetMode(gin.ReleaseMode)
		apiServer := httpserver.NewServer(cfg.APIAddr, store, httpserver.Options{
			Metrics:    m.Handler(),
			Middleware: []gin.HandlerFunc{m.GinMiddleware()},
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
		cfg.APIAddr = apiServer.Addr()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(shutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	res, err := analyzer.Run(ctx, logPath)
	if res == nil {
		return err
	}
	if err != nil {
		log.WithError(err).Error("serve: initial run was not fully persisted")
	}

	fmt.Println(startupBanner(cfg, logPath, res, watchLog))

	g, gctx := errgroup.WithContext(ctx)

	if watchLog {
		w, err := watch.New(logPath, cfg.WatchDebounce)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := w.Run(gctx, func(ctx context.Context) error {
				res, err := analyzer.Run(ctx, logPath)
				if res != nil {
					log.WithFields(logrus.Fields{
						"run_id":      res.Summary.RunID,
						"events":      res.Summary.Events,
						"diagnostics": res.Summary.Diagnostics,
					}).Info("serve: re-ran correlation")
				}
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("serve: errgroup exited with error")
		return err
	}
	return nil
}

func startupBanner(cfg appConfig, logPath string, res *pipeline.Result, watching bool) string {
	check := greenStyle.Render("●")
	dot := dimStyle.Render("●")
	warn := yellowStyle.Render("●")

	logo := cyanStyle.Bold(true).Render(`
       ╦╦╔╦╗╦  ╔═╗╔╗╔╔═╗
       ║║ ║ ║  ║╣ ║║║╚═╗
      ╚╝╩ ╩ ╩═╝╚═╝╝╚╝╚═╝`)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+dimStyle.Render("v"+version))
	lines = append(lines, "")

	separator := dimStyle.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    API"))
	lines = append(lines, "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyanStyle.Render(cfg.APIAddr)))
		lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", check, cyanStyle.Render(cfg.APIAddr+"/metrics")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dimStyle.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Analysis"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Log            %s", check, dimStyle.Render(shortenPath(logPath))))
	if watching {
		lines = append(lines, fmt.Sprintf("    %s  Watching       %s", check, dimStyle.Render(cfg.WatchDebounce.String()+" debounce")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Watching       %s", dot, dimStyle.Render("disabled")))
	}
	status := check
	if res.Summary.Fatal || res.Summary.Diagnostics > 0 {
		status = warn
	}
	lines = append(lines, fmt.Sprintf("    %s  Last run       %s", status, dimStyle.Render(fmt.Sprintf(
		"%d events, %d diagnostics", res.Summary.Events, res.Summary.Diagnostics))))
	if res.Summary.Fatal {
		lines = append(lines, fmt.Sprintf("    %s  Fatal          %s", warn, redStyle.Render(res.Summary.ErrorTitle)))
	}
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dimStyle.Render(shortenPath(cfg.DBPath))))
	if cfg.JournalEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", check, dimStyle.Render(shortenPath(cfg.JournalPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", dot, dimStyle.Render("disabled")))
	}
	if cfg.SnapshotEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dimStyle.Render(shortenPath(cfg.SnapshotDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dimStyle.Render("disabled")))
	}
	if cfg.RetentionDays > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dimStyle.Render(fmt.Sprintf("%d days", cfg.RetentionDays))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dimStyle.Render("keep all runs")))
	}
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dimStyle.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dimStyle.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dimStyle.Render("Press ")+yellowStyle.Render("Ctrl+C")+dimStyle.Render(" to stop"))
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}
