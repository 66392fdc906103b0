package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/jitlens/internal/duckdb"
	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/pipeline"
)

// exitFatal is the exit code of a run that hit a session-fatal condition.
const exitFatal = 2

var parseCmd = &cobra.Command{
	Use:   "parse <log>",
	Short: "Correlate one compilation log and print a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	addEngineFlags(parseCmd)
	parseCmd.Flags().StringP("format", "f", "text", "output format (text, json or yaml)")
	parseCmd.Flags().Bool("no-store", false, "do not persist the run")
	rootCmd.AddCommand(parseCmd)
}

// addEngineFlags registers the flags that tune class resolution.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("classpath", nil, "class directories or jars searched before those found in the log")
	cmd.Flags().String("java-home", "", "JDK home whose jmods are searched last")
	cmd.Flags().Uint16("max-class-version", 0, "newest class file major version to read")
}

func runParse(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format %q (want text, json or yaml)", format)
	}
	noStore, _ := cmd.Flags().GetBool("no-store")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cleanupLogger, err := configureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	opts := pipelineOptions(cfg)
	if !noStore {
		store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}

	analyzer := pipeline.New(opts)
	defer analyzer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := analyzer.Run(ctx, args[0])
	if res == nil {
		return err
	}
	if err != nil {
		logrus.WithError(err).Error("parse: run was not fully persisted")
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := writeReport(os.Stdout, format, res); err != nil {
		return err
	}

	if res.Summary.Fatal {
		return &exitError{code: exitFatal}
	}
	return nil
}

func writeReport(w io.Writer, format string, res *pipeline.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newReport(res))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(newReport(res))
	default:
		_, err := io.WriteString(w, renderText(res))
		return err
	}
}

// report is the structured form of a run for json and yaml output.
type report struct {
	Summary     model.RunSummary     `json:"summary" yaml:"summary"`
	Stats       statsReport          `json:"stats" yaml:"stats"`
	Diagnostics []diagnosticReport   `json:"diagnostics" yaml:"diagnostics"`
	Classes     []model.ClassStatRow `json:"classes" yaml:"classes"`
	LogEntries  []string             `json:"log_entries" yaml:"log_entries"`
	Warnings    []string             `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type statsReport struct {
	Compiled          int    `json:"compiled" yaml:"compiled"`
	CompiledC1        int    `json:"compiled_c1" yaml:"compiled_c1"`
	CompiledC2        int    `json:"compiled_c2" yaml:"compiled_c2"`
	CompiledC2N       int    `json:"compiled_c2n" yaml:"compiled_c2n"`
	CompiledJ9        int    `json:"compiled_j9" yaml:"compiled_j9"`
	TotalBytecodeSize int64  `json:"total_bytecode_size" yaml:"total_bytecode_size"`
	LargestBytecode   string `json:"largest_bytecode,omitempty" yaml:"largest_bytecode,omitempty"`
	TotalNativeSize   int64  `json:"total_native_size" yaml:"total_native_size"`
	LargestNative     string `json:"largest_native,omitempty" yaml:"largest_native,omitempty"`
	TotalCompileMs    int64  `json:"total_compile_ms" yaml:"total_compile_ms"`
	SlowestCompile    string `json:"slowest_compile,omitempty" yaml:"slowest_compile,omitempty"`
}

type diagnosticReport struct {
	Severity string `json:"severity" yaml:"severity"`
	Category string `json:"category" yaml:"category"`
	Class    string `json:"class,omitempty" yaml:"class,omitempty"`
	Message  string `json:"message" yaml:"message"`
	Line     int64  `json:"line,omitempty" yaml:"line,omitempty"`
}

func newReport(res *pipeline.Result) report {
	r := report{
		Summary:     res.Summary,
		Stats:       newStatsReport(res.Stats),
		Diagnostics: make([]diagnosticReport, 0, len(res.Diagnostics)),
		Classes:     res.Classes,
		LogEntries:  res.LogEntries,
		Warnings:    res.Warnings,
	}
	if r.Classes == nil {
		r.Classes = []model.ClassStatRow{}
	}
	for _, d := range res.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, diagnosticReport{
			Severity: d.Severity.String(),
			Category: d.Category,
			Class:    d.Class,
			Message:  d.Message,
			Line:     d.Line,
		})
	}
	return r
}

func newStatsReport(s model.Stats) statsReport {
	return statsReport{
		Compiled:          s.CompiledCount(),
		CompiledC1:        s.CountC1,
		CompiledC2:        s.CountC2,
		CompiledC2N:       s.CountC2N,
		CompiledJ9:        s.CountJ9,
		TotalBytecodeSize: s.TotalBytecodeSize,
		LargestBytecode:   signatureOf(s.MaxBytecodeMember),
		TotalNativeSize:   s.TotalNativeSize,
		LargestNative:     signatureOf(s.MaxNativeMember),
		TotalCompileMs:    s.TotalCompileTime,
		SlowestCompile:    signatureOf(s.MaxCompileMember),
	}
}

func signatureOf(m *model.Member) string {
	if m == nil {
		return ""
	}
	return m.Signature()
}
