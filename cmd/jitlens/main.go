package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:   "jitlens",
	Short: "Correlate JIT compilation logs with the classes they compiled",
	Long: "jitlens reads a HotSpot LogCompilation log, resolves every compiled method " +
		"against the application's class files and records the results for querying.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/jitlens/config.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text or json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file, - for stderr")
	rootCmd.PersistentFlags().String("db-path", "", "DuckDB database path")
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", exit.msg)
		}
		return exit.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
