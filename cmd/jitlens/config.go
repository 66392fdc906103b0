package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/jitlens/internal/backup"
	"github.com/tinytelemetry/jitlens/internal/correlate"
	"github.com/tinytelemetry/jitlens/internal/duckdb"
	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/pipeline"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultQueryTimeout        = 30 * time.Second
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultRetentionDays       = 0 // 0 = keep every run
	defaultSnapshotInterval    = 6 * time.Hour
	defaultSnapshotKeepLast    = 24
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Classpath           []string      `mapstructure:"classpath"`
	JavaHome            string        `mapstructure:"java-home"`
	MaxClassVersion     uint16        `mapstructure:"max-class-version"`
	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	APIEnabled          bool          `mapstructure:"api-enabled"`
	APIPort             int           `mapstructure:"api-port"`
	APIAddr             string        `mapstructure:"api-addr"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	WatchDebounce       time.Duration `mapstructure:"watch-debounce"`
	RetentionDays       int           `mapstructure:"retention-days"`
	SnapshotEnabled     bool          `mapstructure:"snapshot-enabled"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot-interval"`
	SnapshotDir         string        `mapstructure:"snapshot-dir"`
	SnapshotKeepLast    int           `mapstructure:"snapshot-keep-last"`
	SnapshotBucketURL   string        `mapstructure:"snapshot-bucket-url"`
	S3Endpoint          string        `mapstructure:"snapshot-s3-endpoint"`
	S3Region            string        `mapstructure:"snapshot-s3-region"`
	S3AccessKey         string        `mapstructure:"snapshot-s3-access-key"`
	S3SecretKey         string        `mapstructure:"snapshot-s3-secret-key"`
	S3SessionToken      string        `mapstructure:"snapshot-s3-session-token"`
	S3PathStyle         bool          `mapstructure:"snapshot-s3-path-style"`
	LogLevel            string        `mapstructure:"log-level"`
	LogFormat           string        `mapstructure:"log-format"`
	LogFile             string        `mapstructure:"log-file"`
	ConfigPath          string        `mapstructure:"-"` // not from config file
}

// flagKeys are the command-line flags that override config keys of the
// same name when set.
var flagKeys = []string{
	"classpath", "java-home", "max-class-version", "db-path",
	"api-enabled", "api-addr", "watch-debounce", "snapshot-dir",
	"log-level", "log-format", "log-file",
}

// loadConfig merges defaults, the config file, JITLENS_* environment
// variables and the flags of cmd, in increasing priority.
func loadConfig(cmd *cobra.Command) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("JITLENS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("classpath", []string{})
	v.SetDefault("java-home", "")
	v.SetDefault("max-class-version", model.DefaultMaxClassVersion)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "jitlens", "jitlens.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("journal-enabled", false)
	v.SetDefault("journal-path", filepath.Join(home, ".local", "share", "jitlens", "rows.journal"))
	v.SetDefault("watch-debounce", model.DefaultWatchDebounce)
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("snapshot-enabled", false)
	v.SetDefault("snapshot-interval", defaultSnapshotInterval)
	v.SetDefault("snapshot-dir", filepath.Join(home, ".local", "share", "jitlens", "snapshots"))
	v.SetDefault("snapshot-keep-last", defaultSnapshotKeepLast)
	v.SetDefault("snapshot-bucket-url", "")
	v.SetDefault("snapshot-s3-endpoint", "")
	v.SetDefault("snapshot-s3-region", "")
	v.SetDefault("snapshot-s3-access-key", "")
	v.SetDefault("snapshot-s3-secret-key", "")
	v.SetDefault("snapshot-s3-session-token", "")
	v.SetDefault("snapshot-s3-path-style", false)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("log-file", filepath.Join(home, ".local", "state", "jitlens", "jitlens.log"))

	for _, key := range flagKeys {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return cfg, fmt.Errorf("binding flag %s: %w", key, err)
			}
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "jitlens", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}
	if cfg.RetentionDays < 0 {
		return cfg, fmt.Errorf("invalid retention-days: %d", cfg.RetentionDays)
	}

	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.JournalPath = expandHome(cfg.JournalPath, home)
	cfg.SnapshotDir = expandHome(cfg.SnapshotDir, home)
	cfg.JavaHome = expandHome(cfg.JavaHome, home)
	if cfg.LogFile != "-" {
		cfg.LogFile = expandHome(cfg.LogFile, home)
	}
	for i, entry := range cfg.Classpath {
		cfg.Classpath[i] = expandHome(entry, home)
	}

	return cfg, nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// pipelineOptions builds analyzer options from cfg. Store and metrics are
// wired by the caller.
func pipelineOptions(cfg appConfig) pipeline.Options {
	opts := pipeline.Options{
		Engine: correlate.Options{
			Classpath:       cfg.Classpath,
			JavaHome:        cfg.JavaHome,
			MaxClassVersion: cfg.MaxClassVersion,
		},
		Buffer: duckdb.InsertBufferConfig{
			BatchSize:      cfg.InsertBatchSize,
			FlushInterval:  cfg.InsertFlushInterval,
			FlushQueueSize: cfg.InsertFlushQueue,
		},
		Logger: logrus.StandardLogger(),
	}
	if cfg.JournalEnabled {
		opts.JournalPath = cfg.JournalPath
	}
	return opts
}

// backupConfig maps the snapshot keys onto a backup.Config.
func backupConfig(cfg appConfig) backup.Config {
	return backup.Config{
		Enabled:        cfg.SnapshotEnabled,
		Interval:       cfg.SnapshotInterval,
		LocalDir:       cfg.SnapshotDir,
		KeepLast:       cfg.SnapshotKeepLast,
		BucketURL:      cfg.SnapshotBucketURL,
		S3Endpoint:     cfg.S3Endpoint,
		S3Region:       cfg.S3Region,
		S3AccessKey:    cfg.S3AccessKey,
		S3SecretKey:    cfg.S3SecretKey,
		S3SessionToken: cfg.S3SessionToken,
		S3PathStyle:    cfg.S3PathStyle,
	}
}

// configureLogger points the standard logrus logger at the configured
// level, format and file. The returned func closes the file.
func configureLogger(cfg appConfig) (func(), error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return func() {}, fmt.Errorf("invalid log-level: %w", err)
	}
	logrus.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return func() {}, fmt.Errorf("invalid log-format %q (want text or json)", cfg.LogFormat)
	}

	if cfg.LogFile == "" || cfg.LogFile == "-" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}

	logrus.SetOutput(f)
	return func() {
		logrus.SetOutput(io.Discard)
		_ = f.Close()
	}, nil
}
