package model

import "time"

// Shared defaults used by the CLI and the pipeline.
const (
	// DefaultMaxClassVersion is the newest class file major version the
	// resolver reads (Java 25).
	DefaultMaxClassVersion = 69
	DefaultQueryLimit      = 1000
	DefaultWatchDebounce   = 500 * time.Millisecond
)
