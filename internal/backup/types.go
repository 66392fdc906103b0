// Package backup takes periodic snapshots of the run store and optionally
// uploads them to S3.
package backup

import (
	"context"
	"time"
)

// Config controls periodic run store snapshots.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3PathStyle    bool
}

// Snapshotter is the minimal store contract used by Manager.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}

// Uploader uploads one snapshot file.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
