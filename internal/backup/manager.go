package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	snapshotPrefix = "jitlens-"
	snapshotExt    = ".duckdb"
)

// Manager runs periodic local snapshots and optional remote uploads.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New validates cfg and returns a manager that has not started its loop.
// It returns nil when snapshots are disabled.
func New(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("backup: db-path is empty (in-memory store)")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("backup: snapshot-dir is required when snapshots are enabled")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create snapshot-dir: %w", err)
	}

	m := &Manager{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("component", "backup"),
		done:  make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if strings.TrimSpace(cfg.BucketURL) != "" {
		u, err := NewS3Uploader(m.ctx, S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			PathStyle:    cfg.S3PathStyle,
		})
		if err != nil {
			m.cancel()
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		m.uploader = u
	}
	return m, nil
}

// NewManager creates a manager, takes a startup snapshot and starts the
// periodic loop. It returns nil when snapshots are disabled.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	m, err := New(store, cfg)
	if m == nil || err != nil {
		return nil, err
	}

	// Startup snapshot to reduce recovery point after restarts.
	if _, err := m.RunOnce(m.ctx); err != nil {
		m.log.WithError(err).Warn("backup: startup snapshot failed")
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(m.ctx); err != nil {
				m.log.WithError(err).Warn("backup: periodic snapshot failed")
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce creates one local snapshot, uploads it when configured and prunes
// old local copies. It returns the snapshot path.
func (m *Manager) RunOnce(ctx context.Context) (string, error) {
	fileName := snapshotPrefix + time.Now().UTC().Format("20060102-150405.000000000") + snapshotExt
	localPath := filepath.Join(m.cfg.LocalDir, fileName)

	if err := m.store.SnapshotTo(localPath); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	m.log.WithField("path", localPath).Info("backup: created snapshot")

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return localPath, fmt.Errorf("upload: %w", err)
		}
		m.log.WithField("file", fileName).Info("backup: uploaded snapshot")
	}

	if err := pruneLocalSnapshots(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return localPath, fmt.Errorf("prune local snapshots: %w", err)
	}
	return localPath, nil
}

// Stop cancels any upload in flight and ends the periodic loop. It is safe
// on a nil manager.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}

func pruneLocalSnapshots(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(localDir, snapshotPrefix+"*"+snapshotExt))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// The timestamp is embedded in the name so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
