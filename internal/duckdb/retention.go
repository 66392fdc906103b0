package duckdb

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRetentionInterval is how often expired runs are purged.
const DefaultRetentionInterval = time.Hour

// RetentionConfig holds configuration for the run retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// RetentionCleaner periodically deletes runs older than the retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	log           logrus.FieldLogger
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner starts a cleaner that purges expired runs once at
// startup and then on every interval. It returns nil when retention is
// disabled (RetentionDays <= 0).
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.RetentionDays <= 0 {
		return nil
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: conf.RetentionDays,
		interval:      interval,
		log:           logrus.WithField("component", "retention"),
		done:          make(chan struct{}),
	}

	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	n, err := rc.store.DeleteRunsBefore(cutoff)
	if err != nil {
		rc.log.WithError(err).Error("duckdb: retention cleanup failed")
		return
	}
	if n > 0 {
		rc.log.Infof("duckdb: retention cleanup deleted %d runs older than %d days", n, rc.retentionDays)
	}
}

// Stop signals the cleaner to stop and waits for it to finish. A nil
// cleaner is a no-op.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
