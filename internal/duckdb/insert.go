package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// Insert buffer defaults.
const (
	DefaultBatchSize      = 2000
	DefaultFlushInterval  = 100 * time.Millisecond
	DefaultFlushQueueSize = 64
)

type journaledRow struct {
	seq uint64
	row *model.RunRow
}

type durableJournal interface {
	Append(row *model.RunRow) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches run rows and flushes them to the store from a
// background goroutine. Add never blocks on DuckDB writes unless the flush
// queue is full.
type InsertBuffer struct {
	writer        model.RowWriter
	mu            sync.Mutex
	pending       []journaledRow
	flushChan     chan []journaledRow
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	journal       durableJournal
	stopOnce      sync.Once

	// flushed counts rows handed to the writer successfully.
	flushed atomic.Int64

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        durableJournal
}

// NewInsertBuffer creates a buffer flushing to writer.
func NewInsertBuffer(writer model.RowWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var j durableJournal
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		j = conf[0].Journal
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledRow, 0, batchSize),
		flushChan:     make(chan []journaledRow, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		journal:       j,
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure warns at most once per 10 seconds when a batch had to be
// flushed inline.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		logrus.WithField("inline_flushes", count).Warn("duckdb: backpressure, flush queue full")
	}
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledRow, 0, b.maxBatch)
	b.mu.Unlock()

	b.enqueue(batch)
}

func (b *InsertBuffer) enqueue(batch []journaledRow) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			logrus.WithError(err).Error("duckdb: inline flush failed")
		}
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			logrus.WithError(err).Error("duckdb: flush failed")
		}
	}
}

// Add queues a row for batch insertion.
func (b *InsertBuffer) Add(row *model.RunRow) {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(row)
			if err == nil {
				break
			}
			logrus.WithError(err).Warn("duckdb: journal append failed, retrying")
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledRow{seq: seq, row: row})
	var batch []journaledRow
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]journaledRow, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch)
	}
}

// Flushed returns how many rows have been written so far.
func (b *InsertBuffer) Flushed() int64 {
	return b.flushed.Load()
}

// Stop flushes remaining rows and waits for all writes to complete. It is
// safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop's final drain must land before the queue closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				logrus.WithError(err).Warn("duckdb: journal close failed")
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledRow) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]*model.RunRow, 0, len(batch))
	for _, item := range batch {
		rows = append(rows, item.row)
	}
	if err := b.writer.InsertRowBatch(rows); err != nil {
		return err
	}
	b.flushed.Add(int64(len(rows)))

	if b.journal != nil {
		maxSeq := uint64(0)
		for _, item := range batch {
			if item.seq > maxSeq {
				maxSeq = item.seq
			}
		}
		if maxSeq > 0 {
			if err := b.journal.Commit(maxSeq); err != nil {
				return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
			}
		}
	}
	return nil
}

// InsertRowBatch writes rows in one transaction. When the batch fails it is
// retried row by row so one bad row does not drop its neighbours.
func (s *Store) InsertRowBatch(rows []*model.RunRow) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertRowsTx(ctx, rows); err == nil {
		return nil
	}

	var failed int
	for _, r := range rows {
		if rerr := s.insertRowsTx(ctx, []*model.RunRow{r}); rerr != nil {
			failed++
			logrus.WithError(rerr).WithFields(logrus.Fields{"run_id": r.RunID, "seq": r.Seq}).Warn("duckdb: dropping row")
		}
	}
	if failed > 0 {
		logrus.Warnf("duckdb: batch partially failed, %d/%d rows dropped", failed, len(rows))
	}
	return nil
}

func (s *Store) insertRowsTx(ctx context.Context, rows []*model.RunRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var eventStmt, cacheStmt, diagStmt *sql.Stmt
	prepare := func(stmt **sql.Stmt, query string) error {
		if *stmt != nil {
			return nil
		}
		p, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		*stmt = p
		return nil
	}
	defer func() {
		for _, st := range []*sql.Stmt{eventStmt, cacheStmt, diagStmt} {
			if st != nil {
				st.Close()
			}
		}
	}()

	for _, r := range rows {
		seq := int64(r.Seq)
		switch {
		case r.Event != nil:
			if err := prepare(&eventStmt, `INSERT INTO jit_events (run_id, seq, stamp_ms, kind, class_name, member_name, signature) VALUES (?, ?, ?, ?, ?, ?, ?)`); err != nil {
				return err
			}
			e := r.Event
			if _, err := eventStmt.ExecContext(ctx, r.RunID, seq, e.Stamp, e.Kind, e.ClassName, e.MemberName, e.Signature); err != nil {
				return fmt.Errorf("event insert: %w", err)
			}
		case r.CodeCache != nil:
			if err := prepare(&cacheStmt, `INSERT INTO code_cache_events (run_id, seq, kind, stamp_ms, native_code_size, free_code_cache) VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
				return err
			}
			c := r.CodeCache
			if _, err := cacheStmt.ExecContext(ctx, r.RunID, seq, c.Kind, c.Stamp, c.NativeCodeSize, c.FreeCodeCache); err != nil {
				return fmt.Errorf("code cache insert: %w", err)
			}
		case r.Diagnostic != nil:
			if err := prepare(&diagStmt, `INSERT INTO diagnostics (run_id, seq, severity, category, class_name, message, line) VALUES (?, ?, ?, ?, ?, ?, ?)`); err != nil {
				return err
			}
			d := r.Diagnostic
			if _, err := diagStmt.ExecContext(ctx, r.RunID, seq, d.Severity, d.Category, d.ClassName, d.Message, d.Line); err != nil {
				return fmt.Errorf("diagnostic insert: %w", err)
			}
		default:
			return fmt.Errorf("row %s/%d carries no payload", r.RunID, r.Seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
