// Package pipeline drives one correlation run end to end: read the log,
// recover the classpath from class-load lines, run the engine and persist
// what it produced.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/classpath"
	"github.com/tinytelemetry/jitlens/internal/correlate"
	"github.com/tinytelemetry/jitlens/internal/duckdb"
	"github.com/tinytelemetry/jitlens/internal/journal"
	"github.com/tinytelemetry/jitlens/internal/logparse"
	"github.com/tinytelemetry/jitlens/internal/metrics"
	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/timestamp"
)

// Options configures an Analyzer.
type Options struct {
	Engine correlate.Options

	// Store persists runs when set.
	Store model.RunWriter
	// Buffer tunes the insert buffer used with Store.
	Buffer duckdb.InsertBufferConfig
	// JournalPath enables a write-ahead journal for rows headed to Store.
	JournalPath string

	Metrics *metrics.Metrics
	// Listener receives every engine notification after the recorder.
	Listener model.Listener
	Logger   logrus.FieldLogger
}

// Result is the outcome of one run. Model stays valid until the next Run
// or Close.
type Result struct {
	Summary     model.RunSummary
	Diagnostics []model.Diagnostic
	LogEntries  []string
	Warnings    []string
	Classes     []model.ClassStatRow
	Stats       model.Stats
	Model       *model.JITModel
}

// Analyzer owns one engine and runs logs through it one at a time.
type Analyzer struct {
	opts    Options
	log     logrus.FieldLogger
	engine  *correlate.Engine
	forward *forwarder

	mu sync.Mutex
}

// New creates an Analyzer.
func New(opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}

	fwd := &forwarder{}
	listeners := model.Listeners{fwd}
	if opts.Metrics != nil {
		listeners = append(listeners, opts.Metrics.Listener())
	}
	if opts.Listener != nil {
		listeners = append(listeners, opts.Listener)
	}

	return &Analyzer{
		opts:    opts,
		log:     opts.Logger.WithField("component", "pipeline"),
		engine:  correlate.NewEngine(listeners, opts.Engine),
		forward: fwd,
	}
}

// Stop asks a run in progress to end before its next record.
func (a *Analyzer) Stop() {
	a.engine.Stop()
}

// Close releases the class loader held since the last run.
func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Reset()
}

// Run correlates the log at path. Cancelling ctx stops the run between
// records; the partial result is still returned and persisted. When
// persisting fails the in-memory result is returned with the error.
func (a *Analyzer) Run(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	parsed, err := logparse.ReadFile(path)
	if err != nil {
		a.recordFailure()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	summary := model.RunSummary{
		RunID:     uuid.NewString(),
		LogPath:   path,
		StartedAt: start,
		VMCommand: parsed.VMCommand,
	}
	runLog := a.log.WithField("run_id", summary.RunID)

	var buf *duckdb.InsertBuffer
	var sink RowSink
	if a.opts.Store != nil {
		if buf, err = a.openBuffer(&summary); err != nil {
			a.recordFailure()
			return nil, err
		}
		sink = buf
	}

	rec := NewRunRecorder(summary.RunID, sink)
	a.forward.set(rec)
	defer a.forward.set(nil)

	a.engine.Reset()
	a.engine.SetLinesParsed(parsed.Lines)
	a.engine.Model().SetVMCommand(parsed.VMCommand)

	locations := discoverClasspath(parsed.ClassLoadLines, rec)

	stopOnCancel := context.AfterFunc(ctx, a.engine.Stop)
	a.engine.ProcessRun(parsed.Tags, locations)
	stopOnCancel()

	total := int64(len(parsed.Tags))
	res := &Result{
		Warnings: parsed.Warnings,
		Model:    a.engine.Model(),
		Stats:    a.engine.Model().Stats(),
	}
	// The tag tree is no longer needed once members hold their records.
	parsed = nil

	for _, c := range res.Model.Registry().Classes() {
		res.Classes = append(res.Classes, model.NewClassStatRow(c))
	}

	summary.CompletedAt = time.Now()
	summary.RecordsProcessed = a.engine.RecordsProcessed()
	summary.Events = rec.events
	summary.CodeCacheEvents = rec.codeCacheEvents
	summary.Diagnostics = len(rec.diagnostics)
	summary.Classes = len(res.Classes)
	summary.NativeBytes = res.Model.NativeBytes()
	summary.Fatal = a.engine.HasParseError()
	summary.ErrorTitle, summary.ErrorBody = a.engine.ErrorDialog()
	summary.Stopped = a.engine.Stopped() && summary.RecordsProcessed < total

	res.Summary = summary
	res.Diagnostics = rec.Diagnostics()
	res.LogEntries = rec.LogEntries()

	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordRun(&summary, time.Since(start))
	}

	var persistErr error
	if buf != nil {
		persistErr = a.persist(buf, &res.Summary, res.Classes)
	}

	runLog.WithFields(logrus.Fields{
		"records":     summary.RecordsProcessed,
		"events":      summary.Events,
		"diagnostics": summary.Diagnostics,
		"fatal":       summary.Fatal,
		"elapsed":     time.Since(start).String(),
	}).Info("pipeline: run complete")

	return res, persistErr
}

// openBuffer records the run start and returns an insert buffer for its
// rows. With a journal configured, rows left over from an interrupted run
// are written first.
func (a *Analyzer) openBuffer(summary *model.RunSummary) (*duckdb.InsertBuffer, error) {
	cfg := a.opts.Buffer
	var j *journal.Journal
	if a.opts.JournalPath != "" {
		var err error
		if j, err = journal.Open(a.opts.JournalPath); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		n, err := ReplayJournal(j, a.opts.Store)
		if err != nil {
			j.Close()
			return nil, fmt.Errorf("pipeline: replay journal: %w", err)
		}
		if n > 0 {
			a.log.WithField("rows", n).Warn("pipeline: recovered rows from an interrupted run")
		}
		cfg.Journal = j
	}

	if err := a.opts.Store.BeginRun(summary); err != nil {
		if j != nil {
			j.Close()
		}
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return duckdb.NewInsertBuffer(a.opts.Store, cfg), nil
}

// persist drains buf and writes the class stats and final summary.
func (a *Analyzer) persist(buf *duckdb.InsertBuffer, summary *model.RunSummary, classes []model.ClassStatRow) error {
	buf.Stop()
	if err := a.opts.Store.SaveClassStats(summary.RunID, classes); err != nil {
		return fmt.Errorf("pipeline: save class stats: %w", err)
	}
	if err := a.opts.Store.FinishRun(summary); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func (a *Analyzer) recordFailure() {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordRunFailure()
	}
}

// ReplayJournal writes every uncommitted journal row to w and commits them.
// It returns the number of rows replayed.
func ReplayJournal(j *journal.Journal, w model.RowWriter) (int, error) {
	var rows []*model.RunRow
	var last uint64
	err := j.Replay(func(seq uint64, row *model.RunRow) error {
		r := *row
		rows = append(rows, &r)
		last = seq
		return nil
	})
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	if err := w.InsertRowBatch(rows); err != nil {
		return 0, err
	}
	return len(rows), j.Commit(last)
}

// discoverClasspath collects the locations named by class-load lines and
// notes the uptime window they cover.
func discoverClasspath(lines []string, l model.Listener) []string {
	cp := classpath.NewParsedClasspath()
	stamps := timestamp.NewParser()

	var first, last int64
	seen := false
	for _, line := range lines {
		if r := stamps.ParseFromText(line); r.Found {
			if !seen {
				first = r.Millis
				seen = true
			}
			last = r.Millis
		}
		cp.AddFromTraceLine(line)
	}

	locations := cp.Locations()
	if len(lines) > 0 {
		entry := fmt.Sprintf("Read %d class-load lines naming %d locations", len(lines), len(locations))
		if seen {
			entry += fmt.Sprintf(" between %ss and %ss", timestamp.FormatStamp(first), timestamp.FormatStamp(last))
		}
		l.HandleLogEntry(entry)
	}
	return locations
}
