package pipeline

import (
	"sync"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// RowSink receives persisted rows, typically a duckdb.InsertBuffer.
type RowSink interface {
	Add(row *model.RunRow)
}

// RunRecorder is the listener that turns one run's notifications into
// numbered rows and keeps the user-facing diagnostics and log entries.
type RunRecorder struct {
	runID string
	sink  RowSink

	seq             uint64
	events          int
	codeCacheEvents int
	diagnostics     []model.Diagnostic
	logEntries      []string
	readStarted     bool
	readComplete    bool
}

// NewRunRecorder creates a recorder for runID. A nil sink keeps counts only.
func NewRunRecorder(runID string, sink RowSink) *RunRecorder {
	return &RunRecorder{runID: runID, sink: sink}
}

func (r *RunRecorder) HandleReadStart()    { r.readStarted = true }
func (r *RunRecorder) HandleReadComplete() { r.readComplete = true }

func (r *RunRecorder) HandleEvent(e model.Event) {
	r.events++
	row := model.NewEventRow(e)
	r.emit(&model.RunRow{Event: row}, &row.Seq)
}

func (r *RunRecorder) HandleCodeCacheEvent(e model.CodeCacheEvent) {
	r.codeCacheEvents++
	row := model.NewCodeCacheRow(e)
	r.emit(&model.RunRow{CodeCache: row}, &row.Seq)
}

func (r *RunRecorder) HandleDiagnostic(d model.Diagnostic) {
	r.diagnostics = append(r.diagnostics, d)
	row := model.NewDiagnosticRow(d)
	r.emit(&model.RunRow{Diagnostic: row}, &row.Seq)
}

func (r *RunRecorder) HandleLogEntry(entry string) {
	r.logEntries = append(r.logEntries, entry)
}

// emit numbers row in notification order and hands it to the sink.
func (r *RunRecorder) emit(row *model.RunRow, payloadSeq *uint64) {
	r.seq++
	row.RunID = r.runID
	row.Seq = r.seq
	*payloadSeq = r.seq
	if r.sink != nil {
		r.sink.Add(row)
	}
}

// Diagnostics returns the diagnostics seen so far in order.
func (r *RunRecorder) Diagnostics() []model.Diagnostic {
	return append([]model.Diagnostic(nil), r.diagnostics...)
}

// LogEntries returns the informational entries seen so far in order.
func (r *RunRecorder) LogEntries() []string {
	return append([]string(nil), r.logEntries...)
}

// forwarder lets the engine keep one listener while each run installs its
// own recorder.
type forwarder struct {
	mu     sync.RWMutex
	target model.Listener
}

func (f *forwarder) set(l model.Listener) {
	f.mu.Lock()
	f.target = l
	f.mu.Unlock()
}

func (f *forwarder) get() model.Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.target == nil {
		return model.NopListener{}
	}
	return f.target
}

func (f *forwarder) HandleReadStart()                            { f.get().HandleReadStart() }
func (f *forwarder) HandleReadComplete()                         { f.get().HandleReadComplete() }
func (f *forwarder) HandleEvent(e model.Event)                   { f.get().HandleEvent(e) }
func (f *forwarder) HandleCodeCacheEvent(e model.CodeCacheEvent) { f.get().HandleCodeCacheEvent(e) }
func (f *forwarder) HandleDiagnostic(d model.Diagnostic)         { f.get().HandleDiagnostic(d) }
func (f *forwarder) HandleLogEntry(entry string)                 { f.get().HandleLogEntry(entry) }
