package model

// Listener receives synchronous notifications from the correlation engine.
// Calls happen in-line at the point the model is mutated, in log order.
type Listener interface {
	HandleReadStart()
	HandleReadComplete()
	HandleEvent(Event)
	HandleCodeCacheEvent(CodeCacheEvent)
	HandleDiagnostic(Diagnostic)
	HandleLogEntry(entry string)
}

// Listeners fans each notification out to every listener in order.
type Listeners []Listener

func (ls Listeners) HandleReadStart() {
	for _, l := range ls {
		l.HandleReadStart()
	}
}

func (ls Listeners) HandleReadComplete() {
	for _, l := range ls {
		l.HandleReadComplete()
	}
}

func (ls Listeners) HandleEvent(e Event) {
	for _, l := range ls {
		l.HandleEvent(e)
	}
}

func (ls Listeners) HandleCodeCacheEvent(e CodeCacheEvent) {
	for _, l := range ls {
		l.HandleCodeCacheEvent(e)
	}
}

func (ls Listeners) HandleDiagnostic(d Diagnostic) {
	for _, l := range ls {
		l.HandleDiagnostic(d)
	}
}

func (ls Listeners) HandleLogEntry(entry string) {
	for _, l := range ls {
		l.HandleLogEntry(entry)
	}
}

// NopListener ignores every notification. Embed it to implement only the
// callbacks you need.
type NopListener struct{}

func (NopListener) HandleReadStart()                    {}
func (NopListener) HandleReadComplete()                 {}
func (NopListener) HandleEvent(Event)                   {}
func (NopListener) HandleCodeCacheEvent(CodeCacheEvent) {}
func (NopListener) HandleDiagnostic(Diagnostic)         {}
func (NopListener) HandleLogEntry(string)               {}

// EventQueryOpts holds optional filters for event queries.
type EventQueryOpts struct {
	Kind  string // empty = all kinds
	Class string // empty = all classes
	Limit int    // <= 0 = store default
}

// RowWriter provides append-oriented writes of run rows.
type RowWriter interface {
	InsertRowBatch(rows []*RunRow) error
}

// RunWriter persists one correlation run.
type RunWriter interface {
	RowWriter
	BeginRun(summary *RunSummary) error
	FinishRun(summary *RunSummary) error
	SaveClassStats(runID string, rows []ClassStatRow) error
}

// RunQuerier provides read-only queries on persisted runs.
type RunQuerier interface {
	ListRuns(limit int) ([]RunSummary, error)
	LatestRun() (*RunSummary, error)
	Run(runID string) (*RunSummary, error)
	RunEvents(runID string, opts EventQueryOpts) ([]EventRow, error)
	RunCodeCacheEvents(runID string, limit int) ([]CodeCacheRow, error)
	RunDiagnostics(runID string, limit int) ([]DiagnosticRow, error)
	RunClassStats(runID string, limit int) ([]ClassStatRow, error)
	EventCountsByKind(runID string) (map[string]int64, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// ReadAPI is the unified read contract for the HTTP API.
type ReadAPI interface {
	RunQuerier
	SchemaQuerier
}
