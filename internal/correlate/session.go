package correlate

import "github.com/tinytelemetry/jitlens/internal/model"

// session is the per-run mutable state of the engine.
type session struct {
	linesParsed      int64
	recordsProcessed int64

	// hasParseError is sticky for the run. errorTitle and errorBody hold
	// the most recent session-fatal failure.
	hasParseError bool
	errorTitle    string
	errorBody     string

	// inFlight is the member whose task record was seen last and whose
	// completion has not been finalized yet.
	inFlight *model.Member
}

func (s *session) setFatal(title, body string) {
	s.hasParseError = true
	s.errorTitle = title
	s.errorBody = body
}

// Reset returns the engine to the state of a freshly constructed one. It
// clears the model, the session counters and flags, the in-flight slot and
// the stop request, and discards the class loading context. Calling it
// twice is the same as calling it once.
func (e *Engine) Reset() {
	e.closeLoader()
	e.model.Reset()
	e.session = session{}
	e.resolver = nil
	e.stop.Store(false)
}

// Stop asks a running ProcessRun to end before the next record. It is safe
// to call from any goroutine.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// Stopped reports whether the current run was asked to stop.
func (e *Engine) Stopped() bool {
	return e.stop.Load()
}

// HasParseError reports whether a session-fatal failure occurred.
func (e *Engine) HasParseError() bool {
	return e.session.hasParseError
}

// ErrorDialog returns the title and body of the last session-fatal failure.
func (e *Engine) ErrorDialog() (title, body string) {
	return e.session.errorTitle, e.session.errorBody
}

// InFlight returns the member of the task being correlated, or nil.
func (e *Engine) InFlight() *model.Member {
	return e.session.inFlight
}

// SetLinesParsed records how many raw log lines produced the record stream.
func (e *Engine) SetLinesParsed(n int64) {
	e.session.linesParsed = n
}

func (e *Engine) LinesParsed() int64 { return e.session.linesParsed }

func (e *Engine) RecordsProcessed() int64 { return e.session.recordsProcessed }

// Model returns the model built by the current or last run.
func (e *Engine) Model() *model.JITModel {
	return e.model
}

func (e *Engine) closeLoader() {
	if e.loader == nil {
		return
	}
	if err := e.loader.Close(); err != nil {
		e.log.WithError(err).Warn("correlate: closing class loader")
	}
	e.loader = nil
}
