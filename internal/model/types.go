package model

import "fmt"

// EventType classifies one correlated JIT event.
type EventType int

const (
	EventQueued EventType = iota
	EventCompiledC1
	EventCompiledC2
	EventCompiledC2N
	EventCompiledJ9
	EventTaskStarted
)

var eventTypeNames = [...]string{
	EventQueued:      "queued",
	EventCompiledC1:  "compiled_c1",
	EventCompiledC2:  "compiled_c2",
	EventCompiledC2N: "compiled_c2n",
	EventCompiledJ9:  "compiled_j9",
	EventTaskStarted: "task_started",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// IsCompilation reports whether t marks a finished compilation.
func (t EventType) IsCompilation() bool {
	switch t {
	case EventCompiledC1, EventCompiledC2, EventCompiledC2N, EventCompiledJ9:
		return true
	}
	return false
}

// ParseEventType maps a name produced by String back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for i, n := range eventTypeNames {
		if n == name {
			return EventType(i), true
		}
	}
	return 0, false
}

// Event is one correlated JIT event. Stamp is milliseconds since VM start
// as written by the log; events keep log order.
type Event struct {
	Stamp  int64
	Type   EventType
	Member *Member
}

// CodeCacheEventType classifies a code cache bookkeeping entry.
type CodeCacheEventType int

const (
	CodeCacheCompilation CodeCacheEventType = iota
	CodeCacheSweeper
	CodeCacheFull
)

func (t CodeCacheEventType) String() string {
	switch t {
	case CodeCacheCompilation:
		return "compilation"
	case CodeCacheSweeper:
		return "sweeper"
	case CodeCacheFull:
		return "cache_full"
	default:
		return fmt.Sprintf("code_cache(%d)", int(t))
	}
}

// CodeCacheEvent records native code size and free cache space at a point
// in the run. Cache status markers carry zero sizes.
type CodeCacheEvent struct {
	Type           CodeCacheEventType
	Stamp          int64
	NativeCodeSize int64
	FreeCodeCache  int64
}

// Severity of a diagnostic produced while correlating a run.
type Severity int

const (
	SeverityRecoverable Severity = iota
	SeverityFatal
	SeverityStructural
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	case SeverityStructural:
		return "structural"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Diagnostic categories.
const (
	DiagUnresolvedSignature = "unresolved_signature"
	DiagClassNotFound       = "class_not_found"
	DiagMissingDependency   = "missing_dependency"
	DiagUnsupportedVersion  = "unsupported_class_version"
	DiagClassStructure      = "class_structure"
	DiagMissingCompiler     = "missing_compiler"
	DiagUnexpectedCompiler  = "unexpected_compiler"
	DiagMissingCompileID    = "missing_compile_id"
	DiagMissingTaskDone     = "missing_task_done"
	DiagUnexpectedParent    = "unexpected_parent"
)

// Diagnostic is a user-facing report of a record that could not be fully
// correlated. Processing always continues after one is emitted.
type Diagnostic struct {
	Severity Severity
	Category string
	Class    string
	Message  string
	Line     int64
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s", d.Category, d.Line, d.Message)
	}
	return fmt.Sprintf("[%s] %s", d.Category, d.Message)
}
