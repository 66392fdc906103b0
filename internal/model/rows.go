package model

import "time"

// RunRow is one persisted artifact of a run. Exactly one of Event,
// CodeCache and Diagnostic is set.
type RunRow struct {
	RunID      string         `json:"run_id"`
	Seq        uint64         `json:"seq"`
	Event      *EventRow      `json:"event,omitempty"`
	CodeCache  *CodeCacheRow  `json:"code_cache,omitempty"`
	Diagnostic *DiagnosticRow `json:"diagnostic,omitempty"`
}

// EventRow is the flattened, storable form of an Event.
type EventRow struct {
	Seq        uint64 `json:"seq"`
	Stamp      int64  `json:"stamp_ms"`
	Kind       string `json:"kind"`
	ClassName  string `json:"class_name"`
	MemberName string `json:"member_name"`
	Signature  string `json:"signature"`
}

// CodeCacheRow is the storable form of a CodeCacheEvent.
type CodeCacheRow struct {
	Seq            uint64 `json:"seq"`
	Kind           string `json:"kind"`
	Stamp          int64  `json:"stamp_ms"`
	NativeCodeSize int64  `json:"native_code_size"`
	FreeCodeCache  int64  `json:"free_code_cache"`
}

// DiagnosticRow is the storable form of a Diagnostic.
type DiagnosticRow struct {
	Seq       uint64 `json:"seq"`
	Severity  string `json:"severity"`
	Category  string `json:"category"`
	ClassName string `json:"class_name"`
	Message   string `json:"message"`
	Line      int64  `json:"line"`
}

// ClassStatRow summarizes one modeled class at the end of a run.
type ClassStatRow struct {
	ClassName       string `json:"class_name" yaml:"class_name"`
	PackageName     string `json:"package_name" yaml:"package_name"`
	SuperName       string `json:"super_name,omitempty" yaml:"super_name,omitempty"`
	MajorVersion    uint16 `json:"major_version" yaml:"major_version"`
	Members         int    `json:"members" yaml:"members"`
	CompiledMethods int    `json:"compiled_methods" yaml:"compiled_methods"`
}

// RunSummary describes one correlation run.
type RunSummary struct {
	RunID            string    `json:"run_id" yaml:"run_id"`
	LogPath          string    `json:"log_path" yaml:"log_path"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt      time.Time `json:"completed_at" yaml:"completed_at"`
	VMCommand        string    `json:"vm_command,omitempty" yaml:"vm_command,omitempty"`
	RecordsProcessed int64     `json:"records_processed" yaml:"records_processed"`
	Events           int       `json:"events" yaml:"events"`
	CodeCacheEvents  int       `json:"code_cache_events" yaml:"code_cache_events"`
	Diagnostics      int       `json:"diagnostics" yaml:"diagnostics"`
	Classes          int       `json:"classes" yaml:"classes"`
	NativeBytes      int64     `json:"native_bytes" yaml:"native_bytes"`
	Fatal            bool      `json:"fatal" yaml:"fatal"`
	ErrorTitle       string    `json:"error_title,omitempty" yaml:"error_title,omitempty"`
	ErrorBody        string    `json:"error_body,omitempty" yaml:"error_body,omitempty"`
	Stopped          bool      `json:"stopped" yaml:"stopped"`
}

// NewEventRow flattens e.
func NewEventRow(e Event) *EventRow {
	row := &EventRow{
		Stamp: e.Stamp,
		Kind:  e.Type.String(),
	}
	if e.Member != nil {
		row.MemberName = e.Member.Name()
		row.Signature = e.Member.Signature()
		if c := e.Member.MetaClass(); c != nil {
			row.ClassName = c.FullyQualifiedName()
		}
	}
	return row
}

// NewCodeCacheRow flattens e.
func NewCodeCacheRow(e CodeCacheEvent) *CodeCacheRow {
	return &CodeCacheRow{
		Kind:           e.Type.String(),
		Stamp:          e.Stamp,
		NativeCodeSize: e.NativeCodeSize,
		FreeCodeCache:  e.FreeCodeCache,
	}
}

// NewDiagnosticRow flattens d.
func NewDiagnosticRow(d Diagnostic) *DiagnosticRow {
	return &DiagnosticRow{
		Severity:  d.Severity.String(),
		Category:  d.Category,
		ClassName: d.Class,
		Message:   d.Message,
		Line:      d.Line,
	}
}

// NewClassStatRow summarizes c.
func NewClassStatRow(c *MetaClass) ClassStatRow {
	return ClassStatRow{
		ClassName:       c.FullyQualifiedName(),
		PackageName:     c.PackageName(),
		SuperName:       c.SuperName(),
		MajorVersion:    c.MajorVersion(),
		Members:         len(c.Members()),
		CompiledMethods: c.CompiledMethodCount(),
	}
}
