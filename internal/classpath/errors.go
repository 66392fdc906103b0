package classpath

import "fmt"

// FailureKind classifies why a class could not be loaded.
type FailureKind int

const (
	// NotFound means no classpath entry holds the class.
	NotFound FailureKind = iota
	// MissingDependency means the class exists but its super class or an
	// interface cannot be found.
	MissingDependency
	// UnsupportedVersion means the class file is newer than the reader accepts.
	UnsupportedVersion
	// Structural covers malformed or inconsistent class files.
	Structural
)

func (k FailureKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case MissingDependency:
		return "missing_dependency"
	case UnsupportedVersion:
		return "unsupported_version"
	case Structural:
		return "structural"
	default:
		return "unknown"
	}
}

// LoadError is the only error type returned by Loader.Load.
type LoadError struct {
	Kind  FailureKind
	Class string

	// Missing names the absent dependency for MissingDependency.
	Missing string

	// Major, Minor and Max describe an UnsupportedVersion failure.
	Major uint16
	Minor uint16
	Max   uint16

	Cause error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("class %s not found", e.Class)
	case MissingDependency:
		return fmt.Sprintf("class %s is missing dependency %s", e.Class, e.Missing)
	case UnsupportedVersion:
		return fmt.Sprintf("class %s has version %d.%d, newer than supported %d", e.Class, e.Major, e.Minor, e.Max)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("class %s is malformed: %v", e.Class, e.Cause)
		}
		return fmt.Sprintf("class %s is malformed", e.Class)
	}
}

func (e *LoadError) Unwrap() error { return e.Cause }
