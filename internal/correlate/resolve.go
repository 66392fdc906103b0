package correlate

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/signature"
)

// ResolveKind classifies why a signature did not resolve.
type ResolveKind int

const (
	Malformed ResolveKind = iota
	Unsupported
	ClassUnavailable
	MemberNotFound
)

func (k ResolveKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Unsupported:
		return "unsupported"
	case ClassUnavailable:
		return "class_unavailable"
	case MemberNotFound:
		return "member_not_found"
	default:
		return "unknown"
	}
}

// ResolveError is returned by Resolver.FindMember.
type ResolveError struct {
	Kind      ResolveKind
	Signature string
	Line      int64
	Class     string
	Cause     error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q (line %d): %s", e.Signature, e.Line, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Cause }

// ClassLoader supplies class metadata on a registry miss.
type ClassLoader interface {
	Load(fqName string) (*model.ClassMetadata, error)
}

// Resolver maps log signatures to modeled members, materializing classes
// in the registry on first sight.
type Resolver struct {
	registry *model.Registry
	loader   ClassLoader
}

func NewResolver(registry *model.Registry, loader ClassLoader) *Resolver {
	return &Resolver{registry: registry, loader: loader}
}

// FindMember resolves text to a member by exact name, parameter types and
// return type. Failures are always *ResolveError.
func (r *Resolver) FindMember(text string, line int64) (*model.Member, error) {
	sig, err := signature.Parse(text)
	if err != nil {
		kind := Malformed
		if errors.Is(err, signature.ErrUnsupported) {
			kind = Unsupported
		}
		return nil, &ResolveError{Kind: kind, Signature: text, Line: line, Cause: err}
	}

	class, ok := r.registry.LookupClass(sig.ClassName)
	if !ok {
		meta, err := r.loader.Load(sig.ClassName)
		if err != nil {
			return nil, &ResolveError{Kind: ClassUnavailable, Signature: text, Line: line, Class: sig.ClassName, Cause: err}
		}
		class = r.registry.MaterializeClass(meta)
	}

	m := class.FindMember(sig.MemberName, sig.ParamTypes, sig.ReturnType)
	if m == nil {
		return nil, &ResolveError{Kind: MemberNotFound, Signature: text, Line: line, Class: sig.ClassName}
	}
	return m, nil
}
