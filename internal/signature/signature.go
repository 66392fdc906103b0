// Package signature parses the method signatures written by the JIT
// compilation log into structured member references.
package signature

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned when the text does not follow either
	// supported signature form.
	ErrMalformed = errors.New("signature: malformed")

	// ErrUnsupported is returned for well-formed signatures that cannot be
	// mapped to a class file, such as members of hidden lambda classes.
	ErrUnsupported = errors.New("signature: unsupported")
)

// MemberSignature is a parsed method reference.
type MemberSignature struct {
	ClassName  string
	MemberName string
	ParamTypes []string
	ReturnType string
}

// String renders the signature as pkg.Class.name(params)return.
func (s MemberSignature) String() string {
	return fmt.Sprintf("%s.%s(%s)%s", s.ClassName, s.MemberName, strings.Join(s.ParamTypes, ","), s.ReturnType)
}

// Normalize converts internal class name separators to dots.
func Normalize(text string) string {
	return strings.ReplaceAll(text, "/", ".")
}

// Parse reads a log method signature. Two forms are accepted:
//
//	com.foo.Bar baz (I)V     HotSpot LogCompilation
//	com.foo.Bar.baz(I)V      compact form (J9, hand-written)
//
// Internal names with '/' separators are normalized first.
func Parse(text string) (*MemberSignature, error) {
	s := strings.TrimSpace(Normalize(text))
	if s == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrMalformed)
	}

	var className, memberName, desc string

	switch fields := strings.Fields(s); len(fields) {
	case 3:
		className, memberName, desc = fields[0], fields[1], fields[2]
	case 1:
		open := strings.IndexByte(s, '(')
		if open < 0 {
			return nil, fmt.Errorf("%w: no descriptor in %q", ErrMalformed, text)
		}
		head := s[:open]
		dot := strings.LastIndexByte(head, '.')
		if dot <= 0 || dot == len(head)-1 {
			return nil, fmt.Errorf("%w: no class or member name in %q", ErrMalformed, text)
		}
		className, memberName, desc = head[:dot], head[dot+1:], s[open:]
	default:
		return nil, fmt.Errorf("%w: unexpected token count in %q", ErrMalformed, text)
	}

	if IsHiddenClass(className) {
		return nil, fmt.Errorf("%w: hidden class %s", ErrUnsupported, className)
	}
	if strings.ContainsAny(memberName, "().;[") {
		return nil, fmt.Errorf("%w: invalid member name %q", ErrMalformed, memberName)
	}

	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return nil, err
	}

	return &MemberSignature{
		ClassName:  className,
		MemberName: memberName,
		ParamTypes: params,
		ReturnType: ret,
	}, nil
}

// IsHiddenClass reports whether name denotes a runtime-generated lambda
// class that has no class file of its own.
func IsHiddenClass(name string) bool {
	return strings.Contains(name, "$$Lambda")
}
