package signature

import (
	"fmt"
	"strings"
)

var primitiveTypes = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
}

// ParseMethodDescriptor decodes a JVM method descriptor such as
// "(I[Ljava/lang/String;)V" into canonical parameter and return type names.
// Class names may use either '/' or '.' as the package separator.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: descriptor %q must start with '('", ErrMalformed, desc)
	}

	pos := 1
	params = []string{}
	for {
		if pos >= len(desc) {
			return nil, "", fmt.Errorf("%w: descriptor %q has no ')'", ErrMalformed, desc)
		}
		if desc[pos] == ')' {
			pos++
			break
		}
		t, next, perr := parseFieldType(desc, pos)
		if perr != nil {
			return nil, "", perr
		}
		params = append(params, t)
		pos = next
	}

	if pos >= len(desc) {
		return nil, "", fmt.Errorf("%w: descriptor %q has no return type", ErrMalformed, desc)
	}
	if desc[pos] == 'V' {
		ret, pos = "void", pos+1
	} else {
		ret, pos, err = parseFieldType(desc, pos)
		if err != nil {
			return nil, "", err
		}
	}
	if pos != len(desc) {
		return nil, "", fmt.Errorf("%w: trailing characters in descriptor %q", ErrMalformed, desc)
	}
	return params, ret, nil
}

func parseFieldType(desc string, pos int) (string, int, error) {
	dims := 0
	for pos < len(desc) && desc[pos] == '[' {
		dims++
		pos++
	}
	if pos >= len(desc) {
		return "", pos, fmt.Errorf("%w: truncated type in descriptor %q", ErrMalformed, desc)
	}

	var base string
	c := desc[pos]
	switch {
	case c == 'L':
		end := strings.IndexByte(desc[pos:], ';')
		if end < 2 {
			return "", pos, fmt.Errorf("%w: unterminated class type in descriptor %q", ErrMalformed, desc)
		}
		base = strings.ReplaceAll(desc[pos+1:pos+end], "/", ".")
		pos += end + 1
	case primitiveTypes[c] != "":
		base = primitiveTypes[c]
		pos++
	default:
		return "", pos, fmt.Errorf("%w: unknown type %q in descriptor %q", ErrMalformed, c, desc)
	}

	return base + strings.Repeat("[]", dims), pos, nil
}
