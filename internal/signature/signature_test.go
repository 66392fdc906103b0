package signature

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse_Forms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  MemberSignature
	}{
		{
			name:  "hotspot internal names",
			input: "com/foo/Bar baz (I)V",
			want:  MemberSignature{ClassName: "com.foo.Bar", MemberName: "baz", ParamTypes: []string{"int"}, ReturnType: "void"},
		},
		{
			name:  "hotspot dotted",
			input: "java.lang.String hashCode ()I",
			want:  MemberSignature{ClassName: "java.lang.String", MemberName: "hashCode", ParamTypes: []string{}, ReturnType: "int"},
		},
		{
			name:  "compact",
			input: "com.foo.Bar.baz(I)V",
			want:  MemberSignature{ClassName: "com.foo.Bar", MemberName: "baz", ParamTypes: []string{"int"}, ReturnType: "void"},
		},
		{
			name:  "compact constructor",
			input: "com/foo/Bar.<init>(Ljava/lang/String;J)V",
			want:  MemberSignature{ClassName: "com.foo.Bar", MemberName: "<init>", ParamTypes: []string{"java.lang.String", "long"}, ReturnType: "void"},
		},
		{
			name:  "arrays and nested class",
			input: "com/foo/Outer$Inner copy ([[I[Ljava/lang/Object;)[B",
			want:  MemberSignature{ClassName: "com.foo.Outer$Inner", MemberName: "copy", ParamTypes: []string{"int[][]", "java.lang.Object[]"}, ReturnType: "byte[]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, *got, tt.want)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, input := range []string{
		"",
		"com.foo.Bar",
		"com.foo.Bar baz",
		"com.foo.Bar baz (I",
		"com.foo.Bar baz (Q)V",
		"com.foo.Bar baz (I)VV",
		"com.foo.Bar baz (Ljava/lang/String)V",
		".baz(I)V",
		"a b c d",
	} {
		_, err := Parse(input)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) err = %v, want ErrMalformed", input, err)
		}
	}
}

func TestParse_HiddenLambdaUnsupported(t *testing.T) {
	_, err := Parse("com/foo/Bar$$Lambda/0x0000000800c03000 run ()V")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	params, ret, err := ParseMethodDescriptor("(ZBCSIJFD)Ljava/util/List;")
	if err != nil {
		t.Fatalf("ParseMethodDescriptor: %v", err)
	}
	want := []string{"boolean", "byte", "char", "short", "int", "long", "float", "double"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params = %v, want %v", params, want)
	}
	if ret != "java.util.List" {
		t.Errorf("ret = %q, want java.util.List", ret)
	}
}

func TestParseMethodDescriptor_FieldTypes(t *testing.T) {
	params, ret, err := ParseMethodDescriptor("([[Ljava/lang/String;Z)[J")
	if err != nil {
		t.Fatalf("ParseMethodDescriptor: %v", err)
	}
	if want := []string{"java.lang.String[][]", "boolean"}; !reflect.DeepEqual(params, want) {
		t.Errorf("params = %v, want %v", params, want)
	}
	if ret != "long[]" {
		t.Errorf("ret = %q, want long[]", ret)
	}
	if _, _, err := ParseMethodDescriptor("(V)V"); !errors.Is(err, ErrMalformed) {
		t.Errorf("void parameter err = %v, want ErrMalformed", err)
	}
}
