package classfile_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tinytelemetry/jitlens/internal/classfile"
	"github.com/tinytelemetry/jitlens/internal/classfile/classfiletest"
)

func TestParse_ReadsStructure(t *testing.T) {
	data := classfiletest.Class{
		Name:       "com.example.Widget",
		Super:      "com.example.Base",
		Interfaces: []string{"java.lang.Runnable", "java.io.Serializable"},
		Major:      61,
		Methods: []classfiletest.Method{
			{Name: "<init>", Descriptor: "()V", AccessFlags: 0x0001},
			{Name: "run", Descriptor: "()V", AccessFlags: 0x0001},
			{Name: "sum", Descriptor: "([IJ)J", AccessFlags: 0x0009},
		},
	}.Bytes()

	cf, err := classfile.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cf.MajorVersion != 61 {
		t.Errorf("MajorVersion = %d, want 61", cf.MajorVersion)
	}
	if cf.ThisClass != "com/example/Widget" {
		t.Errorf("ThisClass = %q", cf.ThisClass)
	}
	if cf.SuperClass != "com/example/Base" {
		t.Errorf("SuperClass = %q", cf.SuperClass)
	}
	wantIfaces := []string{"java/lang/Runnable", "java/io/Serializable"}
	if !reflect.DeepEqual(cf.Interfaces, wantIfaces) {
		t.Errorf("Interfaces = %v, want %v", cf.Interfaces, wantIfaces)
	}
	if len(cf.Methods) != 3 {
		t.Fatalf("len(Methods) = %d, want 3", len(cf.Methods))
	}
	if m := cf.Methods[2]; m.Name != "sum" || m.Descriptor != "([IJ)J" || m.AccessFlags != 0x0009 {
		t.Errorf("Methods[2] = %+v", m)
	}
}

func TestParse_NoSuperClass(t *testing.T) {
	cf, err := classfile.Parse(classfiletest.Class{Name: "java.lang.Object"}.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cf.SuperClass != "" {
		t.Errorf("SuperClass = %q, want empty", cf.SuperClass)
	}
}

func TestParse_Errors(t *testing.T) {
	valid := classfiletest.Class{
		Name:    "a.B",
		Super:   "java.lang.Object",
		Methods: []classfiletest.Method{{Name: "m", Descriptor: "()V"}},
	}.Bytes()

	badTag := append([]byte(nil), valid...)
	// The first pool entry starts right after magic, versions and count.
	badTag[10] = 99

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, classfile.ErrTruncated},
		{"bad magic", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52}, classfile.ErrBadMagic},
		{"truncated pool", valid[:14], classfile.ErrTruncated},
		{"truncated methods", valid[:len(valid)-4], classfile.ErrTruncated},
		{"unknown constant tag", badTag, classfile.ErrUnknownConstant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classfile.Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
