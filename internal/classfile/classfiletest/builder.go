// Package classfiletest synthesizes minimal class files for tests.
package classfiletest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Method declares one method of a synthesized class.
type Method struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
}

// Class declares a synthesized class. Names may use '.' or '/'.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Major      uint16
	Methods    []Method
}

type pool struct {
	buf   bytes.Buffer
	count uint16
	utf8  map[string]uint16
	class map[string]uint16
}

func newPool() *pool {
	return &pool{count: 1, utf8: map[string]uint16{}, class: map[string]uint16{}}
}

func (p *pool) addUtf8(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	p.buf.WriteByte(1)
	_ = binary.Write(&p.buf, binary.BigEndian, uint16(len(s)))
	p.buf.WriteString(s)
	idx := p.count
	p.count++
	p.utf8[s] = idx
	return idx
}

func (p *pool) addClass(name string) uint16 {
	name = strings.ReplaceAll(name, ".", "/")
	if idx, ok := p.class[name]; ok {
		return idx
	}
	nameIdx := p.addUtf8(name)
	p.buf.WriteByte(7)
	_ = binary.Write(&p.buf, binary.BigEndian, nameIdx)
	idx := p.count
	p.count++
	p.class[name] = idx
	return idx
}

func (p *pool) addLong(v int64) {
	p.buf.WriteByte(5)
	_ = binary.Write(&p.buf, binary.BigEndian, v)
	p.count += 2
}

// Bytes encodes c as a class file. A Long constant and a Code attribute
// are included so readers exercise two-slot entries and attribute skipping.
func (c Class) Bytes() []byte {
	major := c.Major
	if major == 0 {
		major = 52
	}

	p := newPool()
	p.addLong(42)
	thisIdx := p.addClass(c.Name)
	var superIdx uint16
	if c.Super != "" {
		superIdx = p.addClass(c.Super)
	}
	ifaces := make([]uint16, 0, len(c.Interfaces))
	for _, i := range c.Interfaces {
		ifaces = append(ifaces, p.addClass(i))
	}
	codeIdx := p.addUtf8("Code")
	type method struct{ flags, name, desc uint16 }
	methods := make([]method, 0, len(c.Methods))
	for _, m := range c.Methods {
		methods = append(methods, method{m.AccessFlags, p.addUtf8(m.Name), p.addUtf8(m.Descriptor)})
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }

	w(uint32(0xCAFEBABE))
	w(uint16(0))
	w(major)
	w(p.count)
	out.Write(p.buf.Bytes())
	w(uint16(0x0021))
	w(thisIdx)
	w(superIdx)
	w(uint16(len(ifaces)))
	for _, i := range ifaces {
		w(i)
	}
	w(uint16(0)) // fields
	w(uint16(len(methods)))
	for _, m := range methods {
		w(m.flags)
		w(m.name)
		w(m.desc)
		w(uint16(1))
		w(codeIdx)
		w(uint32(3))
		out.Write([]byte{0x00, 0xB1, 0x00})
	}
	w(uint16(0)) // attributes
	return out.Bytes()
}

// WriteDir writes each class under dir following its package layout.
func WriteDir(t testing.TB, dir string, classes ...Class) {
	t.Helper()
	for _, c := range classes {
		path := filepath.Join(dir, filepath.FromSlash(entryName(c.Name)))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, c.Bytes(), 0o644); err != nil {
			t.Fatalf("write class: %v", err)
		}
	}
}

// WriteJar writes the classes into a zip archive at path. prefix is
// prepended to every entry name, e.g. "classes/" for a jmod.
func WriteJar(t testing.TB, path, prefix string, header []byte, classes ...Class) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, c := range classes {
		fw, err := zw.Create(prefix + entryName(c.Name))
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := fw.Write(c.Bytes()); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	data := append(append([]byte(nil), header...), buf.Bytes()...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}
}

func entryName(class string) string {
	return strings.ReplaceAll(class, ".", "/") + ".class"
}
