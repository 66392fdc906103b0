package classpath

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tinytelemetry/jitlens/internal/classfile/classfiletest"
)

var barClass = classfiletest.Class{
	Name:  "com.foo.Bar",
	Super: "java.lang.Object",
	Methods: []classfiletest.Method{
		{Name: "<init>", Descriptor: "()V"},
		{Name: "baz", Descriptor: "(I)V"},
		{Name: "name", Descriptor: "()Ljava/lang/String;"},
	},
}

func newTestLoader(t *testing.T, locations ...string) *Loader {
	t.Helper()
	l := NewLoader(locations, Options{})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func requireKind(t *testing.T, err error, want FailureKind) *LoadError {
	t.Helper()
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LoadError", err)
	}
	if lerr.Kind != want {
		t.Fatalf("Kind = %v, want %v (%v)", lerr.Kind, want, lerr)
	}
	return lerr
}

func TestLoad_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir, barClass)
	l := newTestLoader(t, dir)

	meta, err := l.Load("com.foo.Bar")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Name != "com.foo.Bar" || meta.SuperName != "java.lang.Object" {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Methods) != 3 {
		t.Fatalf("len(Methods) = %d, want 3", len(meta.Methods))
	}
	if m := meta.Methods[2]; m.Name != "name" || m.ReturnType != "java.lang.String" || len(m.ParamTypes) != 0 {
		t.Errorf("Methods[2] = %+v", m)
	}
}

func TestLoad_FromJarAndJmod(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "app.jar")
	jmod := filepath.Join(dir, "mod.jmod")
	classfiletest.WriteJar(t, jar, "", nil, barClass)
	classfiletest.WriteJar(t, jmod, "classes/", jmodMagic, classfiletest.Class{Name: "com.foo.Mod", Super: "java.lang.Object"})

	l := newTestLoader(t, jar, jmod)
	if _, err := l.Load("com.foo.Bar"); err != nil {
		t.Errorf("Load from jar: %v", err)
	}
	if _, err := l.Load("com.foo.Mod"); err != nil {
		t.Errorf("Load from jmod: %v", err)
	}
	if got := l.Locations(); !reflect.DeepEqual(got, []string{jar, jmod}) {
		t.Errorf("Locations = %v", got)
	}
}

func TestLoad_ConfiguredOrderWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	classfiletest.WriteDir(t, first, barClass)
	shadow := barClass
	shadow.Methods = nil
	classfiletest.WriteDir(t, second, shadow)

	l := newTestLoader(t, first, second)
	meta, err := l.Load("com.foo.Bar")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(meta.Methods) != 3 {
		t.Errorf("loaded the shadowed copy: %d methods", len(meta.Methods))
	}
}

func TestLoad_NotFound(t *testing.T) {
	l := newTestLoader(t, t.TempDir())
	lerr := requireKind(t, mustFail(l.Load("com.foo.Nope")), NotFound)
	if lerr.Class != "com.foo.Nope" {
		t.Errorf("Class = %q", lerr.Class)
	}
}

func TestLoad_MissingDependency(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir, classfiletest.Class{
		Name:       "com.foo.Child",
		Super:      "java.lang.Object",
		Interfaces: []string{"com.foo.Absent"},
	})
	l := newTestLoader(t, dir)

	lerr := requireKind(t, mustFail(l.Load("com.foo.Child")), MissingDependency)
	if lerr.Class != "com.foo.Child" || lerr.Missing != "com.foo.Absent" {
		t.Errorf("LoadError = %+v", lerr)
	}
}

func TestLoad_ResolvesProgramSuperClass(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir,
		classfiletest.Class{Name: "com.foo.Base", Super: "java.lang.Object"},
		classfiletest.Class{Name: "com.foo.Derived", Super: "com.foo.Base", Interfaces: []string{"java.lang.Runnable"}},
	)
	l := newTestLoader(t, dir)
	if _, err := l.Load("com.foo.Derived"); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_DependencyFailuresNameRequestedClass(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir,
		classfiletest.Class{Name: "com.foo.Mid", Super: "com.foo.Gone"},
		classfiletest.Class{Name: "com.foo.Leaf", Super: "com.foo.Mid"},
		classfiletest.Class{Name: "com.foo.NewBase", Super: "java.lang.Object", Major: 70},
		classfiletest.Class{Name: "com.foo.OnNew", Super: "com.foo.NewBase"},
	)
	l := newTestLoader(t, dir)

	lerr := requireKind(t, mustFail(l.Load("com.foo.Leaf")), MissingDependency)
	if lerr.Class != "com.foo.Leaf" || lerr.Missing != "com.foo.Gone" {
		t.Errorf("transitive LoadError = %+v", lerr)
	}

	lerr = requireKind(t, mustFail(l.Load("com.foo.OnNew")), UnsupportedVersion)
	if lerr.Class != "com.foo.OnNew" || lerr.Major != 70 || lerr.Max != 69 {
		t.Errorf("super version LoadError = %+v", lerr)
	}
	var cause *LoadError
	if !errors.As(lerr.Cause, &cause) || cause.Class != "com.foo.NewBase" {
		t.Errorf("Cause = %v, want the super class failure", lerr.Cause)
	}
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir, classfiletest.Class{Name: "com.foo.Legacy", Super: "java.lang.Object", Major: 70})
	l := newTestLoader(t, dir)

	lerr := requireKind(t, mustFail(l.Load("com.foo.Legacy")), UnsupportedVersion)
	if lerr.Major != 70 || lerr.Max != 69 {
		t.Errorf("LoadError = %+v", lerr)
	}
}

func TestLoad_StructuralFailureIsCached(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "com", "foo", "Broken.class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a class"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := newTestLoader(t, dir)

	requireKind(t, mustFail(l.Load("com.foo.Broken")), Structural)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	requireKind(t, mustFail(l.Load("com.foo.Broken")), Structural)
	if l.diskReads != 1 {
		t.Errorf("diskReads = %d, want 1", l.diskReads)
	}
}

func TestLoad_WrongDeclaredNameIsStructural(t *testing.T) {
	dir := t.TempDir()
	data := classfiletest.Class{Name: "com.foo.Other", Super: "java.lang.Object"}.Bytes()
	path := filepath.Join(dir, "com", "foo", "Named.class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	l := newTestLoader(t, dir)
	requireKind(t, mustFail(l.Load("com.foo.Named")), Structural)
}

func TestNewLoader_SkipsUnusableLocations(t *testing.T) {
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir, barClass)
	l := newTestLoader(t, filepath.Join(dir, "missing"), filepath.Join(dir, "com", "foo", "Bar.class"), dir)
	if got := l.Locations(); !reflect.DeepEqual(got, []string{dir}) {
		t.Errorf("Locations = %v, want [%s]", got, dir)
	}
}

func TestPlatformLocations(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "jmods"), 0o755); err != nil {
		t.Fatal(err)
	}
	base := filepath.Join(home, "jmods", "java.base.jmod")
	if err := os.WriteFile(base, jmodMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := PlatformLocations(home); !reflect.DeepEqual(got, []string{base}) {
		t.Errorf("PlatformLocations = %v", got)
	}
	if got := PlatformLocations(""); got != nil {
		t.Errorf("PlatformLocations(\"\") = %v, want nil", got)
	}
}

func mustFail(_ any, err error) error {
	return err
}
