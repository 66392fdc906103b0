package correlate

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/classfile/classfiletest"
	"github.com/tinytelemetry/jitlens/internal/model"
)

type recorder struct {
	engine    *Engine
	events    []model.Event
	cache     []model.CodeCacheEvent
	diags     []model.Diagnostic
	entries   []string
	starts    int
	completes int

	// inFlightAtEvent captures the in-flight slot at each TaskStarted.
	inFlightAtEvent []*model.Member
	onEvent         func(model.Event)
}

func (r *recorder) HandleReadStart()    { r.starts++ }
func (r *recorder) HandleReadComplete() { r.completes++ }
func (r *recorder) HandleEvent(e model.Event) {
	r.events = append(r.events, e)
	if e.Type == model.EventTaskStarted {
		r.inFlightAtEvent = append(r.inFlightAtEvent, r.engine.InFlight())
	}
	if r.onEvent != nil {
		r.onEvent(e)
	}
}
func (r *recorder) HandleCodeCacheEvent(e model.CodeCacheEvent) { r.cache = append(r.cache, e) }
func (r *recorder) HandleDiagnostic(d model.Diagnostic)         { r.diags = append(r.diags, d) }
func (r *recorder) HandleLogEntry(s string)                     { r.entries = append(r.entries, s) }

func (r *recorder) categories() []string {
	out := make([]string, 0, len(r.diags))
	for _, d := range r.diags {
		out = append(out, d.Category)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var (
	barClass = classfiletest.Class{
		Name:  "com.foo.Bar",
		Super: "java.lang.Object",
		Methods: []classfiletest.Method{
			{Name: "<init>", Descriptor: "()V"},
			{Name: "baz", Descriptor: "(I)V"},
			{Name: "qux", Descriptor: "(Ljava/lang/String;)J"},
		},
	}
	legacyClass = classfiletest.Class{
		Name:    "com.foo.Legacy",
		Super:   "java.lang.Object",
		Major:   70,
		Methods: []classfiletest.Method{{Name: "old", Descriptor: "()V"}},
	}
	orphanClass = classfiletest.Class{
		Name:    "com.foo.Orphan",
		Super:   "com.foo.GoneBase",
		Methods: []classfiletest.Method{{Name: "run", Descriptor: "()V"}},
	}
)

func newTestEngine(t *testing.T) (*Engine, *recorder, string) {
	t.Helper()
	dir := t.TempDir()
	classfiletest.WriteDir(t, dir, barClass, legacyClass, orphanClass)

	rec := &recorder{}
	e := NewEngine(rec, Options{Classpath: []string{dir}, Logger: quietLogger()})
	rec.engine = e
	e.Reset()
	t.Cleanup(e.Reset)
	return e, rec, dir
}

// tag builds a record from alternating key/value pairs.
func tag(name string, parent *model.Tag, kv ...string) *model.Tag {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return model.NewTag(name, attrs, parent)
}

const bazSig = "com/foo/Bar baz (I)V"

func taskWithDone(id, method string, nmsize string) *model.Tag {
	task := tag(model.TagTask, nil, model.AttrCompileID, id, model.AttrMethod, method, model.AttrStamp, "0.110")
	tag(model.TagTaskDone, task, model.AttrNMSize, nmsize, model.AttrStamp, "0.200")
	return task
}

func TestNMethod_CompilerSelectsEventKind(t *testing.T) {
	tests := []struct {
		name     string
		attrs    []string
		wantKind model.EventType
		wantDiag string
	}{
		{name: "C1", attrs: []string{model.AttrCompiler, "C1"}, wantKind: model.EventCompiledC1},
		{name: "lowercase c2", attrs: []string{model.AttrCompiler, "c2"}, wantKind: model.EventCompiledC2},
		{name: "J9", attrs: []string{model.AttrCompiler, "J9"}, wantKind: model.EventCompiledJ9},
		{name: "native wrapper", attrs: []string{model.AttrCompileKind, "c2n"}, wantKind: model.EventCompiledC2N},
		{name: "compiler wins over compile kind", attrs: []string{model.AttrCompiler, "C2", model.AttrCompileKind, "osr"}, wantKind: model.EventCompiledC2},
		{name: "neither", attrs: nil, wantDiag: model.DiagMissingCompiler},
		{name: "osr kind only", attrs: []string{model.AttrCompileKind, "osr"}, wantDiag: model.DiagMissingCompiler},
		{name: "unknown compiler", attrs: []string{model.AttrCompiler, "jvmci"}, wantDiag: model.DiagUnexpectedCompiler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec, _ := newTestEngine(t)
			kv := append([]string{model.AttrMethod, bazSig, model.AttrStamp, "0.250"}, tt.attrs...)
			e.ProcessRun([]*model.Tag{tag(model.TagNMethod, nil, kv...)}, nil)

			if tt.wantDiag != "" {
				if len(rec.events) != 0 {
					t.Errorf("events = %v, want none", rec.events)
				}
				if got := rec.categories(); len(got) != 1 || got[0] != tt.wantDiag {
					t.Errorf("diagnostics = %v, want [%s]", got, tt.wantDiag)
				}
				return
			}
			if len(rec.events) != 1 || rec.events[0].Type != tt.wantKind {
				t.Fatalf("events = %+v, want one %v", rec.events, tt.wantKind)
			}
			if len(rec.diags) != 0 {
				t.Errorf("unexpected diagnostics %v", rec.diags)
			}
		})
	}
}

func TestQueuedThenCompiled_Scenario(t *testing.T) {
	e, rec, _ := newTestEngine(t)

	queued := tag(model.TagTaskQueued, nil, model.AttrMethod, "com.foo.Bar.baz(I)V", model.AttrStamp, "0.100")
	compiled := tag(model.TagNMethod, nil,
		model.AttrMethod, "com.foo.Bar.baz(I)V",
		model.AttrCompiler, "C2",
		model.AttrStamp, "0.250",
		model.AttrSize, "600",
		model.AttrBytes, "12",
	)
	e.ProcessRun([]*model.Tag{queued, compiled}, nil)

	events := e.Model().Events()
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != model.EventQueued || events[0].Stamp != 100 {
		t.Errorf("events[0] = %+v, want Queued@100", events[0])
	}
	if events[1].Type != model.EventCompiledC2 || events[1].Stamp != 250 {
		t.Errorf("events[1] = %+v, want CompiledC2@250", events[1])
	}

	if _, ok := compiled.Attribute(model.AttrStamp); ok {
		t.Error("nmethod still carries stamp after rename")
	}
	if v, _ := compiled.Attribute(model.AttrStampCompleted); v != "0.250" {
		t.Errorf("stamp_completed = %q", v)
	}

	m := events[0].Member
	if m != events[1].Member {
		t.Fatal("queued and compiled resolved to different members")
	}
	if m.TagTaskQueued() != queued || m.TagNMethod() != compiled {
		t.Error("records not attached to the member")
	}
	bar, ok := e.Model().Registry().LookupClass("com.foo.Bar")
	if !ok || bar.CompiledMethodCount() != 1 {
		t.Errorf("Bar compiled count = %v, want 1", bar)
	}

	stats := e.Model().Stats()
	if stats.CountC2 != 1 || stats.MaxCompileTime != 150 || stats.MaxNativeSize != 600 {
		t.Errorf("stats = %+v", stats)
	}
	if rec.starts != 1 || rec.completes != 1 {
		t.Errorf("read start/complete = %d/%d", rec.starts, rec.completes)
	}
}

func TestTask_InFlightOnlyBetweenStartAndFinalization(t *testing.T) {
	e, rec, _ := newTestEngine(t)

	if e.InFlight() != nil {
		t.Fatal("in-flight set before any record")
	}
	e.ProcessRun([]*model.Tag{
		taskWithDone("1", bazSig, "100"),
		taskWithDone("2", bazSig, "200"),
	}, nil)

	if len(rec.inFlightAtEvent) != 2 {
		t.Fatalf("task events = %d, want 2", len(rec.inFlightAtEvent))
	}
	for i, m := range rec.inFlightAtEvent {
		if m == nil || m.Name() != "baz" {
			t.Errorf("in-flight during task %d = %v", i, m)
		}
	}
	if e.InFlight() != nil {
		t.Errorf("in-flight after finalization = %v", e.InFlight())
	}

	m := rec.events[0].Member
	if got := m.CompileIDs(); strings.Join(got, ",") != "1,2" {
		t.Errorf("compile ids = %v", got)
	}
	if e.Model().NativeBytes() != 300 {
		t.Errorf("native bytes = %d, want 300", e.Model().NativeBytes())
	}
}

func TestTask_UnresolvedKeepsPreviousInFlightThenClears(t *testing.T) {
	e, rec, _ := newTestEngine(t)

	// Leaves baz in flight: no task_done.
	open := tag(model.TagTask, nil, model.AttrCompileID, "1", model.AttrMethod, bazSig)
	e.HandleTag(open)
	if e.InFlight() == nil {
		t.Fatal("in-flight not set by resolved task")
	}
	if got := rec.categories(); len(got) != 1 || got[0] != model.DiagMissingTaskDone {
		t.Fatalf("diagnostics = %v", got)
	}

	// Unresolvable task with completion: attributes to the stale member, then clears.
	stale := taskWithDone("7", "com/foo/Missing run ()V", "64")
	e.HandleTag(stale)

	if e.InFlight() != nil {
		t.Error("in-flight not cleared after task completion")
	}
	m := rec.events[0].Member
	if m.TagTaskDone("7") == nil {
		t.Error("completion not attached to the previous in-flight member")
	}
}

func TestBareTaskDone(t *testing.T) {
	t.Run("no in-flight", func(t *testing.T) {
		e, rec, _ := newTestEngine(t)
		task := tag(model.TagTask, nil, model.AttrMethod, bazSig)
		done := tag(model.TagTaskDone, task, model.AttrNMSize, "50")
		e.HandleTag(done)

		if e.InFlight() != nil || len(rec.diags) != 0 {
			t.Errorf("inFlight=%v diags=%v", e.InFlight(), rec.diags)
		}
		if e.Model().NativeBytes() != 50 {
			t.Errorf("native bytes = %d, want 50", e.Model().NativeBytes())
		}
	})

	t.Run("in-flight without compile id", func(t *testing.T) {
		e, rec, _ := newTestEngine(t)
		e.HandleTag(tag(model.TagTask, nil, model.AttrCompileID, "1", model.AttrMethod, bazSig))
		member := e.InFlight()
		rec.diags = nil

		task := tag(model.TagTask, nil, model.AttrMethod, bazSig)
		done := tag(model.TagTaskDone, task, model.AttrNMSize, "50")
		e.HandleTag(done)

		if got := rec.categories(); len(got) != 1 || got[0] != model.DiagMissingCompileID {
			t.Errorf("diagnostics = %v, want missing compile id", got)
		}
		if e.InFlight() != member {
			t.Error("bare task_done changed the in-flight slot")
		}
		if len(member.CompileIDs()) != 0 {
			t.Errorf("compile ids = %v, want none", member.CompileIDs())
		}
	})

	t.Run("non-task parent", func(t *testing.T) {
		e, rec, _ := newTestEngine(t)
		e.HandleTag(tag(model.TagTask, nil, model.AttrCompileID, "1", model.AttrMethod, bazSig))
		member := e.InFlight()
		rec.diags = nil

		phase := tag("phase", nil, model.AttrCompileID, "9")
		done := tag(model.TagTaskDone, phase, model.AttrNMSize, "4096")
		tag(model.TagCodeCache, phase, model.AttrFreeCodeCache, "1")
		e.HandleTag(done)

		if got := rec.categories(); len(got) != 1 || got[0] != model.DiagUnexpectedParent {
			t.Errorf("diagnostics = %v", got)
		}
		if rec.diags[0].Severity != model.SeverityStructural {
			t.Errorf("severity = %v", rec.diags[0].Severity)
		}
		if e.Model().NativeBytes() != 0 || len(rec.cache) != 0 || member.TagTaskDone("9") != nil {
			t.Error("state mutated by task_done with non-task parent")
		}
	})
}

func TestTask_CodeCacheScenario(t *testing.T) {
	e, rec, _ := newTestEngine(t)

	task := tag(model.TagTask, nil, model.AttrCompileID, "42", model.AttrMethod, "com.foo.Bar.baz(I)V", model.AttrStamp, "0.400")
	tag(model.TagCodeCache, task, model.AttrFreeCodeCache, "1000")
	done := tag(model.TagTaskDone, task, model.AttrNMSize, "4096", model.AttrStamp, "0.500")

	e.ProcessRun([]*model.Tag{task}, nil)

	want := model.CodeCacheEvent{Type: model.CodeCacheCompilation, Stamp: 500, NativeCodeSize: 4096, FreeCodeCache: 1000}
	got := e.Model().CodeCacheEvents()
	if len(got) != 1 || got[0] != want {
		t.Fatalf("code cache events = %+v, want [%+v]", got, want)
	}
	if len(rec.cache) != 1 {
		t.Errorf("listener code cache events = %d", len(rec.cache))
	}
	if e.Model().NativeBytes() != 4096 {
		t.Errorf("native bytes = %d, want 4096", e.Model().NativeBytes())
	}
	if rec.events[0].Member.TagTaskDone("42") != done {
		t.Error("task_done not attached under compile id 42")
	}
}

func TestCacheStatusRecords(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.ProcessRun([]*model.Tag{
		tag(model.TagSweeper, nil, model.AttrStamp, "1.5"),
		tag(model.TagCodeCacheFull, nil, model.AttrStamp, "2,25"),
		tag("phase", nil, model.AttrStamp, "3"),
	}, nil)

	got := e.Model().CodeCacheEvents()
	want := []model.CodeCacheEvent{
		{Type: model.CodeCacheSweeper, Stamp: 1500},
		{Type: model.CodeCacheFull, Stamp: 2250},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("code cache events = %+v, want %+v", got, want)
	}
}

func TestUnsupportedVersion_IsStickyButNonAborting(t *testing.T) {
	e, rec, _ := newTestEngine(t)

	e.ProcessRun([]*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Legacy old ()V", model.AttrStamp, "0.1"),
		tag(model.TagTaskQueued, nil, model.AttrMethod, bazSig, model.AttrStamp, "0.2"),
	}, nil)

	if len(rec.diags) != 1 || rec.diags[0].Category != model.DiagUnsupportedVersion || rec.diags[0].Class != "com.foo.Legacy" {
		t.Fatalf("diagnostics = %+v", rec.diags)
	}
	if rec.diags[0].Severity != model.SeverityFatal {
		t.Errorf("severity = %v, want fatal", rec.diags[0].Severity)
	}
	if !e.HasParseError() {
		t.Error("sticky error flag not set")
	}
	title, body := e.ErrorDialog()
	if title == "" || !strings.Contains(body, "com.foo.Legacy") {
		t.Errorf("dialog = %q / %q", title, body)
	}
	if len(rec.events) != 1 || rec.events[0].Member.Name() != "baz" {
		t.Errorf("later resolution did not emit: %+v", rec.events)
	}
}

func TestResolutionFailureDiagnostics(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		wantCat  string
		wantText string
	}{
		{"malformed", "com/foo/Bar baz", model.DiagUnresolvedSignature, "com/foo/Bar baz"},
		{"hidden lambda", "com/foo/Bar$$Lambda/0x0000000800c03000 run ()V", model.DiagUnresolvedSignature, "Lambda"},
		{"member missing", "com/foo/Bar nope ()V", model.DiagUnresolvedSignature, "nope"},
		{"return type mismatch", "com/foo/Bar baz (I)J", model.DiagUnresolvedSignature, "baz"},
		{"class missing", "com/foo/Missing run ()V", model.DiagClassNotFound, "com.foo.Missing"},
		{"missing dependency", "com/foo/Orphan run ()V", model.DiagMissingDependency, "com.foo.GoneBase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec, _ := newTestEngine(t)
			q := tag(model.TagTaskQueued, nil, model.AttrMethod, tt.method)
			q.SetLine(17)
			e.ProcessRun([]*model.Tag{q}, nil)

			if len(rec.events) != 0 {
				t.Errorf("events = %v", rec.events)
			}
			if len(rec.diags) != 1 {
				t.Fatalf("diagnostics = %+v, want 1", rec.diags)
			}
			d := rec.diags[0]
			if d.Category != tt.wantCat || d.Severity != model.SeverityRecoverable || d.Line != 17 {
				t.Errorf("diagnostic = %+v", d)
			}
			if !strings.Contains(d.Message, tt.wantText) {
				t.Errorf("message %q does not mention %q", d.Message, tt.wantText)
			}
		})
	}
}

func TestDependencyFailureNamesRequestedClass(t *testing.T) {
	e, rec, dir := newTestEngine(t)
	classfiletest.WriteDir(t, dir,
		classfiletest.Class{Name: "com.foo.Mid", Super: "com.foo.Gone"},
		classfiletest.Class{
			Name:    "com.foo.Leaf",
			Super:   "com.foo.Mid",
			Methods: []classfiletest.Method{{Name: "run", Descriptor: "()V"}},
		},
		classfiletest.Class{
			Name:    "com.foo.OnLegacy",
			Super:   "com.foo.Legacy",
			Methods: []classfiletest.Method{{Name: "run", Descriptor: "()V"}},
		},
	)

	e.ProcessRun([]*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Leaf run ()V"),
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/OnLegacy run ()V"),
	}, nil)

	if len(rec.diags) != 2 {
		t.Fatalf("diagnostics = %+v, want 2", rec.diags)
	}
	missing := rec.diags[0]
	if missing.Category != model.DiagMissingDependency || missing.Class != "com.foo.Leaf" {
		t.Errorf("transitive diagnostic = %+v", missing)
	}
	if !strings.Contains(missing.Message, "com.foo.Leaf") || !strings.Contains(missing.Message, "com.foo.Gone") {
		t.Errorf("message %q should name com.foo.Leaf and com.foo.Gone", missing.Message)
	}

	version := rec.diags[1]
	if version.Category != model.DiagUnsupportedVersion || version.Class != "com.foo.OnLegacy" {
		t.Errorf("super version diagnostic = %+v", version)
	}
	if _, body := e.ErrorDialog(); !strings.Contains(body, "com.foo.OnLegacy") {
		t.Errorf("dialog body %q should name com.foo.OnLegacy", body)
	}
}

func TestSyntheticClassNotFoundIsSilent(t *testing.T) {
	e, rec, _ := newTestEngine(t)
	e.ProcessRun([]*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Bar$Lambda$3 run ()V"),
	}, nil)
	if len(rec.diags) != 0 || len(rec.events) != 0 {
		t.Errorf("diags=%v events=%v, want none", rec.diags, rec.events)
	}
}

func TestStructuralClassFailureUsesGenericSummary(t *testing.T) {
	e, rec, dir := newTestEngine(t)
	path := filepath.Join(dir, "com", "foo", "Broken.class")
	if err := os.WriteFile(path, []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}

	e.ProcessRun([]*model.Tag{tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Broken run ()V")}, nil)

	if len(rec.diags) != 1 || rec.diags[0].Category != model.DiagClassStructure {
		t.Fatalf("diagnostics = %+v", rec.diags)
	}
	if strings.Contains(rec.diags[0].Message, "truncated") {
		t.Errorf("user-facing message leaks detail: %q", rec.diags[0].Message)
	}
}

func TestCachedClassFailureReportsEachRecord(t *testing.T) {
	e, rec, _ := newTestEngine(t)
	q := func() *model.Tag { return tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Missing run ()V") }
	e.ProcessRun([]*model.Tag{q(), q()}, nil)
	if got := rec.categories(); len(got) != 2 || got[0] != model.DiagClassNotFound || got[1] != model.DiagClassNotFound {
		t.Errorf("diagnostics = %v", got)
	}
}

func TestProcessRun_UsesParsedClasspath(t *testing.T) {
	e, rec, dir := newTestEngine(t)
	parsed := t.TempDir()
	classfiletest.WriteDir(t, parsed, classfiletest.Class{
		Name:    "com.bar.Util",
		Super:   "java.lang.Object",
		Methods: []classfiletest.Method{{Name: "help", Descriptor: "()V"}},
	})

	e.ProcessRun([]*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/bar/Util help ()V"),
	}, []string{dir, parsed})

	if len(rec.events) != 1 {
		t.Fatalf("events = %v, diags = %v", rec.events, rec.diags)
	}
	want := []string{
		"Adding configured classpath: " + dir,
		"Adding parsed classpath: " + parsed,
	}
	if strings.Join(rec.entries, "|") != strings.Join(want, "|") {
		t.Errorf("log entries = %q, want %q", rec.entries, want)
	}
}

func TestStop_EndsRunBeforeNextRecord(t *testing.T) {
	e, rec, _ := newTestEngine(t)
	rec.onEvent = func(model.Event) { e.Stop() }

	records := []*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, bazSig),
		tag(model.TagTaskQueued, nil, model.AttrMethod, bazSig),
		tag(model.TagTaskQueued, nil, model.AttrMethod, bazSig),
	}
	e.ProcessRun(records, nil)

	if len(rec.events) != 1 || e.RecordsProcessed() != 1 {
		t.Errorf("events=%d processed=%d, want 1/1", len(rec.events), e.RecordsProcessed())
	}
	if rec.completes != 1 {
		t.Error("HandleReadComplete not called after stop")
	}
	if !e.Stopped() {
		t.Error("Stopped() = false")
	}
}

type engineState struct {
	events, cache, classes int
	native                 int64
	parseErr               bool
	title, body            string
	inFlight               *model.Member
	processed, lines       int64
	stopped                bool
	loader                 bool
}

func snapshot(e *Engine) engineState {
	title, body := e.ErrorDialog()
	return engineState{
		events:    len(e.Model().Events()),
		cache:     len(e.Model().CodeCacheEvents()),
		classes:   e.Model().Registry().Len(),
		native:    e.Model().NativeBytes(),
		parseErr:  e.HasParseError(),
		title:     title,
		body:      body,
		inFlight:  e.InFlight(),
		processed: e.RecordsProcessed(),
		lines:     e.LinesParsed(),
		stopped:   e.Stopped(),
		loader:    e.loader != nil,
	}
}

func TestReset_Idempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	open := tag(model.TagTask, nil, model.AttrCompileID, "1", model.AttrMethod, bazSig)
	e.SetLinesParsed(40)
	e.ProcessRun([]*model.Tag{
		tag(model.TagTaskQueued, nil, model.AttrMethod, "com/foo/Legacy old ()V"),
		taskWithDone("2", bazSig, "10"),
		tag(model.TagSweeper, nil, model.AttrStamp, "1"),
		open,
	}, nil)
	e.Stop()

	e.Reset()
	once := snapshot(e)
	e.Reset()
	twice := snapshot(e)

	if once != twice {
		t.Errorf("Reset twice = %+v, once = %+v", twice, once)
	}
	if once != (engineState{}) {
		t.Errorf("state after Reset = %+v, want empty", once)
	}
}
