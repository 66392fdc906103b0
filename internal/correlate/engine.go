// Package correlate is the correlation engine: it walks the record stream
// of a compilation log, resolves each method-bearing record to a modeled
// member and appends the resulting events to the model.
package correlate

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/classpath"
	"github.com/tinytelemetry/jitlens/internal/model"
)

// Options configures an Engine.
type Options struct {
	// Classpath holds the configured locations, searched before any
	// location recovered from the log.
	Classpath []string

	// JavaHome, when set, adds the JDK's jmod archives after all other
	// locations so platform classes can be modeled.
	JavaHome string

	MaxClassVersion uint16
	Logger          logrus.FieldLogger
}

// Engine dispatches records by tag name. It is not safe for concurrent use
// except for Stop.
type Engine struct {
	listener model.Listener
	opts     Options
	log      logrus.FieldLogger

	model    *model.JITModel
	session  session
	loader   *classpath.Loader
	resolver *Resolver

	stop atomic.Bool
}

// NewEngine creates an engine reporting to listener. A nil listener
// discards notifications.
func NewEngine(listener model.Listener, opts Options) *Engine {
	if listener == nil {
		listener = model.NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Engine{
		listener: listener,
		opts:     opts,
		log:      opts.Logger.WithField("component", "correlate"),
		model:    model.NewJITModel(),
	}
}

// ProcessRun correlates records in order. parsedClasspath holds locations
// recovered from class-load trace lines. Reset must be called before each
// run. A Stop request ends the run before the next record; the run still
// completes normally.
func (e *Engine) ProcessRun(records []*model.Tag, parsedClasspath []string) {
	e.closeLoader()

	configured := classpath.MergeLocations(e.opts.Classpath, nil)
	for _, loc := range configured {
		e.listener.HandleLogEntry("Adding configured classpath: " + loc)
	}
	locations := classpath.MergeLocations(configured, parsedClasspath)
	for _, loc := range locations[len(configured):] {
		e.listener.HandleLogEntry("Adding parsed classpath: " + loc)
	}
	locations = append(locations, classpath.PlatformLocations(e.opts.JavaHome)...)

	e.loader = classpath.NewLoader(locations, classpath.Options{
		MaxClassVersion: e.opts.MaxClassVersion,
		Logger:          e.opts.Logger,
	})
	e.resolver = NewResolver(e.model.Registry(), e.loader)

	e.listener.HandleReadStart()
	for _, tag := range records {
		if e.stop.Load() {
			e.listener.HandleLogEntry(fmt.Sprintf("Stopped after %d of %d records", e.session.recordsProcessed, len(records)))
			break
		}
		e.HandleTag(tag)
		e.session.recordsProcessed++
	}
	e.listener.HandleReadComplete()
}

// HandleTag applies one record to the model. Tags the engine does not
// recognise are ignored.
func (e *Engine) HandleTag(tag *model.Tag) {
	if tag == nil {
		return
	}
	if e.resolver == nil {
		e.resolver = NewResolver(e.model.Registry(), e.classLoader())
	}

	switch tag.Name() {
	case model.TagTaskQueued:
		e.handleTaskQueued(tag)
	case model.TagNMethod:
		e.handleNMethod(tag)
	case model.TagTask:
		e.handleTask(tag)
	case model.TagTaskDone:
		e.finalizeTaskDone(tag)
	case model.TagCodeCacheFull:
		e.recordCacheStatus(model.CodeCacheFull, tag)
	case model.TagSweeper:
		e.recordCacheStatus(model.CodeCacheSweeper, tag)
	}
}

func (e *Engine) classLoader() *classpath.Loader {
	if e.loader == nil {
		e.loader = classpath.NewLoader(classpath.MergeLocations(e.opts.Classpath, nil), classpath.Options{
			MaxClassVersion: e.opts.MaxClassVersion,
			Logger:          e.opts.Logger,
		})
	}
	return e.loader
}

func (e *Engine) handleTaskQueued(tag *model.Tag) {
	m := e.resolveTag(tag)
	if m == nil {
		return
	}
	m.SetTagTaskQueued(tag)
	e.emitEvent(tag, model.EventQueued, m)
}

func (e *Engine) handleNMethod(tag *model.Tag) {
	// nmethod reuses "stamp" for the completion time.
	tag.RenameAttribute(model.AttrStamp, model.AttrStampCompleted)

	kind, ok := e.compileKind(tag)
	if !ok {
		return
	}

	m := e.resolveTag(tag)
	if m == nil {
		return
	}
	m.SetTagNMethod(tag)
	m.MetaClass().IncCompiledMethodCount()
	e.model.UpdateStats(m, kind, tag.Attributes())
	e.emitEvent(tag, kind, m)
}

func (e *Engine) compileKind(tag *model.Tag) (model.EventType, bool) {
	if compiler, ok := tag.Attribute(model.AttrCompiler); ok {
		switch strings.ToUpper(compiler) {
		case model.CompilerC1:
			return model.EventCompiledC1, true
		case model.CompilerC2:
			return model.EventCompiledC2, true
		case model.CompilerJ9:
			return model.EventCompiledJ9, true
		}
		e.diagnose(model.SeverityRecoverable, model.DiagUnexpectedCompiler, "", tag,
			"unexpected compiler %q on %s", compiler, methodOf(tag))
		return 0, false
	}

	if kind, ok := tag.Attribute(model.AttrCompileKind); ok && strings.EqualFold(kind, model.CompileKindC2N) {
		return model.EventCompiledC2N, true
	}

	e.diagnose(model.SeverityRecoverable, model.DiagMissingCompiler, "", tag,
		"missing compiler attribute on %s", methodOf(tag))
	return 0, false
}

func (e *Engine) handleTask(tag *model.Tag) {
	if m := e.resolveTag(tag); m != nil {
		m.SetTagTask(tag)
		e.session.inFlight = m
		e.emitEvent(tag, model.EventTaskStarted, m)
	}

	done := tag.FirstNamedChild(model.TagTaskDone)
	if done == nil {
		e.diagnose(model.SeverityStructural, model.DiagMissingTaskDone, "", tag,
			"task for %s has no task_done", methodOf(tag))
		return
	}

	e.finalizeTaskDone(done)
	e.session.inFlight = nil
}

// finalizeTaskDone attributes a completion to the in-flight member. It does
// not clear the in-flight slot.
func (e *Engine) finalizeTaskDone(done *model.Tag) {
	task := done.Parent()
	if !task.IsTask() {
		parent := "none"
		if task != nil {
			parent = task.Name()
		}
		e.diagnose(model.SeverityStructural, model.DiagUnexpectedParent, "", done,
			"task_done has parent %s, expected task", parent)
		return
	}

	if _, ok := done.Attribute(model.AttrNMSize); ok {
		e.model.AddNativeBytes(intAttr(done, model.AttrNMSize))
	}

	if m := e.session.inFlight; m != nil {
		if id, ok := task.Attribute(model.AttrCompileID); ok && id != "" {
			m.SetTagTaskDone(id, done)
		} else {
			e.log.WithField("member", m.Signature()).Warn("correlate: task has no compile_id")
			e.diagnose(model.SeverityRecoverable, model.DiagMissingCompileID, m.MetaClass().FullyQualifiedName(), done,
				"task for %s has no compile_id", m.Signature())
		}
	}

	e.recordCompilationCodeCache(task, done)
}

func (e *Engine) resolveTag(tag *model.Tag) *model.Member {
	text, _ := tag.Attribute(model.AttrMethod)
	m, err := e.resolver.FindMember(text, int64(tag.Line()))
	if err != nil {
		e.reportResolveError(err, tag)
		return nil
	}
	return m
}

func (e *Engine) emitEvent(tag *model.Tag, kind model.EventType, m *model.Member) {
	stamp, _ := model.StampOf(tag.Attributes())
	ev := model.Event{Stamp: stamp, Type: kind, Member: m}
	e.model.AddEvent(ev)
	e.listener.HandleEvent(ev)
}

func (e *Engine) reportResolveError(err error, tag *model.Tag) {
	var rerr *ResolveError
	if !errors.As(err, &rerr) {
		e.diagnose(model.SeverityRecoverable, model.DiagUnresolvedSignature, "", tag, "%v", err)
		return
	}
	if rerr.Kind != ClassUnavailable {
		e.diagnose(model.SeverityRecoverable, model.DiagUnresolvedSignature, rerr.Class, tag,
			"could not resolve %q: %s", rerr.Signature, rerr.Kind)
		return
	}

	var lerr *classpath.LoadError
	if !errors.As(rerr.Cause, &lerr) {
		e.diagnose(model.SeverityRecoverable, model.DiagClassNotFound, rerr.Class, tag,
			"could not load class %s: %v", rerr.Class, rerr.Cause)
		return
	}

	switch lerr.Kind {
	case classpath.NotFound:
		if classpath.IsSynthetic(lerr.Class) {
			return
		}
		e.diagnose(model.SeverityRecoverable, model.DiagClassNotFound, lerr.Class, tag,
			"class %s not found on the classpath", lerr.Class)

	case classpath.MissingDependency:
		e.diagnose(model.SeverityRecoverable, model.DiagMissingDependency, lerr.Class, tag,
			"class %s could not be loaded: missing dependency %s", lerr.Class, lerr.Missing)

	case classpath.UnsupportedVersion:
		e.session.setFatal(
			"Unsupported class version",
			fmt.Sprintf("Class %s was compiled for class file version %d.%d, but at most %d is supported. "+
				"Raise max-class-version or analyze the log with a matching toolchain.",
				lerr.Class, lerr.Major, lerr.Minor, lerr.Max),
		)
		e.diagnose(model.SeverityFatal, model.DiagUnsupportedVersion, lerr.Class, tag,
			"class %s has unsupported version %d.%d", lerr.Class, lerr.Major, lerr.Minor)

	default:
		e.log.WithError(lerr).WithFields(logrus.Fields{
			"class": lerr.Class,
			"line":  tag.Line(),
		}).Error("correlate: class structure failure")
		e.diagnose(model.SeverityRecoverable, model.DiagClassStructure, lerr.Class, tag,
			"could not load class %s", lerr.Class)
	}
}

func (e *Engine) diagnose(sev model.Severity, category, class string, tag *model.Tag, format string, args ...any) {
	d := model.Diagnostic{
		Severity: sev,
		Category: category,
		Class:    class,
		Message:  fmt.Sprintf(format, args...),
	}
	if tag != nil {
		d.Line = int64(tag.Line())
	}
	e.log.WithField("category", category).Debug("correlate: " + d.String())
	e.listener.HandleDiagnostic(d)
}

func methodOf(tag *model.Tag) string {
	if m, ok := tag.Attribute(model.AttrMethod); ok {
		return m
	}
	if p := tag.Parent(); p != nil {
		if m, ok := p.Attribute(model.AttrMethod); ok {
			return m
		}
	}
	return "unknown method"
}
