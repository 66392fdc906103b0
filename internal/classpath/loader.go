// Package classpath loads class metadata for the analyzed program from
// directories and archives, and recovers classpath locations from
// class-load trace lines.
package classpath

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/classfile"
	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/signature"
)

// Options configures a Loader.
type Options struct {
	// MaxClassVersion is the newest accepted class file major version.
	// Zero selects model.DefaultMaxClassVersion.
	MaxClassVersion uint16
	Logger          logrus.FieldLogger
}

type outcome struct {
	meta *model.ClassMetadata
	err  *LoadError
}

// Loader is a disposable class loading context for one run. It reads
// class files statically and caches every outcome by class name.
type Loader struct {
	sources    []source
	maxVersion uint16
	log        logrus.FieldLogger

	outcomes   *cache.Cache
	inProgress map[string]bool
	diskReads  int
}

// NewLoader opens each location in order. Locations that cannot be opened
// are logged and skipped.
func NewLoader(locations []string, opts Options) *Loader {
	if opts.MaxClassVersion == 0 {
		opts.MaxClassVersion = model.DefaultMaxClassVersion
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	l := &Loader{
		maxVersion: opts.MaxClassVersion,
		log:        opts.Logger.WithField("component", "classpath"),
		outcomes:   cache.New(cache.NoExpiration, 0),
		inProgress: make(map[string]bool),
	}
	for _, loc := range locations {
		src, err := openSource(loc)
		if err != nil {
			l.log.WithError(err).Warnf("classpath: skipping location %s", loc)
			continue
		}
		l.sources = append(l.sources, src)
	}
	return l
}

// Locations returns the opened classpath entries in search order.
func (l *Loader) Locations() []string {
	out := make([]string, 0, len(l.sources))
	for _, s := range l.sources {
		out = append(out, s.String())
	}
	return out
}

// Load returns the metadata of the class with fully qualified name fqName.
// The returned error, when non-nil, is always a *LoadError. Repeat calls
// return the cached outcome.
func (l *Loader) Load(fqName string) (*model.ClassMetadata, error) {
	meta, lerr := l.load(fqName)
	if lerr != nil {
		return nil, lerr
	}
	return meta, nil
}

func (l *Loader) load(fqName string) (*model.ClassMetadata, *LoadError) {
	if v, ok := l.outcomes.Get(fqName); ok {
		o := v.(outcome)
		return o.meta, o.err
	}
	if l.inProgress[fqName] {
		return nil, &LoadError{Kind: Structural, Class: fqName, Cause: errors.New("circular class hierarchy")}
	}

	l.inProgress[fqName] = true
	meta, lerr := l.loadUncached(fqName)
	delete(l.inProgress, fqName)

	l.outcomes.Set(fqName, outcome{meta: meta, err: lerr}, cache.NoExpiration)
	return meta, lerr
}

func (l *Loader) loadUncached(fqName string) (*model.ClassMetadata, *LoadError) {
	data, err := l.readClass(fqName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Kind: NotFound, Class: fqName}
		}
		return nil, &LoadError{Kind: Structural, Class: fqName, Cause: err}
	}

	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, &LoadError{Kind: Structural, Class: fqName, Cause: err}
	}
	if cf.MajorVersion > l.maxVersion {
		return nil, &LoadError{
			Kind:  UnsupportedVersion,
			Class: fqName,
			Major: cf.MajorVersion,
			Minor: cf.MinorVersion,
			Max:   l.maxVersion,
		}
	}
	if got := signature.Normalize(cf.ThisClass); got != fqName {
		return nil, &LoadError{Kind: Structural, Class: fqName, Cause: fmt.Errorf("class file declares %s", got)}
	}

	meta, err := toMetadata(cf)
	if err != nil {
		return nil, &LoadError{Kind: Structural, Class: fqName, Cause: err}
	}

	deps := meta.Interfaces
	if meta.SuperName != "" {
		deps = append([]string{meta.SuperName}, deps...)
	}
	for _, dep := range deps {
		if lerr := l.checkDependency(dep); lerr != nil {
			return nil, dependencyError(fqName, dep, lerr)
		}
	}
	return meta, nil
}

// checkDependency links dep through the same loader. Platform classes
// that are absent from the classpath are assumed present.
func (l *Loader) checkDependency(dep string) *LoadError {
	_, lerr := l.load(dep)
	if lerr != nil && lerr.Kind == NotFound && IsPlatformClass(dep) {
		return nil
	}
	return lerr
}

// dependencyError reports a failed dependency under fqName. Missing names
// the absent class wherever it sits in the super chain.
func dependencyError(fqName, dep string, lerr *LoadError) *LoadError {
	switch lerr.Kind {
	case NotFound:
		return &LoadError{Kind: MissingDependency, Class: fqName, Missing: dep}
	case MissingDependency:
		return &LoadError{Kind: MissingDependency, Class: fqName, Missing: lerr.Missing, Cause: lerr}
	case UnsupportedVersion:
		return &LoadError{
			Kind:  UnsupportedVersion,
			Class: fqName,
			Major: lerr.Major,
			Minor: lerr.Minor,
			Max:   lerr.Max,
			Cause: lerr,
		}
	default:
		return &LoadError{Kind: Structural, Class: fqName, Cause: lerr}
	}
}

func (l *Loader) readClass(fqName string) ([]byte, error) {
	entry := strings.ReplaceAll(fqName, ".", "/") + ".class"
	for _, src := range l.sources {
		data, err := src.read(entry)
		if err == nil {
			l.diskReads++
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s from %s: %w", entry, src, err)
		}
	}
	return nil, fs.ErrNotExist
}

// Close releases every opened archive. The loader must not be used after.
func (l *Loader) Close() error {
	var errs []error
	for _, s := range l.sources {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.sources = nil
	l.outcomes.Flush()
	return errors.Join(errs...)
}

func toMetadata(cf *classfile.ClassFile) (*model.ClassMetadata, error) {
	meta := &model.ClassMetadata{
		Name:         signature.Normalize(cf.ThisClass),
		SuperName:    signature.Normalize(cf.SuperClass),
		MajorVersion: cf.MajorVersion,
		Interfaces:   make([]string, 0, len(cf.Interfaces)),
		Methods:      make([]model.MethodMetadata, 0, len(cf.Methods)),
	}
	for _, i := range cf.Interfaces {
		meta.Interfaces = append(meta.Interfaces, signature.Normalize(i))
	}
	for _, m := range cf.Methods {
		params, ret, err := signature.ParseMethodDescriptor(m.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
		meta.Methods = append(meta.Methods, model.MethodMetadata{
			Name:       m.Name,
			ParamTypes: params,
			ReturnType: ret,
		})
	}
	return meta, nil
}

var platformPrefixes = []string{"java.", "javax.", "jdk.", "sun.", "com.sun."}

// IsPlatformClass reports whether name belongs to the Java platform.
func IsPlatformClass(name string) bool {
	for _, p := range platformPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// PlatformLocations lists the jmod archives of a JDK installation so
// platform classes can be modeled too.
func PlatformLocations(javaHome string) []string {
	if javaHome == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(javaHome, "jmods", "*.jmod"))
	if err != nil {
		return nil
	}
	return matches
}
