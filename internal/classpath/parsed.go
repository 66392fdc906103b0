package classpath

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// JDK 8: [Loaded com.foo.Bar from file:/opt/app/classes/]
	legacyLoadLine = regexp.MustCompile(`\[Loaded (\S+) from (.+?)\]\s*$`)
	// Unified logging: [0.1s][info][class,load] com.foo.Bar source: file:/opt/app/classes/
	unifiedLoadLine = regexp.MustCompile(`\[class,load\s*\]\s*(\S+) source: (.+?)\s*$`)

	syntheticName = regexp.MustCompile(`\$\$Lambda|\$Lambda\$|(^|[.$])lambda\$|[./]0x[0-9a-fA-F]+$`)
)

// IsSynthetic reports whether name matches a lambda or hidden-class naming
// pattern. Such classes have no class file and are expected to be missing.
func IsSynthetic(name string) bool {
	return syntheticName.MatchString(name)
}

// IsClassLoadLine reports whether line is a class-load trace line.
func IsClassLoadLine(line string) bool {
	return legacyLoadLine.MatchString(line) || unifiedLoadLine.MatchString(line)
}

// ParsedClasspath collects classpath locations recovered from class-load
// trace lines, in first-seen order.
type ParsedClasspath struct {
	seen      map[string]struct{}
	locations []string
}

func NewParsedClasspath() *ParsedClasspath {
	return &ParsedClasspath{seen: make(map[string]struct{})}
}

// AddFromTraceLine extracts the load source from line and records it.
// It reports whether a new location was added.
func (p *ParsedClasspath) AddFromTraceLine(line string) bool {
	var src string
	if m := legacyLoadLine.FindStringSubmatch(line); m != nil {
		src = m[2]
	} else if m := unifiedLoadLine.FindStringSubmatch(line); m != nil {
		src = m[2]
	} else {
		return false
	}

	loc, ok := locationFromSource(src)
	if !ok {
		return false
	}
	return p.Add(loc)
}

// Add records location unless it was already seen.
func (p *ParsedClasspath) Add(location string) bool {
	location = filepath.Clean(location)
	if _, dup := p.seen[location]; dup {
		return false
	}
	p.seen[location] = struct{}{}
	p.locations = append(p.locations, location)
	return true
}

// Locations returns the recorded locations in first-seen order.
func (p *ParsedClasspath) Locations() []string {
	out := make([]string, len(p.locations))
	copy(out, p.locations)
	return out
}

func locationFromSource(src string) (string, bool) {
	src = strings.TrimSpace(src)

	switch {
	case strings.HasPrefix(src, "jrt:"),
		strings.HasPrefix(src, "shared"),
		strings.HasPrefix(src, "__"),
		strings.HasPrefix(src, "instance of"):
		return "", false
	}

	if rest, ok := strings.CutPrefix(src, "jar:"); ok {
		src = rest
		if i := strings.Index(src, "!/"); i >= 0 {
			src = src[:i]
		}
	}
	if rest, ok := strings.CutPrefix(src, "file:"); ok {
		rest = strings.TrimPrefix(rest, "//")
		if unescaped, err := url.PathUnescape(rest); err == nil {
			rest = unescaped
		}
		src = rest
	}

	if src == "" || !filepath.IsAbs(src) && !hasArchiveExt(src) {
		return "", false
	}
	return src, true
}

func hasArchiveExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip", ".jmod":
		return true
	}
	return false
}

// MergeLocations joins configured and parsed locations, configured first,
// dropping duplicates and empty entries.
func MergeLocations(configured, parsed []string) []string {
	seen := make(map[string]struct{}, len(configured)+len(parsed))
	out := make([]string, 0, len(configured)+len(parsed))
	for _, list := range [][]string{configured, parsed} {
		for _, loc := range list {
			loc = strings.TrimSpace(loc)
			if loc == "" {
				continue
			}
			key := filepath.Clean(loc)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}
