package timestamp

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidStamp is returned for stamps that are not non-negative
// seconds with an optional fraction.
var ErrInvalidStamp = errors.New("timestamp: invalid stamp")

// ParseStamp converts a VM uptime stamp in seconds ("1.234", "1,234",
// "0.5s") to milliseconds. Fractions beyond millisecond precision are
// truncated.
func ParseStamp(s string) (int64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "s")
	if v == "" {
		return 0, ErrInvalidStamp
	}

	whole, frac := v, ""
	if i := strings.IndexAny(v, ".,"); i >= 0 {
		whole, frac = v[:i], v[i+1:]
	}
	if whole == "" {
		whole = "0"
	}

	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStamp, s)
	}

	var millis int64
	if frac != "" {
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidStamp, s)
			}
		}
		if len(frac) > 3 {
			frac = frac[:3]
		}
		frac += strings.Repeat("0", 3-len(frac))
		millis, _ = strconv.ParseInt(frac, 10, 64)
	}

	return secs*1000 + millis, nil
}

// FormatStamp renders milliseconds as seconds with three decimals.
func FormatStamp(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	return fmt.Sprintf("%s%d.%03d", sign, ms/1000, ms%1000)
}

// uptimeDecoration matches a leading unified-logging uptime decoration
// such as "[0.123s]" or "[1,234s]".
var uptimeDecoration = regexp.MustCompile(`^\[(\d+[.,]?\d*)s\]`)

// Result holds the outcome of extracting a stamp from a log line.
type Result struct {
	Found     bool
	Millis    int64
	Remaining string
}

// Parser extracts uptime stamps from JVM trace lines.
type Parser struct{}

// NewParser creates a stamp parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFromText strips a leading "[<uptime>s]" decoration from line.
// Remaining is the line with the decoration removed; when no stamp is
// found it is the original text.
func (p *Parser) ParseFromText(line string) Result {
	m := uptimeDecoration.FindStringSubmatch(line)
	if m == nil {
		return Result{Remaining: line}
	}
	ms, err := ParseStamp(m[1])
	if err != nil {
		return Result{Remaining: line}
	}
	return Result{
		Found:     true,
		Millis:    ms,
		Remaining: line[len(m[0]):],
	}
}
