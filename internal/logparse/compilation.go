// Package logparse turns a JIT compilation log into a tag tree and pulls
// out the class-load trace lines mixed into it.
package logparse

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/classpath"
	"github.com/tinytelemetry/jitlens/internal/model"
)

// Elements whose children are emitted as records rather than the element
// itself.
var containers = map[string]bool{
	"hotspot_log":     true,
	"tty":             true,
	"compilation_log": true,
	"vm_arguments":    true,
}

// ParsedLog is the materialized form of one log file.
type ParsedLog struct {
	// Tags are the top-level records in document order.
	Tags []*model.Tag

	ClassLoadLines []string
	VMCommand      string
	Lines          int64

	// Warnings describe recoverable problems, such as a truncated tail.
	Warnings []string
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) (*ParsedLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logparse: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read tokenizes r. Malformed XML ends tokenization early with a warning;
// records parsed up to that point are kept. Only I/O failures are returned
// as errors.
func Read(r io.Reader) (*ParsedLog, error) {
	out := &ParsedLog{}
	filter := &lineFilter{
		br: bufio.NewReaderSize(r, 64*1024),
		onClassLoad: func(line string) {
			out.ClassLoadLines = append(out.ClassLoadLines, line)
		},
	}

	dec := xml.NewDecoder(filter)
	dec.Strict = false
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var (
		current *model.Tag
		command strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if filter.err != nil && !errors.Is(filter.err, io.EOF) {
				return nil, fmt.Errorf("logparse: read: %w", filter.err)
			}
			line, _ := dec.InputPos()
			msg := fmt.Sprintf("stopped at line %d: %v", line, err)
			out.Warnings = append(out.Warnings, msg)
			logrus.WithField("component", "logparse").Warn("logparse: " + msg)
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[a.Name.Local] = a.Value
			}
			tag := model.NewTag(t.Name.Local, attrs, current)
			line, _ := dec.InputPos()
			tag.SetLine(line)
			current = tag

		case xml.EndElement:
			if current == nil {
				continue
			}
			done := current
			current = done.Parent()
			if done.Name() == model.TagCommand && out.VMCommand == "" {
				out.VMCommand = strings.TrimSpace(command.String())
			}
			if isRecord(done) {
				out.Tags = append(out.Tags, done)
			}

		case xml.CharData:
			if current != nil && current.Name() == model.TagCommand {
				command.Write(t)
			}
		}
	}

	if current != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("unterminated element <%s>", current.Name()))
	}
	out.Lines = filter.lines
	return out, nil
}

func isRecord(t *model.Tag) bool {
	if containers[t.Name()] {
		return false
	}
	p := t.Parent()
	return p == nil || containers[p.Name()]
}

// lineFilter passes the log through line by line, diverting class-load
// trace lines. Diverted lines are replaced by a bare newline so decoder
// line numbers still match the file.
type lineFilter struct {
	br          *bufio.Reader
	pending     []byte
	onClassLoad func(string)
	lines       int64
	err         error
}

func (f *lineFilter) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		line, err := f.br.ReadString('\n')
		if len(line) > 0 {
			f.lines++
			text := strings.TrimRight(line, "\r\n")
			if classpath.IsClassLoadLine(text) {
				f.onClassLoad(strings.TrimSpace(text))
				line = line[len(text):]
			}
			f.pending = []byte(line)
		}
		if err != nil {
			f.err = err
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}
