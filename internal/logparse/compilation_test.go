package logparse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinytelemetry/jitlens/internal/model"
)

const sampleLog = `<?xml version='1.0' encoding='UTF-8'?>
<hotspot_log version='160 1' process='4242' time_ms='1700000000000'>
<vm_arguments>
<command>
com.foo.Main --fast
</command>
</vm_arguments>
<tty>
[Loaded com.foo.Bar from file:/opt/app/classes/]
<task_queued compile_id='1' method='com/foo/Bar baz (I)V' bytes='12' count='5000' stamp='0.100' comment='tiered' hot_count='5000'/>
[0.200s][info][class,load] com.foo.Util source: jar:file:/opt/app/lib/util.jar!/
<nmethod compile_id='1' compiler='c2' stamp='0.250' method='com/foo/Bar baz (I)V' bytes='12' size='600' nmsize='4096'/>
<sweeper state='finished' traversals='3' stamp='0.300'/>
</tty>
<compilation_log thread='22'>
<task compile_id='1' method='com/foo/Bar baz (I)V' bytes='12' stamp='0.110'>
<phase name='parse' stamp='0.111'>
<phase_done name='parse' stamp='0.112'/>
</phase>
<code_cache total_blobs='300' nmethods='40' adapters='100' free_code_cache='1000'/>
<task_done success='1' nmsize='4096' count='5000' stamp='0.240'/>
</task>
</compilation_log>
<hotspot_log_done stamp='1.000'/>
</hotspot_log>
`

func names(tags []*model.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name())
	}
	return out
}

func TestRead_Records(t *testing.T) {
	parsed, err := Read(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []string{"command", "task_queued", "nmethod", "sweeper", "task", "hotspot_log_done"}
	got := names(parsed.Tags)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("records = %v, want %v", got, want)
	}

	queued := parsed.Tags[1]
	if m, _ := queued.Attribute(model.AttrMethod); m != "com/foo/Bar baz (I)V" {
		t.Errorf("task_queued method = %q", m)
	}
	if queued.Line() != 10 {
		t.Errorf("task_queued line = %d, want 10", queued.Line())
	}

	task := parsed.Tags[4]
	done := task.FirstNamedChild(model.TagTaskDone)
	if done == nil || !done.Parent().IsTask() {
		t.Fatal("task_done child missing or not parented by task")
	}
	if cc := task.FirstNamedChild(model.TagCodeCache); cc == nil {
		t.Error("code_cache child missing")
	}
	if len(parsed.Warnings) != 0 {
		t.Errorf("Warnings = %v", parsed.Warnings)
	}
}

func TestRead_ClassLoadLinesAndCommand(t *testing.T) {
	parsed, err := Read(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(parsed.ClassLoadLines) != 2 {
		t.Fatalf("ClassLoadLines = %v", parsed.ClassLoadLines)
	}
	if !strings.HasPrefix(parsed.ClassLoadLines[0], "[Loaded com.foo.Bar") {
		t.Errorf("ClassLoadLines[0] = %q", parsed.ClassLoadLines[0])
	}
	if parsed.VMCommand != "com.foo.Main --fast" {
		t.Errorf("VMCommand = %q", parsed.VMCommand)
	}
	if parsed.Lines != int64(strings.Count(sampleLog, "\n")) {
		t.Errorf("Lines = %d", parsed.Lines)
	}
}

func TestRead_TruncatedLogKeepsEarlierRecords(t *testing.T) {
	input := `<hotspot_log>
<tty>
<task_queued compile_id='1' method='a/B c ()V' stamp='0.1'/>
<nmethod compile_id='1' compiler='c1' stamp='0.2' method='a/B c ()V'/>
<task_queued compile_id='2' method='a/B d ()V' st`

	parsed, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := names(parsed.Tags); len(got) != 2 {
		t.Fatalf("records = %v, want 2", got)
	}
	if len(parsed.Warnings) == 0 {
		t.Error("expected a warning for the truncated tail")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compilation.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	parsed, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(parsed.Tags) != 6 {
		t.Errorf("len(Tags) = %d, want 6", len(parsed.Tags))
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Error("ReadFile on a missing path returned nil error")
	}
}
