package main

import (
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/pipeline"
)

func TestStartupBanner(t *testing.T) {
	cfg := appConfig{
		APIEnabled:    true,
		APIAddr:       "127.0.0.1:3000",
		DBPath:        "/var/lib/jitlens/jitlens.duckdb",
		WatchDebounce: time.Second,
		RetentionDays: 7,
	}
	res := &pipeline.Result{Summary: model.RunSummary{
		Events:      3,
		Diagnostics: 1,
		Fatal:       true,
		ErrorTitle:  "Unsupported class version",
	}}

	out := startupBanner(cfg, "/tmp/hotspot.log", res, true)
	for _, want := range []string{
		"API",
		"HTTP API",
		"127.0.0.1:3000/metrics",
		"3 events, 1 diagnostics",
		"Unsupported class version",
		"1s debounce",
		"7 days",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Gateway") {
		t.Errorf("banner has a Gateway section:\n%s", out)
	}
}

func TestStartupBanner_Disabled(t *testing.T) {
	res := &pipeline.Result{}
	out := startupBanner(appConfig{}, "/tmp/hotspot.log", res, false)
	for _, want := range []string{"disabled", "keep all runs", "default (no file)"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "/metrics") {
		t.Errorf("metrics listed while the API is disabled:\n%s", out)
	}
}
