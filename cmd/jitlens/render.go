package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/jitlens/internal/model"
	"github.com/tinytelemetry/jitlens/internal/pipeline"
	"github.com/tinytelemetry/jitlens/internal/timestamp"
)

const (
	maxReportDiagnostics = 20
	maxReportClasses     = 10
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boldStyle   = lipgloss.NewStyle().Bold(true)

	fatalBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("196")).Padding(0, 1).Width(76)
)

func renderText(res *pipeline.Result) string {
	s := res.Summary
	var lines []string
	row := func(label, value string) {
		lines = append(lines, fmt.Sprintf("    %-18s %s", dimStyle.Render(label), value))
	}

	lines = append(lines, "")
	lines = append(lines, boldStyle.Render("    Run ")+cyanStyle.Render(s.RunID))
	lines = append(lines, "")
	row("Log", shortenPath(s.LogPath))
	if s.VMCommand != "" {
		row("Command", s.VMCommand)
	}
	row("Records", fmt.Sprintf("%d", s.RecordsProcessed))
	row("Events", fmt.Sprintf("%d", s.Events))
	row("Code cache events", fmt.Sprintf("%d", s.CodeCacheEvents))
	row("Classes", fmt.Sprintf("%d", s.Classes))
	row("Native bytes", fmt.Sprintf("%d", s.NativeBytes))
	row("Elapsed", s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String())
	if s.Stopped {
		row("Status", yellowStyle.Render("stopped early"))
	} else if s.Fatal {
		row("Status", redStyle.Render("fatal"))
	} else {
		row("Status", greenStyle.Render("complete"))
	}

	st := res.Stats
	lines = append(lines, "")
	lines = append(lines, boldStyle.Render("    Compilations"))
	lines = append(lines, "")
	row("Total", fmt.Sprintf("%d", st.CompiledCount()))
	row("C1 / C2", fmt.Sprintf("%d / %d", st.CountC1, st.CountC2))
	if st.CountC2N > 0 {
		row("C2N", fmt.Sprintf("%d", st.CountC2N))
	}
	if st.CountJ9 > 0 {
		row("J9", fmt.Sprintf("%d", st.CountJ9))
	}
	if st.MaxBytecodeMember != nil {
		row("Largest bytecode", fmt.Sprintf("%d  %s", st.MaxBytecodeSize, st.MaxBytecodeMember.Signature()))
	}
	if st.MaxNativeMember != nil {
		row("Largest native", fmt.Sprintf("%d  %s", st.MaxNativeSize, st.MaxNativeMember.Signature()))
	}
	if st.MaxCompileMember != nil {
		row("Slowest compile", fmt.Sprintf("%ss  %s", timestamp.FormatStamp(st.MaxCompileTime), st.MaxCompileMember.Signature()))
	}

	if len(res.Classes) > 0 {
		lines = append(lines, "")
		lines = append(lines, boldStyle.Render("    Most compiled classes"))
		lines = append(lines, "")
		for _, c := range topClasses(res.Classes, maxReportClasses) {
			lines = append(lines, fmt.Sprintf("    %5d  %s", c.CompiledMethods, c.ClassName))
		}
	}

	if len(res.Diagnostics) > 0 {
		lines = append(lines, "")
		lines = append(lines, boldStyle.Render(fmt.Sprintf("    Diagnostics (%d)", len(res.Diagnostics))))
		lines = append(lines, "")
		for i, d := range res.Diagnostics {
			if i == maxReportDiagnostics {
				lines = append(lines, dimStyle.Render(fmt.Sprintf("    ... %d more", len(res.Diagnostics)-i)))
				break
			}
			lines = append(lines, "    "+severityStyle(d.Severity).Render("●")+" "+d.String())
		}
	}

	for _, w := range res.Warnings {
		lines = append(lines, "    "+yellowStyle.Render("warning: ")+w)
	}

	if s.Fatal {
		lines = append(lines, "")
		body := boldStyle.Render(s.ErrorTitle) + "\n" + s.ErrorBody
		for _, l := range strings.Split(fatalBox.Render(body), "\n") {
			lines = append(lines, "    "+l)
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// topClasses returns up to n classes with the most compiled methods.
// Classes keep registry order among equal counts.
func topClasses(classes []model.ClassStatRow, n int) []model.ClassStatRow {
	out := make([]model.ClassStatRow, 0, n)
	for _, c := range classes {
		if c.CompiledMethods == 0 {
			continue
		}
		i := len(out)
		for i > 0 && out[i-1].CompiledMethods < c.CompiledMethods {
			i--
		}
		if i >= n {
			continue
		}
		out = append(out, model.ClassStatRow{})
		copy(out[i+1:], out[i:])
		out[i] = c
		if len(out) > n {
			out = out[:n]
		}
	}
	return out
}

func severityStyle(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityFatal:
		return redStyle
	case model.SeverityStructural:
		return yellowStyle
	default:
		return dimStyle
	}
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
