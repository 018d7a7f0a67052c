// Package report renders an engine.RunResult as Markdown and, on a terminal,
// as ANSI output via charmbracelet/glamour — the same renderer the teacher's
// runCLI used for a single response (cmd/falcon/main.go), here applied to a
// whole run's summary instead of one HTTP response.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/fracture-labs/fracture/internal/engine"
	"github.com/fracture-labs/fracture/internal/secrets"
)

// Markdown renders res as a Markdown document: a summary table, then one
// section per request with its test results, redacting anything that looks
// like a hardcoded secret.
func Markdown(res *engine.RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", res.CollectionName)
	if len(res.ValidationErrors) > 0 {
		fmt.Fprintf(&b, "**Validation failed — %d error(s), run did not execute.**\n\n", len(res.ValidationErrors))
		for _, e := range res.ValidationErrors {
			fmt.Fprintf(&b, "- `%s`: %s\n", e.Source, e.Message)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Duration | %s |\n", res.Duration)
	fmt.Fprintf(&b, "| Tests | %d total, %d passed, %d failed, %d skipped |\n",
		res.TotalTests, res.PassedTests, res.FailedTests, res.SkippedTests)
	if res.Aborted {
		fmt.Fprintf(&b, "| Aborted | %s |\n", res.AbortReason)
	}
	b.WriteString("\n")

	for _, rec := range res.RequestResults {
		status := "ok"
		if rec.Response != nil && rec.Response.Summary.Outcome != "" {
			status = rec.Response.Summary.Outcome
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", rec.Name, status)
		if rec.Path != "" {
			fmt.Fprintf(&b, "_%s_\n\n", rec.Path)
		}
		if rec.ScriptError != "" {
			fmt.Fprintf(&b, "script error: `%s`\n\n", secrets.RedactString(rec.ScriptError))
		}
		for _, t := range rec.Tests {
			mark := "x"
			switch {
			case t.Skipped:
				mark = "~"
			case !t.Passed:
				mark = " "
			}
			line := fmt.Sprintf("- [%s] %s", mark, t.Name)
			if t.Error != "" {
				line += fmt.Sprintf(" — %s", secrets.RedactString(t.Error))
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Render renders res for a terminal, falling back to plain Markdown if
// glamour's renderer can't be constructed (e.g. no TTY), matching the
// teacher's fallback-to-raw-output behavior in runCLI.
func Render(res *engine.RunResult) string {
	md := Markdown(res)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
