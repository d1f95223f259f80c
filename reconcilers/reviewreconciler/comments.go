/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/agents/toolcall"
)

const (
	analyzingComment = "🔍 Analyzing PR changes and preparing to run tests..."
	launchingComment = "🚀 Launching desktop..."
	fence            = "```"
	// maxRenderedSteps bounds each step log. Older steps are elided.
	maxRenderedSteps = 40
	sectionBreak     = "\n\n---\n\n"
	// maxCommentLength is GitHub's limit on a comment body, in characters.
	maxCommentLength = 65536
	truncatedNotice  = "\n\n_Comment truncated to fit GitHub's size limit._\n\n"
)

// stepDetail is how much of the step logs a rendering shows.
type stepDetail int

const (
	allSteps stepDetail = iota
	// liveSteps keeps only the logs of work still in progress.
	liveSteps
	noSteps
)

var priorityIcons = map[Priority]string{
	PriorityHigh:   "❗️❗️❗️",
	PriorityMedium: "❗️❗️",
	PriorityLow:    "❗️",
}

var generateTemplate = template.Must(template.New("generate").Funcs(template.FuncMap{
	"add1": func(i int) int { return i + 1 },
	"icon": func(p Priority) string { return priorityIcons[p] },
}).Parse(`# VibePR Review
- PR: #{{.PRNumber}}
- Commit: {{.ShortSHA}}

## Codebase Summary
{{.Generate.CodebaseSummary}}

## PR Changes
{{.Generate.PRChangesSummary}}

## Setup Instructions
{{if .Generate.SetupConfigContent}}Fetched from vibePR.yaml{{else if .Generate.AutoSetupInstructions}}{{.Generate.AutoSetupInstructions}}{{else}}No setup instructions provided.{{end}}

## Generated Test Cases
{{range $i, $t := .Generate.GeneratedTests}}
### {{add1 $i}}: {{$t.Name}} {{icon $t.Priority}}

**Description**: {{$t.Description}}

**Prerequisites**:
{{range $t.Prerequisites}}- {{.}}
{{end}}
**Steps**:
{{range $j, $s := $t.Steps}}{{add1 $j}}. {{$s}}
{{end}}
**Expected Result**: {{$t.ExpectedResult}}
{{end}}
<details>
<summary>Raw Changes Analyzed</summary>

~~~diff
{{range .Generate.ChangedFiles}}{{.Filename}}: +{{.Additions}} -{{.Deletions}}
{{end}}~~~
</details>`))

// Render produces the status comment for the review's current state. The
// output depends only on r, so rendering the same state twice yields the
// same comment. Step logs of finished work are hidden, then all of them,
// until the body fits GitHub's limit; the latest state always survives.
func Render(r *Review) string {
	var body string
	for d := allSteps; d <= noSteps; d++ {
		body = render(r, d)
		if utf8.RuneCountInString(body) <= maxCommentLength {
			return body
		}
	}
	return fitComment(body)
}

func render(r *Review, d stepDetail) string {
	sections := []string{renderGenerate(r)}
	if s := renderSetup(r, d); s != "" {
		sections = append(sections, s)
	}
	if s := renderExecute(r, d); s != "" {
		sections = append(sections, s)
	}
	return strings.Join(sections, sectionBreak)
}

// fitComment cuts the middle of an oversized body, which is the test plan,
// keeping the header and the sections after it.
func fitComment(body string) string {
	runes := []rune(body)
	head := string(runes[:maxCommentLength/8])
	if strings.Count(head, fence)%2 == 1 {
		head += "\n" + fence
	}
	keep := maxCommentLength - utf8.RuneCountInString(head) - utf8.RuneCountInString(truncatedNotice)
	tail := string(runes[len(runes)-keep:])
	if i := strings.Index(tail, sectionBreak); i >= 0 {
		tail = tail[i+len(sectionBreak):]
	}
	return head + truncatedNotice + tail
}

func renderGenerate(r *Review) string {
	switch r.Generate.Status {
	case StatusFailed:
		return "❌ Error while analyzing PR and generating tests:\n\n" + codeBlock(r.Generate.Error)
	case StatusComplete:
		var buf bytes.Buffer
		if err := generateTemplate.Execute(&buf, r); err != nil {
			return fmt.Sprintf("# VibePR Review\n- PR: #%d\n- Commit: %s\n\n(failed to render test plan: %v)", r.PRNumber, r.ShortSHA(), err)
		}
		return buf.String()
	}
	return analyzingComment
}

func renderSetup(r *Review, d stepDetail) string {
	s := r.Setup
	if s.Status == StatusPending {
		return ""
	}
	var parts []string
	switch {
	case r.StreamURL != "":
		parts = append(parts, fmt.Sprintf("🚀 Desktop started!\n\n<a href=%q>Interactive stream</a>", r.StreamURL))
	case s.Status == StatusInProgress:
		parts = append(parts, launchingComment)
	}
	if s.Warning != "" {
		parts = append(parts, s.Warning)
	}
	switch s.Status {
	case StatusInProgress:
		if r.StreamURL != "" {
			parts = append(parts, "🔧 Setting up test environment...\n\n"+stepLog(s.Steps, d != noSteps))
		}
	case StatusComplete:
		msg := "✅ Setup complete! Running tests..."
		if r.Execute.Status.Terminal() {
			msg = "✅ Setup complete!"
		}
		parts = append(parts, msg+"\n\n"+stepLog(s.Steps, d == allSteps))
	case StatusFailed:
		parts = append(parts, "❌ Error setting up test environment:\n\n"+codeBlock(s.Error)+"\n\n"+stepLog(s.Steps, d == allSteps))
	}
	return strings.Join(parts, "\n\n")
}

func renderExecute(r *Review, d stepDetail) string {
	e := r.Execute
	if e.Status == StatusPending {
		return ""
	}
	var parts []string
	for _, tr := range e.TestResults {
		parts = append(parts, renderTestResult(tr, d == allSteps))
	}
	if c := e.Current; c != nil {
		parts = append(parts, fmt.Sprintf("🧪 Running test %d: %s...\n\n%s", c.TestNumber, c.TestName, stepLog(c.Steps, d != noSteps)))
	}
	switch e.Status {
	case StatusFailed:
		parts = append(parts, "❌ Something went wrong:\n\n"+codeBlock(e.Error))
	case StatusComplete:
		parts = append(parts, renderSummary(r))
	}
	return strings.Join(parts, "\n\n")
}

func renderTestResult(tr TestResult, showSteps bool) string {
	status := "❌ Failed"
	if tr.Success {
		status = "✅ Passed"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: Test %d: %s", status, tr.TestNumber, tr.TestName)
	if tr.Error != "" {
		sb.WriteString("\nError: " + tr.Error)
	}
	if tr.Notes != "" {
		sb.WriteString("\n" + tr.Notes)
	}
	sb.WriteString("\n\n" + stepLog(tr.Steps, showSteps))
	return sb.String()
}

func renderSummary(r *Review) string {
	status := "⚠️ Some tests failed. Please check the individual test results above for details."
	switch {
	case r.TotalTests == 0:
		status = "⚠️ No tests were generated for this pull request."
	case r.PassedTests == r.TotalTests:
		status = "🎉 All tests passed!"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# VibePR Test Results 📊\n\n%d/%d tests passed\n%s", r.PassedTests, r.TotalTests, status)
	if len(r.Execute.TestResults) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(resultsTable(r))
	}
	return sb.String()
}

// resultsTable renders results as a markdown table.
func resultsTable(r *Review) string {
	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{AutoFormat: tw.Off},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			Behavior: tw.Behavior{TrimSpace: tw.Off},
		}),
		tablewriter.WithHeader([]string{"#", "Test", "Priority", "Result"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	for _, tr := range r.Execute.TestResults {
		priority := ""
		if i := tr.TestNumber - 1; i >= 0 && i < len(r.Generate.GeneratedTests) {
			priority = string(r.Generate.GeneratedTests[i].Priority)
		}
		result := "❌ Failed"
		if tr.Success {
			result = "✅ Passed"
		}
		_ = table.Append([]string{fmt.Sprint(tr.TestNumber), strings.ReplaceAll(tr.TestName, "|", `\|`), priority, result})
	}
	_ = table.Render()
	return strings.TrimRight(buf.String(), "\n")
}

func stepDetails(steps []driver.TimestampedStep) string {
	return "<details>\n<summary>Agent Steps</summary>\n\n" + FormatSteps(steps) + "\n</details>"
}

// stepLog renders steps, or a one-line stand-in when they are hidden.
func stepLog(steps []driver.TimestampedStep, show bool) string {
	if show || len(steps) == 0 {
		return stepDetails(steps)
	}
	return fmt.Sprintf("<details>\n<summary>Agent Steps</summary>\n\n_%d steps hidden to fit GitHub's comment size limit_\n</details>", len(steps))
}

var (
	bulletPrefix    = regexp.MustCompile(`^-\s*`)
	numberingPrefix = regexp.MustCompile(`^\d+\.\s+`)
)

// FormatSteps renders steps as fenced blocks of the step text followed by
// one "name: args" line per tool call. Editor calls always show
// toolcall.Redacted.
func FormatSteps(steps []driver.TimestampedStep) string {
	var blocks []string
	if n := len(steps) - maxRenderedSteps; n > 0 {
		blocks = append(blocks, fmt.Sprintf("_%d earlier steps omitted_", n))
		steps = steps[n:]
	}
	for _, step := range steps {
		text := strings.TrimSpace(step.Text)
		text = bulletPrefix.ReplaceAllString(text, "")
		text = numberingPrefix.ReplaceAllString(text, "")

		lines := make([]string, 0, len(step.ToolCalls)+1)
		if text != "" {
			lines = append(lines, text)
		}
		for _, call := range step.ToolCalls {
			lines = append(lines, call.Name+": "+renderArgs(call))
		}
		if len(lines) == 0 {
			continue
		}
		block := fence + "\n" + strings.ReplaceAll(strings.Join(lines, "\n"), fence, "'''") + "\n" + fence
		if step.Screenshot != "" {
			block += fmt.Sprintf("\n[screenshot](%s)", step.Screenshot)
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n")
}

func renderArgs(call driver.ToolCallRecord) string {
	if call.Name == driver.ToolEditor {
		return toolcall.Redacted
	}
	switch a := call.Args.(type) {
	case nil:
		return ""
	case string:
		return a
	}
	b, err := json.Marshal(call.Args)
	if err != nil {
		return fmt.Sprint(call.Args)
	}
	return string(b)
}

func codeBlock(s string) string {
	return fence + "\n" + strings.ReplaceAll(s, fence, "'''") + "\n" + fence
}
