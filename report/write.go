package report

// This file contains the report writers: the plain-text summary, the JSON
// payload and the console table.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/simrun/model"
)

// SummaryFile is the human-readable report inside a batch directory.
const SummaryFile = "test_results.txt"

// Finalize writes the summary and the payload into dir and returns the path
// of the summary. Calling it again without recording further events rewrites
// identical files.
func (a *Aggregator) Finalize(dir, revision, batchID string) (string, error) {
	summaryPath := filepath.Join(dir, SummaryFile)
	if err := os.WriteFile(summaryPath, []byte(a.Summary()), 0644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}

	data, err := json.MarshalIndent(a.Payload(revision, batchID), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, model.ResultsFile), append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}

	c := a.Counts()
	a.logger.Info().
		Int("passed", c.Passed).
		Int("failed", c.Failed).
		Int("errored", c.Errored).
		Msg("Testing complete")

	return summaryPath, nil
}

// Summary renders the plain-text report: the counts followed by the passed,
// failed and errored checks.
func (a *Aggregator) Summary() string {
	var passed, failed, errored []string
	for _, e := range a.Events() {
		switch e.Outcome {
		case model.OutcomePass:
			passed = append(passed, fmt.Sprintf("%s: PASS", e.Label))
		case model.OutcomeFail:
			failed = append(failed, fmt.Sprintf("%s: FAILURE %s", e.Label, e.Message))
		default:
			errored = append(errored, fmt.Sprintf("%s: ERROR %s", e.Label, e.Message))
		}
	}

	var b strings.Builder
	b.WriteString("Test Summary\n")
	fmt.Fprintf(&b, "Tests Passed: %d\n", len(passed))
	fmt.Fprintf(&b, "Tests Failed: %d\n", len(failed))
	fmt.Fprintf(&b, "Tests Errored: %d\n", len(errored))
	b.WriteString("\n\n")

	for _, section := range []struct {
		title string
		lines []string
	}{
		{"Tests that passed: ", passed},
		{"Tests that failed:", failed},
		{"Tests that errored:", errored},
	} {
		b.WriteString(section.title + "\n")
		for _, line := range section.lines {
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ReadPayload reads a results file written by Finalize.
func ReadPayload(path string) (model.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Payload{}, err
	}

	var p model.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Payload{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return p, nil
}

// WriteTable prints the recorded events as a table.
func (a *Aggregator) WriteTable(w io.Writer, title string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Check", "Result", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, e := range a.Events() {
		t.AppendRow(table.Row{e.Label, strings.ToUpper(string(e.Outcome)), e.Message})
	}

	c := a.Counts()
	if c.Failed > 0 || c.Errored > 0 {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.AppendFooter(table.Row{
		"Total",
		fmt.Sprintf("%d passed, %d failed, %d errored", c.Passed, c.Failed, c.Errored),
		"",
	})
	t.Render()
}
