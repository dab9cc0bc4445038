package cli

// This file contains the view command for displaying the results of a
// previous batch.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/perfgo/simrun/history"
	"github.com/perfgo/simrun/model"
	"github.com/perfgo/simrun/report"
	"github.com/urfave/cli/v2"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, tests []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are test names
	if in[0] == "--" {
		return "0", in[1:]
	}

	// A negative index is "-" followed by only digits (e.g. "-1", "-2").
	// Anything else starting with "-" cannot be an ID.
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", in
		}
	}

	return in[0], removeFirstDashDash(in[1:])
}

// findEntry resolves an index (0 = newest, -1 = the one before, ...) or a
// batch ID or revision prefix. Entries must be sorted newest first.
func findEntry(entries []history.Entry, arg string) (*history.Entry, error) {
	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d batches)", arg, len(entries))
		}
		return &entries[index], nil
	}

	prefix := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Batch.ID), prefix) {
			return &entries[i], nil
		}
	}
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Batch.Revision), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no batch found matching ID or revision: %s", arg)
}

func (a *App) view(ctx *cli.Context) error {
	arg, tests := parseViewArgs(ctx.Args().Slice())

	outputRoot := ctx.String("output-dir")
	if err := history.CheckRoot(outputRoot); err != nil {
		return err
	}

	entries, err := history.LoadEntries(a.logger, outputRoot)
	if err != nil {
		return fmt.Errorf("failed to load batches: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no batches found in %s", outputRoot)
	}

	entry, err := findEntry(entries, arg)
	if err != nil {
		return err
	}

	return displayBatch(os.Stdout, entry, tests)
}

func displayBatch(w io.Writer, entry *history.Entry, tests []string) error {
	b := entry.Batch

	fmt.Fprintf(w, "=== Batch: %s ===\n", shortID(b.ID))
	fmt.Fprintf(w, "Time: %s\n", b.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", b.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", b.ExitCode)
	fmt.Fprintf(w, "Revision: %s\n", b.Revision)
	fmt.Fprintf(w, "Machine: %s (%s)\n", b.Machine, b.Policy)
	if b.Selection != "" {
		fmt.Fprintf(w, "Selection: %s\n", b.Selection)
	}
	if f, err := os.Open(filepath.Join(entry.FullPath, model.VersionFile)); err == nil {
		if p, err := model.ParseProvenance(f); err == nil {
			fmt.Fprintf(w, "Comparator: %s %s\n", p.Verifier, p.VerifierVersion)
		}
		f.Close()
	}
	fmt.Fprintf(w, "Directory: %s\n", entry.FullPath)
	fmt.Fprintln(w)

	if len(tests) > 0 {
		return displayTests(w, entry, tests)
	}

	if b.Counts == nil {
		fmt.Fprintln(w, "Batch was not verified. Simulations:")
		for _, tr := range b.Tests {
			fmt.Fprintf(w, "  %-12s %s\n", tr.State, tr.Name)
		}
		return nil
	}

	data, err := os.ReadFile(filepath.Join(entry.FullPath, report.SummaryFile))
	if err != nil {
		return fmt.Errorf("failed to read summary: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func displayTests(w io.Writer, entry *history.Entry, tests []string) error {
	payload, err := report.ReadPayload(filepath.Join(entry.FullPath, model.ResultsFile))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("batch %s has no results", shortID(entry.Batch.ID))
	}
	if err != nil {
		return err
	}

	runs := make(map[string]model.TestRun, len(entry.Batch.Tests))
	for _, tr := range entry.Batch.Tests {
		runs[tr.Name] = tr
	}
	results := payload.Map()

	for _, name := range tests {
		checks, ok := results[name]
		if !ok {
			return fmt.Errorf("test %s is not part of batch %s", name, shortID(entry.Batch.ID))
		}

		fmt.Fprintf(w, "%s", name)
		if tr, ok := runs[name]; ok {
			fmt.Fprintf(w, " [%s, %s]", tr.State, tr.Elapsed.Round(time.Millisecond))
			if tr.Error != "" {
				fmt.Fprintf(w, " %s", tr.Error)
			}
		}
		fmt.Fprintln(w)

		for _, c := range checks {
			status := "PASS"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(w, "  %s  %s\n", status, c.Name)
		}
	}
	return nil
}
