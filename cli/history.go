package cli

// This file contains batch history functionality for listing previous
// batches below an output directory.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/perfgo/simrun/history"
	"github.com/urfave/cli/v2"
)

func (a *App) history(ctx *cli.Context) error {
	outputRoot := ctx.String("output-dir")
	filterRev := ctx.String("revision")
	limit := ctx.Int("limit")

	if err := history.CheckRoot(outputRoot); err != nil {
		fmt.Println("No batches found")
		fmt.Printf("Batches are saved to %s/<revision><run-suffix>/\n", outputRoot)
		return nil
	}

	entries, err := history.LoadEntries(a.logger, outputRoot)
	if err != nil {
		return err
	}

	var filtered []history.Entry
	for _, entry := range entries {
		if filterRev == "" || strings.HasPrefix(entry.Batch.Revision, filterRev) {
			filtered = append(filtered, entry)
		}
	}

	if len(filtered) == 0 {
		if filterRev != "" {
			fmt.Printf("No batches found matching revision: %s\n", filterRev)
		} else {
			fmt.Println("No batches found")
		}
		return nil
	}

	printHistory(os.Stdout, filtered, limit)
	return nil
}

// printHistory writes one block per batch, newest first.
func printHistory(w io.Writer, entries []history.Entry, limit int) {
	display := entries
	if limit > 0 && limit < len(display) {
		display = display[:limit]
	}

	fmt.Fprintf(w, "\n=== Batches (%d total) ===\n\n", len(entries))

	for i, entry := range display {
		b := entry.Batch

		status := "✓"
		if b.ExitCode != 0 {
			status = "✗"
		}

		timestamp := b.Timestamp.Local().Format("2006-01-02 15:04:05")
		duration := b.Duration.Round(time.Second).String()

		fmt.Fprintf(w, "%d: %s  %s  [%s]  exit=%d  id=%s\n", -i, status, timestamp, duration, b.ExitCode, shortID(b.ID))
		fmt.Fprintf(w, "   Revision: %s  Machine: %s  Policy: %s\n", b.Revision, b.Machine, b.Policy)
		if b.Selection != "" {
			fmt.Fprintf(w, "   Selection: %s\n", b.Selection)
		}
		if b.Counts != nil {
			fmt.Fprintf(w, "   Results: %d passed, %d failed, %d errored of %d checks\n",
				b.Counts.Passed, b.Counts.Failed, b.Counts.Errored, b.Counts.Total())
		} else {
			fmt.Fprintf(w, "   Results: not verified (%d simulations)\n", len(b.Tests))
		}
		fmt.Fprintf(w, "   %s\n", entry.FullPath)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "View results: simrun view -o <output-dir> <index|id>")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
