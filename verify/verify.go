// Package verify judges the output of finished simulations.
//
// A Comparator is run inside a run directory and returns one verdict per
// check it performed. Simrun never interprets the checks themselves.
package verify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/perfgo/simrun/machine"
	"github.com/perfgo/simrun/model"
	"github.com/rs/zerolog"
)

// MarkerCheck is the name of the sub-result reported by MarkerComparator.
const MarkerCheck = "run_finished"

// Comparator checks the output in a run directory.
type Comparator interface {
	// Name identifies the comparator in the provenance record.
	Name() string
	// Version returns the comparator revision.
	Version(ctx context.Context) (string, error)
	// Verify checks the run directory of a test.
	Verify(ctx context.Context, name, dir string) ([]model.SubResult, error)
}

// New returns the external comparator for a non-empty command and the
// completion-marker comparator otherwise.
func New(logger zerolog.Logger, command []string) Comparator {
	if len(command) == 0 {
		return MarkerComparator{}
	}
	return &ExecComparator{logger: logger, command: command}
}

// MarkerComparator passes a run that left its completion marker behind.
type MarkerComparator struct{}

func (MarkerComparator) Name() string { return "marker" }

func (MarkerComparator) Version(context.Context) (string, error) { return "builtin", nil }

func (MarkerComparator) Verify(_ context.Context, _ string, dir string) ([]model.SubResult, error) {
	if _, err := os.Stat(filepath.Join(dir, machine.CompletionMarker)); err != nil {
		return []model.SubResult{{Name: MarkerCheck, Result: model.OutcomeFail, Message: "no completion marker"}}, nil
	}
	return []model.SubResult{{Name: MarkerCheck, Result: model.OutcomePass}}, nil
}

// ExecComparator runs an external command in the run directory. The command
// prints one JSON object per line:
//
//	{"name": "density", "result": "pass|fail|error", "message": "..."}
//
// Other output is ignored; malformed result lines are logged.
type ExecComparator struct {
	logger  zerolog.Logger
	command []string
}

// Name is the full comparator command line, so an interpreter and its
// script are recorded together.
func (c *ExecComparator) Name() string {
	return shellescape.QuoteCommand(c.command)
}

// Version runs the command with --version appended and returns the first
// output line.
func (c *ExecComparator) Version(ctx context.Context) (string, error) {
	args := append(append([]string{}, c.command[1:]...), "--version")
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	output, err := cmd.Output()
	if err != nil {
		return "unknown", fmt.Errorf("failed to get comparator version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return line, nil
}

func (c *ExecComparator) Verify(ctx context.Context, name, dir string) ([]model.SubResult, error) {
	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "SIMRUN_TEST_NAME="+name)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("test", name).
		Str("command", shellescape.QuoteCommand(c.command)).
		Msg("Running comparator")

	runErr := cmd.Run()

	results := c.parse(name, &stdout)
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run comparator: %w", runErr)
		}
		// A failing exit status is only fatal when nothing was reported.
		if len(results) == 0 {
			return nil, fmt.Errorf("comparator exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		c.logger.Debug().Int("exit_code", exitErr.ExitCode()).Str("test", name).Msg("Comparator reported failures")
	}

	if len(results) == 0 {
		return nil, errors.New("comparator reported no results")
	}
	return results, nil
}

func (c *ExecComparator) parse(name string, out *bytes.Buffer) []model.SubResult {
	var results []model.SubResult
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var r model.SubResult
		if err := json.Unmarshal([]byte(line), &r); err != nil || r.Name == "" || !r.Result.Valid() {
			c.logger.Warn().Str("test", name).Str("line", line).Msg("Ignoring malformed comparator result")
			continue
		}
		results = append(results, r)
	}
	return results
}
