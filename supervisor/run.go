package supervisor

// This file contains the execution state machine of an Instance.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perfgo/simrun/machine"
	"github.com/perfgo/simrun/model"
)

// Run launches the simulation of a staged instance and polls it until it
// exits or its deadline passes.
//
// An instance whose run directory already holds the completion marker is
// not launched and ends up Skipped. When the deadline passes the launch is
// signalled once and the instance is TimedOut without waiting for the
// signal to take effect. A launch that exits without leaving the marker
// behind is Incomplete. Only context cancellation and launch failures are
// returned as errors.
func (i *Instance) Run(ctx context.Context) error {
	if i.State == StateFailed {
		return i.Err
	}
	if i.hasMarker() {
		i.logger.Info().Msg("Run already completed, continuing")
		i.State = StateSkipped
		return nil
	}
	if i.State != StateStaged {
		return fmt.Errorf("cannot run %s in state %s", i.Record.Name, i.State)
	}

	h, err := i.sup.launcher.Launch(ctx, i.RunDir)
	if err != nil {
		return i.fail(fmt.Errorf("failed to launch %s: %w", i.Record.Name, err))
	}

	i.State = StateRunning
	i.StartedAt = time.Now()
	i.LaunchID = h.ID()

	deadline := i.Record.Deadline(i.sup.cfg.TimeMultiplier)
	i.logger.Info().
		Str("id", i.LaunchID).
		Dur("max_run_time", deadline).
		Msg("Simulation started")

	ticker := time.NewTicker(i.sup.cfg.PollInterval)
	defer ticker.Stop()

	for {
		exited, exitErr := h.Exited()
		if exited {
			if exitErr != nil {
				i.logger.Debug().Err(exitErr).Msg("Launch command exited with error")
			}
			break
		}

		if time.Since(i.StartedAt) > deadline {
			i.logger.Warn().Dur("max_run_time", deadline).Msg("Simulation exceeded maximum run time")
			if err := h.Terminate(); err != nil {
				i.logger.Warn().Err(err).Msg("Failed to terminate simulation")
			}
			i.Elapsed = time.Since(i.StartedAt)
			i.State = StateTimedOut
			return nil
		}

		select {
		case <-ctx.Done():
			if err := h.Terminate(); err != nil {
				i.logger.Warn().Err(err).Msg("Failed to terminate simulation")
			}
			i.Elapsed = time.Since(i.StartedAt)
			return i.fail(ctx.Err())
		case <-ticker.C:
		}
	}

	i.Elapsed = time.Since(i.StartedAt)
	if !i.hasMarker() {
		i.logger.Warn().Dur("elapsed", i.Elapsed).Msg("Simulation exited without completing")
		i.State = StateIncomplete
		return nil
	}

	record := fmt.Sprintf("%f seconds.\n", i.Elapsed.Seconds())
	if err := os.WriteFile(filepath.Join(i.RunDir, RunTimeFile), []byte(record), 0644); err != nil {
		i.logger.Warn().Err(err).Msg("Failed to write run time")
	}
	i.State = StateFinished
	i.logger.Info().Dur("elapsed", i.Elapsed).Msg("Simulation completed")
	return nil
}

// Completed reports whether the run directory holds the completion marker.
func (i *Instance) Completed() bool {
	return i.hasMarker()
}

func (i *Instance) hasMarker() bool {
	_, err := os.Stat(i.Marker())
	return err == nil
}

func (i *Instance) artifacts() []model.Artifact {
	var artifacts []model.Artifact
	for _, a := range []struct {
		typ  model.ArtifactType
		file string
	}{
		{model.ArtifactTypeLaunchScript, i.sup.profile.Script},
		{model.ArtifactTypeLaunchLog, machine.LaunchLog},
		{model.ArtifactTypeRunTime, RunTimeFile},
		{model.ArtifactTypeCompletionMarker, machine.CompletionMarker},
	} {
		info, err := os.Stat(filepath.Join(i.RunDir, a.file))
		if err != nil {
			continue
		}
		artifacts = append(artifacts, model.Artifact{Type: a.typ, Size: uint64(info.Size()), File: a.file})
	}
	return artifacts
}
