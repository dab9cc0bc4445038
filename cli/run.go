package cli

// This file contains the run command, which selects tests and hands them to
// the orchestrator.

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/perfgo/simrun/machine"
	"github.com/perfgo/simrun/orchestrator"
	"github.com/perfgo/simrun/registry"
	"github.com/perfgo/simrun/supervisor"
	"github.com/perfgo/simrun/verify"
	"github.com/urfave/cli/v2"
)

func (a *App) run(ctx *cli.Context) error {
	cfg, err := runConfig(ctx)
	if err != nil {
		return err
	}

	preds, err := selection(ctx)
	if err != nil {
		return err
	}

	reg, err := registry.Load(a.logger, cfg)
	if err != nil {
		return err
	}
	selected := reg.Select(preds)
	a.logger.Info().
		Int("tests", selected.Len()).
		Int("available", reg.Len()).
		Str("selection", preds.String()).
		Msg("Selected tests")
	if selected.Len() == 0 {
		a.logger.Warn().Msg("No tests match the selection")
	}

	catalog, err := machine.LoadCatalog(cfg.MachineFile)
	if err != nil {
		return err
	}
	profile, err := catalog.Get(cfg.Machine)
	if err != nil {
		return err
	}
	a.logger.Debug().
		Str("machine", profile.Name).
		Str("command", profile.CommandLine()).
		Str("strategy", string(profile.Strategy)).
		Msg("Using machine profile")

	if !cfg.TestOnly {
		if _, err := os.Stat(cfg.ExePath); err != nil {
			a.logger.Warn().Err(err).Str("exe", cfg.ExePath).Msg("Simulation executable not found")
		}
	}

	sup, err := supervisor.New(a.logger, cfg, profile)
	if err != nil {
		return err
	}

	revision := a.getRevision(cfg.Repository)
	orch := orchestrator.New(a.logger, cfg, sup, verify.New(a.logger, cfg.VerifyCommand), revision)

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(runCtx, selected, os.Args, preds.String())
	if err != nil {
		return fmt.Errorf("batch %s aborted: %w", orch.BatchID(), err)
	}

	if res.SummaryPath != "" {
		orch.Aggregator().WriteTable(os.Stdout, filepath.Base(res.BatchDir))
		fmt.Printf("\nSummary written to %s\n", res.SummaryPath)
	}

	if res.Failed {
		return cli.Exit("", res.ExitCode())
	}
	return nil
}
