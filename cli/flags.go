package cli

// This file contains the flag definitions shared by the commands and the
// conversion of parsed flags into a config and a selection.

import (
	"fmt"
	"strings"

	"github.com/perfgo/simrun/config"
	"github.com/perfgo/simrun/manifest"
	"github.com/perfgo/simrun/registry"
	"github.com/urfave/cli/v2"
)

const (
	categoryDiscovery = "Discovery:"
	categoryRun       = "Run:"
	categorySelection = "Selection:"
)

func envVar(name string) []string {
	return []string{"SIMRUN_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

// discoveryFlags locate and parse the test manifests.
func discoveryFlags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "test-root",
			Usage:    "Directory containing the test category directories",
			Value:    d.TestRoot,
			EnvVars:  envVar("test-root"),
			Category: categoryDiscovery,
		},
		&cli.StringSliceFlag{
			Name:     "categories",
			Usage:    "Top-level test directories to search for manifests (default: " + strings.Join(d.Categories, ", ") + ")",
			EnvVars:  envVar("categories"),
			Category: categoryDiscovery,
		},
		&cli.Float64Flag{
			Name:     "time-multiplier",
			Usage:    "Multiply every max_time_minutes by this factor",
			Value:    d.TimeMultiplier,
			EnvVars:  envVar("time-multiplier"),
			Category: categoryDiscovery,
		},
	}
}

// runFlags control where and how a batch is executed.
func runFlags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "output-dir",
			Aliases:  []string{"o"},
			Usage:    "Directory the batch directory is created in",
			EnvVars:  envVar("output-dir"),
			Required: true,
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "repo",
			Usage:    "Source repository whose revision is tested",
			Value:    d.Repository,
			EnvVars:  envVar("repo"),
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "exe",
			Usage:    "Simulation executable (default: <repo>/" + config.ExecutableRelPath + ")",
			EnvVars:  envVar("exe"),
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "machine",
			Usage:    "Machine profile used to launch simulations",
			Value:    d.Machine,
			EnvVars:  envVar("machine"),
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "machine-file",
			Usage:    "YAML file with machine profile overrides",
			Value:    d.MachineFile,
			EnvVars:  envVar("machine-file"),
			Category: categoryRun,
		},
		&cli.BoolFlag{
			Name:     "clobber",
			Usage:    "Recreate run directories that already exist",
			EnvVars:  envVar("clobber"),
			Category: categoryRun,
		},
		&cli.BoolFlag{
			Name:     "interleave",
			Usage:    "Stage, run and verify each test before the next one",
			EnvVars:  envVar("interleave"),
			Category: categoryRun,
		},
		&cli.BoolFlag{
			Name:     "sim-only",
			Usage:    "Only run the simulations",
			EnvVars:  envVar("sim-only"),
			Category: categoryRun,
		},
		&cli.BoolFlag{
			Name:     "test-only",
			Usage:    "Only verify existing simulation output",
			EnvVars:  envVar("test-only"),
			Category: categoryRun,
		},
		&cli.DurationFlag{
			Name:     "poll-interval",
			Usage:    "How often a running simulation is checked",
			Value:    d.PollInterval,
			EnvVars:  envVar("poll-interval"),
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "run-suffix",
			Usage:    "Suffix appended to the revision to name the batch directory",
			EnvVars:  envVar("run-suffix"),
			Category: categoryRun,
		},
		&cli.StringFlag{
			Name:     "verify-command",
			Usage:    "Comparator command run in each run directory (default: completion marker check)",
			EnvVars:  envVar("verify-command"),
			Category: categoryRun,
		},
	}
}

// selectionFlags returns one flag per selectable manifest field plus --suite.
// Values are spelled as in manifests: True, False, None, numbers or text.
func selectionFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "suite",
			Usage:    "Select a named suite (" + strings.Join(manifest.Suites, ", ") + ")",
			Category: categorySelection,
		},
	}
	for _, f := range selectableFields() {
		flags = append(flags, &cli.StringFlag{
			Name:     f.Name,
			Usage:    fmt.Sprintf("Select tests by %s (%s)", f.Name, f.Kind),
			Category: categorySelection,
		})
	}
	return flags
}

func selectableFields() []manifest.Field {
	suites := make(map[string]bool, len(manifest.Suites))
	for _, s := range manifest.Suites {
		suites[manifest.SuiteField(s)] = true
	}

	var out []manifest.Field
	for _, f := range manifest.Fields() {
		if f.Derived || suites[f.Name] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// selection converts the selection flags that were set into predicates.
func selection(ctx *cli.Context) (registry.Predicates, error) {
	raw := make(map[string]string)
	for _, f := range selectableFields() {
		if ctx.IsSet(f.Name) {
			raw[f.Name] = ctx.String(f.Name)
		}
	}

	if suite := ctx.String("suite"); suite != "" {
		known := false
		for _, s := range manifest.Suites {
			known = known || s == suite
		}
		if !known {
			return nil, fmt.Errorf("unknown suite %q, expected one of %s", suite, strings.Join(manifest.Suites, ", "))
		}
		raw[manifest.SuiteField(suite)] = "True"
	}

	return registry.ParsePredicates(raw)
}

// discoveryConfig returns the defaults overlaid with the discovery flags.
func discoveryConfig(ctx *cli.Context) config.Config {
	cfg := config.Default()
	cfg.TestRoot = ctx.String("test-root")
	if ctx.IsSet("categories") {
		cfg.Categories = ctx.StringSlice("categories")
	}
	cfg.TimeMultiplier = ctx.Float64("time-multiplier")
	return cfg
}

// runConfig builds and validates the config of the run command.
func runConfig(ctx *cli.Context) (config.Config, error) {
	cfg := discoveryConfig(ctx)
	cfg.OutputDir = ctx.String("output-dir")
	cfg.Repository = ctx.String("repo")
	cfg.ExePath = ctx.String("exe")
	cfg.Machine = ctx.String("machine")
	cfg.MachineFile = ctx.String("machine-file")
	cfg.Clobber = ctx.Bool("clobber")
	cfg.Interleave = ctx.Bool("interleave")
	cfg.SimOnly = ctx.Bool("sim-only")
	cfg.TestOnly = ctx.Bool("test-only")
	cfg.PollInterval = ctx.Duration("poll-interval")
	cfg.RunSuffix = ctx.String("run-suffix")
	cfg.VerifyCommand = strings.Fields(ctx.String("verify-command"))

	if err := cfg.ExpandPaths(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
