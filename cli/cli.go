package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/perfgo/simrun/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "simrun"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run, verify and report simulation test suites",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Stage, simulate and verify the selected tests",
		Action: app.run,
		Flags:  concatFlags(discoveryFlags(), runFlags(), selectionFlags()),
		Description: `Select tests from the manifests below --test-root and run them into
<output-dir>/<revision><run-suffix>.

Examples:
  simrun run -o ~/runs --suite quick
  simrun run -o ~/runs --hydro True --dimensionality 1 --interleave
  simrun run -o ~/runs --suite push --machine nics_kraken --time-multiplier 2
  simrun run -o ~/runs --suite quick --test-only --verify-command "python compare.py"

The exit status is 1 if any check failed or errored or a simulation did not
finish.`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List the names of the selected tests",
		Action: app.list,
		Flags:  concatFlags(discoveryFlags(), selectionFlags()),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "summary",
		Usage:  "Show every parameter and its values across the selected tests",
		Action: app.summary,
		Flags:  concatFlags(discoveryFlags(), selectionFlags()),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "machines",
		Usage:  "List the available machine profiles",
		Action: app.machines,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "machine-file",
				Usage:   "YAML file with machine profile overrides",
				Value:   config.DefaultMachineFile,
				EnvVars: envVar("machine-file"),
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "history",
		Usage:  "List previous batches below an output directory",
		Action: app.history,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output-dir",
				Aliases:  []string{"o"},
				Usage:    "Directory the batches were written to",
				EnvVars:  envVar("output-dir"),
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (0 = no limit)",
				Value:   20,
			},
			&cli.StringFlag{
				Name:  "revision",
				Usage: "Filter batches by revision prefix",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "view",
		Usage:     "View the results of a previous batch",
		ArgsUsage: "[INDEX|ID] [-- TEST...]",
		Action:    app.view,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output-dir",
				Aliases:  []string{"o"},
				Usage:    "Directory the batches were written to",
				EnvVars:  envVar("output-dir"),
				Required: true,
			},
		},
		Description: `View the results of a batch by index or by batch ID / revision prefix.

Examples:
  simrun view -o ~/runs           # View the most recent batch (same as 0)
  simrun view -o ~/runs 0         # View the most recent batch
  simrun view -o ~/runs -1        # View the second most recent batch
  simrun view -o ~/runs abc123    # View the batch whose ID or revision starts with abc123
  simrun view -o ~/runs 0 Toro-1  # Show the checks of Toro-1 in the most recent batch

Without test names the batch's test_results.txt is printed.`,
	})
	return app
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
}
