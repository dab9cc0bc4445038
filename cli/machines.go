package cli

// This file contains the machines command.

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/perfgo/simrun/machine"
	"github.com/urfave/cli/v2"
)

func (a *App) machines(ctx *cli.Context) error {
	catalog, err := machine.LoadCatalog(ctx.String("machine-file"))
	if err != nil {
		return err
	}
	printMachines(os.Stdout, catalog)
	return nil
}

func printMachines(w io.Writer, catalog machine.Catalog) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Machine", "Strategy", "Command", "Template", "Overrides"})

	for _, name := range catalog.Names() {
		p := catalog[name]

		template := p.Template
		if template == "" {
			template = "(built-in) " + p.Script
		}

		keys := make([]string, 0, len(p.Overrides))
		for k := range p.Overrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		overrides := make([]string, 0, len(keys))
		for _, k := range keys {
			overrides = append(overrides, k+"="+p.Overrides[k])
		}

		t.AppendRow(table.Row{name, p.Strategy, p.CommandLine(), template, strings.Join(overrides, " ")})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}
