package cli

// This file contains the list and summary commands, which inspect the test
// registry without running anything.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/simrun/registry"
	"github.com/urfave/cli/v2"
)

func (a *App) selected(ctx *cli.Context) (*registry.Registry, error) {
	preds, err := selection(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(a.logger, discoveryConfig(ctx))
	if err != nil {
		return nil, err
	}
	return reg.Select(preds), nil
}

func (a *App) list(ctx *cli.Context) error {
	reg, err := a.selected(ctx)
	if err != nil {
		return err
	}
	printList(os.Stdout, reg)
	return nil
}

func (a *App) summary(ctx *cli.Context) error {
	reg, err := a.selected(ctx)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, reg)
	return nil
}

// printList writes the test names in run order followed by the total.
func printList(w io.Writer, reg *registry.Registry) {
	for _, name := range reg.Sorted().Names() {
		fmt.Fprintln(w, name)
	}
	fmt.Fprintf(w, "\nTotal: %d\n", reg.Len())
}

// printSummary writes a table of every parameter and its distinct values.
// Parameters starting with "full" are left out.
func printSummary(w io.Writer, reg *registry.Registry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Test parameters")
	t.AppendHeader(table.Row{"Parameter", "Values"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Values", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, param := range reg.Params() {
		if strings.HasPrefix(param, "full") {
			continue
		}
		values := reg.Unique(param)
		formatted := make([]string, 0, len(values))
		for _, v := range values {
			formatted = append(formatted, registry.FormatValue(v))
		}
		t.AppendRow(table.Row{param, strings.Join(formatted, ", ")})
	}

	t.AppendFooter(table.Row{"Tests", reg.Len()})
	t.SetStyle(table.StyleLight)
	t.Render()
}
