// Package machine describes the target environments a simulation can be
// launched on and how a launch script is started and observed there.
package machine

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.run
var templates embed.FS

// Strategy selects how a launched script is observed.
type Strategy string

const (
	// StrategyLocal runs the command as a local process group and polls it.
	StrategyLocal Strategy = "local"
	// StrategyBatch submits the script to a queue and watches the run
	// directory for the completion marker.
	StrategyBatch Strategy = "batch"
)

var ErrUnknownMachine = errors.New("unknown machine")

// Profile is a named target environment and its launch conventions.
type Profile struct {
	Name string `yaml:"-"`
	// Script is the file name of the rendered launch script in the run
	// directory.
	Script string `yaml:"script"`
	// Template is the path of the launch template. Empty selects the
	// built-in template named after Script.
	Template string `yaml:"template,omitempty"`
	// Command is the command prefix the script is started with (e.g. "bash").
	Command string `yaml:"command"`
	// Strategy defaults to local.
	Strategy Strategy `yaml:"strategy,omitempty"`
	// Cancel is the command used to remove a queued job. The job id is
	// appended as the last argument.
	Cancel string `yaml:"cancel,omitempty"`
	// Status is an optional command that exits non-zero once the job with
	// the appended id is no longer known to the queue.
	Status string `yaml:"status,omitempty"`
	// Overrides are template tokens applied after the record-derived ones.
	Overrides map[string]string `yaml:"overrides,omitempty"`
}

// Argv returns the command line that starts script.
func (p Profile) Argv() []string {
	return append(strings.Fields(p.Command), p.Script)
}

// CommandLine returns the launch command as a single shell-quoted string.
func (p Profile) CommandLine() string {
	return shellescape.QuoteCommand(p.Argv())
}

// TemplateText returns the launch template of the profile.
func (p Profile) TemplateText() (string, error) {
	if p.Template != "" {
		data, err := os.ReadFile(p.Template)
		if err != nil {
			return "", fmt.Errorf("failed to read template for machine %s: %w", p.Name, err)
		}
		return string(data), nil
	}

	data, err := fs.ReadFile(templates, path.Join("templates", p.Script))
	if err != nil {
		return "", fmt.Errorf("no built-in template %s for machine %s: %w", p.Script, p.Name, err)
	}
	return string(data), nil
}

func (p Profile) validate() error {
	if p.Script == "" {
		return fmt.Errorf("machine %s: script is required", p.Name)
	}
	if strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("machine %s: command is required", p.Name)
	}
	switch p.Strategy {
	case StrategyLocal:
	case StrategyBatch:
		if p.Cancel == "" {
			return fmt.Errorf("machine %s: batch machines need a cancel command", p.Name)
		}
	default:
		return fmt.Errorf("machine %s: unknown strategy %q", p.Name, p.Strategy)
	}
	return nil
}

// Catalog maps machine names to profiles.
type Catalog map[string]Profile

// DefaultCatalog returns the built-in machines.
func DefaultCatalog() Catalog {
	return Catalog{
		"local": {
			Name:     "local",
			Script:   "local.run",
			Command:  "bash",
			Strategy: StrategyLocal,
		},
		"local_nompi": {
			Name:     "local_nompi",
			Script:   "local_nompi.run",
			Command:  "bash",
			Strategy: StrategyLocal,
		},
		"nics_kraken": {
			Name:     "nics_kraken",
			Script:   "nics_kraken.run",
			Command:  "qsub",
			Strategy: StrategyBatch,
			Cancel:   "qdel",
			Status:   "qstat",
		},
	}
}

type catalogFile struct {
	Machines map[string]Profile `yaml:"machines"`
}

// LoadCatalog returns the built-in catalog overlaid with the machines
// defined in the YAML file at path. A missing file yields the built-ins.
//
// Entries naming a built-in machine replace only the keys they set;
// overrides are merged key by key.
func LoadCatalog(path string) (Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read machine file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse machine file %s: %w", path, err)
	}

	for name, p := range file.Machines {
		c[name] = merge(c[name], p, name)
	}
	for _, p := range c {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func merge(base, over Profile, name string) Profile {
	base.Name = name
	if over.Script != "" {
		base.Script = over.Script
	}
	if over.Template != "" {
		base.Template = over.Template
	}
	if over.Command != "" {
		base.Command = over.Command
	}
	if over.Strategy != "" {
		base.Strategy = over.Strategy
	}
	if base.Strategy == "" {
		base.Strategy = StrategyLocal
	}
	if over.Cancel != "" {
		base.Cancel = over.Cancel
	}
	if over.Status != "" {
		base.Status = over.Status
	}
	if len(over.Overrides) > 0 {
		merged := make(map[string]string, len(base.Overrides)+len(over.Overrides))
		for k, v := range base.Overrides {
			merged[k] = v
		}
		for k, v := range over.Overrides {
			merged[k] = v
		}
		base.Overrides = merged
	}
	return base
}

// Get returns the named profile.
func (c Catalog) Get(name string) (Profile, error) {
	p, ok := c[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s (known: %s)", ErrUnknownMachine, name, strings.Join(c.Names(), ", "))
	}
	return p, nil
}

// Names returns the sorted machine names.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
