// Package config holds the run-time options of a test batch. A single Config
// value is built by the command line layer and handed to every component
// that needs it.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	DefaultMachine      = "local"
	DefaultMachineFile  = "~/.simrun/machines.yaml"
	DefaultPollInterval = time.Second
	DefaultRepository   = "../"
	// ExecutableRelPath is the simulation executable below the repository.
	ExecutableRelPath = "src/enzo/enzo.exe"
)

// DefaultCategories are the top-level test directories searched for manifests.
var DefaultCategories = []string{
	"Cooling",
	"Cosmology",
	"DrivenTurbulence3D",
	"FLD",
	"GravitySolver",
	"Hydro",
	"MHD",
	"RadiationTransport",
	"RadiationTransportFLD",
}

var ErrMissingOutputDir = errors.New("an output directory is required (use --output-dir)")

// Config contains the options of one invocation.
type Config struct {
	// OutputDir is the root under which a batch directory is created.
	OutputDir string
	// TestRoot is the directory containing the category directories.
	TestRoot string
	// Categories restricts manifest discovery to these top-level directories.
	Categories []string
	// Repository is the source tree whose revision is recorded.
	Repository string
	// ExePath is the simulation executable linked into every run directory.
	ExePath string

	Machine     string
	MachineFile string

	Clobber    bool
	Interleave bool
	SimOnly    bool
	TestOnly   bool

	// TimeMultiplier scales every max_time_minutes.
	TimeMultiplier float64
	// PollInterval is how often a running simulation is checked.
	PollInterval time.Duration

	// RunSuffix is appended to the revision to name the batch directory.
	RunSuffix string
	// VerifyCommand runs the comparator inside each run directory. Empty
	// selects the built-in completion-marker check.
	VerifyCommand []string
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		TestRoot:       ".",
		Categories:     append([]string(nil), DefaultCategories...),
		Repository:     DefaultRepository,
		Machine:        DefaultMachine,
		MachineFile:    DefaultMachineFile,
		TimeMultiplier: 1,
		PollInterval:   DefaultPollInterval,
	}
}

// Validate checks the options for consistency.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return ErrMissingOutputDir
	}
	if c.TimeMultiplier <= 0 {
		return fmt.Errorf("time multiplier must be positive, got %v", c.TimeMultiplier)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.SimOnly && c.TestOnly {
		return errors.New("--sim-only and --test-only are mutually exclusive")
	}
	if c.Machine == "" {
		return errors.New("a machine name is required")
	}
	return nil
}

// ExpandPaths resolves '~' in every path option and fills in the default
// executable location below the repository.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.OutputDir, &c.TestRoot, &c.Repository, &c.ExePath, &c.MachineFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	if c.ExePath == "" && c.Repository != "" {
		c.ExePath = filepath.Join(c.Repository, ExecutableRelPath)
	}
	return nil
}
