// Package supervisor binds test records to run directories, stages those
// directories and supervises the launched simulations until they finish or
// run out of time.
package supervisor

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/perfgo/simrun/config"
	"github.com/perfgo/simrun/machine"
	"github.com/perfgo/simrun/manifest"
	"github.com/perfgo/simrun/model"
	"github.com/rs/zerolog"
)

// RunTimeFile holds the elapsed time of a finished simulation.
const RunTimeFile = "run_time"

// LockDir is the directory inside a batch directory that holds the
// ownership locks of its run directories.
const LockDir = ".locks"

// State is the lifecycle position of an Instance.
type State string

const (
	StateNotStarted State = "not_started"
	StateStaged     State = "staged"
	StateRunning    State = "running"
	StateFinished   State = "finished"
	StateTimedOut   State = "timed_out"
	// StateSkipped means the completion marker existed before launch.
	StateSkipped State = "skipped"
	// StateIncomplete means the launch ended without a completion marker.
	StateIncomplete State = "incomplete"
	// StateFailed means staging or launching failed.
	StateFailed State = "failed"
)

// Done reports whether the simulation of an instance in this state has
// completed successfully, now or in an earlier batch.
func (s State) Done() bool {
	return s == StateFinished || s == StateSkipped
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateTimedOut, StateSkipped, StateIncomplete, StateFailed:
		return true
	}
	return false
}

var ErrDirectoryBusy = errors.New("run directory is in use by another instance")

// StageError reports a staging failure of one instance.
type StageError struct {
	Name string
	Dir  string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed to stage %s in %s: %v", e.Name, e.Dir, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Supervisor creates and drives Instances for one machine profile.
type Supervisor struct {
	logger   zerolog.Logger
	cfg      config.Config
	profile  machine.Profile
	template string
	launcher machine.Launcher
}

// New creates a supervisor launching on profile. The launch template is read
// once here.
func New(logger zerolog.Logger, cfg config.Config, profile machine.Profile) (*Supervisor, error) {
	tmpl, err := profile.TemplateText()
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.TimeMultiplier <= 0 {
		cfg.TimeMultiplier = 1
	}

	return &Supervisor{
		logger:   logger,
		cfg:      cfg,
		profile:  profile,
		template: tmpl,
		launcher: machine.NewLauncher(logger, profile),
	}, nil
}

// Profile returns the machine profile of the supervisor.
func (s *Supervisor) Profile() machine.Profile {
	return s.profile
}

// Instance is one execution attempt of a record in a run directory below a
// batch directory. An Instance is not safe for concurrent use.
type Instance struct {
	Record manifest.Record
	// BatchDir is the directory holding all run directories of the batch.
	BatchDir string
	// RunDir is BatchDir joined with the record directory.
	RunDir string

	State     State
	LaunchID  string
	StartedAt time.Time
	Elapsed   time.Duration
	// Err is the staging or launch error of a failed instance.
	Err error

	sup    *Supervisor
	logger zerolog.Logger
	lock   *flock.Flock
}

// NewInstance binds rec to a run directory below batchDir.
func (s *Supervisor) NewInstance(rec manifest.Record, batchDir string) *Instance {
	return &Instance{
		Record:   rec,
		BatchDir: batchDir,
		RunDir:   filepath.Join(batchDir, filepath.FromSlash(rec.Dir)),
		State:    StateNotStarted,
		sup:      s,
		logger:   s.logger.With().Str("test", rec.Name).Logger(),
	}
}

// Marker returns the path of the completion marker.
func (i *Instance) Marker() string {
	return filepath.Join(i.RunDir, machine.CompletionMarker)
}

// Close releases the ownership of the run directory.
func (i *Instance) Close() error {
	if i.lock == nil {
		return nil
	}
	err := i.lock.Close()
	i.lock = nil
	return err
}

// Summary returns the execution record of the instance.
func (i *Instance) Summary() model.TestRun {
	tr := model.TestRun{
		Name:      i.Record.Name,
		Dir:       i.Record.Dir,
		State:     string(i.State),
		LaunchID:  i.LaunchID,
		StartedAt: i.StartedAt,
		Elapsed:   i.Elapsed,
		Artifacts: i.artifacts(),
	}
	if i.Err != nil {
		tr.Error = i.Err.Error()
	}
	return tr
}

func (i *Instance) fail(err error) error {
	i.State = StateFailed
	i.Err = err
	return err
}
