package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/perfgo/simrun/config"
	"github.com/perfgo/simrun/machine"
	"github.com/perfgo/simrun/manifest"
	"github.com/perfgo/simrun/model"
	"github.com/perfgo/simrun/script"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg      config.Config
	batchDir string
	exe      string
	rec      manifest.Record
}

func newFixture(t *testing.T, maxMinutes string) *fixture {
	t.Helper()

	root := t.TempDir()
	testDir := filepath.Join(root, "Hydro", "Hydro-1D", "Toro-1")
	require.NoError(t, os.MkdirAll(filepath.Join(testDir, "inputs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "Toro-1.enzotest"),
		[]byte("name = 'Toro-1'\nnprocs = 2\nmax_time_minutes = "+maxMinutes+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "Toro-1.enzo"), []byte("TopGridRank = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "inputs", "data"), []byte("1 2 3\n"), 0600))
	require.NoError(t, os.Symlink("inputs/data", filepath.Join(testDir, "data.lnk")))

	bin := t.TempDir()
	exe := filepath.Join(bin, "enzo.exe")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))

	batchDir := filepath.Join(t.TempDir(), "abc123")
	require.NoError(t, os.MkdirAll(batchDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(batchDir, model.VersionFile), []byte("Enzo: abc123\n"), 0644))

	cfg := config.Default()
	cfg.OutputDir = filepath.Dir(batchDir)
	cfg.TestRoot = root
	cfg.ExePath = exe
	cfg.PollInterval = 10 * time.Millisecond

	rec, err := manifest.NewParser(zerolog.Nop(), root, 1).ParseFile("Hydro/Hydro-1D/Toro-1/Toro-1.enzotest")
	require.NoError(t, err)

	return &fixture{cfg: cfg, batchDir: batchDir, exe: exe, rec: rec}
}

func (f *fixture) supervisor(t *testing.T, tmpl string) *Supervisor {
	t.Helper()
	file := filepath.Join(t.TempDir(), "test.run")
	require.NoError(t, os.WriteFile(file, []byte(tmpl), 0644))

	s, err := New(zerolog.Nop(), f.cfg, machine.Profile{
		Name:     "test",
		Script:   "test.run",
		Template: file,
		Command:  "sh",
		Strategy: machine.StrategyLocal,
	})
	require.NoError(t, err)
	return s
}

const finishing = "echo ${TEST_NAME} ${N_PROCS} ${EXECUTABLE} ${PAR_FILE} ${WALL_TIME}\ntouch RunFinished\n"

func TestStage_Fresh(t *testing.T) {
	f := newFixture(t, "1")
	inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
	defer inst.Close()

	require.NoError(t, inst.Stage())
	assert.Equal(t, StateStaged, inst.State)
	assert.Equal(t, filepath.Join(f.batchDir, "Hydro", "Hydro-1D", "Toro-1"), inst.RunDir)

	data, err := os.ReadFile(filepath.Join(inst.RunDir, "inputs", "data"))
	require.NoError(t, err)
	assert.Equal(t, "1 2 3\n", string(data))
	info, err := os.Stat(filepath.Join(inst.RunDir, "inputs", "data"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(inst.RunDir, "data.lnk"))
	require.NoError(t, err)
	assert.Equal(t, "inputs/data", link)

	version, err := os.ReadFile(filepath.Join(inst.RunDir, model.VersionFile))
	require.NoError(t, err)
	assert.Equal(t, "Enzo: abc123\n", string(version))

	realExe, err := filepath.EvalSymlinks(f.exe)
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(inst.RunDir, "enzo.exe"))
	require.NoError(t, err)
	assert.Equal(t, realExe, target)

	rendered, err := os.ReadFile(filepath.Join(inst.RunDir, "test.run"))
	require.NoError(t, err)
	assert.Equal(t, "echo Toro-1 2 ./enzo.exe Toro-1.enzo 00:01:00\ntouch RunFinished\n", string(rendered))
}

func TestStage_RelativeExecutable(t *testing.T) {
	f := newFixture(t, "1")
	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, f.exe)
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(rel))
	f.cfg.ExePath = rel

	inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
	defer inst.Close()
	require.NoError(t, inst.Stage())

	link := filepath.Join(inst.RunDir, "enzo.exe")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(target), target)

	info, err := os.Stat(link)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestStage_LocksLiveInBatchDirectory(t *testing.T) {
	f := newFixture(t, "1")
	inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
	require.NoError(t, inst.Stage())

	assert.Equal(t, filepath.Join(f.batchDir, LockDir, "Hydro%2FHydro-1D%2FToro-1.lock"), inst.LockPath())
	assert.FileExists(t, inst.LockPath())
	assert.NoFileExists(t, inst.RunDir+".lock")

	entries, err := os.ReadDir(filepath.Dir(inst.RunDir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "Toro-1", e.Name())
	}
	require.NoError(t, inst.Close())
}

func TestStage_ExistingIsLeftAlone(t *testing.T) {
	f := newFixture(t, "1")
	s := f.supervisor(t, finishing)

	first := s.NewInstance(f.rec, f.batchDir)
	require.NoError(t, first.Stage())
	require.NoError(t, first.Close())

	par := filepath.Join(first.RunDir, "Toro-1.enzo")
	require.NoError(t, os.WriteFile(par, []byte("edited\n"), 0644))

	second := s.NewInstance(f.rec, f.batchDir)
	defer second.Close()
	require.NoError(t, second.Stage())
	assert.Equal(t, StateStaged, second.State)

	data, err := os.ReadFile(par)
	require.NoError(t, err)
	assert.Equal(t, "edited\n", string(data))
}

func TestStage_CompletedIsNoOp(t *testing.T) {
	f := newFixture(t, "1")
	s := f.supervisor(t, finishing)

	first := s.NewInstance(f.rec, f.batchDir)
	require.NoError(t, first.Stage())
	require.NoError(t, first.Close())

	require.NoError(t, os.Remove(filepath.Join(first.RunDir, "Toro-1.enzo")))
	require.NoError(t, os.WriteFile(first.Marker(), nil, 0644))

	second := s.NewInstance(f.rec, f.batchDir)
	defer second.Close()
	require.NoError(t, second.Stage())
	require.NoError(t, second.Run(context.Background()))

	assert.Equal(t, StateSkipped, second.State)
	assert.True(t, second.State.Done())
	assert.NoFileExists(t, filepath.Join(second.RunDir, "Toro-1.enzo"))
	assert.NoFileExists(t, filepath.Join(second.RunDir, machine.LaunchLog))
	assert.NoFileExists(t, filepath.Join(second.RunDir, RunTimeFile))
}

func TestStage_Clobber(t *testing.T) {
	f := newFixture(t, "1")
	f.cfg.Clobber = true
	s := f.supervisor(t, finishing)

	first := s.NewInstance(f.rec, f.batchDir)
	require.NoError(t, first.Stage())
	require.NoError(t, first.Close())

	versionPath := filepath.Join(first.RunDir, model.VersionFile)
	linkPath := filepath.Join(first.RunDir, "enzo.exe")
	version, err := os.ReadFile(versionPath)
	require.NoError(t, err)
	link, err := os.Readlink(linkPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(first.RunDir, "stale.out"), []byte("x"), 0644))
	require.NoError(t, os.Remove(versionPath))
	require.NoError(t, os.Remove(linkPath))
	require.NoError(t, os.WriteFile(first.Marker(), nil, 0644))

	second := s.NewInstance(f.rec, f.batchDir)
	defer second.Close()
	require.NoError(t, second.Stage())

	assert.NoFileExists(t, filepath.Join(second.RunDir, "stale.out"))
	assert.NoFileExists(t, second.Marker())

	gotVersion, err := os.ReadFile(versionPath)
	require.NoError(t, err)
	assert.Equal(t, version, gotVersion)

	gotLink, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, link, gotLink)
}

func TestStage_DirectoryBusy(t *testing.T) {
	f := newFixture(t, "1")
	s := f.supervisor(t, finishing)

	owner := s.NewInstance(f.rec, f.batchDir)
	require.NoError(t, owner.Stage())

	other := s.NewInstance(f.rec, f.batchDir)
	err := other.Stage()
	require.ErrorIs(t, err, ErrDirectoryBusy)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Toro-1", se.Name)
	assert.Equal(t, StateFailed, other.State)

	require.NoError(t, owner.Close())

	again := s.NewInstance(f.rec, f.batchDir)
	defer again.Close()
	require.NoError(t, again.Stage())
}

func TestStage_Failures(t *testing.T) {
	t.Run("missing provenance", func(t *testing.T) {
		f := newFixture(t, "1")
		require.NoError(t, os.Remove(filepath.Join(f.batchDir, model.VersionFile)))

		inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
		defer inst.Close()

		var se *StageError
		require.True(t, errors.As(inst.Stage(), &se))
		assert.Equal(t, StateFailed, inst.State)
		assert.NoDirExists(t, inst.RunDir)

		require.Error(t, inst.Run(context.Background()))
		assert.Equal(t, StateFailed, inst.State)
	})

	t.Run("unresolved token", func(t *testing.T) {
		f := newFixture(t, "1")
		inst := f.supervisor(t, "#PBS -A ${ACCOUNT}\n").NewInstance(f.rec, f.batchDir)
		defer inst.Close()

		var te *script.TemplateError
		require.True(t, errors.As(inst.Stage(), &te))
		assert.Equal(t, []string{"ACCOUNT"}, te.Tokens)
	})

	t.Run("missing source tree", func(t *testing.T) {
		f := newFixture(t, "1")
		f.rec.Dir = "Hydro/Missing"
		inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
		defer inst.Close()

		require.Error(t, inst.Stage())
		assert.Equal(t, StateFailed, inst.State)
	})
}

func TestRun_Finished(t *testing.T) {
	f := newFixture(t, "1")
	inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
	defer inst.Close()

	require.NoError(t, inst.Stage())
	require.NoError(t, inst.Run(context.Background()))

	assert.Equal(t, StateFinished, inst.State)
	assert.NotEmpty(t, inst.LaunchID)
	assert.False(t, inst.StartedAt.IsZero())

	runTime, err := os.ReadFile(filepath.Join(inst.RunDir, RunTimeFile))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d{6} seconds\.\n$`), string(runTime))

	out, err := os.ReadFile(filepath.Join(inst.RunDir, machine.LaunchLog))
	require.NoError(t, err)
	assert.Equal(t, "Toro-1 2 ./enzo.exe Toro-1.enzo 00:01:00\n", string(out))

	summary := inst.Summary()
	assert.Equal(t, "finished", summary.State)
	assert.Len(t, summary.Artifacts, 4)
}

func TestRun_Incomplete(t *testing.T) {
	f := newFixture(t, "1")
	inst := f.supervisor(t, "exit 1\n").NewInstance(f.rec, f.batchDir)
	defer inst.Close()

	require.NoError(t, inst.Stage())
	require.NoError(t, inst.Run(context.Background()))

	assert.Equal(t, StateIncomplete, inst.State)
	assert.False(t, inst.State.Done())
	assert.NoFileExists(t, filepath.Join(inst.RunDir, RunTimeFile))
}

func TestRun_TimedOut(t *testing.T) {
	// 0.002 minutes is 120ms.
	f := newFixture(t, "0.002")
	inst := f.supervisor(t, "sleep 30\ntouch RunFinished\n").NewInstance(f.rec, f.batchDir)
	defer inst.Close()

	require.NoError(t, inst.Stage())

	start := time.Now()
	require.NoError(t, inst.Run(context.Background()))
	took := time.Since(start)

	deadline := f.rec.Deadline(f.cfg.TimeMultiplier)
	assert.Equal(t, StateTimedOut, inst.State)
	assert.GreaterOrEqual(t, took, deadline)
	assert.Less(t, took, deadline+2*time.Second)

	// the process group is gone and never writes the marker
	time.Sleep(100 * time.Millisecond)
	assert.NoFileExists(t, inst.Marker())
	assert.NoFileExists(t, filepath.Join(inst.RunDir, RunTimeFile))
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, "10")
	inst := f.supervisor(t, "sleep 30\n").NewInstance(f.rec, f.batchDir)
	defer inst.Close()

	require.NoError(t, inst.Stage())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := inst.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, inst.State)
}

func TestRun_NotStaged(t *testing.T) {
	f := newFixture(t, "1")
	inst := f.supervisor(t, finishing).NewInstance(f.rec, f.batchDir)
	require.Error(t, inst.Run(context.Background()))
	assert.Equal(t, StateNotStarted, inst.State)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateFinished, StateTimedOut, StateSkipped, StateIncomplete, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateNotStarted, StateStaged, StateRunning} {
		assert.False(t, s.Terminal(), s)
	}
}
