package machine

// This file contains the launch strategies: a local process group that is
// polled directly, and a batch queue whose jobs are observed through the
// completion marker in the run directory.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// CompletionMarker is the file a simulation writes into its run directory
// once it has finished.
const CompletionMarker = "RunFinished"

// LaunchLog receives the output of the launch command itself.
const LaunchLog = "launch.out"

// Handle observes one launched script.
type Handle interface {
	// ID identifies the launch: a process group id or a queue job id.
	ID() string
	// Exited reports whether the launch is over. The error is the exit
	// status of the launch command, if any; it is informational only.
	Exited() (bool, error)
	// Terminate asks the launch to stop. It does not wait for it to do so.
	Terminate() error
}

// Launcher starts the launch script of a profile inside a run directory.
type Launcher interface {
	Launch(ctx context.Context, dir string) (Handle, error)
}

// NewLauncher returns the launcher matching the profile strategy.
func NewLauncher(logger zerolog.Logger, p Profile) Launcher {
	if p.Strategy == StrategyBatch {
		return &batchLauncher{logger: logger, profile: p}
	}
	return &localLauncher{logger: logger, profile: p}
}

type localLauncher struct {
	logger  zerolog.Logger
	profile Profile
}

func (l *localLauncher) Launch(ctx context.Context, dir string) (Handle, error) {
	argv := l.profile.Argv()

	out, err := os.Create(filepath.Join(dir, LaunchLog))
	if err != nil {
		return nil, fmt.Errorf("failed to create launch log: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	// New process group so the whole tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	l.logger.Debug().
		Str("dir", dir).
		Str("command", l.profile.CommandLine()).
		Msg("Starting launch script")

	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to start %s: %w", l.profile.CommandLine(), err)
	}

	h := &localHandle{
		logger: l.logger,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		out.Close()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type localHandle struct {
	logger zerolog.Logger
	pid    int
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (h *localHandle) ID() string {
	return fmt.Sprintf("%d", h.pid)
}

func (h *localHandle) Exited() (bool, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return true, h.err
	default:
		return false, nil
	}
}

func (h *localHandle) Terminate() error {
	h.logger.Debug().Int("pgid", h.pid).Msg("Signalling process group")
	err := unix.Kill(-h.pid, unix.SIGUSR1)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to signal process group %d: %w", h.pid, err)
	}
	return nil
}

type batchLauncher struct {
	logger  zerolog.Logger
	profile Profile
}

func (b *batchLauncher) Launch(ctx context.Context, dir string) (Handle, error) {
	argv := b.profile.Argv()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b.logger.Debug().
		Str("dir", dir).
		Str("command", b.profile.CommandLine()).
		Msg("Submitting launch script")

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("submission failed with exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("failed to submit %s: %w", b.profile.CommandLine(), err)
	}

	_ = os.WriteFile(filepath.Join(dir, LaunchLog), output, 0644)

	fields := strings.Fields(string(output))
	if len(fields) == 0 {
		return nil, errors.New("submission printed no job id")
	}

	b.logger.Info().Str("job", fields[0]).Msg("Job submitted")
	return &batchHandle{
		logger:  b.logger,
		profile: b.profile,
		dir:     dir,
		job:     fields[0],
	}, nil
}

type batchHandle struct {
	logger  zerolog.Logger
	profile Profile
	dir     string
	job     string
}

func (h *batchHandle) ID() string {
	return h.job
}

func (h *batchHandle) Exited() (bool, error) {
	if _, err := os.Stat(filepath.Join(h.dir, CompletionMarker)); err == nil {
		return true, nil
	}
	if h.profile.Status == "" {
		return false, nil
	}

	argv := append(strings.Fields(h.profile.Status), h.job)
	if err := exec.Command(argv[0], argv[1:]...).Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The queue no longer knows the job.
			return true, nil
		}
		return false, fmt.Errorf("failed to query job %s: %w", h.job, err)
	}
	return false, nil
}

func (h *batchHandle) Terminate() error {
	argv := append(strings.Fields(h.profile.Cancel), h.job)
	h.logger.Debug().Str("command", shellescape.QuoteCommand(argv)).Msg("Cancelling job")

	if out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w: %s", h.job, err, strings.TrimSpace(string(out)))
	}
	return nil
}
