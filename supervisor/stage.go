package supervisor

// This file contains run directory staging: copying the test tree,
// provenance and executable link into place and rendering the launch script.

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/perfgo/simrun/model"
	"github.com/perfgo/simrun/script"
)

// Stage prepares the run directory. A directory that already exists is left
// untouched unless clobbering is configured, in which case it is removed and
// prepared from scratch. Stage acquires ownership of the directory; it fails
// with ErrDirectoryBusy while another instance holds it.
func (i *Instance) Stage() error {
	if err := i.acquire(); err != nil {
		return i.fail(&StageError{Name: i.Record.Name, Dir: i.RunDir, Err: err})
	}

	if _, err := os.Lstat(i.RunDir); err == nil {
		if !i.sup.cfg.Clobber {
			i.logger.Info().Str("dir", i.RunDir).Msg("Run directory already exists, skipping")
			i.State = StateStaged
			return nil
		}

		i.logger.Info().Str("dir", i.RunDir).Msg("Run directory exists, clobbering")
		if err := os.RemoveAll(i.RunDir); err != nil {
			return i.fail(&StageError{Name: i.Record.Name, Dir: i.RunDir, Err: err})
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return i.fail(&StageError{Name: i.Record.Name, Dir: i.RunDir, Err: err})
	}

	if err := i.prepare(); err != nil {
		// Leave no half-staged directory behind for the next attempt.
		_ = os.RemoveAll(i.RunDir)
		return i.fail(&StageError{Name: i.Record.Name, Dir: i.RunDir, Err: err})
	}

	i.State = StateStaged
	i.logger.Debug().Str("dir", i.RunDir).Msg("Run directory staged")
	return nil
}

// LockPath returns the file guarding the run directory. Lock files live in
// LockDir of the batch directory, named after the escaped record directory.
func (i *Instance) LockPath() string {
	return filepath.Join(i.BatchDir, LockDir, url.PathEscape(filepath.ToSlash(i.Record.Dir))+".lock")
}

func (i *Instance) acquire() error {
	if i.lock != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(i.RunDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(i.BatchDir, LockDir), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(i.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		_ = lock.Close()
		return fmt.Errorf("failed to lock run directory: %w", err)
	}
	if !ok {
		_ = lock.Close()
		return ErrDirectoryBusy
	}
	i.lock = lock
	return nil
}

func (i *Instance) prepare() error {
	src := filepath.Join(i.sup.cfg.TestRoot, filepath.FromSlash(i.Record.Dir))
	if err := copyTree(src, i.RunDir); err != nil {
		return fmt.Errorf("failed to copy test files: %w", err)
	}

	if err := copyFile(filepath.Join(i.BatchDir, model.VersionFile), filepath.Join(i.RunDir, model.VersionFile), 0644); err != nil {
		return fmt.Errorf("failed to copy provenance: %w", err)
	}

	exe := i.sup.cfg.ExePath
	if exe != "" {
		// The link is resolved from inside the run directory, so its
		// target must be absolute.
		abs, err := filepath.Abs(exe)
		if err != nil {
			return fmt.Errorf("failed to resolve executable: %w", err)
		}
		target, err := filepath.EvalSymlinks(abs)
		if err != nil {
			i.logger.Warn().Err(err).Str("executable", abs).Msg("Executable not found, linking as given")
			target = abs
		}
		if err := os.Symlink(target, filepath.Join(i.RunDir, filepath.Base(exe))); err != nil {
			return fmt.Errorf("failed to link executable: %w", err)
		}
	}

	rendered, err := script.Render(i.sup.template, script.RecordTokens(i.Record, exe), i.sup.profile.Overrides)
	if err != nil {
		return err
	}
	return script.Write(i.RunDir, i.sup.profile.Script, rendered)
}

// copyTree copies the directory src to dst, which must not exist. Symbolic
// links are recreated, not followed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.Mkdir(target, info.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

// copyFile writes the content of src to dst with the given permissions.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile applies the umask; the copy keeps the source bits.
	return os.Chmod(dst, perm)
}
