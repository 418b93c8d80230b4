package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EnsureStateDirs ensures the daemon's runtime folder layout exists under
// baseDir. It verifies paths are not symlinks, have restrictive permissions,
// and are writable by the process.
func EnsureStateDirs(baseDir string) error {
	statePath := filepath.Join(baseDir, "state")
	logPath := filepath.Join(statePath, "log")
	crashPath := filepath.Join(statePath, "crash")
	tmpPath := filepath.Join(statePath, "tmp")
	abortPath := filepath.Join(statePath, "abort")

	paths := []string{logPath, crashPath, tmpPath, abortPath}

	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", p)
			}
		}

		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		if fi2, err := os.Lstat(p); err == nil {
			if fi2.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", p)
			}
			if fi2.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode after creation: %s", p)
			}
		}

		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}

// Paths holds canonical locations for runtime artifacts under a base
// directory.
type Paths struct {
	Base  string
	State string
	Log   string
	Crash string
	Tmp   string
	Abort string
}

// PathsFor returns the canonical Paths for the provided base directory.
func PathsFor(baseDir string) Paths {
	statePath := filepath.Join(baseDir, "state")
	return Paths{
		Base:  baseDir,
		State: statePath,
		Log:   filepath.Join(statePath, "log"),
		Crash: filepath.Join(statePath, "crash"),
		Tmp:   filepath.Join(statePath, "tmp"),
		Abort: filepath.Join(statePath, "abort"),
	}
}

func LogPath(baseDir string) string   { return PathsFor(baseDir).Log }
func CrashPath(baseDir string) string { return PathsFor(baseDir).Crash }
func TmpPath(baseDir string) string   { return PathsFor(baseDir).Tmp }
func AbortPath(baseDir string) string { return PathsFor(baseDir).Abort }

var (
	// PathsVar is the canonical layout for the running process, populated
	// once by Init.
	PathsVar Paths
	initOnce sync.Once
)

// Init initializes the package-level Paths for the running process. Safe to
// call multiple times; initialization happens only once.
func Init(baseDir string) {
	initOnce.Do(func() {
		PathsVar = PathsFor(baseDir)
	})
}
