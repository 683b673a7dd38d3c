package pathctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	backendDirName = "backend"
	entryScript    = "app.py"
	manifestFile   = "requirements.txt"
)

// ErrScriptNotFound reports that the backend entry script is absent at the
// resolved path. The supervisor must not spawn anything in that case.
var ErrScriptNotFound = errors.New("backend entry script not found")

// Context holds the paths resolved once per process start. It distinguishes
// running from a packaged installation (backend bundled next to the host
// executable) from running out of the source tree, and never changes after
// Resolve.
type Context struct {
	Packaged   bool
	BackendDir string
	Script     string
	Manifest   string
}

// Resolve derives the backend directory for the current run. An explicit
// override wins; otherwise packaged mode anchors at the host executable and
// source mode anchors at the working directory.
func Resolve(packaged bool, override string) (Context, error) {
	dir := override
	if dir == "" {
		if packaged {
			exe, err := os.Executable()
			if err != nil {
				return Context{}, fmt.Errorf("resolve executable path: %w", err)
			}
			dir = filepath.Join(filepath.Dir(exe), backendDirName)
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return Context{}, fmt.Errorf("resolve working directory: %w", err)
			}
			dir = filepath.Join(wd, backendDirName)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Context{}, fmt.Errorf("resolve backend dir: %w", err)
	}
	return Context{
		Packaged:   packaged,
		BackendDir: abs,
		Script:     filepath.Join(abs, entryScript),
		Manifest:   filepath.Join(abs, manifestFile),
	}, nil
}

// VerifyScript checks that the entry script exists and is a regular file.
func (c Context) VerifyScript() error {
	info, err := os.Stat(c.Script)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, c.Script)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrScriptNotFound, c.Script)
	}
	return nil
}
