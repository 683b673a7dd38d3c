package installer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/netwarden/netwarden/internal/env"
	"github.com/netwarden/netwarden/internal/metrics"
	"github.com/netwarden/netwarden/internal/pathctx"
	"github.com/netwarden/netwarden/internal/pyruntime"
)

// DefaultTimeout bounds one install invocation. pip resolving a large
// manifest over a slow link is slow but not ten-minutes slow.
const DefaultTimeout = 10 * time.Minute

// Notifier receives the install outcome; the daemon analogue of the
// result dialog.
type Notifier interface {
	Alert(title, message string)
	Notify(title, message string)
}

// Error carries the full captured output of a failed install so the user
// can diagnose it verbatim.
type Error struct {
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dependency install failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Installer runs the backend's dependency manifest through the located
// runtime's pip. One shot: no retry, no partial-install detection.
type Installer struct {
	Locator  *pyruntime.Locator
	Path     pathctx.Context
	Env      *env.Env
	Notifier Notifier
	Logger   *slog.Logger
	Timeout  time.Duration
}

func New(loc *pyruntime.Locator, path pathctx.Context, n Notifier, log *slog.Logger) *Installer {
	if loc == nil {
		loc = pyruntime.NewLocator()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Installer{
		Locator:  loc,
		Path:     path,
		Env:      env.ForcedUTF8(),
		Notifier: n,
		Logger:   log,
		Timeout:  DefaultTimeout,
	}
}

// Install locates a runtime (again, if needed) and invokes
// `<runtime> -m pip install -r <manifest>` in the backend directory,
// accumulating stdout and stderr together. Exit 0 notifies success; anything
// else notifies failure with the captured output attached.
func (i *Installer) Install(ctx context.Context) error {
	rt, err := i.Locator.Locate(ctx)
	if err != nil {
		i.alert("Install Failed", "No compatible Python runtime found. Install Python 3 and ensure it is on PATH.")
		metrics.IncInstall("no_runtime")
		return fmt.Errorf("locate runtime: %w", err)
	}

	timeout := i.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ok: interpreter and manifest are host-resolved paths, not user input
	// #nosec G204
	cmd := exec.CommandContext(ictx, rt, "-m", "pip", "install", "-r", i.Path.Manifest)
	cmd.Dir = i.Path.BackendDir
	if i.Env != nil {
		cmd.Env = i.Env.Merge(nil)
	}
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	i.Logger.Info("installing backend dependencies", "runtime", rt, "manifest", i.Path.Manifest)
	if err := cmd.Run(); err != nil {
		metrics.IncInstall("failure")
		out := combined.String()
		i.alert("Install Failed", out)
		i.Logger.Warn("dependency install failed", "error", err)
		return &Error{Output: out, Err: err}
	}

	metrics.IncInstall("success")
	i.notify("Install Complete", "Backend dependencies installed successfully.")
	i.Logger.Info("dependency install finished")
	return nil
}

func (i *Installer) alert(title, message string) {
	if i.Notifier != nil {
		i.Notifier.Alert(title, message)
	}
}

func (i *Installer) notify(title, message string) {
	if i.Notifier != nil {
		i.Notifier.Notify(title, message)
	}
}
