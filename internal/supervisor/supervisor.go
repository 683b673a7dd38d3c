package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/netwarden/netwarden/internal/env"
	"github.com/netwarden/netwarden/internal/event"
	"github.com/netwarden/netwarden/internal/history"
	"github.com/netwarden/netwarden/internal/logger"
	"github.com/netwarden/netwarden/internal/metrics"
	"github.com/netwarden/netwarden/internal/pathctx"
	"github.com/netwarden/netwarden/internal/pyruntime"
)

// State is the supervisor's lifecycle state. Start is only legal from idle;
// every termination path returns to idle (the closed event's unexpected flag
// distinguishes a crash from a clean exit).
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	ErrNotIdle         = errors.New("backend already live; stop it first")
	ErrRuntimeNotFound = pyruntime.ErrNotFound
)

const (
	DefaultStopWait = 3 * time.Second
	DefaultSettle   = 1 * time.Second
	scannerBuffer   = 1024 * 1024
	sinkTimeout     = 2 * time.Second
)

// Notifier surfaces blocking user-facing failures, the daemon analogue of a
// native error dialog.
type Notifier interface {
	Alert(title, message string)
}

// Options configures a Supervisor. Bus is required; everything else has a
// usable zero value or default.
type Options struct {
	Locator  *pyruntime.Locator
	Path     pathctx.Context
	Env      *env.Env
	Mirror   logger.Config // rotated file mirrors for backend stdout/stderr
	Bus      *event.Bus
	Sinks    []history.Sink
	Notifier Notifier
	Logger   *slog.Logger
	StopWait time.Duration // SIGTERM to SIGKILL escalation bound
	Settle   time.Duration // restart wait-for-exit fallback
}

// Handle identifies one live backend run.
type Handle struct {
	PID       int
	Script    string
	WorkDir   string
	StartedAt time.Time
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	State          State     `json:"state"`
	PID            int       `json:"pid"`
	Runtime        string    `json:"runtime,omitempty"`
	Script         string    `json:"script"`
	StartedAt      time.Time `json:"started_at"`
	Restarts       int       `json:"restarts"`
	LastExitCode   int       `json:"last_exit_code"`
	LastUnexpected bool      `json:"last_unexpected"`
}

// Supervisor owns the single backend subprocess: it is the only component
// allowed to create, observe or destroy the handle. All mutation funnels
// through Start/Stop/Restart under one mutex.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	state    State
	handle   *Handle
	cmd      *exec.Cmd
	runtime  string        // located interpreter, cached across runs
	waitDone chan struct{} // closed by the exit monitor of the current run
	stopping bool          // stop requested; suppress the closed event
	restarts int
	lastExit int
	lastUnex bool
}

func New(opts Options) *Supervisor {
	if opts.Locator == nil {
		opts.Locator = pyruntime.NewLocator()
	}
	if opts.Env == nil {
		opts.Env = env.ForcedUTF8()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopWait <= 0 {
		opts.StopWait = DefaultStopWait
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	return &Supervisor{opts: opts, state: StateIdle}
}

// Bus exposes the lifecycle event bus for the bridge.
func (s *Supervisor) Bus() *event.Bus { return s.opts.Bus }

// Status returns a snapshot of the current run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:          s.state,
		Runtime:        s.runtime,
		Script:         s.opts.Path.Script,
		Restarts:       s.restarts,
		LastExitCode:   s.lastExit,
		LastUnexpected: s.lastUnex,
	}
	if s.handle != nil {
		st.PID = s.handle.PID
		st.StartedAt = s.handle.StartedAt
	}
	return st
}

// Start launches the backend. Legal only from idle: locating a runtime,
// verifying the entry script and spawning all happen synchronously, so a nil
// return means the subprocess is live and observed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = StateStarting
	s.mu.Unlock()
	metrics.SetState(string(StateStarting), true)

	if err := s.startLocked(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}
	metrics.SetState(string(StateStarting), false)
	metrics.SetState(string(StateRunning), true)
	metrics.IncStart()
	return nil
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	rt, err := s.locate(ctx)
	if err != nil {
		msg := "No compatible Python runtime found. Install Python 3 and ensure it is on PATH."
		s.emit(event.Error(msg), 0)
		s.alert("Python Not Found", msg)
		return fmt.Errorf("locate runtime: %w", err)
	}

	if err := s.opts.Path.VerifyScript(); err != nil {
		s.emit(event.Error(err.Error()), 0)
		s.alert("Backend Missing", err.Error())
		return err
	}

	// ok: interpreter and script are host-resolved paths, not user input
	// #nosec G204
	cmd := exec.Command(rt, s.opts.Path.Script)
	cmd.Dir = s.opts.Path.BackendDir
	cmd.Env = s.opts.Env.Merge(nil)
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.emit(event.Error("backend stdout pipe: "+err.Error()), 0)
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.emit(event.Error("backend stderr pipe: "+err.Error()), 0)
		return err
	}

	if err := cmd.Start(); err != nil {
		s.emit(event.Error("backend spawn failed: "+err.Error()), 0)
		return fmt.Errorf("spawn backend: %w", err)
	}

	h := &Handle{
		PID:       cmd.Process.Pid,
		Script:    s.opts.Path.Script,
		WorkDir:   s.opts.Path.BackendDir,
		StartedAt: time.Now(),
	}
	wd := make(chan struct{})

	// Transition to running inside the same critical section that installs
	// the handle, so a fast-exiting backend's monitor cannot be outrun.
	s.mu.Lock()
	s.handle = h
	s.cmd = cmd
	s.waitDone = wd
	s.stopping = false
	s.state = StateRunning
	s.mu.Unlock()

	outMirror, errMirror := s.mirrors()

	var scanners sync.WaitGroup
	scanners.Add(2)
	go s.observeStream(stdout, event.Output, outMirror, h.PID, &scanners)
	go s.observeStream(stderr, event.Error, errMirror, h.PID, &scanners)
	go s.monitor(cmd, h.PID, wd, &scanners)

	s.opts.Logger.Info("backend started", "pid", h.PID, "runtime", rt, "script", h.Script)
	return nil
}

// locate caches the first successful candidate across runs.
func (s *Supervisor) locate(ctx context.Context) (string, error) {
	s.mu.Lock()
	rt := s.runtime
	s.mu.Unlock()
	if rt != "" {
		return rt, nil
	}
	rt, err := s.opts.Locator.Locate(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.runtime = rt
	s.mu.Unlock()
	return rt, nil
}

// observeStream relays one subprocess stream line by line, in emission order.
func (s *Supervisor) observeStream(r io.Reader, wrap func(string) event.Event, mirror io.WriteCloser, pid int, wg *sync.WaitGroup) {
	defer wg.Done()
	if mirror != nil {
		defer func() { _ = mirror.Close() }()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), scannerBuffer)
	for sc.Scan() {
		line := sc.Text()
		if mirror != nil {
			_, _ = mirror.Write(append([]byte(line), '\n'))
		}
		s.emit(wrap(line), pid)
	}
}

// monitor fires exactly once when the subprocess terminates. It waits for the
// stream observers first so no output line can arrive after the closed event.
func (s *Supervisor) monitor(cmd *exec.Cmd, pid int, wd chan struct{}, scanners *sync.WaitGroup) {
	scanners.Wait()
	err := cmd.Wait()
	code := exitCode(cmd, err)

	s.mu.Lock()
	stopped := s.stopping
	if s.handle == nil || s.handle.PID != pid {
		// This run was already detached by Stop; a fresh run may own the
		// state (and the exit bookkeeping) by now, so touch nothing.
		stopped = true
	} else {
		s.handle = nil
		s.cmd = nil
		s.state = StateIdle
		s.waitDone = nil
		s.lastExit = code
		s.lastUnex = code != 0
	}
	s.mu.Unlock()
	close(wd)

	if stopped {
		// Late exit after an explicit stop: the handle is already cleared and
		// the stopped event already sent; nothing further to report.
		s.opts.Logger.Debug("backend reaped after stop", "pid", pid, "exit_code", code)
		return
	}
	metrics.SetState(string(StateRunning), false)
	metrics.SetState(string(StateIdle), true)
	if code != 0 {
		metrics.IncUnexpectedExit()
		s.opts.Logger.Warn("backend exited unexpectedly", "pid", pid, "exit_code", code)
	} else {
		s.opts.Logger.Info("backend exited cleanly", "pid", pid)
	}
	s.emit(event.Closed(code), pid)
}

// Stop signals the live backend and returns without waiting for process
// death. A stop on an idle supervisor is a silent no-op. The exit monitor
// tolerates the late termination against the cleared handle; a goroutine
// escalates to SIGKILL when the process outlives the stop wait.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning || s.handle == nil {
		s.mu.Unlock()
		return nil
	}
	// Signal-and-forget: the handle is cleared and the state returns to idle
	// before the process is confirmed dead. The monitor reaps it later.
	s.stopping = true
	pid := s.handle.PID
	wd := s.waitDone
	s.handle = nil
	s.cmd = nil
	s.state = StateIdle
	s.mu.Unlock()

	metrics.SetState(string(StateRunning), false)
	metrics.SetState(string(StateIdle), true)
	_ = terminateGroup(pid)
	go func() {
		select {
		case <-wd:
		case <-time.After(s.opts.StopWait):
			_ = killGroup(pid)
		}
	}()

	metrics.IncStop()
	s.opts.Logger.Info("backend stop requested", "pid", pid)
	s.emit(event.Stopped(), pid)
	return nil
}

// Restart performs a full stop, waits for the old run to be reaped (bounded
// by the settle delay) and starts again. The restarted event is emitted once
// the new run is live.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	wd := s.waitDone
	running := s.state == StateRunning
	s.mu.Unlock()

	if running {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	if running && wd != nil {
		select {
		case <-wd:
		case <-time.After(s.opts.Settle):
			// Exit notification never arrived; fall back to the blunt delay so
			// the OS can release the port and pidfile the backend held.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	metrics.IncRestart()
	pid := 0
	s.mu.Lock()
	s.restarts++
	if s.handle != nil {
		pid = s.handle.PID
	}
	s.mu.Unlock()
	s.emit(event.Restarted(), pid)
	return nil
}

// Shutdown stops the backend if live and waits briefly for the reap, then
// closes the event bus. Used on host exit so no orphan survives.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	wd := s.waitDone
	running := s.state == StateRunning
	s.mu.Unlock()
	if running {
		_ = s.Stop()
		if wd != nil {
			select {
			case <-wd:
			case <-time.After(s.opts.StopWait + time.Second):
			}
		}
	}
	s.opts.Bus.Close()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	metrics.SetState(string(prev), false)
	metrics.SetState(string(st), true)
}

// emit publishes to the bridge bus, counts the event and appends it to every
// configured audit sink. Sink failures are logged, never propagated: the
// presentation layer relay must not stall on a slow database.
func (s *Supervisor) emit(e event.Event, pid int) {
	s.opts.Bus.Publish(e)
	metrics.IncEvent(string(e.Channel))
	if len(s.opts.Sinks) == 0 {
		return
	}
	rec := history.FromLifecycle(e, pid)
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, sink := range s.opts.Sinks {
		if err := sink.Send(ctx, rec); err != nil {
			s.opts.Logger.Warn("history sink write failed", "channel", e.Channel, "error", err)
		}
	}
}

func (s *Supervisor) alert(title, message string) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Alert(title, message)
	}
}

func (s *Supervisor) mirrors() (io.WriteCloser, io.WriteCloser) {
	if !s.opts.Mirror.Enabled() {
		return nil, nil
	}
	outW, errW, err := s.opts.Mirror.Writers("monitor")
	if err != nil {
		s.opts.Logger.Warn("backend output mirror disabled", "error", err)
		return nil, nil
	}
	return outW, errW
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
