package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/netwarden/netwarden/internal/event"
	"github.com/netwarden/netwarden/internal/pathctx"
	"github.com/netwarden/netwarden/internal/pyruntime"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// fakeRuntime writes an interpreter stand-in: it answers the locator's
// version probe cleanly and otherwise runs body (with $1 = script path).
func fakeRuntime(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then\n  echo \"Python 3.12.0\"\n  exit 0\nfi\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}
	return path
}

func backendDir(t *testing.T) pathctx.Context {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := pathctx.Resolve(false, dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return c
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *recordingNotifier) Alert(title, message string) {
	n.mu.Lock()
	n.alerts = append(n.alerts, title+": "+message)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func newSup(t *testing.T, rt string, path pathctx.Context) *Supervisor {
	t.Helper()
	return New(Options{
		Locator: pyruntime.NewLocator(rt),
		Path:    path,
		Bus:     event.NewBus(),
	})
}

func recv(t *testing.T, ch chan event.Event, what string) event.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", what)
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return event.Event{}
}

func TestStartRelaysOutputInOrderThenCloses(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "echo one\necho two\nexit 0")
	s := newSup(t, rt, backendDir(t))
	out, _ := s.Bus().Subscribe(event.ChannelOutput)
	closed, _ := s.Bus().Subscribe(event.ChannelClosed)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := recv(t, out, "first line").Text; got != "one" {
		t.Fatalf("first line: %q", got)
	}
	if got := recv(t, out, "second line").Text; got != "two" {
		t.Fatalf("second line: %q", got)
	}
	e := recv(t, closed, "closed event")
	if e.ExitCode != 0 || e.Unexpected {
		t.Fatalf("clean exit misreported: %+v", e)
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	s := newSup(t, rt, backendDir(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Shutdown()
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("second start must be rejected, got %v", err)
	}
	if st := s.Status(); st.State != StateRunning || st.PID == 0 {
		t.Fatalf("exactly one live run expected: %+v", st)
	}
}

func TestStopOnIdleIsSilentNoop(t *testing.T) {
	s := newSup(t, "python3", pathctx.Context{})
	stopped, _ := s.Bus().Subscribe(event.ChannelStopped)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop on idle: %v", err)
	}
	select {
	case e := <-stopped:
		t.Fatalf("idle stop must emit nothing, got %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStartScriptMissing(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "exit 0")
	path, err := pathctx.Resolve(false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newSup(t, rt, path)
	errCh, _ := s.Bus().Subscribe(event.ChannelError)

	if err := s.Start(context.Background()); !errors.Is(err, pathctx.ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
	recv(t, errCh, "error event")
	select {
	case e := <-errCh:
		t.Fatalf("exactly one error event expected, got extra %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
	if st := s.Status(); st.State != StateIdle || st.PID != 0 {
		t.Fatalf("state must remain idle with no subprocess: %+v", st)
	}
}

func TestStartRuntimeNotFound(t *testing.T) {
	n := &recordingNotifier{}
	s := New(Options{
		Locator:  pyruntime.NewLocator(filepath.Join(t.TempDir(), "missing-python")),
		Path:     pathctx.Context{},
		Bus:      event.NewBus(),
		Notifier: n,
	})
	errCh, _ := s.Bus().Subscribe(event.ChannelError)
	err := s.Start(context.Background())
	if !errors.Is(err, ErrRuntimeNotFound) {
		t.Fatalf("expected ErrRuntimeNotFound, got %v", err)
	}
	recv(t, errCh, "error event")
	if n.count() != 1 {
		t.Fatalf("blocking notification expected exactly once, got %d", n.count())
	}
	if st := s.Status(); st.State != StateIdle {
		t.Fatalf("state must remain idle: %+v", st)
	}
}

func TestUnexpectedExitCode(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "exit 137")
	s := newSup(t, rt, backendDir(t))
	closed, _ := s.Bus().Subscribe(event.ChannelClosed)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e := recv(t, closed, "closed event")
	if e.ExitCode != 137 || !e.Unexpected {
		t.Fatalf("expected {137 true}, got {%d %v}", e.ExitCode, e.Unexpected)
	}
	select {
	case extra := <-closed:
		t.Fatalf("closed must fire exactly once, got extra %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
	if st := s.Status(); st.State != StateIdle || !st.LastUnexpected {
		t.Fatalf("status after crash: %+v", st)
	}
}

func TestStopEmitsStoppedAndSuppressesClosed(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	s := newSup(t, rt, backendDir(t))
	stopped, _ := s.Bus().Subscribe(event.ChannelStopped)
	closed, _ := s.Bus().Subscribe(event.ChannelClosed)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	recv(t, stopped, "stopped event")
	select {
	case e := <-closed:
		t.Fatalf("stop must suppress the closed event, got %+v", e)
	case <-time.After(500 * time.Millisecond):
	}
	if st := s.Status(); st.State != StateIdle || st.PID != 0 {
		t.Fatalf("handle must be cleared after stop: %+v", st)
	}
}

func TestStopDoesNotClobberLastExit(t *testing.T) {
	requireUnix(t)
	// First run exits 7; every later run sleeps until signaled.
	rt := fakeRuntime(t, `if [ -e "$0.flag" ]; then sleep 30; else touch "$0.flag"; exit 7; fi`)
	s := newSup(t, rt, backendDir(t))
	closed, _ := s.Bus().Subscribe(event.ChannelClosed)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	recv(t, closed, "closed event")
	if st := s.Status(); st.LastExitCode != 7 {
		t.Fatalf("expected last exit 7, got %+v", st)
	}

	// A stopped run is detached; its late reap must not overwrite the exit
	// record of the crash above.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	pid := s.Status().PID
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatal("stopped backend never died")
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond) // let the monitor reap
	if st := s.Status(); st.LastExitCode != 7 || !st.LastUnexpected {
		t.Fatalf("detached reap clobbered the exit record: %+v", st)
	}
}

func TestRestartReplacesRunWithoutOverlap(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	s := New(Options{
		Locator: pyruntime.NewLocator(rt),
		Path:    backendDir(t),
		Bus:     event.NewBus(),
		Settle:  2 * time.Second,
	})
	restarted, _ := s.Bus().Subscribe(event.ChannelRestarted)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := s.Status().PID
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Shutdown()
	recv(t, restarted, "restarted event")
	st := s.Status()
	if st.State != StateRunning {
		t.Fatalf("expected running after restart: %+v", st)
	}
	if st.PID == first {
		t.Fatalf("restart must produce a new subprocess, pid still %d", first)
	}
	if st.Restarts != 1 {
		t.Fatalf("restart counter not advanced: %+v", st)
	}
}

func TestRestartFromIdleJustStarts(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	s := newSup(t, rt, backendDir(t))
	restarted, _ := s.Bus().Subscribe(event.ChannelRestarted)
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart from idle: %v", err)
	}
	defer s.Shutdown()
	recv(t, restarted, "restarted event")
	if st := s.Status(); st.State != StateRunning {
		t.Fatalf("expected running: %+v", st)
	}
}

func TestShutdownLeavesNoOrphan(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	s := newSup(t, rt, backendDir(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := s.Status().PID
	s.Shutdown()
	// After shutdown the old PID must be gone (or a zombie already reaped).
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("backend pid %d survived shutdown", pid)
}
