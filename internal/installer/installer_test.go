package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/netwarden/netwarden/internal/pathctx"
	"github.com/netwarden/netwarden/internal/pyruntime"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

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
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("flask\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := pathctx.Resolve(false, dir)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type recordingNotifier struct {
	alerts  []string
	notices []string
}

func (n *recordingNotifier) Alert(title, message string)  { n.alerts = append(n.alerts, message) }
func (n *recordingNotifier) Notify(title, message string) { n.notices = append(n.notices, message) }

func TestInstallSuccess(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, `echo "Successfully installed flask"`)
	n := &recordingNotifier{}
	i := New(pyruntime.NewLocator(rt), backendDir(t), n, nil)
	if err := i.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(n.notices) != 1 || len(n.alerts) != 0 {
		t.Fatalf("expected one success notification, got notices=%v alerts=%v", n.notices, n.alerts)
	}
}

func TestInstallFailureCarriesCapturedOutputVerbatim(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "echo \"Collecting flask\"\necho \"ERROR: no matching distribution\" 1>&2\nexit 1")
	n := &recordingNotifier{}
	i := New(pyruntime.NewLocator(rt), backendDir(t), n, nil)
	err := i.Install(context.Background())
	if err == nil {
		t.Fatal("nonzero exit must fail")
	}
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(ie.Output, "Collecting flask") {
		t.Fatalf("stdout missing from captured output: %q", ie.Output)
	}
	if !strings.Contains(ie.Output, "ERROR: no matching distribution") {
		t.Fatalf("stderr missing from captured output: %q", ie.Output)
	}
	if len(n.alerts) != 1 || !strings.Contains(n.alerts[0], "ERROR: no matching distribution") {
		t.Fatalf("failure notification must carry the captured text: %v", n.alerts)
	}
}

func TestInstallRuntimeNotFound(t *testing.T) {
	n := &recordingNotifier{}
	i := New(pyruntime.NewLocator(filepath.Join(t.TempDir(), "missing")), pathctx.Context{}, n, nil)
	err := i.Install(context.Background())
	if !errors.Is(err, pyruntime.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(n.alerts) != 1 {
		t.Fatalf("expected runtime-not-found alert, got %v", n.alerts)
	}
}

func TestInstallTimeout(t *testing.T) {
	requireUnix(t)
	rt := fakeRuntime(t, "sleep 30")
	i := New(pyruntime.NewLocator(rt), backendDir(t), nil, nil)
	i.Timeout = 300 * time.Millisecond
	start := time.Now()
	if err := i.Install(context.Background()); err == nil {
		t.Fatal("hung install must fail once the timeout elapses")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout not honored, took %v", elapsed)
	}
}
