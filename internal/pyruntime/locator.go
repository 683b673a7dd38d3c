package pyruntime

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrNotFound is returned when no candidate runtime responded to the probe.
var ErrNotFound = errors.New("no python runtime found")

const (
	DefaultProbeArg    = "--version"
	DefaultProbeWindow = 5 * time.Second
)

// DefaultCandidates returns the probe order used when none is configured.
// Order is significant: the first responding candidate wins.
func DefaultCandidates() []string { return []string{"python3", "python", "py"} }

// Locator probes an ordered list of interpreter command names and returns the
// first one that answers a version query on stdout without stderr noise.
type Locator struct {
	Candidates []string
	ProbeArg   string        // argument passed to each candidate (default --version)
	Timeout    time.Duration // per-probe bound (default 5s)
}

func NewLocator(candidates ...string) *Locator {
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}
	return &Locator{Candidates: candidates}
}

// Locate tries each candidate in order. A candidate is accepted when its probe
// writes to stdout and nothing to stderr; it is rejected when the spawn fails,
// the probe times out, or stderr receives output. Probing stops at the first
// acceptance.
func (l *Locator) Locate(ctx context.Context) (string, error) {
	arg := l.ProbeArg
	if arg == "" {
		arg = DefaultProbeArg
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeWindow
	}
	for _, cand := range l.Candidates {
		if cand == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if probe(ctx, cand, arg, timeout) {
			return cand, nil
		}
	}
	return "", ErrNotFound
}

func probe(ctx context.Context, name, arg string, timeout time.Duration) bool {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// ok: candidate names come from host configuration, not user input
	// #nosec G204
	cmd := exec.CommandContext(pctx, name, arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Spawn error, nonzero exit or timeout all disqualify the candidate.
		// Nonzero exit is deliberately stricter than rejecting on stderr
		// alone: a healthy interpreter exits 0 from a version probe, and a
		// candidate that cannot manage that will not run the backend either.
		return false
	}
	return stdout.Len() > 0 && stderr.Len() == 0
}
