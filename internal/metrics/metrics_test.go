package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("second register should be a no-op: %v", err)
	}
}

func TestCountersExposed(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("register: %v", err)
	}
	IncStart()
	IncStop()
	IncRestart()
	IncUnexpectedExit()
	IncEvent("output")
	IncInstall("success")
	SetState("running", true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	for _, want := range []string{
		"netwarden_backend_starts_total",
		"netwarden_backend_unexpected_exits_total",
		"netwarden_bridge_events_total",
		"netwarden_installer_runs_total",
		"netwarden_backend_current_state",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metric %q not exposed:\n%s", want, body)
		}
	}
}

func TestHelpersNoopWithoutRegister(t *testing.T) {
	// Register may already have run in this process; the helpers must simply
	// never panic regardless.
	IncStart()
	IncEvent("error")
	SetState("idle", false)
}
