package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"running","pid":4321}`))
	})
	mux.HandleFunc("/bridge/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"2.0.1"}`))
	})
	mux.HandleFunc("/control/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/control/restart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"backend is not idle"}`))
	})
	mux.HandleFunc("/control/install", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientStatus(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewAPIClient(srv.URL, 0)
	st, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st["state"] != "running" {
		t.Fatalf("state = %v", st["state"])
	}
}

func TestClientVersion(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewAPIClient(srv.URL, 0)
	v, err := c.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != "2.0.1" {
		t.Fatalf("version = %q", v)
	}
}

func TestClientStartOK(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewAPIClient(srv.URL, 0)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestClientInstallAcceptsAccepted(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewAPIClient(srv.URL, 0)
	if err := c.Install(); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewAPIClient(srv.URL, 0)
	err := c.Restart()
	if err == nil {
		t.Fatal("expected error from conflicting restart")
	}
	if got := err.Error(); got != "API error: backend is not idle" {
		t.Fatalf("error = %q", got)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", 0)
	if c.IsReachable() {
		t.Fatal("nothing listens on port 1")
	}
}
