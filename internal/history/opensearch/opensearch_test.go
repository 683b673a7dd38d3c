package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/netwarden/netwarden/internal/history"
)

func TestSendPostsDocument(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(srv.URL, "lifecycle-history")
	e := history.Event{Channel: "stopped", PID: 77, OccurredAt: time.Now().UTC()}
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/lifecycle-history/_doc" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	var decoded history.Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if decoded.Channel != "stopped" || decoded.PID != 77 {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := New(srv.URL, "idx")
	if err := s.Send(context.Background(), history.Event{Channel: "output"}); err == nil {
		t.Fatal("4xx response must surface as error")
	}
}
