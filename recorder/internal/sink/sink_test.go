package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/replaygeo/session"
)

func testBatch() Batch {
	return Batch{
		SessionID: "s1",
		Events: []session.Event{
			session.NewRouteEvent(10, session.Location{Pathname: "/"}, "s1"),
			session.NewConsoleEvent(20, session.ConsolePayload{Level: "log"}),
		},
	}
}

func TestStdout_OneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), testBatch()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var env struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "plugin" || env.SessionID != "s1" {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls: got %d, want 3", got)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), testBatch()); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestRouter_ContinuesPastFailure(t *testing.T) {
	var delivered int
	failing := NewCallback(func(context.Context, Batch) error { return errors.New("down") })
	counting := NewCallback(func(_ context.Context, b Batch) error {
		delivered += len(b.Events)
		return nil
	})

	r := NewRouter(nil, failing, counting)
	if err := r.Send(context.Background(), testBatch()); err == nil {
		t.Fatal("expected first error to be returned")
	}
	if delivered != 2 {
		t.Fatalf("delivered: got %d, want 2", delivered)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
