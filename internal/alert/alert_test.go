package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noRetryDelay(t *testing.T) {
	t.Helper()
	prev := retryDelay
	retryDelay = func(int) time.Duration { return 0 }
	t.Cleanup(func() { retryDelay = prev })
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestNotifyMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{"block"}}}, nil)

	d.Notify(Event{Type: "block", Identity: "abc"})
	d.Notify(Event{Type: "promote", Identity: "abc"})
	d.Close()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestNotifyMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{
		{URL: srv1.URL, Events: []string{"grant_admin"}},
		{URL: srv2.URL, Events: []string{EventAll}},
	}, nil)

	d.Notify(Event{Type: "grant_admin"})
	d.Notify(Event{Type: EventPolicyReload})
	d.Close()

	if called1.Load() != 1 || called2.Load() != 2 {
		t.Errorf("calls = %d, %d; want 1, 2", called1.Load(), called2.Load())
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	if d := NewDispatcher(nil, nil); d != nil {
		t.Fatal("expected nil dispatcher for empty hooks")
	}
	var d *Dispatcher
	d.Notify(Event{Type: "block"})
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyAfterCloseDropped(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{EventAll}}}, nil)

	d.Notify(Event{Type: "block"})
	d.Close()
	d.Notify(Event{Type: "block"})
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if called.Load() != 1 {
		t.Errorf("expected only the event before Close, got %d calls", called.Load())
	}
}

func TestNotifyConcurrentWithClose(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{EventAll}}}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Notify(Event{Type: "promote"})
		}()
	}
	d.Close()
	sent := called.Load()
	wg.Wait()

	// Nothing accepted after Close may still be sending.
	time.Sleep(50 * time.Millisecond)
	if got := called.Load(); got != sent {
		t.Errorf("sends after Close returned: %d before, %d after", sent, got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	noRetryDelay(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), srv.Client(), Webhook{URL: srv.URL}, Event{Type: "block"})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	noRetryDelay(t)
	srv, attempts := countingServer(t, http.StatusBadRequest)

	if err := Send(context.Background(), srv.Client(), Webhook{URL: srv.URL}, Event{Type: "block"}); err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestSendStopsOnCancel(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusBadGateway)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Send(ctx, srv.Client(), Webhook{URL: srv.URL}, Event{Type: "block"}); err == nil {
		t.Error("expected error for cancelled context")
	}
	if attempts.Load() > 1 {
		t.Errorf("retried after cancel: %d attempts", attempts.Load())
	}
}

func TestHeadersSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := Webhook{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := Send(context.Background(), srv.Client(), hook, Event{Type: "block"}); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer x" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestFormatGenericJSON(t *testing.T) {
	ev := Event{
		Timestamp: "2026-01-15T14:00:00.000Z",
		TraceID:   "t-123",
		Type:      "block",
		Identity:  "abcdef",
		From:      "contact",
		To:        "blocked",
	}
	data, err := FormatPayload("generic", ev)
	if err != nil {
		t.Fatal(err)
	}
	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != ev {
		t.Errorf("round trip = %+v", parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", Event{
		Type:     "grant_admin",
		Identity: "0123456789abcdef0123456789abcdef",
		From:     "whitelist",
		To:       "admin",
		Actor:    "fedcba9876543210fedcba9876543210",
	})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}
	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	text, _ := header["text"].(map[string]any)
	if text["text"] != "trustgate: grant_admin" {
		t.Errorf("header = %v", text["text"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, _ := section["fields"].([]any)
	if len(fields) != 3 {
		t.Errorf("expected client, level and actor fields, got %v", fields)
	}
}

func TestWebhookValidate(t *testing.T) {
	tests := []struct {
		name string
		hook Webhook
		ok   bool
	}{
		{"valid", Webhook{URL: "http://x", Events: []string{"block"}}, true},
		{"all", Webhook{URL: "http://x", Format: "slack", Events: []string{"*"}}, true},
		{"no url", Webhook{Events: []string{"block"}}, false},
		{"bad format", Webhook{URL: "http://x", Format: "pagerduty", Events: []string{"block"}}, false},
		{"no events", Webhook{URL: "http://x"}, false},
		{"unknown event", Webhook{URL: "http://x", Events: []string{"deny"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.hook.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
