package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "PayChat/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	dispatcher := NewFanout(a, nil, b)

	err := dispatcher.Notify(context.Background(), FromError(xerrors.New(xerrors.CodeStorageFailure, "db gone"), "s-1"))
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
	if a.events[0].Code != xerrors.CodeStorageFailure || a.events[0].SessionID != "s-1" {
		t.Fatalf("unexpected event: %+v", a.events[0])
	}
	if got := dispatcher.Channels(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected channels: %v", got)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeModelFailure, Severity: xerrors.SeverityWarning, Message: "timeout"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(received.Text, "MODEL_FAILURE") || received.Event.Message != "timeout" {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should skip silently, got %v", err)
	}
}

func TestLogNotifierWritesRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, SessionID: "s-2"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(buf.String(), `"code":"TIMEOUT"`) || !strings.Contains(buf.String(), `"session_id":"s-2"`) {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
}
