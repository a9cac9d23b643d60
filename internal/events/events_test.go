package events_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/events"
)

func TestNtfyFormatsMilestones(t *testing.T) {
	tests := []struct {
		name           string
		event          events.Event
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "queued",
			event:         events.Event{Type: events.JobQueued, JobID: "0123456789abcdef", Message: "talk.mp4"},
			expectTitle:   "FinalCut - Job Queued",
			expectMessage: "Queued job 01234567\ntalk.mp4",
			expectTags:    "finalcut,job,queued",
		},
		{
			name:           "completed",
			event:          events.Event{Type: events.JobCompleted, JobID: "job-1"},
			expectTitle:    "FinalCut - Complete",
			expectMessage:  "Job job-1 finished",
			expectTags:     "finalcut,job,completed",
			expectPriority: "high",
		},
		{
			name:           "failed system",
			event:          events.Event{Type: events.JobFailed, JobID: "job-2", Stage: "upload", Category: "system", Message: "disk full"},
			expectTitle:    "FinalCut - Error",
			expectMessage:  "Job job-2 failed during upload (system)\ndisk full",
			expectTags:     "finalcut,error,alert",
			expectPriority: "urgent",
		},
		{
			name:          "failed network",
			event:         events.Event{Type: events.JobFailed, JobID: "job-3", Category: "network"},
			expectTitle:   "FinalCut - Error",
			expectMessage: "Job job-3 failed (network)",
			expectTags:    "finalcut,error,alert",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			n := events.NewNtfy(server.URL, 5*time.Second)
			if err := n.Publish(context.Background(), tc.event); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyIgnoresStageEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event")
	}))
	defer server.Close()

	n := events.NewNtfy(server.URL, time.Second)
	for _, typ := range []events.Type{events.StageStarted, events.StageCompleted, events.StageDeferred, events.StageFailed} {
		if err := n.Publish(context.Background(), events.Event{Type: typ, JobID: "x"}); err != nil {
			t.Fatalf("expected no error for %s, got %v", typ, err)
		}
	}
}

func TestNtfyReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer server.Close()

	n := events.NewNtfy(server.URL, time.Second)
	err := n.Publish(context.Background(), events.Event{Type: events.JobCompleted, JobID: "x"})
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestBusFansOutAndStamps(t *testing.T) {
	var first, second []events.Event
	failing := errors.New("down")
	bus := events.NewBus(nil,
		events.PublisherFunc(func(_ context.Context, e events.Event) error {
			first = append(first, e)
			return failing
		}),
		events.PublisherFunc(func(_ context.Context, e events.Event) error {
			second = append(second, e)
			return nil
		}),
	)
	if !bus.Enabled() {
		t.Fatal("expected bus to be enabled")
	}

	err := bus.Publish(context.Background(), events.Event{Type: events.StageStarted, JobID: "job"})
	if !errors.Is(err, failing) {
		t.Fatalf("expected joined transport error, got %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both transports to receive the event, got %d and %d", len(first), len(second))
	}
	if second[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestNewWithoutTransportsIsDisabled(t *testing.T) {
	cfg := config.Default()
	bus, err := events.New(&cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if bus.Enabled() {
		t.Fatal("expected no transports")
	}
	if err := bus.Publish(context.Background(), events.Event{Type: events.JobQueued}); err != nil {
		t.Fatalf("publish on empty bus: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := config.Default()
	cfg.Events.RedisURL = "ftp://nope"
	if _, err := events.New(&cfg, nil); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestNewRedisDefaultsChannel(t *testing.T) {
	r, err := events.NewRedis("redis://127.0.0.1:6379/0", "")
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer r.Close()
	if r.Channel() != events.DefaultRedisChannel {
		t.Fatalf("expected default channel, got %q", r.Channel())
	}
}
