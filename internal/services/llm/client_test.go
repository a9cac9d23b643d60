package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"finalcut/internal/services"
)

func respond(t *testing.T, w http.ResponseWriter, choice map[string]any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{"choices": []any{choice}}); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		respond(t, w, map[string]any{"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	_, err := client.Complete(context.Background(), Request{System: "s", User: "u"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
	if services.Classify(err) != services.CategorySystem {
		t.Fatalf("expected system category, got %s", services.Classify(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestClientSendsVideoPart(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		respond(t, w, map[string]any{"message": map[string]any{"content": `{"segments_to_remove":[]}`}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "default-model"})
	content, err := client.Complete(context.Background(), Request{
		System:   "cut filler",
		User:     "analyse this chunk",
		VideoURL: "https://cdn.example/chunk_0000.mp4",
		Model:    "google/gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(content, "segments_to_remove") {
		t.Fatalf("unexpected content %q", content)
	}
	if body.Model != "google/gemini-2.5-pro" || len(body.Messages) != 2 {
		t.Fatalf("unexpected request %+v", body)
	}
	var parts []contentPart
	if err := json.Unmarshal(body.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content should be parts: %v", err)
	}
	if len(parts) != 2 || parts[1].Type != "video_url" || parts[1].VideoURL.URL != "https://cdn.example/chunk_0000.mp4" {
		t.Fatalf("unexpected parts %+v", parts)
	}
}

func TestClientContentFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		choice map[string]any
	}{
		{"delta", map[string]any{"delta": map[string]any{"content": `{"ok":true}`}}},
		{"legacy text", map[string]any{"text": `{"ok":true}`}},
		{"tool call", map[string]any{"message": map[string]any{
			"content":    "",
			"tool_calls": []any{map[string]any{"function": map[string]any{"arguments": `{"ok":true}`}}},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respond(t, w, tc.choice)
			}))
			defer server.Close()
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			if err := client.HealthCheck(context.Background()); err != nil {
				t.Fatalf("HealthCheck: %v", err)
			}
		})
	}
}

func TestClientEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": ""}})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.Complete(context.Background(), Request{System: "s", User: "u"})
	if err == nil || !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error with snippet, got %v", err)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respond(t, w, map[string]any{"message": map[string]any{"content": `{"ok":true}`}})
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
	)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientServerErrorClassifiesAsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL},
		WithRetryMaxAttempts(2),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.Complete(context.Background(), Request{System: "s", User: "u"})
	if services.Classify(err) != services.CategoryNetwork {
		t.Fatalf("expected network category, got %s (%v)", services.Classify(err), err)
	}
}

func TestClientRequiresKey(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.Complete(context.Background(), Request{System: "s", User: "u"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Value int `json:"value"`
	}
	inputs := []string{
		`{"value":3}`,
		"```json\n{\"value\":3}\n```",
		"Here you go: {\"value\":3} hope that helps",
	}
	for _, in := range inputs {
		out.Value = 0
		if err := DecodeJSON(in, &out); err != nil || out.Value != 3 {
			t.Fatalf("DecodeJSON(%q) = %v, %d", in, err, out.Value)
		}
	}
	if err := DecodeJSON("no json here", &out); err == nil {
		t.Fatal("expected error")
	}
}
