package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finalcut/internal/services"
)

const userAgent = "FinalCut-Go/0.1.0"

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

// Ntfy pushes operator-facing milestones to an ntfy topic URL. Per-stage
// chatter is suppressed.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy posts to endpoint with the given request timeout (10s when unset).
func NewNtfy(endpoint string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Publish implements Publisher.
func (n *Ntfy) Publish(ctx context.Context, event Event) error {
	msg, ok := format(event)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event) (message, bool) {
	job := shortID(event.JobID)
	switch event.Type {
	case JobQueued:
		return message{
			title: "FinalCut - Job Queued",
			body:  withDetail(fmt.Sprintf("Queued job %s", job), event.Message),
			tags:  []string{"finalcut", "job", "queued"},
		}, true
	case JobCompleted:
		return message{
			title:    "FinalCut - Complete",
			body:     withDetail(fmt.Sprintf("Job %s finished", job), event.Message),
			tags:     []string{"finalcut", "job", "completed"},
			priority: "high",
		}, true
	case JobFailed:
		body := fmt.Sprintf("Job %s failed", job)
		if event.Stage != "" {
			body = fmt.Sprintf("Job %s failed during %s", job, event.Stage)
		}
		if event.Category != "" {
			body += fmt.Sprintf(" (%s)", event.Category)
		}
		return message{
			title:    "FinalCut - Error",
			body:     withDetail(body, event.Message),
			tags:     []string{"finalcut", "error", "alert"},
			priority: failurePriority(event.Category),
		}, true
	case JobCancelled:
		return message{
			title: "FinalCut - Cancelled",
			body:  fmt.Sprintf("Job %s was cancelled", job),
			tags:  []string{"finalcut", "job", "cancelled"},
		}, true
	default:
		return message{}, false
	}
}

func failurePriority(category string) string {
	c, ok := services.ParseCategory(category)
	if !ok {
		return "high"
	}
	switch c.Severity() {
	case services.SeverityCritical:
		return "urgent"
	case services.SeverityHigh:
		return "high"
	default:
		return "default"
	}
}

func withDetail(body, detail string) string {
	if detail = strings.TrimSpace(detail); detail != "" {
		return body + "\n" + detail
	}
	return body
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (n *Ntfy) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
