package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finalcut/internal/queue"
)

// StatusError is a non-2xx API response. It unwraps to the sentinel that
// produced it on the server.
type StatusError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *StatusError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for field, rule := range e.Fields {
			parts = append(parts, field+": "+rule)
		}
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
	}
	return e.Message
}

// Unwrap maps the status back to repository sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return queue.ErrNotFound
	case http.StatusConflict:
		return queue.ErrInvalidTransition
	case http.StatusBadRequest:
		return ErrInvalidRequest
	default:
		return nil
	}
}

// Client talks to a running daemon's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for bind ("127.0.0.1:7488" or a full URL).
func NewClient(bind string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// Health reports whether the daemon answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// CreateJob submits a new job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp)
	return resp.Job, err
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses []string, limit int) ([]Job, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", s)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp JobListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Jobs, err
}

// DescribeJob fetches a job and its queue items.
func (c *Client) DescribeJob(ctx context.Context, id string) (JobResponse, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, id string) (Job, error) {
	return c.jobAction(ctx, id, "cancel", nil)
}

// RetryJob requeues a failed or cancelled job.
func (c *Client) RetryJob(ctx context.Context, id string) (Job, error) {
	return c.jobAction(ctx, id, "retry", nil)
}

// RenderJob queues a render of a completed job.
func (c *Client) RenderJob(ctx context.Context, id string, req RenderRequest) (Job, error) {
	return c.jobAction(ctx, id, "render", req)
}

// JobLogs fetches log lines for a job.
func (c *Client) JobLogs(ctx context.Context, id string, limit int) (LogsResponse, error) {
	path := "/api/jobs/" + url.PathEscape(id) + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp LogsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// JobTimeline fetches the assembled timeline.
func (c *Client) JobTimeline(ctx context.Context, id string) (TimelineResponse, error) {
	var resp TimelineResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/timeline", nil, &resp)
	return resp, err
}

// Status fetches workflow status.
func (c *Client) Status(ctx context.Context) (WorkflowStatus, error) {
	var resp WorkflowStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

func (c *Client) jobAction(ctx context.Context, id, action string, body any) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+action, body, &resp)
	return resp.Job, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error, Fields: apiErr.Fields}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
