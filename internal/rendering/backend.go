package rendering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/rendertimeline"
	"finalcut/internal/services"
)

// Render states reported by the backend.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// ErrNotConfigured is returned when no backend URL is set.
var ErrNotConfigured = errors.New("render backend not configured")

// Request is a render submission.
type Request struct {
	SourceVideoURL string                `json:"source_video_url"`
	Clips          []rendertimeline.Clip `json:"clips"`
	FPS            float64               `json:"fps"`
	Resolution     string                `json:"resolution,omitempty"`
	Quality        string                `json:"quality,omitempty"`
	// Reference lets the backend correlate renders with jobs.
	Reference string `json:"reference,omitempty"`
}

// Status is the backend's view of a render.
type Status struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	OutputURL string  `json:"output_url,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Terminal reports whether the render has finished either way.
func (s Status) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// Backend submits and tracks renders.
type Backend interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, renderID string) (Status, error)
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("render backend: http %d: %s", e.StatusCode, e.Body)
}

// ErrorCategory implements services.Categorizer.
func (e *StatusError) ErrorCategory() services.Category {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= http.StatusInternalServerError:
		return services.CategoryNetwork
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return services.CategorySystem
	default:
		return services.CategoryRender
	}
}

// HTTPBackend talks JSON to a render service:
//
//	POST {base}/renders       -> {"id": "..."}
//	GET  {base}/renders/{id}  -> Status
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend builds a client from the render config section.
func NewHTTPBackend(cfg config.Render) *HTTPBackend {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a base URL is set.
func (b *HTTPBackend) Configured() bool { return b != nil && b.baseURL != "" }

// Submit implements Backend.
func (b *HTTPBackend) Submit(ctx context.Context, req Request) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := b.do(ctx, http.MethodPost, "/renders", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", services.Wrap(services.ErrRender, "", "submit", "backend returned no render id", nil)
	}
	return resp.ID, nil
}

// Status implements Backend.
func (b *HTTPBackend) Status(ctx context.Context, renderID string) (Status, error) {
	var status Status
	err := b.do(ctx, http.MethodGet, "/renders/"+url.PathEscape(renderID), nil, &status)
	if status.ID == "" {
		status.ID = renderID
	}
	return status, err
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	if !b.Configured() {
		return ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode render request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "", method+" "+path, "", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrNetwork, "", "read render response", "", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return services.Wrap(services.ErrRender, "", "decode render response", "", err)
	}
	return nil
}
