package main

import (
	"context"

	"finalcut/internal/api"
)

// jobAPI is served by api.JobService directly and by the HTTP client through
// httpJobs.
type jobAPI interface {
	Create(ctx context.Context, req api.CreateJobRequest) (api.Job, error)
	List(ctx context.Context, statuses []string, limit int) ([]api.Job, error)
	Describe(ctx context.Context, id string) (api.JobResponse, error)
	Cancel(ctx context.Context, id string) (api.Job, error)
	Retry(ctx context.Context, id string) (api.Job, error)
	Render(ctx context.Context, id string, req api.RenderRequest) (api.Job, error)
	Logs(ctx context.Context, id string, limit int) (api.LogsResponse, error)
	Timeline(ctx context.Context, id string) (api.TimelineResponse, error)
}

type httpJobs struct {
	client *api.Client
}

func (h httpJobs) Create(ctx context.Context, req api.CreateJobRequest) (api.Job, error) {
	return h.client.CreateJob(ctx, req)
}

func (h httpJobs) List(ctx context.Context, statuses []string, limit int) ([]api.Job, error) {
	return h.client.ListJobs(ctx, statuses, limit)
}

func (h httpJobs) Describe(ctx context.Context, id string) (api.JobResponse, error) {
	return h.client.DescribeJob(ctx, id)
}

func (h httpJobs) Cancel(ctx context.Context, id string) (api.Job, error) {
	return h.client.CancelJob(ctx, id)
}

func (h httpJobs) Retry(ctx context.Context, id string) (api.Job, error) {
	return h.client.RetryJob(ctx, id)
}

func (h httpJobs) Render(ctx context.Context, id string, req api.RenderRequest) (api.Job, error) {
	return h.client.RenderJob(ctx, id, req)
}

func (h httpJobs) Logs(ctx context.Context, id string, limit int) (api.LogsResponse, error) {
	return h.client.JobLogs(ctx, id, limit)
}

func (h httpJobs) Timeline(ctx context.Context, id string) (api.TimelineResponse, error) {
	return h.client.JobTimeline(ctx, id)
}
