package analysis

import (
	"context"
	"errors"
	"fmt"

	"finalcut/internal/services"
	"finalcut/internal/services/llm"
)

const systemPrompt = `You are a video editor reviewing one chunk of a longer recording.
Identify stretches that should be cut from the final video: dead air, long pauses,
false starts, repeated takes, filler, technical problems, and off-topic tangents.

Respond with JSON only, using this shape:
{"summary": "<one sentence describing the chunk>",
 "segments_to_remove": [
   {"start_time": "MM:SS.s", "end_time": "MM:SS.s", "reason": "<why>",
    "category": "silence|filler|mistake|repetition|technical|off_topic",
    "severity": "low|medium|high", "confidence": 0.0}
 ]}

Times are relative to the start of this chunk. Return an empty list when
nothing should be cut.`

// LLMAnalyzer asks a chat-completions model to analyse a chunk by URL.
type LLMAnalyzer struct {
	client *llm.Client
}

// NewLLMAnalyzer wraps client.
func NewLLMAnalyzer(client *llm.Client) *LLMAnalyzer {
	return &LLMAnalyzer{client: client}
}

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req Request) (Response, error) {
	if req.VideoURL == "" {
		return Response{}, services.Wrap(services.ErrValidation, "", "analyze", "chunk has no fetchable URL", nil)
	}
	model := req.Model
	if model == "" {
		model = a.client.Model()
	}
	content, err := a.client.Complete(ctx, llm.Request{
		System:   systemPrompt,
		User:     fmt.Sprintf("Chunk %d: %.1f seconds long.", req.ChunkIndex, req.ChunkDuration),
		VideoURL: req.VideoURL,
		Model:    model,
	})
	if err != nil {
		var statusErr *llm.StatusError
		if errors.Is(err, llm.ErrNotConfigured) || errors.As(err, &statusErr) {
			return Response{}, err
		}
		return Response{}, services.Wrap(services.ErrNetwork, "", "analyze", fmt.Sprintf("chunk %d", req.ChunkIndex), err)
	}
	var resp Response
	if err := llm.DecodeJSON(content, &resp); err != nil {
		return Response{}, services.Wrap(services.ErrConversion, "", "decode analysis", fmt.Sprintf("chunk %d", req.ChunkIndex), err)
	}
	resp.Model = model
	return resp, nil
}

// Configured reports whether the underlying client has credentials.
func (a *LLMAnalyzer) Configured() bool {
	return a != nil && a.client.Configured()
}
