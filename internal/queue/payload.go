package queue

import (
	"encoding/json"
	"fmt"
)

// Payload is the stage-specific body of a queue item. The item's stage column
// is the union tag; Stage() must return it.
type Payload interface {
	Stage() Stage
}

// UploadPayload starts a job: validate and probe the source file.
type UploadPayload struct {
	SourcePath   string `json:"source_path"`
	OriginalName string `json:"original_name,omitempty"`
}

// SplitPayload asks split_chunks to cut the probed source into chunks.
type SplitPayload struct {
	SourcePath string  `json:"source_path"`
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
}

// StoragePayload asks store_chunks to upload the job's chunks.
type StoragePayload struct {
	ChunkCount int `json:"chunk_count"`
}

// QueueAnalysisPayload asks queue_analysis to verify stored chunks and fan
// them out for analysis.
type QueueAnalysisPayload struct {
	ChunkCount int `json:"chunk_count"`
}

// AnalysisPayload lists the chunks gemini_processing must analyse.
type AnalysisPayload struct {
	ChunkIndexes []int  `json:"chunk_indexes"`
	Model        string `json:"model,omitempty"`
}

// AssemblyPayload asks assemble_timeline to build the edit.
type AssemblyPayload struct {
	Duration float64 `json:"duration"`
}

// RenderPayload requests a render of the assembled timeline.
type RenderPayload struct {
	FPS        float64 `json:"fps,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Quality    string  `json:"quality,omitempty"`
}

func (UploadPayload) Stage() Stage        { return StageUpload }
func (SplitPayload) Stage() Stage         { return StageSplitChunks }
func (StoragePayload) Stage() Stage       { return StageStoreChunks }
func (QueueAnalysisPayload) Stage() Stage { return StageQueueAnalysis }
func (AnalysisPayload) Stage() Stage      { return StageGeminiProcessing }
func (AssemblyPayload) Stage() Stage      { return StageAssembleTimeline }
func (RenderPayload) Stage() Stage        { return StageRenderVideo }

// DecodePayload decodes the item's payload as T after checking the stage tag.
func DecodePayload[T Payload](item *QueueItem) (T, error) {
	var payload T
	if item == nil {
		return payload, fmt.Errorf("%w: nil queue item", ErrPayloadMismatch)
	}
	if item.Stage != payload.Stage() {
		return payload, fmt.Errorf("%w: item %s is %s, want %s", ErrPayloadMismatch, item.ID, item.Stage, payload.Stage())
	}
	if len(item.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", item.Stage, err)
	}
	return payload, nil
}

func encodePayload(payload Payload) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	if _, ok := ParseStage(string(payload.Stage())); !ok {
		return "", fmt.Errorf("%w: unknown stage %q", ErrPayloadMismatch, payload.Stage())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", payload.Stage(), err)
	}
	return string(data), nil
}
