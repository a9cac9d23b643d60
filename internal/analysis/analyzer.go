package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Request describes one chunk to analyse.
type Request struct {
	VideoURL      string
	ChunkIndex    int
	ChunkStart    float64
	ChunkDuration float64
	Model         string
}

// Timestamp is a model-supplied time. JSON numbers and strings are both
// accepted; strings are parsed later with the configured format.
type Timestamp string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	if string(data) == "null" {
		*t = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	*t = Timestamp(data)
	return nil
}

// RawSegment is one segment as returned by the analyzer, relative to the
// chunk start.
type RawSegment struct {
	StartTime  Timestamp `json:"start_time"`
	EndTime    Timestamp `json:"end_time"`
	Reason     string    `json:"reason"`
	Category   string    `json:"category,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Response is the analyzer's verdict for one chunk.
type Response struct {
	Segments []RawSegment `json:"segments_to_remove"`
	Summary  string       `json:"summary,omitempty"`
	Model    string       `json:"-"`
}

// Analyzer finds removable segments in a chunk.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req Request) (Response, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
