package stage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"finalcut/internal/queue"
	"finalcut/internal/services"
)

func TestDecodePayload_Valid(t *testing.T) {
	item := &queue.QueueItem{ID: "q1", Stage: queue.StageAssembleTimeline, Payload: []byte(`{"duration":90}`)}
	payload, err := DecodePayload[queue.AssemblyPayload](item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Duration != 90 {
		t.Fatalf("unexpected duration: %v", payload.Duration)
	}
}

func TestDecodePayload_WrongStage(t *testing.T) {
	item := &queue.QueueItem{ID: "q1", Stage: queue.StageUpload, Payload: []byte(`{}`)}
	_, err := DecodePayload[queue.RenderPayload](item)
	if !errors.Is(err, services.ErrValidation) || !errors.Is(err, queue.ErrPayloadMismatch) {
		t.Fatalf("expected validation-wrapped mismatch, got %v", err)
	}
	if services.Classify(err) != services.CategoryValidation {
		t.Fatalf("expected validation category, got %s", services.Classify(err))
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	item := &queue.QueueItem{ID: "q1", Stage: queue.StageUpload, Payload: []byte("{invalid json")}
	if _, err := DecodePayload[queue.UploadPayload](item); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestAsDefer(t *testing.T) {
	err := fmt.Errorf("render busy: %w", Defer(time.Minute, "backend at capacity"))
	deferred, ok := AsDefer(err)
	if !ok || deferred.Delay != time.Minute {
		t.Fatalf("expected deferral, got %v %v", deferred, ok)
	}
	if _, ok := AsDefer(errors.New("boom")); ok {
		t.Fatal("plain errors are not deferrals")
	}
}
