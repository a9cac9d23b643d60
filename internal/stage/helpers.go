package stage

import (
	"finalcut/internal/queue"
	"finalcut/internal/services"
)

// DecodePayload decodes the item's payload as T. On failure it returns a
// services.ErrValidation suitable for stage Execute methods.
func DecodePayload[T queue.Payload](item *queue.QueueItem) (T, error) {
	payload, err := queue.DecodePayload[T](item)
	if err != nil {
		return payload, services.Wrap(
			services.ErrValidation, string(payload.Stage()), "decode payload",
			"Queue item payload missing or invalid", err)
	}
	return payload, nil
}
