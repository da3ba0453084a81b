// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// EventTransformer is a dataflow Transformer that unmarshals and validates a raw
// message payload into a broadcast.Event.
func EventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*broadcast.Event, bool, error) {
	var event broadcast.Event

	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal broadcast event from message %s: %w", msg.ID, err)
	}
	if err := event.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid broadcast event in message %s: %w", msg.ID, err)
	}

	return &event, false, nil
}
