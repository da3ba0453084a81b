package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/internal/pipeline"
)

func TestEventTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path",
			payload: `{"title":"New item","body":"Hello","type":"news","event":"created"}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal broadcast event",
		},
		{
			name:                  "Failure - Missing Title",
			payload:               `{"body":"Hello"}`,
			expectError:           true,
			expectedErrorContains: "event title is required",
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: string(rune('a' + i)), Payload: []byte(tc.payload)},
			}
			event, skip, err := pipeline.EventTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.Equal(t, "New item", event.Title)
				assert.Equal(t, "created", event.Event)
			}
		})
	}
}
