package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// NewProcessor creates the handler that turns each trigger event into one broadcast run.
// Run failures are logged and swallowed: a redelivered trigger would reset and
// re-send the whole audience.
func NewProcessor(
	runner broadcast.Runner,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[broadcast.Event] {

	return func(ctx context.Context, original messagepipeline.Message, event *broadcast.Event) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"event", event.Event,
			"type", event.Type,
		)

		report, err := runner.Run(ctx, *event)
		if err != nil {
			procLogger.Error("Broadcast run failed", "err", err)
			return nil
		}

		procLogger.Info("Broadcast run finished",
			"run_id", report.RunID,
			"selected", report.Selected,
			"sent", report.Sent,
			"invalid", report.Invalid,
			"dropped", report.Dropped,
		)
		return nil
	}
}
