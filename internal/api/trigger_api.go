package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// TriggerAPI starts broadcast runs from authenticated HTTP calls.
type TriggerAPI struct {
	Runner broadcast.Runner
	Logger *slog.Logger

	runs sync.WaitGroup
}

func NewTriggerAPI(runner broadcast.Runner, logger *slog.Logger) *TriggerAPI {
	return &TriggerAPI{
		Runner: runner,
		Logger: logger,
	}
}

// CreateNotification accepts a broadcast event and runs it in the background.
// The caller gets 202 as soon as the event is accepted; run failures only reach the logs.
func (api *TriggerAPI) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	caller, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("CreateNotification: caller is not a valid URN", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var event broadcast.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := event.Validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := api.Logger.With("caller", caller.String(), "event", event.Event, "type", event.Type)
	logger.Info("CreateNotification: broadcast accepted")

	// The run must outlive the request.
	runCtx := context.WithoutCancel(ctx)
	api.runs.Add(1)
	go func() {
		defer api.runs.Done()
		report, err := api.Runner.Run(runCtx, event)
		if err != nil {
			logger.Error("CreateNotification: broadcast run failed", "err", err)
			return
		}
		logger.Info("CreateNotification: broadcast run finished", "run_id", report.RunID, "sent", report.Sent, "invalid", report.Invalid, "dropped", report.Dropped)
	}()

	w.WriteHeader(http.StatusAccepted)
}

// Wait blocks until every accepted run has finished.
func (api *TriggerAPI) Wait() {
	api.runs.Wait()
}
