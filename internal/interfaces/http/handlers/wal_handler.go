package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/turtacn/WAL-Service/internal/application/ingestion"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/middleware"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// WALHandler serves the write route.
type WALHandler struct {
	service *ingestion.Service
}

// NewWALHandler constructs a WALHandler over the ingestion service.
func NewWALHandler(service *ingestion.Service) *WALHandler {
	return &WALHandler{service: service}
}

// Write handles POST /wal/write: decode, frame-level validation, pipeline,
// 202 on success.
func (h *WALHandler) Write(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.ContextRequestID(r.Context())

	var intent wal.WriteIntent
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&intent); err != nil {
		if err == io.EOF {
			writeAppError(w, requestID, errors.Validation("request body is required"))
			return
		}
		writeAppError(w, requestID, errors.Validation("malformed request body").WithDetail(err.Error()))
		return
	}

	if err := validateIntentFrame(&intent); err != nil {
		writeAppError(w, requestID, err)
		return
	}

	resp, err := h.service.WriteToLog(r.Context(), &intent, ingestion.RequestContext{
		APIKey:    middleware.ContextAPIKey(r.Context()),
		RequestID: requestID,
		TraceID:   middleware.ContextTraceID(r.Context()),
	})
	if err != nil {
		writeAppError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// validateIntentFrame applies the request-framing checks that precede the
// pipeline: presence and shape of the top-level fields. Policy-dependent
// checks (size, delay bound, schema) belong to the pipeline.
func validateIntentFrame(intent *wal.WriteIntent) error {
	name := strings.TrimSpace(intent.Namespace)
	if name == "" {
		return errors.Validation("namespace is required")
	}
	if len(name) > 100 {
		return errors.Validation("namespace must be at most 100 characters")
	}
	if intent.Payload == nil {
		return errors.Validation("payload must be a JSON object")
	}
	if len(intent.Target) == 0 {
		return errors.Validation("at least one target is required")
	}
	for i, target := range intent.Target {
		if target.Type == "" {
			return errors.Validation("target.type is required").WithDetail(fmt.Sprintf("target[%d]", i))
		}
	}
	if intent.Priority != 0 && (intent.Priority < 1 || intent.Priority > 10) {
		return errors.Validation("priority must be between 1 and 10")
	}
	if intent.Lifecycle != nil && intent.Lifecycle.DelaySeconds < 0 {
		return errors.Validation("lifecycle.delay must not be negative")
	}
	return nil
}
