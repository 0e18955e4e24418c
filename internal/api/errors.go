package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// engineError maps engine failures onto HTTP status codes.
func engineError(w http.ResponseWriter, err error) {
	var pe *pipeline.PipelineError
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		httpError(w, http.StatusBadRequest, "validation_error", "%v", err)
	case errors.Is(err, pipeline.ErrConfiguration):
		httpError(w, http.StatusBadRequest, "configuration_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.As(err, &pe):
		slog.Error("pipeline failed", "stage", pe.Stage, "error", pe.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{
				"type":    "pipeline_error",
				"stage":   pe.Stage,
				"message": pe.Err.Error(),
			},
		})
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
