package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/broady/taskdeck"
)

// ErrorTransformer maps an application error to an API error. Returning nil
// falls through to DefaultErrorTransformer.
type ErrorTransformer func(error) *taskdeck.Error

// DefaultErrorTransformer maps errors with taskdeck.AsError: *taskdeck.Error
// passes through, context and validation errors get their own codes and
// anything else is internal.
func DefaultErrorTransformer(err error) *taskdeck.Error {
	return taskdeck.AsError(err)
}

func transformError(err error, cfg handlerConfig) *taskdeck.Error {
	var apiErr *taskdeck.Error
	if cfg.errorTransformer != nil {
		apiErr = cfg.errorTransformer(err)
	}
	if apiErr == nil {
		apiErr = DefaultErrorTransformer(err)
	}
	if cfg.maskInternalErrors && apiErr.Code == taskdeck.CodeInternal {
		apiErr = &taskdeck.Error{Code: taskdeck.CodeInternal, Message: "internal server error"}
	}
	return apiErr
}

// writeError writes err as {"code":..,"message":..} with the status for its
// code.
func writeError(w http.ResponseWriter, err *taskdeck.Error, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("failed to encode error response",
			slog.String("code", string(err.Code)),
			slog.Any("error", encErr))
	}
}
