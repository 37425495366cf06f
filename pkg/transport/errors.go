package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/engine"
	"github.com/maia-bench/maia/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorTypeModelError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorFrom classifies err for a client. APIErrors pass through.
func APIErrorFrom(err error) *api.APIError {
	var apiErr *api.APIError
	var dispatchErr *capability.DispatchError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewTimeoutError("run did not finish in time")
	case errors.Is(err, context.Canceled):
		e := api.NewServerError("run was cancelled")
		e.Code = "cancelled"
		return e
	case errors.As(err, &dispatchErr):
		e := api.NewModelError(dispatchErr.Error())
		e.Code = "unknown_capability"
		return e
	case errors.Is(err, engine.ErrTurnLimit):
		e := api.NewModelError(err.Error())
		e.Code = "turn_limit"
		return e
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError(err.Error())
	default:
		return api.NewServerError(err.Error())
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError classifies err with APIErrorFrom and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, APIErrorFrom(err))
}
