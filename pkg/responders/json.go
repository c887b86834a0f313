// Package responders provides helpers for writing JSON HTTP responses.
package responders

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
)

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// OK writes v as a JSON response with status 200.
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusOK, v)
}

// Error writes a standardized error envelope for the given code.
func Error(w http.ResponseWriter, code apierrors.ErrorCode, message string) {
	apierrors.WriteSimpleError(w, code, message)
}

// ErrorWithDetails writes a standardized error envelope with extra context.
func ErrorWithDetails(w http.ResponseWriter, code apierrors.ErrorCode, message string, details map[string]interface{}) {
	apierrors.WriteError(w, code, message, details)
}
