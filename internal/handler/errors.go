package handler

import (
	"errors"
	"net/http"

	"voltiq/internal/domain"
	"voltiq/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error(), "")
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
