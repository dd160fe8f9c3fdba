package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticket-pool/internal/repository"
)

// Error codes returned in the "code" field of error responses.
const (
    codeInvalidInput     = "invalid_input"
    codeNotFound         = "not_found"
    codeAlreadyReserved  = "already_reserved"
    codeMissingField     = "missing_field"
    codeFraudRejected    = "fraud_rejected"
    codeConflict         = "conflict"
    codeStoreUnavailable = "store_unavailable"
    codeInternalError    = "internal_error"
)

type errorResponse struct {
    Error string `json:"error"`
    Code  string `json:"code"`
}

// statusFor maps a core error to its HTTP status, code and client message.
func statusFor(err error) (int, string, string) {
    switch {
    case errors.Is(err, repository.ErrInvalidInput):
        return http.StatusBadRequest, codeInvalidInput, "invalid input"
    case errors.Is(err, repository.ErrNothingToClear):
        return http.StatusNotFound, codeNotFound, "nothing to clear"
    case errors.Is(err, repository.ErrNotFound):
        return http.StatusNotFound, codeNotFound, "not found"
    case errors.Is(err, repository.ErrAlreadyReserved):
        return http.StatusConflict, codeAlreadyReserved, "ticket already reserved"
    case errors.Is(err, repository.ErrMissingField):
        return http.StatusUnprocessableEntity, codeMissingField, "reservation requires res_email, res_name and res_card"
    case errors.Is(err, repository.ErrFraudRejected):
        return http.StatusForbidden, codeFraudRejected, "fraudulent reservation detected"
    case errors.Is(err, repository.ErrConflict):
        return http.StatusConflict, codeConflict, "ticket was modified concurrently, retry"
    case errors.Is(err, repository.ErrStoreUnavailable):
        return http.StatusServiceUnavailable, codeStoreUnavailable, "store unavailable"
    }
    return http.StatusInternalServerError, codeInternalError, "internal error"
}

// writeError renders err as a JSON error response.  Server-side failures
// are logged with the underlying cause; the client only gets the message.
func writeError(c echo.Context, logger *log.Entry, err error) error {
    status, code, msg := statusFor(err)
    if status >= http.StatusInternalServerError {
        logger.WithError(err).WithField("route", c.Path()).Error("operation failed")
    }
    return c.JSON(status, errorResponse{Error: msg, Code: code})
}
