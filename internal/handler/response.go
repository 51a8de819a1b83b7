package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/logging"
)

// retryAfterSeconds is sent with ACCOUNT_BUSY responses.
const retryAfterSeconds = 1

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	if appErr == ErrAccountBusy {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps ledger errors to HTTP. Storage failures and
// anything unrecognised become a generic 500; their cause is never sent.
// A cancelled or timed-out request is a 503 logged at warn.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())
	appErr := appErrorFor(err)
	switch appErr {
	case ErrRequestCancelled:
		log.Warn("request ended before completion", "error", err)
	case ErrInternalError:
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			log.Error("storage failure", "op", storageErr.Op, "error", storageErr.Err)
		} else {
			log.Error("unhandled domain error", "error", err)
		}
	}
	RespondAppError(w, appErr, nil)
}

func appErrorFor(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var storageErr *domain.StorageError
	switch {
	case errors.As(err, &storageErr):
		return ErrInternalError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrRequestCancelled
	case errors.Is(err, domain.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, domain.ErrInvalidDirection):
		return ErrInvalidDirection
	case errors.Is(err, domain.ErrInvalidRequest):
		return ErrInvalidRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, domain.ErrNotFound):
		return ErrResourceNotFound
	case errors.Is(err, domain.ErrForbidden):
		return ErrForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, domain.ErrLockTimeout):
		return ErrAccountBusy
	case errors.Is(err, domain.ErrVersionConflict):
		return ErrVersionConflict
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		return ErrIdempotencyConflict
	default:
		return ErrInternalError
	}
}
