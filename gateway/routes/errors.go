package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"anchorledger/gateway/middleware"
	"anchorledger/native/bank"
	"anchorledger/native/pledge"
	"anchorledger/observability/metrics"
)

// statusTooEarly is returned for claims made before the grace period ends.
const statusTooEarly = 425

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pledge.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, pledge.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pledge.ErrAnchorNotFound), errors.Is(err, pledge.ErrInvalidIndex):
		return http.StatusNotFound
	case errors.Is(err, pledge.ErrAlreadySealed):
		return http.StatusLocked
	case errors.Is(err, pledge.ErrAnchorExists),
		errors.Is(err, pledge.ErrAlreadyClaimed),
		errors.Is(err, pledge.ErrReentrancy),
		errors.Is(err, pledge.ErrGenesisBlock):
		return http.StatusConflict
	case errors.Is(err, pledge.ErrHorizonNotReached):
		return statusTooEarly
	case errors.Is(err, pledge.ErrZeroAmount),
		errors.Is(err, pledge.ErrZeroAddress),
		errors.Is(err, pledge.ErrLabelTooLong),
		errors.Is(err, pledge.ErrCapacityExceeded),
		errors.Is(err, pledge.ErrPledgeBelowFloor),
		errors.Is(err, pledge.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientFunds),
		errors.Is(err, bank.ErrAmountOverflow),
		errors.Is(err, bank.ErrNegativeAmount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusConflict && errors.Is(err, pledge.ErrReentrancy) {
		metrics.Ledger().ObserveGuardRejection(op)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("ledger operation failed",
			slog.String("method", op),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, RequestID: middleware.RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
