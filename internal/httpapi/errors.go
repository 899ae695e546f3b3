package httpapi

import (
	"errors"
	"log"
	"net/http"

	"storefront/backend/internal/cart"
	"storefront/backend/internal/pricing"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
)

// statusFor maps service and storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrPaymentFailed), errors.Is(err, service.ErrPaymentCancelled):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrPersistFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrUnknownSize),
		errors.Is(err, cart.ErrUnknownSize),
		errors.Is(err, cart.ErrSizeRequired),
		errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, pricing.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrValidationFailed):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyReceived),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with the status from statusFor. Transaction
// failures also report the state reached and the offending item.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	var txErr *service.TransactionError
	if !errors.As(err, &txErr) {
		writeError(w, status, err)
		return
	}

	body := map[string]any{
		"error": txErr.Error(),
		"state": txErr.State,
	}
	if txErr.ProductID != "" {
		body["product_id"] = txErr.ProductID
	}
	if txErr.Size != "" {
		body["size"] = txErr.Size
	}
	if status >= 500 {
		log.Printf("[http] ERROR: status=%d state=%s: %v (cause: %v)", status, txErr.State, txErr, txErr.Cause)
		body["error"] = "the transaction could not be saved, please retry"
	}
	writeJSON(w, status, body)
}
