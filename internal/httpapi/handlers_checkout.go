package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
)

func (a *API) handleCartGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCartAdd serves both /carts/items (new session) and
// /carts/{cartID}/items.
func (a *API) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var req domain.CartAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cartID := chi.URLParam(r, "cartID")
	resp, err := a.service.AddToCart(r.Context(), cartID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if cartID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.CartQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdateCartQuantity(r.Context(), chi.URLParam(r, "cartID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	key := domain.LineKey{
		ProductID: r.URL.Query().Get("product_id"),
		Size:      domain.NormalizeSize(r.URL.Query().Get("size")),
	}
	if key.ProductID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id required"))
		return
	}
	resp, err := a.service.RemoveFromCart(r.Context(), chi.URLParam(r, "cartID"), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckoutQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.QuoteCheckout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCheckout answers 201 for a committed order and 202 while the gateway
// payment is outstanding.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SubmitCheckout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	switch {
	case resp.Intent != nil:
		writeJSON(w, http.StatusAccepted, resp)
	case resp.Duplicate:
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (a *API) handlePaymentConfirm(w http.ResponseWriter, r *http.Request) {
	if !a.paymentLimit.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many payment callbacks"))
		return
	}
	var req domain.PaymentConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handlePaymentCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CancelPayment(r.Context(), chi.URLParam(r, "intentID"))
	if err != nil && !errors.Is(err, service.ErrPaymentCancelled) {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderStatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.UpdateOrderStatus(r.Context(), chi.URLParam(r, "orderNumber"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}
