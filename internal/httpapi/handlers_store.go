package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/backend/internal/domain"
)

func (a *API) handleSaleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := a.service.QuoteSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": totals})
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SubmitSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := a.service.GetBill(r.Context(), chi.URLParam(r, "billNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleBillReceipt(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.BillReceipt(r.Context(), chi.URLParam(r, "billNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListPurchaseOrders(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetPurchaseOrder(r.Context(), chi.URLParam(r, "purchaseOrderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePurchaseOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.TransitionPurchaseOrder(r.Context(), chi.URLParam(r, "purchaseOrderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReceivePurchaseOrder accepts an empty body; the receiver then defaults
// to the caller.
func (a *API) handleReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderReceiveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	resp, err := a.service.ReceivePurchaseOrder(r.Context(), chi.URLParam(r, "purchaseOrderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
