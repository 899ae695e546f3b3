package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storefront/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := a.service.GetStock(r.Context(), chi.URLParam(r, "productID"), r.URL.Query().Get("size"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stock, err := a.service.RestockProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	includeResolved := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_resolved")), "true")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	items, err := a.service.ListStockDiscrepancies(r.Context(), includeResolved, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discrepancies": items})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
