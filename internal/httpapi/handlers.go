package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/service"
)

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	session, _ := service.SessionFromContext(r.Context())

	var (
		items []domain.Item
		err   error
	)
	if session.IsOwner() {
		items, err = a.service.ListItems(r.Context())
	} else {
		items, err = a.service.ListActiveItems(r.Context(), session.ShopID)
	}
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStockItems(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.UpdateItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	movement, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movement": movement})
}

func (a *API) handleItemMovements(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	movements, err := a.service.ListInventoryMovements(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleInference(w http.ResponseWriter, r *http.Request) {
	var req domain.InferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	preview, err := a.service.PreviewAmount(r.Context(), req.Amount)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	txs, err := a.service.ListTransactions(r.Context(), limit)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	members, err := a.service.ListStaff(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": members})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	member, err := a.service.CreateStaff(r.Context(), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"staff": member})
}

// handleUpdateStaff toggles a staff account. Deactivation ends the member's
// open sessions and discards their calculators.
func (a *API) handleUpdateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	member, err := a.service.SetStaffActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if !member.Active {
		a.workflows.drop(a.auth.RevokeStaff(member.ID)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": member})
}
