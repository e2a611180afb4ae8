package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/thechillpixel0/tallyra/internal/calculator"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/logger"
	"github.com/thechillpixel0/tallyra/internal/service"
	"github.com/thechillpixel0/tallyra/internal/store"
)

// withWorkflow resolves the caller's calculator and hands it to fn, then
// writes the resulting snapshot. Errors are reported next to the snapshot so
// the client can always redraw the screen.
func (a *API) withWorkflow(w http.ResponseWriter, r *http.Request, fn func(*calculator.Workflow) (calculator.Snapshot, error)) {
	session, _ := service.SessionFromContext(r.Context())
	wf, err := a.workflows.get(r.Context(), session)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	snap, err := fn(wf)
	status := statusFor(err)
	payload := map[string]any{"calculator": snap}
	if err != nil && status != http.StatusOK {
		payload["error"] = publicMessage(status, err)
	}
	log := logger.FromContext(r.Context(), a.log)
	if errors.Is(err, service.ErrPartialCommit) {
		log.Error().Err(err).Msg("sale needs stock reconciliation")
	} else if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("calculator action failed")
	}
	writeJSON(w, status, payload)
}

func (a *API) handleCalculatorState(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.Snapshot(), nil
	})
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	var req domain.KeyPressRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.PressKeys(req.Keys...)
	})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.Confirm(r.Context())
	})
}

func (a *API) handleProceed(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.Proceed()
	})
}

func (a *API) handleSelectItem(w http.ResponseWriter, r *http.Request) {
	var req domain.SelectItemRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var item domain.Item
	switch {
	case strings.TrimSpace(req.ItemID) != "":
		found, err := a.service.GetItem(r.Context(), strings.TrimSpace(req.ItemID))
		if err != nil {
			writeError(w, r, statusFor(err), err)
			return
		}
		item = found
	case strings.TrimSpace(req.Name) != "" && req.BasePrice != nil:
		session, _ := service.SessionFromContext(r.Context())
		item = domain.Item{
			ShopID:    session.ShopID,
			Name:      strings.TrimSpace(req.Name),
			BasePrice: *req.BasePrice,
			Active:    true,
		}
	default:
		writeError(w, r, http.StatusBadRequest, errors.Join(store.ErrInvalidInput, errors.New("item_id or name and base_price required")))
		return
	}

	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.SelectItem(item)
	})
}

func (a *API) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.ClearSelection()
	})
}

func (a *API) handleDiscountReview(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountReviewRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.ReviewDiscount(*req.Approve)
	})
}

func (a *API) handlePaymentMode(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentModeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.SelectPaymentMode(r.Context(), req.Mode)
	})
}

func (a *API) handleCashReceived(w http.ResponseWriter, r *http.Request) {
	var req domain.CashReceivedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.SetCashReceived(req.CashReceived)
	})
}

func (a *API) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.ConfirmPayment(r.Context())
	})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	a.withWorkflow(w, r, func(wf *calculator.Workflow) (calculator.Snapshot, error) {
		return wf.Clear()
	})
}
