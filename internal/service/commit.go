package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/xid"
)

const maxStockAttempts = 5

var (
	// ErrCommitFailed means nothing was persisted; the sale can be retried.
	ErrCommitFailed = errors.New("transaction failed, please try again")

	// ErrPartialCommit means the transaction row exists but its stock update
	// did not complete and needs reconciliation.
	ErrPartialCommit = errors.New("transaction saved but stock was not updated")
)

// PartialCommitError carries what a reconciler needs to fix stock by hand.
type PartialCommitError struct {
	TransactionID string
	ItemID        string
	Quantity      int
	Err           error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%s: transaction=%s item=%s qty=%d: %v", ErrPartialCommit, e.TransactionID, e.ItemID, e.Quantity, e.Err)
}

func (e *PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// CommitSale persists the draft as a transaction, then decrements the
// matched item's stock. A failed insert returns ErrCommitFailed with no
// stock change. A failed stock update after a successful insert returns the
// saved transaction together with a *PartialCommitError.
//
// Drafts carrying an IdempotencyKey are committed at most once per shop: a
// retry of a sale whose row already exists returns that row and only applies
// the stock decrement if no SALE movement was recorded for it.
func (s *Service) CommitSale(ctx context.Context, draft domain.TransactionDraft) (domain.Transaction, error) {
	if err := checkDraft(draft); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	if existing, err := s.findCommitted(ctx, draft); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	} else if existing != nil {
		return s.resumeSale(ctx, draft, *existing)
	}

	tx := transactionFromDraft(draft)
	tx.ID = xid.New("txn")
	tx.CreatedAt = s.now()

	saved, err := s.repo.InsertTransaction(ctx, tx)
	if errors.Is(err, store.ErrDuplicate) && draft.IdempotencyKey != "" {
		existing, findErr := s.findCommitted(ctx, draft)
		if findErr == nil && existing != nil {
			return s.resumeSale(ctx, draft, *existing)
		}
	}
	if err != nil {
		s.log.Error().Err(err).Str("shop_id", draft.ShopID).Msg("transaction insert failed")
		return domain.Transaction{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return s.finishSale(ctx, draft, *saved)
}

func (s *Service) findCommitted(ctx context.Context, draft domain.TransactionDraft) (*domain.Transaction, error) {
	if draft.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := s.repo.FindTransactionByIdempotencyKey(ctx, draft.ShopID, draft.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

// resumeSale completes a sale whose transaction row was written by an
// earlier attempt.
func (s *Service) resumeSale(ctx context.Context, draft domain.TransactionDraft, tx domain.Transaction) (domain.Transaction, error) {
	s.log.Info().
		Str("transaction_id", tx.ID).
		Str("idempotency_key", draft.IdempotencyKey).
		Msg("sale already recorded, resuming")

	if _, ok := draft.Match.StockItemID(); !ok {
		return tx, nil
	}
	_, err := s.repo.FindSaleMovement(ctx, tx.ID)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, store.ErrNotFound):
		return s.finishSale(ctx, draft, tx)
	default:
		itemID, _ := draft.Match.StockItemID()
		return tx, &PartialCommitError{TransactionID: tx.ID, ItemID: itemID, Quantity: draft.Match.Quantity, Err: err}
	}
}

func (s *Service) finishSale(ctx context.Context, draft domain.TransactionDraft, saved domain.Transaction) (domain.Transaction, error) {
	var commitErr error
	if itemID, ok := draft.Match.StockItemID(); ok {
		if err := s.consumeStock(ctx, saved, itemID, draft.Match.Quantity); err != nil {
			partial := &PartialCommitError{
				TransactionID: saved.ID,
				ItemID:        itemID,
				Quantity:      draft.Match.Quantity,
				Err:           err,
			}
			s.log.Error().
				Err(err).
				Str("transaction_id", saved.ID).
				Str("item_id", itemID).
				Int("quantity", draft.Match.Quantity).
				Msg("partial commit: stock needs reconciliation")
			commitErr = partial
		}
	}

	s.invalidateCatalog(ctx, saved.ShopID)
	s.log.Info().
		Str("transaction_id", saved.ID).
		Str("shop_id", saved.ShopID).
		Str("payment_mode", string(saved.PaymentMode)).
		Str("amount", saved.EnteredAmount.StringFixed(2)).
		Bool("override", saved.IsDiscountOverride).
		Msg("sale committed")
	return saved, commitErr
}

func (s *Service) consumeStock(ctx context.Context, tx domain.Transaction, itemID string, qty int) error {
	prior, next, err := s.decrementWithRetry(ctx, itemID, qty)
	if err != nil {
		return err
	}
	return s.repo.RecordInventoryMovement(ctx, domain.InventoryMovement{
		ShopID:           tx.ShopID,
		ItemID:           itemID,
		TransactionID:    tx.ID,
		MovementType:     domain.MovementSale,
		QuantityChange:   next - prior,
		PreviousQuantity: prior,
		NewQuantity:      next,
		CreatedAt:        s.now(),
	})
}

// decrementWithRetry reads the current quantity and compare-and-sets the
// decrement, retrying when another sale got there first.
func (s *Service) decrementWithRetry(ctx context.Context, itemID string, qty int) (int, int, error) {
	for attempt := 1; attempt <= maxStockAttempts; attempt++ {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return 0, 0, err
		}
		next, err := s.repo.DecrementStock(ctx, itemID, qty, item.StockQuantity)
		if errors.Is(err, store.ErrStockConflict) {
			s.log.Debug().Str("item_id", itemID).Int("attempt", attempt).Msg("stock conflict, retrying")
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		return item.StockQuantity, next, nil
	}
	return 0, 0, fmt.Errorf("after %d attempts: %w", maxStockAttempts, store.ErrStockConflict)
}

func checkDraft(draft domain.TransactionDraft) error {
	switch {
	case draft.ShopID == "":
		return fmt.Errorf("%w: shop is required", store.ErrInvalidInput)
	case !draft.EnteredAmount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
	case draft.Match.Kind == "":
		return fmt.Errorf("%w: no item matched", store.ErrInvalidInput)
	case !draft.Assessment.WithinPolicy && !draft.OverrideApproved:
		return fmt.Errorf("%w: discount outside policy was not approved", store.ErrInvalidInput)
	}
	if _, ok := domain.ParsePaymentMode(string(draft.PaymentMode)); !ok {
		return fmt.Errorf("%w: unknown payment mode %q", store.ErrInvalidInput, draft.PaymentMode)
	}
	return nil
}

func transactionFromDraft(draft domain.TransactionDraft) domain.Transaction {
	tx := domain.Transaction{
		ShopID:             draft.ShopID,
		StaffID:            draft.StaffID,
		EnteredAmount:      draft.EnteredAmount,
		ItemName:           draft.Match.Item.Name,
		Quantity:           draft.Match.Quantity,
		BasePrice:          draft.Match.Item.BasePrice,
		DiscountAmount:     draft.Assessment.Amount,
		DiscountPercentage: draft.Assessment.Percentage,
		PaymentMode:        draft.PaymentMode,
		IsDiscountOverride: !draft.Assessment.WithinPolicy,
		IsCreditSettled:    draft.PaymentMode != domain.PaymentCredit,
		IdempotencyKey:     draft.IdempotencyKey,
	}
	if itemID, ok := draft.Match.StockItemID(); ok {
		tx.InferredItemID = itemID
	}
	if draft.PaymentMode == domain.PaymentCash {
		tx.CashReceived = draft.CashReceived
		tx.ChangeAmount = draft.ChangeAmount
	}
	if tx.IsDiscountOverride {
		tx.Notes = "discount override approved"
	}
	return tx
}
