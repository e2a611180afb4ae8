// Package calculator drives one cashier session from amount entry to a
// committed sale.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/discount"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/inference"
	"github.com/thechillpixel0/tallyra/internal/xid"
)

type State string

const (
	StateEnteringAmount       State = "ENTERING_AMOUNT"
	StateItemConfirmed        State = "ITEM_CONFIRMED"
	StateDiscountReview       State = "DISCOUNT_REVIEW"
	StatePaymentModeSelection State = "PAYMENT_MODE_SELECTION"
	StatePaymentDetailCapture State = "PAYMENT_DETAIL_CAPTURE"
	StateCommitted            State = "COMMITTED"
)

const DefaultResetDelay = 2 * time.Second

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNoMatchingItem     = errors.New("no matching item")
	ErrInvalidTransition  = errors.New("action not allowed in current state")
	ErrCommitInProgress   = errors.New("commit in progress")
	ErrInsufficientCash   = errors.New("cash received is less than the amount due")
	ErrUnknownPaymentMode = errors.New("unknown payment mode")
)

const (
	msgCommitFailed  = "transaction failed, please try again"
	msgPartialCommit = "sale recorded but stock was not updated; reconcile inventory"
)

type CatalogProvider interface {
	ListActiveItems(ctx context.Context, shopID string) ([]domain.Item, error)
}

// Committer persists a finished draft. When the transaction was saved but a
// follow-up step failed, it returns the saved transaction (non-empty ID)
// together with the error.
type Committer interface {
	CommitSale(ctx context.Context, draft domain.TransactionDraft) (domain.Transaction, error)
}

type Options struct {
	Engine     *inference.Engine
	Clock      func() time.Time
	ResetDelay time.Duration
	Logger     zerolog.Logger
}

type Snapshot struct {
	State            State                    `json:"state"`
	Amount           string                   `json:"amount"`
	SelectedItem     *domain.Item             `json:"selected_item,omitempty"`
	Draft            *domain.TransactionDraft `json:"draft,omitempty"`
	Rule             inference.Rule           `json:"rule,omitempty"`
	NeedsReview      bool                     `json:"needs_review"`
	Committing       bool                     `json:"committing"`
	LastTransaction  *domain.Transaction      `json:"last_transaction,omitempty"`
	Error            string                   `json:"error,omitempty"`
	Warning          string                   `json:"warning,omitempty"`
	ResetsAt         *time.Time               `json:"resets_at,omitempty"`
	PaymentReference string                   `json:"payment_reference,omitempty"`
}

// Workflow is the per-session sale state machine. All methods are safe for
// concurrent use; while a commit is in flight every action is refused.
type Workflow struct {
	mu sync.Mutex

	session    domain.Session
	shop       domain.Shop
	catalog    CatalogProvider
	committer  Committer
	engine     *inference.Engine
	now        func() time.Time
	resetDelay time.Duration
	log        zerolog.Logger

	state       State
	keys        keypad
	selected    *domain.Item
	draft       *domain.TransactionDraft
	rule        inference.Rule
	committing  bool
	committedAt time.Time
	last        *domain.Transaction
	errMsg      string
	warning     string
}

func NewWorkflow(session domain.Session, shop domain.Shop, catalog CatalogProvider, committer Committer, opts Options) *Workflow {
	if opts.Engine == nil {
		opts.Engine = inference.NewEngine()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = DefaultResetDelay
	}

	return &Workflow{
		session:    session,
		shop:       shop,
		catalog:    catalog,
		committer:  committer,
		engine:     opts.Engine,
		now:        opts.Clock,
		resetDelay: opts.ResetDelay,
		log:        opts.Logger.With().Str("session_id", session.ID).Str("shop_id", session.ShopID).Logger(),
		state:      StateEnteringAmount,
		keys:       newKeypad(),
	}
}

func (w *Workflow) Session() domain.Session {
	return w.session
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireCommittedLocked()
	return w.snapshotLocked()
}

// PressKeys feeds keypad input. Typing after an item was confirmed discards
// the match and returns to amount entry; typing on the committed screen
// starts the next sale.
func (w *Workflow) PressKeys(keys ...string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	switch w.state {
	case StateEnteringAmount:
	case StateItemConfirmed:
		w.draft = nil
		w.rule = inference.RuleNone
		w.state = StateEnteringAmount
	case StateCommitted:
		w.resetLocked()
	default:
		return w.failLocked(ErrInvalidTransition)
	}

	w.errMsg = ""
	for _, key := range keys {
		if !w.keys.press(key) {
			return w.failLocked(fmt.Errorf("%w: key %q rejected", ErrInvalidAmount, key))
		}
	}
	return w.snapshotLocked(), nil
}

// Confirm parses the entered amount and resolves it to an item, either the
// operator's selection or the inference result.
func (w *Workflow) Confirm(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StateEnteringAmount {
		return w.failLocked(ErrInvalidTransition)
	}
	amount, ok := w.keys.amount()
	if !ok {
		return w.failLocked(ErrInvalidAmount)
	}

	var res inference.Result
	if w.selected != nil {
		res = w.engine.InferSelected(amount, *w.selected)
	} else {
		items, err := w.catalog.ListActiveItems(ctx, w.session.ShopID)
		if err != nil {
			w.log.Warn().Err(err).Msg("catalog unavailable")
			return w.failLocked(fmt.Errorf("load catalog: %w", err))
		}
		res = w.engine.Infer(amount, items)
	}
	if !res.Found() {
		return w.failLocked(ErrNoMatchingItem)
	}

	w.setDraftLocked(amount, *res.Match, res.Rule)
	w.state = StateItemConfirmed
	return w.snapshotLocked(), nil
}

// Proceed leaves ITEM_CONFIRMED: out-of-policy sales by staff stop for
// review, everything else goes to payment mode selection. An owner's
// out-of-policy sale is recorded as an approved override.
func (w *Workflow) Proceed() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StateItemConfirmed || w.draft == nil {
		return w.failLocked(ErrInvalidTransition)
	}

	w.errMsg = ""
	if discount.NeedsReview(w.draft.Assessment, w.session.Role) && !w.draft.OverrideApproved {
		w.state = StateDiscountReview
		return w.snapshotLocked(), nil
	}
	if !w.draft.Assessment.WithinPolicy {
		w.draft.OverrideApproved = true
	}
	w.state = StatePaymentModeSelection
	return w.snapshotLocked(), nil
}

// ReviewDiscount records the staff decision on an out-of-policy discount.
// Rejecting discards the sale.
func (w *Workflow) ReviewDiscount(approve bool) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StateDiscountReview || w.draft == nil {
		return w.failLocked(ErrInvalidTransition)
	}
	if !approve {
		w.resetLocked()
		return w.snapshotLocked(), nil
	}
	w.draft.OverrideApproved = true
	w.errMsg = ""
	w.state = StatePaymentModeSelection
	return w.snapshotLocked(), nil
}

// SelectItem pins an item so confirmation skips inference. An item without
// an ID is an unsaved custom item and never moves stock.
func (w *Workflow) SelectItem(item domain.Item) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StateEnteringAmount && w.state != StateItemConfirmed {
		return w.failLocked(ErrInvalidTransition)
	}
	if item.BasePrice.IsNegative() || item.Name == "" {
		return w.failLocked(fmt.Errorf("%w: custom item needs a name and a non-negative price", ErrInvalidAmount))
	}

	pinned := item
	w.selected = &pinned
	w.errMsg = ""
	if w.state == StateItemConfirmed && w.draft != nil {
		res := w.engine.InferSelected(w.draft.EnteredAmount, pinned)
		w.setDraftLocked(w.draft.EnteredAmount, *res.Match, res.Rule)
	}
	return w.snapshotLocked(), nil
}

func (w *Workflow) ClearSelection() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StateEnteringAmount && w.state != StateItemConfirmed {
		return w.failLocked(ErrInvalidTransition)
	}
	w.selected = nil
	w.errMsg = ""
	if w.state == StateItemConfirmed {
		w.draft = nil
		w.rule = inference.RuleNone
		w.state = StateEnteringAmount
	}
	return w.snapshotLocked(), nil
}

// SelectPaymentMode picks how the customer pays. CASH and UPI move to detail
// capture; CREDIT commits immediately as an unsettled sale.
func (w *Workflow) SelectPaymentMode(ctx context.Context, mode domain.PaymentMode) (Snapshot, error) {
	snap, draft, err := w.selectPaymentMode(mode)
	if err != nil || draft == nil {
		return snap, err
	}
	return w.commit(ctx, *draft)
}

func (w *Workflow) selectPaymentMode(mode domain.PaymentMode) (Snapshot, *domain.TransactionDraft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), nil, err
	}
	if (w.state != StatePaymentModeSelection && w.state != StatePaymentDetailCapture) || w.draft == nil {
		snap, err := w.failLocked(ErrInvalidTransition)
		return snap, nil, err
	}
	if _, ok := domain.ParsePaymentMode(string(mode)); !ok {
		snap, err := w.failLocked(ErrUnknownPaymentMode)
		return snap, nil, err
	}

	w.errMsg = ""
	w.draft.PaymentMode = mode
	w.draft.CashReceived = nil
	w.draft.ChangeAmount = nil
	w.draft.PaymentReference = ""
	switch mode {
	case domain.PaymentUPI:
		w.draft.PaymentReference = UPIReference(w.shop, w.draft.EnteredAmount)
	case domain.PaymentCredit:
		draft := w.beginCommitLocked()
		return Snapshot{}, &draft, nil
	}
	w.state = StatePaymentDetailCapture
	return w.snapshotLocked(), nil, nil
}

// SetCashReceived records (or with nil clears) the tendered cash. Whether it
// covers the amount is only checked at confirmation.
func (w *Workflow) SetCashReceived(cash *decimal.Decimal) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), err
	}
	if w.state != StatePaymentDetailCapture || w.draft == nil || w.draft.PaymentMode != domain.PaymentCash {
		return w.failLocked(ErrInvalidTransition)
	}
	if cash != nil && cash.IsNegative() {
		return w.failLocked(ErrInvalidAmount)
	}

	w.errMsg = ""
	w.draft.ChangeAmount = nil
	if cash == nil {
		w.draft.CashReceived = nil
		return w.snapshotLocked(), nil
	}
	v := *cash
	w.draft.CashReceived = &v
	return w.snapshotLocked(), nil
}

// ConfirmPayment commits the sale. On failure the draft stays in detail
// capture so the same sale can be retried.
func (w *Workflow) ConfirmPayment(ctx context.Context) (Snapshot, error) {
	snap, draft, err := w.confirmPayment()
	if err != nil {
		return snap, err
	}
	return w.commit(ctx, *draft)
}

func (w *Workflow) confirmPayment() (Snapshot, *domain.TransactionDraft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.guardLocked(); err != nil {
		return w.snapshotLocked(), nil, err
	}
	if w.state != StatePaymentDetailCapture || w.draft == nil {
		snap, err := w.failLocked(ErrInvalidTransition)
		return snap, nil, err
	}
	if w.draft.PaymentMode == domain.PaymentCash && w.draft.CashReceived != nil {
		cash := *w.draft.CashReceived
		if cash.LessThan(w.draft.EnteredAmount) {
			snap, err := w.failLocked(ErrInsufficientCash)
			return snap, nil, err
		}
		change := cash.Sub(w.draft.EnteredAmount)
		w.draft.ChangeAmount = &change
	}

	draft := w.beginCommitLocked()
	return Snapshot{}, &draft, nil
}

// Clear abandons the current sale from any state. It is refused only while
// a commit is in flight.
func (w *Workflow) Clear() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.committing {
		return w.snapshotLocked(), ErrCommitInProgress
	}
	w.resetLocked()
	return w.snapshotLocked(), nil
}

// beginCommitLocked keys the draft on its first attempt. Retries reuse the
// key so the sale is recorded once even if an earlier attempt's result was
// lost.
func (w *Workflow) beginCommitLocked() domain.TransactionDraft {
	w.committing = true
	if w.draft.IdempotencyKey == "" {
		w.draft.IdempotencyKey = xid.New("sale")
	}
	return cloneDraft(*w.draft)
}

// commit runs without the lock held so snapshots stay readable while the
// store call is in flight. Once issued it is not cancellable.
func (w *Workflow) commit(ctx context.Context, draft domain.TransactionDraft) (Snapshot, error) {
	tx, err := w.committer.CommitSale(context.WithoutCancel(ctx), draft)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.committing = false

	switch {
	case err != nil && tx.ID == "":
		w.log.Warn().Err(err).Str("payment_mode", string(draft.PaymentMode)).Msg("commit failed")
		w.state = StatePaymentDetailCapture
		w.errMsg = msgCommitFailed
		return w.snapshotLocked(), err
	case err != nil:
		w.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("partial commit")
		w.markCommittedLocked(tx)
		w.warning = msgPartialCommit
		return w.snapshotLocked(), err
	default:
		w.markCommittedLocked(tx)
		return w.snapshotLocked(), nil
	}
}

func (w *Workflow) markCommittedLocked(tx domain.Transaction) {
	w.state = StateCommitted
	w.committedAt = w.now()
	w.last = &tx
	w.errMsg = ""
	w.warning = ""
}

// guardLocked refuses actions during a commit and applies the delayed reset
// after a committed sale.
func (w *Workflow) guardLocked() error {
	if w.committing {
		return ErrCommitInProgress
	}
	w.expireCommittedLocked()
	return nil
}

func (w *Workflow) expireCommittedLocked() {
	if w.state != StateCommitted || w.committing {
		return
	}
	if w.now().Sub(w.committedAt) >= w.resetDelay {
		w.resetLocked()
	}
}

func (w *Workflow) resetLocked() {
	w.state = StateEnteringAmount
	w.keys.reset()
	w.selected = nil
	w.draft = nil
	w.rule = inference.RuleNone
	w.errMsg = ""
	w.warning = ""
}

func (w *Workflow) failLocked(err error) (Snapshot, error) {
	w.errMsg = err.Error()
	return w.snapshotLocked(), err
}

func (w *Workflow) setDraftLocked(amount decimal.Decimal, match domain.Match, rule inference.Rule) {
	w.draft = &domain.TransactionDraft{
		ShopID:        w.session.ShopID,
		StaffID:       w.session.StaffID,
		EnteredAmount: amount,
		Match:         match,
		Assessment:    discount.Assess(match.Item, amount),
	}
	w.rule = rule
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      w.state,
		Amount:     w.keys.buf,
		Rule:       w.rule,
		Committing: w.committing,
		Error:      w.errMsg,
		Warning:    w.warning,
	}
	if w.selected != nil {
		item := *w.selected
		snap.SelectedItem = &item
	}
	if w.draft != nil {
		draft := cloneDraft(*w.draft)
		snap.Draft = &draft
		snap.NeedsReview = discount.NeedsReview(draft.Assessment, w.session.Role) && !draft.OverrideApproved
		snap.PaymentReference = draft.PaymentReference
	}
	if w.last != nil {
		tx := *w.last
		snap.LastTransaction = &tx
	}
	if w.state == StateCommitted {
		at := w.committedAt.Add(w.resetDelay)
		snap.ResetsAt = &at
	}
	return snap
}

func cloneDraft(src domain.TransactionDraft) domain.TransactionDraft {
	dup := src
	if src.CashReceived != nil {
		v := *src.CashReceived
		dup.CashReceived = &v
	}
	if src.ChangeAmount != nil {
		v := *src.ChangeAmount
		dup.ChangeAmount = &v
	}
	return dup
}
