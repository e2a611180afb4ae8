package calculator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/service"
	"github.com/thechillpixel0/tallyra/internal/store/memory"
)

const shopID = "shop-calc"

var (
	ownerSession = domain.Session{ID: "sess-o", ShopID: shopID, Role: domain.RoleOwner}
	staffSession = domain.Session{ID: "sess-s", ShopID: shopID, Role: domain.RoleStaff, StaffID: "staff-1", StaffName: "Asha"}
	testShop     = domain.Shop{ID: shopID, Name: "Chai Point", Currency: "INR", UPIID: "chaipoint@upi"}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type staticCatalog struct {
	items []domain.Item
	err   error
}

func (c staticCatalog) ListActiveItems(_ context.Context, _ string) ([]domain.Item, error) {
	return c.items, c.err
}

type fakeCommitter struct {
	mu      sync.Mutex
	drafts  []domain.TransactionDraft
	err     error
	partial bool
	gate    chan struct{}
	entered chan struct{}
}

func (c *fakeCommitter) CommitSale(_ context.Context, draft domain.TransactionDraft) (domain.Transaction, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts = append(c.drafts, draft)
	if c.err != nil && !c.partial {
		return domain.Transaction{}, c.err
	}
	tx := domain.Transaction{
		ID:              "txn-1",
		ShopID:          draft.ShopID,
		EnteredAmount:   draft.EnteredAmount,
		PaymentMode:     draft.PaymentMode,
		IsCreditSettled: draft.PaymentMode != domain.PaymentCredit,
	}
	return tx, c.err
}

func (c *fakeCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.drafts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(by time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(by)
}

func teaCatalog() staticCatalog {
	return staticCatalog{items: []domain.Item{{
		ID:                    "item-tea",
		ShopID:                shopID,
		Name:                  "Tea",
		BasePrice:             d("20"),
		StockQuantity:         10,
		MaxDiscountPercentage: d("0"),
		MaxDiscountFixed:      d("0"),
		Active:                true,
	}}}
}

func newWorkflow(session domain.Session, catalog CatalogProvider, committer Committer, clock *fakeClock) *Workflow {
	opts := Options{Logger: zerolog.Nop()}
	if clock != nil {
		opts.Clock = clock.Now
	}
	return NewWorkflow(session, testShop, catalog, committer, opts)
}

func typeAmount(t *testing.T, w *Workflow, amount string) {
	t.Helper()
	keys := make([]string, 0, len(amount))
	for _, r := range amount {
		keys = append(keys, string(r))
	}
	_, err := w.PressKeys(keys...)
	require.NoError(t, err)
}

func TestKeypadBuffer(t *testing.T) {
	k := newKeypad()
	for _, key := range []string{"0", "0", "1", "2", ".", ".", "5", "0", "9"} {
		k.press(key)
	}
	assert.Equal(t, "12.50", k.buf)

	k.press(KeyBackspace)
	k.press(KeyBackspace)
	k.press(KeyBackspace)
	assert.Equal(t, "12", k.buf)
	k.press(KeyBackspace)
	k.press(KeyBackspace)
	assert.Equal(t, "0", k.buf)
	k.press(KeyBackspace)
	assert.Equal(t, "0", k.buf)

	assert.False(t, k.press("x"))
	_, ok := k.amount()
	assert.False(t, ok)
}

func TestConfirmRejectsZeroAmount(t *testing.T) {
	w := newWorkflow(staffSession, teaCatalog(), &fakeCommitter{}, nil)

	snap, err := w.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "invalid amount", snap.Error)

	typeAmount(t, w, "0.")
	_, err = w.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConfirmWithEmptyCatalogReportsNoMatch(t *testing.T) {
	w := newWorkflow(staffSession, staticCatalog{}, &fakeCommitter{}, nil)
	typeAmount(t, w, "20")

	snap, err := w.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoMatchingItem)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "20", snap.Amount)
}

func TestScenarioExactMatchGoesStraightToPayment(t *testing.T) {
	w := newWorkflow(staffSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "20")

	snap, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateItemConfirmed, snap.State)
	require.NotNil(t, snap.Draft)
	assert.Equal(t, "item-tea", snap.Draft.Match.Item.ID)
	assert.True(t, snap.Draft.Assessment.Amount.IsZero())
	assert.True(t, snap.Draft.Assessment.WithinPolicy)

	snap, err = w.Proceed()
	require.NoError(t, err)
	assert.Equal(t, StatePaymentModeSelection, snap.State)
	assert.False(t, snap.Draft.OverrideApproved)
}

func TestScenarioStaffDiscountNeedsReview(t *testing.T) {
	committer := &fakeCommitter{}
	w := newWorkflow(staffSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "18")

	snap, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Draft.Assessment.Amount.Equal(d("2")))
	assert.False(t, snap.Draft.Assessment.WithinPolicy)
	assert.True(t, snap.NeedsReview)

	snap, err = w.Proceed()
	require.NoError(t, err)
	assert.Equal(t, StateDiscountReview, snap.State)

	_, err = w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	snap, err = w.ReviewDiscount(true)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentModeSelection, snap.State)
	assert.True(t, snap.Draft.OverrideApproved)

	_, err = w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	require.NoError(t, err)
	_, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, committer.count())
	assert.True(t, committer.drafts[0].OverrideApproved)
	assert.Equal(t, "staff-1", committer.drafts[0].StaffID)
}

func TestScenarioStaffRejectsDiscount(t *testing.T) {
	w := newWorkflow(staffSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "18")
	_, err := w.Confirm(context.Background())
	require.NoError(t, err)
	_, err = w.Proceed()
	require.NoError(t, err)

	snap, err := w.ReviewDiscount(false)
	require.NoError(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "0", snap.Amount)
	assert.Nil(t, snap.Draft)
}

func TestScenarioOwnerDiscountAutoApproves(t *testing.T) {
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "18")
	snap, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.NeedsReview)

	snap, err = w.Proceed()
	require.NoError(t, err)
	assert.Equal(t, StatePaymentModeSelection, snap.State)
	assert.True(t, snap.Draft.OverrideApproved)
}

func TestScenarioBulkSaleDecrementsStock(t *testing.T) {
	mem := memory.New()
	mem.PutShop(testShop)
	samosa, err := mem.CreateItem(context.Background(), domain.Item{
		ShopID:        shopID,
		Name:          "Samosa",
		BasePrice:     d("10"),
		StockQuantity: 12,
		Active:        true,
	})
	require.NoError(t, err)
	svc := service.New(mem, nil, service.Options{Logger: zerolog.Nop()})

	w := newWorkflow(staffSession, svc, svc, nil)
	typeAmount(t, w, "30")
	snap, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MatchVirtual, snap.Draft.Match.Kind)
	assert.Equal(t, "Samosa (3 pcs)", snap.Draft.Match.Item.Name)
	assert.True(t, snap.Draft.Assessment.Amount.IsZero())

	_, err = w.Proceed()
	require.NoError(t, err)
	_, err = w.SelectPaymentMode(context.Background(), domain.PaymentUPI)
	require.NoError(t, err)
	snap, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)
	require.NotNil(t, snap.LastTransaction)
	assert.Equal(t, 3, snap.LastTransaction.Quantity)

	after, err := mem.GetItem(context.Background(), samosa.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, after.StockQuantity)
}

func TestScenarioCashChange(t *testing.T) {
	committer := &fakeCommitter{}
	w := newWorkflow(ownerSession, staticCatalog{items: []domain.Item{{
		ID: "item-rice", Name: "Rice", BasePrice: d("100"), Active: true,
	}}}, committer, nil)
	typeAmount(t, w, "100")
	_, err := w.Confirm(context.Background())
	require.NoError(t, err)
	_, err = w.Proceed()
	require.NoError(t, err)
	snap, err := w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentDetailCapture, snap.State)

	low := d("90")
	_, err = w.SetCashReceived(&low)
	require.NoError(t, err)
	snap, err = w.ConfirmPayment(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientCash)
	assert.Equal(t, StatePaymentDetailCapture, snap.State)
	assert.Equal(t, 0, committer.count())

	cash := d("150")
	_, err = w.SetCashReceived(&cash)
	require.NoError(t, err)
	snap, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)

	require.Equal(t, 1, committer.count())
	draft := committer.drafts[0]
	assert.Equal(t, domain.PaymentCash, draft.PaymentMode)
	require.NotNil(t, draft.ChangeAmount)
	assert.True(t, draft.ChangeAmount.Equal(d("50")))
	assert.True(t, snap.LastTransaction.IsCreditSettled)
}

func TestCashWithoutTenderCommits(t *testing.T) {
	committer := &fakeCommitter{}
	w := newWorkflow(ownerSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, err := w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	require.NoError(t, err)

	_, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, committer.count())
	assert.Nil(t, committer.drafts[0].CashReceived)
	assert.Nil(t, committer.drafts[0].ChangeAmount)
}

func TestScenarioCreditCommitsDirectly(t *testing.T) {
	committer := &fakeCommitter{}
	w := newWorkflow(ownerSession, staticCatalog{items: []domain.Item{{
		ID: "item-rice", Name: "Rice", BasePrice: d("100"), Active: true,
	}}}, committer, nil)
	typeAmount(t, w, "100")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()

	snap, err := w.SelectPaymentMode(context.Background(), domain.PaymentCredit)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)
	require.Equal(t, 1, committer.count())
	assert.Equal(t, domain.PaymentCredit, committer.drafts[0].PaymentMode)
	assert.Nil(t, committer.drafts[0].CashReceived)
	assert.Nil(t, committer.drafts[0].ChangeAmount)
	assert.False(t, snap.LastTransaction.IsCreditSettled)
}

func TestUPIReferenceOnDetailCapture(t *testing.T) {
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()

	snap, err := w.SelectPaymentMode(context.Background(), domain.PaymentUPI)
	require.NoError(t, err)
	assert.Equal(t, "upi://pay?pa=chaipoint@upi&pn=Chai%20Point&am=20.00&cu=INR&tn=Payment%20to%20Chai%20Point", snap.PaymentReference)

	_, err = w.SetCashReceived(nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUPIReferenceEmptyWithoutUPIID(t *testing.T) {
	assert.Empty(t, UPIReference(domain.Shop{Name: "No UPI"}, d("10")))
}

func TestCommitFailureKeepsDraftForRetry(t *testing.T) {
	committer := &fakeCommitter{err: service.ErrCommitFailed}
	w := newWorkflow(ownerSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, _ = w.SelectPaymentMode(context.Background(), domain.PaymentCash)

	snap, err := w.ConfirmPayment(context.Background())
	assert.ErrorIs(t, err, service.ErrCommitFailed)
	assert.Equal(t, StatePaymentDetailCapture, snap.State)
	assert.Equal(t, "transaction failed, please try again", snap.Error)
	require.NotNil(t, snap.Draft)
	assert.True(t, snap.Draft.EnteredAmount.Equal(d("20")))

	committer.mu.Lock()
	committer.err = nil
	committer.mu.Unlock()
	snap, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)
	require.Equal(t, 2, committer.count())
	assert.NotEmpty(t, committer.drafts[0].IdempotencyKey)
	assert.Equal(t, committer.drafts[0].IdempotencyKey, committer.drafts[1].IdempotencyKey)

	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, _ = w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	_, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, committer.count())
	assert.NotEqual(t, committer.drafts[0].IdempotencyKey, committer.drafts[2].IdempotencyKey)
}

// lostReplyStore writes the transaction but reports a failure, as when the
// connection drops after the database committed.
type lostReplyStore struct {
	*memory.Store
	lose int
}

func (s *lostReplyStore) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	saved, err := s.Store.InsertTransaction(ctx, tx)
	if err == nil && s.lose > 0 {
		s.lose--
		return nil, errors.New("connection reset by peer")
	}
	return saved, err
}

func TestRetryAfterLostReplyRecordsSaleOnce(t *testing.T) {
	mem := memory.New()
	mem.PutShop(testShop)
	tea, err := mem.CreateItem(context.Background(), domain.Item{
		ShopID:        shopID,
		Name:          "Tea",
		BasePrice:     d("20"),
		StockQuantity: 10,
		Active:        true,
	})
	require.NoError(t, err)
	repo := &lostReplyStore{Store: mem, lose: 1}
	svc := service.New(repo, nil, service.Options{Logger: zerolog.Nop()})

	w := newWorkflow(staffSession, svc, svc, nil)
	typeAmount(t, w, "20")
	_, err = w.Confirm(context.Background())
	require.NoError(t, err)
	_, err = w.Proceed()
	require.NoError(t, err)
	_, err = w.SelectPaymentMode(context.Background(), domain.PaymentCash)
	require.NoError(t, err)

	snap, err := w.ConfirmPayment(context.Background())
	require.ErrorIs(t, err, service.ErrCommitFailed)
	assert.Equal(t, StatePaymentDetailCapture, snap.State)

	snap, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)

	txs, err := mem.ListTransactions(context.Background(), shopID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, txs[0].ID, snap.LastTransaction.ID)

	after, err := mem.GetItem(context.Background(), tea.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, after.StockQuantity)

	movements, err := mem.ListInventoryMovements(context.Background(), tea.ID, 0)
	require.NoError(t, err)
	sales := 0
	for _, m := range movements {
		if m.MovementType == domain.MovementSale {
			sales++
		}
	}
	assert.Equal(t, 1, sales)
}

func TestCreditCommitFailureFallsBackToDetailCapture(t *testing.T) {
	committer := &fakeCommitter{err: service.ErrCommitFailed}
	w := newWorkflow(ownerSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()

	snap, err := w.SelectPaymentMode(context.Background(), domain.PaymentCredit)
	assert.ErrorIs(t, err, service.ErrCommitFailed)
	assert.Equal(t, StatePaymentDetailCapture, snap.State)
	assert.Equal(t, domain.PaymentCredit, snap.Draft.PaymentMode)

	committer.mu.Lock()
	committer.err = nil
	committer.mu.Unlock()
	snap, err = w.ConfirmPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, snap.State)
}

func TestPartialCommitCompletesWithWarning(t *testing.T) {
	committer := &fakeCommitter{err: &service.PartialCommitError{TransactionID: "txn-1", ItemID: "item-tea", Err: errors.New("stock write lost")}, partial: true}
	w := newWorkflow(ownerSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, _ = w.SelectPaymentMode(context.Background(), domain.PaymentCash)

	snap, err := w.ConfirmPayment(context.Background())
	assert.ErrorIs(t, err, service.ErrPartialCommit)
	assert.Equal(t, StateCommitted, snap.State)
	assert.NotEmpty(t, snap.Warning)
	assert.Empty(t, snap.Error)
}

func TestActionsRefusedWhileCommitting(t *testing.T) {
	committer := &fakeCommitter{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	w := newWorkflow(ownerSession, teaCatalog(), committer, nil)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, _ = w.SelectPaymentMode(context.Background(), domain.PaymentCash)

	done := make(chan error, 1)
	go func() {
		_, err := w.ConfirmPayment(context.Background())
		done <- err
	}()
	<-committer.entered

	snap := w.Snapshot()
	assert.True(t, snap.Committing)

	_, err := w.Clear()
	assert.ErrorIs(t, err, ErrCommitInProgress)
	_, err = w.PressKeys("1")
	assert.ErrorIs(t, err, ErrCommitInProgress)
	_, err = w.ConfirmPayment(context.Background())
	assert.ErrorIs(t, err, ErrCommitInProgress)

	close(committer.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateCommitted, w.Snapshot().State)
	assert.Equal(t, 1, committer.count())
}

func TestCommittedResetsAfterDelay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, clock)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	snap, err := w.SelectPaymentMode(context.Background(), domain.PaymentCredit)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, snap.State)
	require.NotNil(t, snap.ResetsAt)
	assert.Equal(t, clock.Now().Add(DefaultResetDelay), *snap.ResetsAt)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, StateCommitted, w.Snapshot().State)

	clock.Advance(500 * time.Millisecond)
	snap = w.Snapshot()
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "0", snap.Amount)
	assert.Nil(t, snap.Draft)
}

func TestTypingOnCommittedScreenStartsNextSale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, clock)
	typeAmount(t, w, "20")
	_, _ = w.Confirm(context.Background())
	_, _ = w.Proceed()
	_, _ = w.SelectPaymentMode(context.Background(), domain.PaymentCredit)

	snap, err := w.PressKeys("5")
	require.NoError(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "5", snap.Amount)
}

func TestClearFromAnyState(t *testing.T) {
	w := newWorkflow(staffSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "18")
	_, _ = w.Confirm(context.Background())
	snap, _ := w.Proceed()
	require.Equal(t, StateDiscountReview, snap.State)

	snap, err := w.Clear()
	require.NoError(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "0", snap.Amount)
	assert.Nil(t, snap.Draft)
}

func TestSelectedItemBypassesInference(t *testing.T) {
	w := newWorkflow(staffSession, teaCatalog(), &fakeCommitter{}, nil)
	custom := domain.Item{Name: "Gift wrap", BasePrice: d("25")}

	_, err := w.SelectItem(custom)
	require.NoError(t, err)
	typeAmount(t, w, "20")
	snap, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCustom, snap.Draft.Match.Kind)
	assert.Equal(t, "Gift wrap", snap.Draft.Match.Item.Name)
	assert.True(t, snap.Draft.Assessment.Amount.Equal(d("5")))

	snap, err = w.ClearSelection()
	require.NoError(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Nil(t, snap.SelectedItem)

	snap, err = w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "item-tea", snap.Draft.Match.Item.ID)
}

func TestSelectItemWhileConfirmedRepricesDraft(t *testing.T) {
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "20")
	_, err := w.Confirm(context.Background())
	require.NoError(t, err)

	snap, err := w.SelectItem(domain.Item{ID: "item-coffee", Name: "Coffee", BasePrice: d("35"), Active: true})
	require.NoError(t, err)
	assert.Equal(t, StateItemConfirmed, snap.State)
	assert.Equal(t, "item-coffee", snap.Draft.Match.Item.ID)
	assert.True(t, snap.Draft.Assessment.Amount.Equal(d("15")))
}

func TestTypingAfterConfirmReturnsToEntry(t *testing.T) {
	w := newWorkflow(ownerSession, teaCatalog(), &fakeCommitter{}, nil)
	typeAmount(t, w, "20")
	_, err := w.Confirm(context.Background())
	require.NoError(t, err)

	snap, err := w.PressKeys(KeyBackspace)
	require.NoError(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Equal(t, "2", snap.Amount)
	assert.Nil(t, snap.Draft)
}

func TestCatalogErrorIsSurfaced(t *testing.T) {
	w := newWorkflow(ownerSession, staticCatalog{err: errors.New("db down")}, &fakeCommitter{}, nil)
	typeAmount(t, w, "20")
	snap, err := w.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateEnteringAmount, snap.State)
	assert.Contains(t, snap.Error, "db down")
}
