package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/xid"
)

const DemoShopID = "shop-demo"

type Store struct {
	mu           sync.RWMutex
	shops        map[string]domain.Shop
	items        map[string]domain.Item
	itemOrder    []string
	transactions []domain.Transaction
	movements    []domain.InventoryMovement
	staff        map[string]domain.Staff
	staffOrder   []string
	now          func() time.Time
}

func New() *Store {
	return &Store{
		shops: make(map[string]domain.Shop),
		items: make(map[string]domain.Item),
		staff: make(map[string]domain.Staff),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded builds a demo shop with a small catalog. The owner logs in with
// ownerPasscode; a staff member "Asha" is added when staffPasscode is set.
func NewSeeded(ownerPasscode string, staffPasscode string) (*Store, error) {
	s := New()
	ownerHash, err := bcrypt.GenerateFromPassword([]byte(ownerPasscode), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.PutShop(domain.Shop{
		ID:                 DemoShopID,
		Name:               "Tallyra Demo Store",
		Currency:           "INR",
		MasterPasscodeHash: string(ownerHash),
		UPIID:              "demostore@upi",
	})

	ctx := context.Background()
	for _, it := range []struct {
		name  string
		price string
		stock int
		alert int
		pct   string
		fixed string
	}{
		{"Tea", "20", 200, 20, "0", "0"},
		{"Samosa", "10", 120, 15, "10", "1"},
		{"Coffee", "35", 150, 20, "10", "5"},
		{"Biscuit Pack", "25", 80, 10, "5", "2"},
		{"Water Bottle", "18", 60, 12, "0", "0"},
		{"Sandwich", "60", 40, 8, "15", "10"},
	} {
		if _, err := s.CreateItem(ctx, domain.Item{
			ShopID:                DemoShopID,
			Name:                  it.name,
			BasePrice:             decimal.RequireFromString(it.price),
			StockQuantity:         it.stock,
			MinStockAlert:         it.alert,
			MaxDiscountPercentage: decimal.RequireFromString(it.pct),
			MaxDiscountFixed:      decimal.RequireFromString(it.fixed),
			Active:                true,
		}); err != nil {
			return nil, err
		}
	}

	if staffPasscode == "" {
		return s, nil
	}
	staffHash, err := bcrypt.GenerateFromPassword([]byte(staffPasscode), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if _, err := s.CreateStaff(ctx, domain.Staff{
		ShopID:       DemoShopID,
		Name:         "Asha",
		PasscodeHash: string(staffHash),
		Active:       true,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// PutShop registers or replaces a shop. Shops are provisioned outside the
// API, so this is only reachable from seeding and tests.
func (s *Store) PutShop(shop domain.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = s.now()
	}
	if shop.Currency == "" {
		shop.Currency = "INR"
	}
	s.shops[shop.ID] = shop
}

func (s *Store) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, exists := s.shops[shopID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func (s *Store) ListActiveItems(_ context.Context, shopID string) ([]domain.Item, error) {
	return s.listItems(shopID, true), nil
}

func (s *Store) ListItems(_ context.Context, shopID string) ([]domain.Item, error) {
	return s.listItems(shopID, false), nil
}

func (s *Store) listItems(shopID string, activeOnly bool) []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		item := s.items[id]
		if item.ShopID != shopID || (activeOnly && !item.Active) {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (s *Store) GetItem(_ context.Context, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validItem(item); err != nil {
		return nil, err
	}
	if _, exists := s.shops[item.ShopID]; !exists {
		return nil, store.ErrNotFound
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrDuplicate
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ID] = item
	s.itemOrder = append(s.itemOrder, item.ID)
	created := item
	return &created, nil
}

// UpdateItem replaces the item's descriptive and policy fields. Stock is
// owned by DecrementStock and AdjustStock and is left untouched here.
func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validItem(item); err != nil {
		return nil, err
	}
	current, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	item.ShopID = current.ShopID
	item.StockQuantity = current.StockQuantity
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = s.now()
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DecrementStock(_ context.Context, itemID string, by int, expectedPrior int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if by < 0 {
		return 0, store.ErrInvalidInput
	}
	item, exists := s.items[itemID]
	if !exists {
		return 0, store.ErrNotFound
	}
	if item.StockQuantity != expectedPrior {
		return 0, store.ErrStockConflict
	}
	item.StockQuantity = max(0, item.StockQuantity-by)
	item.UpdatedAt = s.now()
	s.items[itemID] = item
	return item.StockQuantity, nil
}

func (s *Store) AdjustStock(_ context.Context, itemID string, newQuantity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newQuantity < 0 {
		return 0, store.ErrInvalidInput
	}
	item, exists := s.items[itemID]
	if !exists {
		return 0, store.ErrNotFound
	}
	prior := item.StockQuantity
	item.StockQuantity = newQuantity
	item.UpdatedAt = s.now()
	s.items[itemID] = item
	return prior, nil
}

func (s *Store) RestockStock(_ context.Context, itemID string, by int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if by < 1 {
		return 0, 0, store.ErrInvalidInput
	}
	item, exists := s.items[itemID]
	if !exists {
		return 0, 0, store.ErrNotFound
	}
	prior := item.StockQuantity
	item.StockQuantity += by
	item.UpdatedAt = s.now()
	s.items[itemID] = item
	return prior, item.StockQuantity, nil
}

func (s *Store) RecordInventoryMovement(_ context.Context, movement domain.InventoryMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ItemID == "" || movement.MovementType == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.items[movement.ItemID]; !exists {
		return store.ErrNotFound
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = s.now()
	}
	s.movements = append(s.movements, movement)
	return nil
}

func (s *Store) ListInventoryMovements(_ context.Context, itemID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryMovement, 0)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if s.movements[i].ItemID != itemID {
			continue
		}
		out = append(out, s.movements[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FindSaleMovement(_ context.Context, transactionID string) (*domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.movements {
		if transactionID != "" && m.TransactionID == transactionID && m.MovementType == domain.MovementSale {
			found := m
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ShopID == "" || tx.PaymentMode == "" || !tx.EnteredAmount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.shops[tx.ShopID]; !exists {
		return nil, store.ErrNotFound
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	for _, existing := range s.transactions {
		if existing.ID == tx.ID {
			return nil, store.ErrDuplicate
		}
		if tx.IdempotencyKey != "" && existing.ShopID == tx.ShopID && existing.IdempotencyKey == tx.IdempotencyKey {
			return nil, store.ErrDuplicate
		}
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	s.transactions = append(s.transactions, cloneTransaction(tx))
	created := cloneTransaction(tx)
	return &created, nil
}

func (s *Store) FindTransactionByIdempotencyKey(_ context.Context, shopID string, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key == "" {
		return nil, store.ErrNotFound
	}
	for _, tx := range s.transactions {
		if tx.ShopID == shopID && tx.IdempotencyKey == key {
			found := cloneTransaction(tx)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListTransactions returns the newest transactions first.
func (s *Store) ListTransactions(_ context.Context, shopID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].ShopID != shopID {
			continue
		}
		out = append(out, cloneTransaction(s.transactions[i]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateStaff(_ context.Context, staff domain.Staff) (*domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staff.Name = strings.TrimSpace(staff.Name)
	if staff.ShopID == "" || staff.Name == "" || staff.PasscodeHash == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.shops[staff.ShopID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.staff {
		if existing.ShopID == staff.ShopID && strings.EqualFold(existing.Name, staff.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if staff.ID == "" {
		staff.ID = xid.New("staff")
	}
	if staff.CreatedAt.IsZero() {
		staff.CreatedAt = s.now()
	}
	s.staff[staff.ID] = staff
	s.staffOrder = append(s.staffOrder, staff.ID)
	created := staff
	return &created, nil
}

func (s *Store) ListStaff(_ context.Context, shopID string) ([]domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Staff, 0, len(s.staffOrder))
	for _, id := range s.staffOrder {
		if member := s.staff[id]; member.ShopID == shopID {
			out = append(out, member)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Staff) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, nil
}

func (s *Store) GetStaff(_ context.Context, staffID string) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, exists := s.staff[staffID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &member, nil
}

func (s *Store) UpdateStaffActive(_ context.Context, staffID string, active bool) (*domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, exists := s.staff[staffID]
	if !exists {
		return nil, store.ErrNotFound
	}
	member.Active = active
	s.staff[staffID] = member
	updated := member
	return &updated, nil
}

func validItem(item domain.Item) error {
	if item.ShopID == "" && item.ID == "" {
		return store.ErrInvalidInput
	}
	if strings.TrimSpace(item.Name) == "" || item.BasePrice.IsNegative() {
		return store.ErrInvalidInput
	}
	if item.StockQuantity < 0 || item.MinStockAlert < 0 || item.MaxDiscountFixed.IsNegative() {
		return store.ErrInvalidInput
	}
	if item.MaxDiscountPercentage.IsNegative() || item.MaxDiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrInvalidInput
	}
	return nil
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
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
