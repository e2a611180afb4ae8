package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

type PaymentMode string

const (
	PaymentCash   PaymentMode = "CASH"
	PaymentUPI    PaymentMode = "UPI"
	PaymentCredit PaymentMode = "CREDIT"
)

func ParsePaymentMode(raw string) (PaymentMode, bool) {
	switch PaymentMode(raw) {
	case PaymentCash, PaymentUPI, PaymentCredit:
		return PaymentMode(raw), true
	default:
		return "", false
	}
}

type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementRestock    MovementType = "RESTOCK"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

type Shop struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Currency           string    `json:"currency"`
	MasterPasscodeHash string    `json:"-"`
	UPIID              string    `json:"upi_id,omitempty"`
	UPIQRURL           string    `json:"upi_qr_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type Staff struct {
	ID           string    `json:"id"`
	ShopID       string    `json:"shop_id"`
	Name         string    `json:"name"`
	PasscodeHash string    `json:"-"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item is a catalog entry. Prices and discount caps are in the shop currency.
type Item struct {
	ID                    string          `json:"id"`
	ShopID                string          `json:"shop_id"`
	Name                  string          `json:"name"`
	BasePrice             decimal.Decimal `json:"base_price"`
	StockQuantity         int             `json:"stock_quantity"`
	MinStockAlert         int             `json:"min_stock_alert"`
	MaxDiscountPercentage decimal.Decimal `json:"max_discount_percentage"`
	MaxDiscountFixed      decimal.Decimal `json:"max_discount_fixed"`
	Active                bool            `json:"is_active"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (i Item) LowStock() bool {
	return i.StockQuantity <= i.MinStockAlert
}

type MatchKind string

const (
	MatchReal    MatchKind = "real"
	MatchVirtual MatchKind = "virtual"
	MatchCustom  MatchKind = "custom"
)

// Match is what a cashier's amount resolved to. For MatchVirtual, Item is the
// derived multi-quantity item (price already multiplied) and Item.ID still
// points at the catalog item whose stock it consumes.
type Match struct {
	Kind     MatchKind `json:"kind"`
	Item     Item      `json:"item"`
	Quantity int       `json:"quantity"`
}

func RealMatch(item Item) Match {
	return Match{Kind: MatchReal, Item: item, Quantity: 1}
}

func VirtualMatch(item Item, qty int) Match {
	q := decimal.NewFromInt(int64(qty))
	virtual := item
	virtual.Name = fmt.Sprintf("%s (%d pcs)", item.Name, qty)
	virtual.BasePrice = item.BasePrice.Mul(q)
	virtual.MaxDiscountFixed = item.MaxDiscountFixed.Mul(q)
	return Match{Kind: MatchVirtual, Item: virtual, Quantity: qty}
}

func CustomMatch(item Item) Match {
	return Match{Kind: MatchCustom, Item: item, Quantity: 1}
}

// StockItemID returns the catalog item whose stock a sale of this match
// consumes, and false when no stock should move.
func (m Match) StockItemID() (string, bool) {
	if m.Item.ID == "" || m.Quantity <= 0 {
		return "", false
	}
	return m.Item.ID, true
}

type DiscountAssessment struct {
	Amount       decimal.Decimal `json:"amount"`
	Percentage   decimal.Decimal `json:"percentage"`
	WithinPolicy bool            `json:"within_policy"`
}

type Session struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Role      Role      `json:"role"`
	StaffID   string    `json:"staff_id,omitempty"`
	StaffName string    `json:"staff_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) IsOwner() bool {
	return s.Role == RoleOwner
}

type TransactionDraft struct {
	ShopID           string             `json:"shop_id"`
	StaffID          string             `json:"staff_id,omitempty"`
	EnteredAmount    decimal.Decimal    `json:"entered_amount"`
	Match            Match              `json:"match"`
	Assessment       DiscountAssessment `json:"assessment"`
	PaymentMode      PaymentMode        `json:"payment_mode,omitempty"`
	CashReceived     *decimal.Decimal   `json:"cash_received,omitempty"`
	ChangeAmount     *decimal.Decimal   `json:"change_amount,omitempty"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	OverrideApproved bool               `json:"override_approved"`
	IdempotencyKey   string             `json:"idempotency_key,omitempty"`
}

type Transaction struct {
	ID                 string           `json:"id"`
	ShopID             string           `json:"shop_id"`
	StaffID            string           `json:"staff_id,omitempty"`
	EnteredAmount      decimal.Decimal  `json:"entered_amount"`
	InferredItemID     string           `json:"inferred_item_id,omitempty"`
	ItemName           string           `json:"item_name"`
	Quantity           int              `json:"quantity"`
	BasePrice          decimal.Decimal  `json:"base_price"`
	DiscountAmount     decimal.Decimal  `json:"discount_amount"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	PaymentMode        PaymentMode      `json:"payment_mode"`
	CashReceived       *decimal.Decimal `json:"cash_received,omitempty"`
	ChangeAmount       *decimal.Decimal `json:"change_amount,omitempty"`
	IsDiscountOverride bool             `json:"is_discount_override"`
	IsCreditSettled    bool             `json:"is_credit_settled"`
	Notes              string           `json:"notes,omitempty"`
	IdempotencyKey     string           `json:"-"`
	CreatedAt          time.Time        `json:"created_at"`
}

type InventoryMovement struct {
	ID               string       `json:"id"`
	ShopID           string       `json:"shop_id"`
	ItemID           string       `json:"item_id"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	MovementType     MovementType `json:"movement_type"`
	QuantityChange   int          `json:"quantity_change"`
	PreviousQuantity int          `json:"previous_quantity"`
	NewQuantity      int          `json:"new_quantity"`
	Notes            string       `json:"notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

type LoginRequest struct {
	ShopID   string `json:"shop_id"`
	Role     Role   `json:"role"`
	Passcode string `json:"passcode"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	Session     Session `json:"session"`
	ExpiresAt   string  `json:"expires_at"`
}

type ItemCreateRequest struct {
	Name                  string          `json:"name" validate:"required,max=120"`
	BasePrice             decimal.Decimal `json:"base_price" validate:"gte=0"`
	StockQuantity         int             `json:"stock_quantity" validate:"gte=0"`
	MinStockAlert         int             `json:"min_stock_alert" validate:"gte=0"`
	MaxDiscountPercentage decimal.Decimal `json:"max_discount_percentage" validate:"gte=0,lte=100"`
	MaxDiscountFixed      decimal.Decimal `json:"max_discount_fixed" validate:"gte=0"`
}

type ItemUpdateRequest struct {
	Name                  *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	BasePrice             *decimal.Decimal `json:"base_price,omitempty" validate:"omitempty,gte=0"`
	MinStockAlert         *int             `json:"min_stock_alert,omitempty" validate:"omitempty,gte=0"`
	MaxDiscountPercentage *decimal.Decimal `json:"max_discount_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxDiscountFixed      *decimal.Decimal `json:"max_discount_fixed,omitempty" validate:"omitempty,gte=0"`
	Active                *bool            `json:"is_active,omitempty"`
}

type StockAdjustRequest struct {
	MovementType MovementType `json:"movement_type" validate:"required,oneof=RESTOCK ADJUSTMENT"`
	Quantity     int          `json:"quantity" validate:"gte=0"`
	Notes        string       `json:"notes" validate:"max=240"`
}

type StaffCreateRequest struct {
	Name     string `json:"name" validate:"required,max=80"`
	Passcode string `json:"passcode" validate:"required,min=4,max=32,numeric"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type StaffUpdateRequest struct {
	Active bool `json:"is_active"`
}

type InferenceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type KeyPressRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=32"`
}

// SelectItemRequest pins either a saved catalog item (ItemID) or an unsaved
// custom item (Name and BasePrice).
type SelectItemRequest struct {
	ItemID    string           `json:"item_id,omitempty"`
	Name      string           `json:"name,omitempty" validate:"max=120"`
	BasePrice *decimal.Decimal `json:"base_price,omitempty"`
}

type DiscountReviewRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

type PaymentModeRequest struct {
	Mode PaymentMode `json:"mode" validate:"required,oneof=CASH UPI CREDIT"`
}

type CashReceivedRequest struct {
	CashReceived *decimal.Decimal `json:"cash_received"`
}
