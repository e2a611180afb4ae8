package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/cache"
	"github.com/thechillpixel0/tallyra/internal/discount"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/inference"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/validator"
)

var ErrForbidden = errors.New("owner role required")

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

type Options struct {
	CatalogTTL time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

type Service struct {
	repo       store.Repository
	catalog    cache.CatalogCache
	catalogTTL time.Duration
	engine     *inference.Engine
	log        zerolog.Logger
	now        func() time.Time
}

func New(repo store.Repository, catalog cache.CatalogCache, opts Options) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:       repo,
		catalog:    catalog,
		catalogTTL: opts.CatalogTTL,
		engine:     inference.NewEngine(),
		log:        opts.Logger.With().Str("component", "service").Logger(),
		now:        opts.Now,
	}
}

func (s *Service) Engine() *inference.Engine {
	return s.engine
}

func (s *Service) GetShop(ctx context.Context, shopID string) (domain.Shop, error) {
	shop, err := s.repo.GetShop(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

// ListActiveItems returns the shop's sellable catalog, read through the
// catalog cache. Cache failures degrade to a direct read.
func (s *Service) ListActiveItems(ctx context.Context, shopID string) ([]domain.Item, error) {
	if items, ok, err := s.catalog.GetCatalog(ctx, shopID); err == nil && ok {
		return items, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("shop_id", shopID).Msg("catalog cache read failed")
	}

	items, err := s.repo.ListActiveItems(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetCatalog(ctx, shopID, items, s.catalogTTL); err != nil {
		s.log.Warn().Err(err).Str("shop_id", shopID).Msg("catalog cache write failed")
	}
	return items, nil
}

func (s *Service) invalidateCatalog(ctx context.Context, shopID string) {
	if err := s.catalog.Invalidate(ctx, shopID); err != nil {
		s.log.Warn().Err(err).Str("shop_id", shopID).Msg("catalog cache invalidation failed")
	}
}

type Preview struct {
	Result      inference.Result           `json:"result"`
	Assessment  *domain.DiscountAssessment `json:"assessment,omitempty"`
	NeedsReview bool                       `json:"needs_review"`
}

// PreviewAmount runs inference for amount against the caller's catalog
// without touching any workflow.
func (s *Service) PreviewAmount(ctx context.Context, amount decimal.Decimal) (Preview, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return Preview{}, ErrForbidden
	}
	if !amount.IsPositive() {
		return Preview{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
	}
	items, err := s.ListActiveItems(ctx, session.ShopID)
	if err != nil {
		return Preview{}, err
	}
	res := s.engine.Infer(amount, items)
	out := Preview{Result: res}
	if res.Found() {
		a := discount.Assess(res.Match.Item, amount)
		out.Assessment = &a
		out.NeedsReview = discount.NeedsReview(a, session.Role)
	}
	return out, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, session.ShopID)
}

// GetItem returns one of the caller's shop items. Inactive items are visible
// only to owners.
func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.Item{}, ErrForbidden
	}
	item, err := s.ownedItem(ctx, session, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !item.Active && !session.IsOwner() {
		return domain.Item{}, store.ErrNotFound
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validator.Struct(req); err != nil {
		return domain.Item{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		ShopID:                session.ShopID,
		Name:                  req.Name,
		BasePrice:             req.BasePrice,
		StockQuantity:         req.StockQuantity,
		MinStockAlert:         req.MinStockAlert,
		MaxDiscountPercentage: req.MaxDiscountPercentage,
		MaxDiscountFixed:      req.MaxDiscountFixed,
		Active:                true,
	})
	if err != nil {
		return domain.Item{}, err
	}

	if created.StockQuantity > 0 {
		s.recordMovement(ctx, domain.InventoryMovement{
			ShopID:           created.ShopID,
			ItemID:           created.ID,
			MovementType:     domain.MovementRestock,
			QuantityChange:   created.StockQuantity,
			PreviousQuantity: 0,
			NewQuantity:      created.StockQuantity,
			Notes:            "initial stock",
		})
	}
	s.invalidateCatalog(ctx, session.ShopID)
	s.log.Info().Str("shop_id", session.ShopID).Str("item_id", created.ID).Msg("item created")
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.Item, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if err := validator.Struct(req); err != nil {
		return domain.Item{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	existing, err := s.ownedItem(ctx, session, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	next := *existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.BasePrice != nil {
		next.BasePrice = *req.BasePrice
	}
	if req.MinStockAlert != nil {
		next.MinStockAlert = *req.MinStockAlert
	}
	if req.MaxDiscountPercentage != nil {
		next.MaxDiscountPercentage = *req.MaxDiscountPercentage
	}
	if req.MaxDiscountFixed != nil {
		next.MaxDiscountFixed = *req.MaxDiscountFixed
	}
	if req.Active != nil {
		next.Active = *req.Active
	}

	saved, err := s.repo.UpdateItem(ctx, next)
	if err != nil {
		return domain.Item{}, err
	}
	s.invalidateCatalog(ctx, session.ShopID)
	return *saved, nil
}

// AdjustStock applies an owner restock (adds quantity atomically) or a stock
// count correction (sets quantity) and records the movement.
func (s *Service) AdjustStock(ctx context.Context, itemID string, req domain.StockAdjustRequest) (domain.InventoryMovement, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if err := validator.Struct(req); err != nil {
		return domain.InventoryMovement{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if _, err := s.ownedItem(ctx, session, itemID); err != nil {
		return domain.InventoryMovement{}, err
	}

	var prior, next int
	switch req.MovementType {
	case domain.MovementRestock:
		if req.Quantity < 1 {
			return domain.InventoryMovement{}, fmt.Errorf("%w: restock quantity must be positive", store.ErrInvalidInput)
		}
		prior, next, err = s.repo.RestockStock(ctx, itemID, req.Quantity)
	default:
		next = req.Quantity
		prior, err = s.repo.AdjustStock(ctx, itemID, next)
	}
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	movement := domain.InventoryMovement{
		ShopID:           session.ShopID,
		ItemID:           itemID,
		MovementType:     req.MovementType,
		QuantityChange:   next - prior,
		PreviousQuantity: prior,
		NewQuantity:      next,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        s.now(),
	}
	if err := s.repo.RecordInventoryMovement(ctx, movement); err != nil {
		return domain.InventoryMovement{}, err
	}
	s.invalidateCatalog(ctx, session.ShopID)
	return movement, nil
}

func (s *Service) ListInventoryMovements(ctx context.Context, itemID string, limit int) ([]domain.InventoryMovement, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedItem(ctx, session, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListInventoryMovements(ctx, itemID, clampLimit(limit))
}

// LowStockItems lists active items at or below their alert threshold.
func (s *Service) LowStockItems(ctx context.Context) ([]domain.Item, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	items, err := s.repo.ListActiveItems(ctx, session.ShopID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0)
	for _, item := range items {
		if item.LowStock() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Service) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	txs, err := s.repo.ListTransactions(ctx, session.ShopID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if session.IsOwner() {
		return txs, nil
	}
	own := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.StaffID == session.StaffID {
			own = append(own, tx)
		}
	}
	return own, nil
}

func (s *Service) ownedItem(ctx context.Context, session domain.Session, itemID string) (*domain.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ShopID != session.ShopID {
		return nil, store.ErrNotFound
	}
	return item, nil
}

func (s *Service) recordMovement(ctx context.Context, movement domain.InventoryMovement) {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = s.now()
	}
	if err := s.repo.RecordInventoryMovement(ctx, movement); err != nil {
		s.log.Warn().Err(err).Str("item_id", movement.ItemID).Str("movement_type", string(movement.MovementType)).Msg("inventory movement not recorded")
	}
}

func requireOwner(ctx context.Context) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || !session.IsOwner() {
		return domain.Session{}, ErrForbidden
	}
	return session, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
