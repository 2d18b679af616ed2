package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/audit"
	"kasirinaja/posledger/internal/cashsession"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/inventory"
	"kasirinaja/posledger/internal/promotion"
	"kasirinaja/posledger/internal/sale"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var ErrForbidden = errors.New("forbidden role")

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return audit.WithActor(ctx, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	return audit.ActorFromContext(ctx)
}

// SaleNotifier is told about every committed sale change. The receipt
// dispatcher implements it.
type SaleNotifier interface {
	SaleCommitted(ctx context.Context, saleID string)
}

// ReceiptSource returns the receipt projection of a sale.
type ReceiptSource interface {
	Snapshot(ctx context.Context, saleID string) (*domain.SaleSnapshot, error)
}

type Deps struct {
	Store    store.Store
	Sales    *sale.Ledger
	Stock    *inventory.Ledger
	Cash     *cashsession.Ledger
	Notifier SaleNotifier
	Receipts ReceiptSource
	Logger   zerolog.Logger
}

type Service struct {
	store    store.Store
	sales    *sale.Ledger
	stock    *inventory.Ledger
	cash     *cashsession.Ledger
	notifier SaleNotifier
	receipts ReceiptSource
	logger   zerolog.Logger
	now      func() time.Time
}

func New(deps Deps) *Service {
	return &Service{
		store:    deps.Store,
		sales:    deps.Sales,
		stock:    deps.Stock,
		cash:     deps.Cash,
		notifier: deps.Notifier,
		receipts: deps.Receipts,
		logger:   deps.Logger.With().Str("component", "service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.store.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.store.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// CreateProduct inserts the product with zero stock and books any initial
// stock through the ledger so it shows up in the movement trail.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, "admin")
	if err != nil {
		return domain.Product{}, err
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if err := domain.Validate(req); err != nil {
		return domain.Product{}, err
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, domain.Invalidf("price must be positive")
	}
	if req.TaxRate.IsNegative() || req.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Product{}, domain.Invalidf("tax rate must be between 0 and 100")
	}

	now := s.now()
	product := domain.Product{
		ID:         xid.New("prod"),
		SKU:        req.SKU,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		Price:      domain.RoundMoney(req.Price),
		TaxRate:    req.TaxRate,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock > 0 {
		movement, err := s.stock.ManualAdjust(ctx, inventory.Adjustment{
			ProductID: product.ID,
			Delta:     req.InitialStock,
			Reason:    "initial stock",
			Actor:     actor.Username,
			Direction: domain.MovementIn,
		})
		if err != nil {
			return domain.Product{}, err
		}
		product.Stock = movement.NewStock
	}

	s.logAudit(ctx, "product_create", "product", product.ID, fmt.Sprintf("sku=%s,price=%s,stock=%d", product.SKU, product.Price.StringFixed(2), product.Stock))
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, "admin"); err != nil {
		return err
	}
	if err := s.store.SoftDeleteProduct(ctx, strings.TrimSpace(id), s.now()); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", strings.TrimSpace(id), "")
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := requireRole(ctx, "cashier", "admin"); err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.TaxID = strings.TrimSpace(req.TaxID)
	if err := domain.Validate(req); err != nil {
		return domain.Customer{}, err
	}
	customer := domain.Customer{ID: xid.New("cust"), Name: req.Name, TaxID: req.TaxID, CreatedAt: s.now()}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", customer.ID, "")
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	c, err := s.store.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *c, nil
}

// CreateSale records the sale, then asks for a receipt snapshot. The
// notification runs after commit and cannot fail the sale.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResult, error) {
	actor, err := requireRole(ctx, "cashier", "admin")
	if err != nil {
		return domain.SaleResult{Warnings: []string{}}, err
	}
	result, err := s.sales.Create(ctx, sale.Request{SaleCreateRequest: req, CashierID: actor.Username})
	if err != nil {
		return result, err
	}
	s.notify(ctx, result.ID)
	return result, nil
}

func (s *Service) CancelSale(ctx context.Context, saleID string, reason string) (domain.SaleResult, error) {
	actor, err := requireRole(ctx, "cashier", "admin")
	if err != nil {
		return domain.SaleResult{Warnings: []string{}}, err
	}
	result, err := s.sales.Cancel(ctx, saleID, actor.Username, reason)
	if err != nil {
		return result, err
	}
	s.notify(ctx, saleID)
	return result, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.sales.GetByID(ctx, id)
}

var ErrReceiptsDisabled = errors.New("receipts are not configured")

func (s *Service) SaleReceipt(ctx context.Context, saleID string) (*domain.SaleSnapshot, error) {
	if s.receipts == nil {
		return nil, ErrReceiptsDisabled
	}
	snapshot, err := s.receipts.Snapshot(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", sale.ErrSaleNotFound, saleID)
	}
	return snapshot, err
}

func (s *Service) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	return s.sales.List(ctx, filter)
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.InventoryMovement, error) {
	actor, err := requireRole(ctx, "admin")
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.InventoryMovement{}, err
	}
	movement, err := s.stock.ManualAdjust(ctx, inventory.Adjustment{
		ProductID:   productID,
		Delta:       req.Delta,
		Reason:      req.Reason,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Actor:       actor.Username,
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInvalidAdjustment) {
			return domain.InventoryMovement{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return domain.InventoryMovement{}, err
	}
	return movement, nil
}

func (s *Service) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.InventoryMovement, error) {
	return s.stock.Movements(ctx, filter)
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	if _, err := requireRole(ctx, "admin"); err != nil {
		return domain.Discount{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.CouponCode = promotion.NormalizeCoupon(req.CouponCode)
	if err := domain.Validate(req); err != nil {
		return domain.Discount{}, err
	}
	if err := validateRule(req.Value, req.Kind == domain.DiscountPercentage, req.ValidFrom, req.ValidUntil); err != nil {
		return domain.Discount{}, err
	}
	if req.Cap.Valid && !req.Cap.Decimal.IsPositive() {
		return domain.Discount{}, domain.Invalidf("cap must be positive")
	}

	d := domain.Discount{
		ID:          xid.New("disc"),
		Name:        req.Name,
		Kind:        req.Kind,
		Scope:       req.Scope,
		ProductID:   strings.TrimSpace(req.ProductID),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		MinQuantity: req.MinQuantity,
		MinAmount:   req.MinAmount,
		Value:       req.Value,
		Cap:         req.Cap,
		ValidFrom:   utcPtr(req.ValidFrom),
		ValidUntil:  utcPtr(req.ValidUntil),
		UsageLimit:  req.UsageLimit,
		CouponCode:  req.CouponCode,
		Accumulable: req.Accumulable,
		Active:      true,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateDiscount(ctx, d); err != nil {
		return domain.Discount{}, err
	}
	s.logAudit(ctx, "discount_create", "discount", d.ID, fmt.Sprintf("kind=%s,scope=%s,value=%s", d.Kind, d.Scope, d.Value.String()))
	return d, nil
}

func (s *Service) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	return s.store.ListDiscounts(ctx)
}

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (domain.Offer, error) {
	if _, err := requireRole(ctx, "admin"); err != nil {
		return domain.Offer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := domain.Validate(req); err != nil {
		return domain.Offer{}, err
	}
	tiered := req.Kind == domain.OfferQuantityTier || req.Kind == domain.OfferAmountTier
	if err := validateRule(req.Rate, tiered, req.ValidFrom, req.ValidUntil); err != nil {
		return domain.Offer{}, err
	}
	switch {
	case req.Kind == domain.OfferBuyXGetY && req.MinQuantity < 1:
		return domain.Offer{}, domain.Invalidf("buy_x_get_y needs min_quantity of at least 1")
	case req.Kind == domain.OfferCombo && (!req.ComboPrice.Valid || req.ComboPrice.Decimal.IsNegative()):
		return domain.Offer{}, domain.Invalidf("combo needs a non-negative combo_price")
	}

	o := domain.Offer{
		ID:            xid.New("offer"),
		Name:          req.Name,
		Kind:          req.Kind,
		MinQuantity:   req.MinQuantity,
		Rate:          req.Rate,
		ComboPrice:    req.ComboPrice,
		RequiredItems: req.RequiredItems,
		FreeItems:     req.FreeItems,
		ValidFrom:     utcPtr(req.ValidFrom),
		ValidUntil:    utcPtr(req.ValidUntil),
		UsageLimit:    req.UsageLimit,
		Accumulable:   req.Accumulable,
		Active:        true,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateOffer(ctx, o); err != nil {
		return domain.Offer{}, err
	}
	s.logAudit(ctx, "offer_create", "offer", o.ID, fmt.Sprintf("kind=%s,items=%d", o.Kind, len(o.RequiredItems)))
	return o, nil
}

func (s *Service) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.store.ListOffers(ctx)
}

// PromotionPreview is what the cart would get if it were sold now.
type PromotionPreview struct {
	Candidates []promotion.Candidate `json:"candidates"`
	Selected   []promotion.Candidate `json:"selected"`
	Discount   decimal.Decimal       `json:"discount"`
	Subtotal   decimal.Decimal       `json:"subtotal"`
	Warnings   []string              `json:"warnings"`
}

// PreviewPromotions evaluates the cart without writing anything. Products
// that cannot be sold are left out with a warning, as a sale would.
func (s *Service) PreviewPromotions(ctx context.Context, req domain.PromotionPreviewRequest) (PromotionPreview, error) {
	if err := domain.Validate(req); err != nil {
		return PromotionPreview{}, err
	}
	now := s.now()
	preview := PromotionPreview{Warnings: []string{}}
	if _, err := promotion.CheckCoupon(ctx, s.store, req.CouponCode, now); err != nil {
		return PromotionPreview{}, err
	}

	cart := promotion.Cart{CouponCode: req.CouponCode, Now: now}
	for i, item := range req.Items {
		p, err := s.store.GetProduct(ctx, strings.TrimSpace(item.ProductID))
		if errors.Is(err, store.ErrNotFound) || (err == nil && !p.Sellable()) {
			preview.Warnings = append(preview.Warnings, fmt.Sprintf("line %d skipped: product %s unavailable", i+1, item.ProductID))
			continue
		}
		if err != nil {
			return PromotionPreview{}, err
		}
		cart.Lines = append(cart.Lines, promotion.Line{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  p.Price,
			Subtotal:   p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}

	discounts, err := s.store.ListDiscounts(ctx)
	if err != nil {
		return PromotionPreview{}, err
	}
	offers, err := s.store.ListOffers(ctx)
	if err != nil {
		return PromotionPreview{}, err
	}
	preview.Candidates = promotion.Evaluate(cart, discounts, offers)
	preview.Selected = promotion.Select(preview.Candidates, req.Stack)
	if preview.Selected == nil {
		preview.Selected = []promotion.Candidate{}
	}
	preview.Subtotal = cart.Subtotal()
	preview.Discount = domain.MinMoney(promotion.Total(preview.Selected), preview.Subtotal)
	return preview, nil
}

func (s *Service) OpenCashSession(ctx context.Context, req domain.CashSessionOpenRequest) (domain.CashSession, error) {
	actor, err := requireRole(ctx, "cashier", "admin")
	if err != nil {
		return domain.CashSession{}, err
	}
	return s.cash.Open(ctx, req.OpeningAmount, actor.Username)
}

func (s *Service) AddCashTransaction(ctx context.Context, req domain.CashTransactionRequest) (domain.CashTransaction, error) {
	actor, err := requireRole(ctx, "cashier", "admin")
	if err != nil {
		return domain.CashTransaction{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.CashTransaction{}, err
	}
	return s.cash.AddTransaction(ctx, req.Direction, req.Amount, req.Concept, actor.Username)
}

func (s *Service) CloseCashSession(ctx context.Context, id string, req domain.CashSessionCloseRequest) (domain.CashSession, error) {
	actor, err := requireRole(ctx, "cashier", "admin")
	if err != nil {
		return domain.CashSession{}, err
	}
	closed, err := s.cash.Close(ctx, id, req.CountedAmount, actor.Username)
	if err != nil {
		return domain.CashSession{}, err
	}
	return closed, nil
}

func (s *Service) CurrentCashSession(ctx context.Context) (domain.CashSessionSummary, error) {
	current, err := s.cash.Current(ctx)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	return s.cash.Summary(ctx, current.ID)
}

func (s *Service) CashSessionSummary(ctx context.Context, id string) (domain.CashSessionSummary, error) {
	return s.cash.Summary(ctx, id)
}

func (s *Service) CashTransactions(ctx context.Context, id string) ([]domain.CashTransaction, error) {
	return s.cash.Transactions(ctx, id)
}

func (s *Service) notify(ctx context.Context, saleID string) {
	if s.notifier == nil || saleID == "" {
		return
	}
	s.notifier.SaleCommitted(ctx, saleID)
}

// logAudit persists an entry for actions that have no ledger unit of their
// own. A failed write is logged and does not undo the action.
func (s *Service) logAudit(ctx context.Context, action, entityType, entityID, detail string) {
	err := audit.Record(ctx, s.store, audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		At:         s.now(),
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("audit_write_failed")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	return s.store.ListAuditLogs(ctx, filter)
}

func validateRule(value decimal.Decimal, percent bool, from, until *time.Time) error {
	if value.IsNegative() {
		return domain.Invalidf("value must not be negative")
	}
	if percent && value.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Invalidf("percentage must not exceed 100")
	}
	if from != nil && until != nil && until.Before(*from) {
		return domain.Invalidf("valid_until is before valid_from")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
