// Package sale records sales and their cancellation. Each operation is one
// unit of work covering the header, its lines, the stock movements, the
// promotions it used and the cash it moved.
package sale

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
	"kasirinaja/posledger/internal/obs"
	"kasirinaja/posledger/internal/promotion"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var (
	ErrNoLineItems      = errors.New("no line item could be recorded")
	ErrLineItemRejected = errors.New("line item rejected")
	ErrSaleNotFound     = errors.New("sale not found")
	ErrAlreadyCancelled = errors.New("sale already cancelled")
)

// errProductUnavailable covers products that exist but are soft-deleted.
var errProductUnavailable = errors.New("product unavailable")

const paymentCash = "cash"

type Config struct {
	LineItemPolicy domain.LineItemPolicy
	// StackPromotions is the default when a request does not say.
	StackPromotions bool
	// RequireCashSession rejects cash sales when no session is open instead
	// of recording them with a warning.
	RequireCashSession bool
}

// Request is a sale as submitted by a cashier.
type Request struct {
	domain.SaleCreateRequest
	CashierID string
}

type Ledger struct {
	store   store.Store
	stock   *inventory.Ledger
	cash    *cashsession.Ledger
	cfg     Config
	logger  zerolog.Logger
	metrics *obs.LedgerMetrics
	now     func() time.Time
}

func NewLedger(s store.Store, stock *inventory.Ledger, cash *cashsession.Ledger, cfg Config, logger zerolog.Logger, metrics *obs.LedgerMetrics) *Ledger {
	if cfg.LineItemPolicy == "" {
		cfg.LineItemPolicy = domain.LineItemSkip
	}
	return &Ledger{
		store:   s,
		stock:   stock,
		cash:    cash,
		cfg:     cfg,
		logger:  logger.With().Str("component", "sale").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validateRequest(req Request) error {
	if err := domain.Validate(req.SaleCreateRequest); err != nil {
		return err
	}
	if req.Total.IsNegative() {
		return domain.Invalidf("total must not be negative")
	}
	if req.Discount.IsNegative() {
		return domain.Invalidf("discount must not be negative")
	}
	for i, item := range req.Items {
		if item.LineDiscount.IsNegative() {
			return domain.Invalidf("items[%d]: line discount must not be negative", i)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return domain.Invalidf("items[%d]: unit price must not be negative", i)
		}
		if item.TaxRate != nil && item.TaxRate.IsNegative() {
			return domain.Invalidf("items[%d]: tax rate must not be negative", i)
		}
	}
	return nil
}

// Create records a sale. Lines that reference an unknown or soft-deleted
// product follow the configured policy: skip drops the line with a warning,
// abort fails the whole sale. The sale fails when no line survives.
func (l *Ledger) Create(ctx context.Context, req Request) (domain.SaleResult, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		req.CashierID = "system"
	}
	if err := validateRequest(req); err != nil {
		l.metrics.SaleCreated("invalid", 0)
		return domain.SaleResult{Warnings: []string{}}, err
	}
	stack := l.cfg.StackPromotions
	if req.StackPromotions != nil {
		stack = *req.StackPromotions
	}

	var (
		sale     domain.Sale
		warnings []string
		skipped  int
		applied  []domain.DiscountApplication
	)
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		at := l.now()
		customerID, warning, err := l.resolveCustomer(ctx, tx, req.CustomerID, at)
		if err != nil {
			return err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}

		sale = domain.Sale{
			ID:            xid.New("sale"),
			CustomerID:    customerID,
			PaymentMethod: req.PaymentMethod,
			Status:        domain.SaleStatusCompleted,
			CashierID:     req.CashierID,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		lines := make([]promotion.Line, 0, len(req.Items))
		for i, itemReq := range req.Items {
			item, product, movement, err := l.recordLine(ctx, tx, sale, i, itemReq)
			if err != nil {
				if !isLineFailure(err) {
					return err
				}
				if l.cfg.LineItemPolicy == domain.LineItemAbort {
					return fmt.Errorf("%w: line %d: %v", ErrLineItemRejected, i+1, err)
				}
				skipped++
				warnings = append(warnings, fmt.Sprintf("line %d skipped: %v", i+1, err))
				continue
			}
			if movement.Clamped() {
				warnings = append(warnings, fmt.Sprintf("line %d: stock for %s clamped at zero (requested %d, applied %d)",
					i+1, product.ID, movement.RequestedQuantity, movement.Quantity))
			}
			sale.Items = append(sale.Items, item)
			lines = append(lines, promotion.Line{
				ProductID:  product.ID,
				CategoryID: product.CategoryID,
				Quantity:   item.Quantity,
				UnitPrice:  item.UnitPrice,
				Subtotal:   item.Subtotal,
			})
		}
		if len(sale.Items) == 0 {
			return ErrNoLineItems
		}

		subtotal, tax := decimal.Zero, decimal.Zero
		for _, item := range sale.Items {
			subtotal = subtotal.Add(item.Subtotal)
			tax = tax.Add(domain.RoundMoney(domain.PercentOf(item.Subtotal, item.TaxRate)))
		}

		var (
			promoTotal    decimal.Decimal
			promoWarnings []string
		)
		room := domain.MaxMoney(subtotal.Sub(req.Discount), decimal.Zero)
		cart := promotion.Cart{Lines: lines, CouponCode: req.CouponCode, Now: at}
		applied, promoTotal, promoWarnings, err = l.applyPromotions(ctx, tx, sale.ID, cart, stack, room)
		if err != nil {
			return err
		}
		warnings = append(warnings, promoWarnings...)

		discount := domain.MinMoney(domain.RoundMoney(req.Discount.Add(promoTotal)), subtotal)
		sale.Subtotal = subtotal
		sale.Discount = discount
		sale.Tax = tax
		sale.Total = subtotal.Sub(discount).Add(tax)
		sale.Promotions = applied
		if err := tx.UpdateSaleTotals(ctx, sale); err != nil {
			return err
		}
		if !domain.WithinTolerance(*req.Total, sale.Total) {
			warnings = append(warnings, fmt.Sprintf("submitted total %s differs from recorded total %s",
				req.Total.StringFixed(2), sale.Total.StringFixed(2)))
		}

		if sale.PaymentMethod == paymentCash && sale.Total.IsPositive() {
			_, err := l.cash.RecordInTx(ctx, tx, cashsession.Entry{
				Direction:   domain.CashIngress,
				Kind:        domain.CashSalePayment,
				Amount:      sale.Total,
				Concept:     "sale " + sale.ID,
				ReferenceID: sale.ID,
				Actor:       sale.CashierID,
			})
			switch {
			case errors.Is(err, cashsession.ErrNoOpenSession) && !l.cfg.RequireCashSession:
				warnings = append(warnings, "no open cash session; cash payment not recorded in the drawer")
			case err != nil:
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.metrics.SaleCreated("failed", skipped)
		l.logger.Warn().Err(err).Str("cashier_id", req.CashierID).Int("items", len(req.Items)).Msg("sale_rejected")
		return domain.SaleResult{Warnings: nonNil(warnings)}, err
	}

	l.metrics.SaleCreated("completed", skipped)
	for _, app := range applied {
		l.metrics.PromotionApplied(string(app.PromotionKind))
	}
	l.logger.Info().
		Str("sale_id", sale.ID).
		Str("total", sale.Total.StringFixed(2)).
		Int("items", len(sale.Items)).
		Int("skipped", skipped).
		Int("promotions", len(applied)).
		Str("cashier_id", sale.CashierID).
		Msg("sale_created")
	return domain.SaleResult{Success: true, ID: sale.ID, Warnings: nonNil(warnings)}, nil
}

func (l *Ledger) resolveCustomer(ctx context.Context, tx store.Tx, customerID string, at time.Time) (string, string, error) {
	warning := ""
	if customerID != "" && customerID != domain.GenericCustomerID {
		_, err := tx.GetCustomer(ctx, customerID)
		if err == nil {
			return customerID, "", nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", "", err
		}
		warning = fmt.Sprintf("customer %s not found; recorded as generic customer", customerID)
	}

	if _, err := tx.GetCustomer(ctx, domain.GenericCustomerID); err == nil {
		return domain.GenericCustomerID, warning, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", "", err
	}
	err := tx.InsertCustomer(ctx, domain.Customer{
		ID:        domain.GenericCustomerID,
		Name:      domain.GenericCustomerName,
		Generic:   true,
		CreatedAt: at,
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return "", "", err
	}
	return domain.GenericCustomerID, warning, nil
}

// recordLine writes one detail row and its stock decrement under a
// savepoint, so a rejected line leaves nothing behind.
func (l *Ledger) recordLine(ctx context.Context, tx store.Tx, sale domain.Sale, index int, req domain.SaleItemRequest) (domain.SaleLineItem, domain.Product, domain.InventoryMovement, error) {
	savepoint := fmt.Sprintf("sale_line_%d", index)
	if err := tx.Savepoint(ctx, savepoint); err != nil {
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}

	item, product, movement, err := l.writeLine(ctx, tx, sale, index, req)
	if err != nil {
		if rbErr := tx.RollbackTo(ctx, savepoint); rbErr != nil {
			return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, rbErr
		}
		if relErr := tx.ReleaseSavepoint(ctx, savepoint); relErr != nil {
			return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, relErr
		}
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}
	if err := tx.ReleaseSavepoint(ctx, savepoint); err != nil {
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}
	return item, product, movement, nil
}

func (l *Ledger) writeLine(ctx context.Context, tx store.Tx, sale domain.Sale, index int, req domain.SaleItemRequest) (domain.SaleLineItem, domain.Product, domain.InventoryMovement, error) {
	product, err := tx.GetProductForUpdate(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, req.ProductID)
		}
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}
	if !product.Sellable() {
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, fmt.Errorf("%w: %s", errProductUnavailable, product.ID)
	}

	unitPrice := product.Price
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}
	taxRate := product.TaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}
	gross := unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	lineDiscount := domain.MinMoney(domain.RoundMoney(req.LineDiscount), gross)

	item := domain.SaleLineItem{
		ID:           xid.New("si"),
		SaleID:       sale.ID,
		LineNo:       index + 1,
		ProductID:    product.ID,
		Quantity:     req.Quantity,
		UnitPrice:    domain.RoundMoney(unitPrice),
		LineDiscount: lineDiscount,
		TaxRate:      taxRate,
		Subtotal:     domain.RoundMoney(gross.Sub(lineDiscount)),
	}
	if err := tx.InsertSaleItem(ctx, item); err != nil {
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}
	movement, err := l.stock.Adjust(ctx, tx, inventory.Adjustment{
		ProductID:   product.ID,
		Delta:       -req.Quantity,
		Reason:      "sale",
		ReferenceID: sale.ID,
		Actor:       sale.CashierID,
	})
	if err != nil {
		return domain.SaleLineItem{}, domain.Product{}, domain.InventoryMovement{}, err
	}
	return item, *product, movement, nil
}

func isLineFailure(err error) bool {
	return errors.Is(err, inventory.ErrProductNotFound) || errors.Is(err, errProductUnavailable)
}

// applyPromotions evaluates the cart and commits the selection inside tx.
// A coupon that was supplied but cannot be used fails the sale. Each
// application is trimmed to the discount room left on the sale, so the
// recorded amounts add up to what the sale actually granted.
func (l *Ledger) applyPromotions(ctx context.Context, tx store.Tx, saleID string, cart promotion.Cart, stack bool, room decimal.Decimal) ([]domain.DiscountApplication, decimal.Decimal, []string, error) {
	coupon, err := promotion.CheckCoupon(ctx, tx, cart.CouponCode, cart.Now)
	if err != nil {
		return nil, decimal.Zero, nil, err
	}
	discounts, err := tx.ListActiveDiscounts(ctx)
	if err != nil {
		return nil, decimal.Zero, nil, err
	}
	offers, err := tx.ListActiveOffers(ctx)
	if err != nil {
		return nil, decimal.Zero, nil, err
	}

	candidates := promotion.Evaluate(cart, discounts, offers)
	selected := promotion.Select(candidates, stack)
	applied := make([]domain.DiscountApplication, 0, len(selected))
	total := decimal.Zero
	couponApplied := false
	for _, c := range selected {
		c.Amount = domain.MinMoney(domain.RoundMoney(c.Amount), room.Sub(total))
		if !c.Amount.IsPositive() {
			continue
		}
		app, err := promotion.Apply(ctx, tx, saleID, c, cart.Now)
		if err != nil {
			return nil, decimal.Zero, nil, err
		}
		applied = append(applied, app)
		total = total.Add(app.Amount)
		if coupon != nil && c.Kind == domain.PromotionDiscount && c.ID == coupon.ID {
			couponApplied = true
		}
	}

	var warnings []string
	if coupon != nil && !couponApplied {
		warnings = append(warnings, couponSkipReason(coupon, candidates, selected))
	}
	return applied, total, warnings, nil
}

func couponSkipReason(coupon *domain.Discount, candidates, selected []promotion.Candidate) string {
	code := coupon.CouponCode
	for _, c := range selected {
		if c.Kind == domain.PromotionDiscount && c.ID == coupon.ID {
			return fmt.Sprintf("coupon %s not applied: no discount left on this sale", code)
		}
	}
	for _, c := range candidates {
		if c.Kind == domain.PromotionDiscount && c.ID == coupon.ID {
			return fmt.Sprintf("coupon %s not applied: a larger promotion was chosen", code)
		}
	}
	return fmt.Sprintf("coupon %s not applied: the cart does not qualify", code)
}

// Cancel reverses a completed sale: stock comes back line by line and a
// recorded cash payment is refunded from the open drawer. A line whose
// product can no longer be restored becomes a warning.
func (l *Ledger) Cancel(ctx context.Context, saleID string, actor string, reason string) (domain.SaleResult, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResult{Warnings: []string{}}, domain.Invalidf("sale id is required")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
	}

	var warnings []string
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
			}
			return err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return fmt.Errorf("%w: %s", ErrAlreadyCancelled, saleID)
		}

		for i, item := range sale.Items {
			warning, err := l.restoreLine(ctx, tx, sale.ID, i, item, actor)
			if err != nil {
				return err
			}
			if warning != "" {
				warnings = append(warnings, warning)
			}
		}

		ok, err := tx.MarkSaleCancelled(ctx, sale.ID, actor, strings.TrimSpace(reason), l.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAlreadyCancelled, saleID)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			Action:     "sale_cancel",
			EntityType: "sale",
			EntityID:   sale.ID,
			Detail:     strings.TrimSpace(reason),
			Actor:      actor,
			At:         l.now(),
		}); err != nil {
			return err
		}

		if sale.PaymentMethod != paymentCash {
			return nil
		}
		payment, err := tx.FindCashTransaction(ctx, domain.CashSalePayment, sale.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = l.cash.RecordInTx(ctx, tx, cashsession.Entry{
			Direction:   domain.CashEgress,
			Kind:        domain.CashSaleRefund,
			Amount:      payment.Amount,
			Concept:     "refund " + sale.ID,
			ReferenceID: sale.ID,
			Actor:       actor,
		})
		if errors.Is(err, cashsession.ErrNoOpenSession) {
			warnings = append(warnings, "no open cash session; refund not recorded in the drawer")
			return nil
		}
		return err
	})
	if err != nil {
		result := "failed"
		if errors.Is(err, ErrAlreadyCancelled) {
			result = "already_cancelled"
		}
		l.metrics.SaleCancelled(result)
		l.logger.Warn().Err(err).Str("sale_id", saleID).Str("actor", actor).Msg("sale_cancel_rejected")
		return domain.SaleResult{ID: saleID, Warnings: nonNil(warnings)}, err
	}

	l.metrics.SaleCancelled("cancelled")
	l.logger.Info().
		Str("sale_id", saleID).
		Str("actor", actor).
		Int("warnings", len(warnings)).
		Msg("sale_cancelled")
	return domain.SaleResult{Success: true, ID: saleID, Warnings: nonNil(warnings)}, nil
}

func (l *Ledger) restoreLine(ctx context.Context, tx store.Tx, saleID string, index int, item domain.SaleLineItem, actor string) (string, error) {
	savepoint := fmt.Sprintf("cancel_line_%d", index)
	if err := tx.Savepoint(ctx, savepoint); err != nil {
		return "", err
	}
	_, err := l.stock.Adjust(ctx, tx, inventory.Adjustment{
		ProductID:   item.ProductID,
		Delta:       item.Quantity,
		Reason:      "sale_cancel",
		ReferenceID: saleID,
		Actor:       actor,
	})
	if err == nil {
		return "", tx.ReleaseSavepoint(ctx, savepoint)
	}
	if !errors.Is(err, inventory.ErrProductNotFound) && !errors.Is(err, inventory.ErrInvalidAdjustment) {
		return "", err
	}
	if rbErr := tx.RollbackTo(ctx, savepoint); rbErr != nil {
		return "", rbErr
	}
	if relErr := tx.ReleaseSavepoint(ctx, savepoint); relErr != nil {
		return "", relErr
	}
	return fmt.Sprintf("line %d: stock not restored: %v", item.LineNo, err), nil
}

// GetByID returns the header with its lines and applied promotions.
func (l *Ledger) GetByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := l.store.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, id)
		}
		return nil, err
	}
	return sale, nil
}

func (l *Ledger) List(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	return l.store.ListSales(ctx, filter)
}

func nonNil(warnings []string) []string {
	if warnings == nil {
		return []string{}
	}
	out := make([]string, len(warnings))
	copy(out, warnings)
	return out
}
