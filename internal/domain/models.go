package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenericCustomerID is the reserved customer used when a sale names no
// customer or names one that does not exist.
const (
	GenericCustomerID   = "cust_generic"
	GenericCustomerName = "Generic customer"
)

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// LineItemPolicy decides what a sale does when one of its line items cannot
// be applied (unknown or soft-deleted product).
type LineItemPolicy string

const (
	LineItemSkip  LineItemPolicy = "skip"
	LineItemAbort LineItemPolicy = "abort"
)

func ParseLineItemPolicy(raw string) (LineItemPolicy, error) {
	switch LineItemPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LineItemSkip:
		return LineItemSkip, nil
	case LineItemAbort:
		return LineItemAbort, nil
	default:
		return "", fmt.Errorf("unknown line item policy %q", raw)
	}
}

type Actor struct {
	Username string
	Role     string
}

type Product struct {
	ID         string          `json:"id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Stock      int             `json:"stock"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

// Sellable reports whether the product may appear on a new sale line.
func (p Product) Sellable() bool {
	return p.Active && p.DeletedAt == nil
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id,omitempty"`
	Generic   bool      `json:"generic"`
	CreatedAt time.Time `json:"created_at"`
}

type Sale struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customer_id"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	Discount      decimal.Decimal       `json:"discount"`
	Tax           decimal.Decimal       `json:"tax"`
	Total         decimal.Decimal       `json:"total"`
	PaymentMethod string                `json:"payment_method"`
	Status        SaleStatus            `json:"status"`
	CashierID     string                `json:"cashier_id"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CancelledAt   *time.Time            `json:"cancelled_at,omitempty"`
	CancelledBy   string                `json:"cancelled_by,omitempty"`
	CancelReason  string                `json:"cancel_reason,omitempty"`
	Items         []SaleLineItem        `json:"items,omitempty"`
	Promotions    []DiscountApplication `json:"promotions,omitempty"`
}

// SaleLineItem.Subtotal is the pre-tax amount: Quantity*UnitPrice - LineDiscount.
type SaleLineItem struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	LineNo       int             `json:"line_no"`
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineDiscount decimal.Decimal `json:"line_discount"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// SaleResult is what the sale ledger hands back to the calling UI.
type SaleResult struct {
	Success  bool     `json:"success"`
	ID       string   `json:"id,omitempty"`
	Warnings []string `json:"warnings"`
}

type MovementDirection string

const (
	MovementIn     MovementDirection = "in"
	MovementOut    MovementDirection = "out"
	MovementAdjust MovementDirection = "adjust"
)

// InventoryMovement is append-only. Quantity is what was actually applied to
// the stock counter; RequestedQuantity differs from it only when the
// non-negative floor clamped a decrement.
type InventoryMovement struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	Direction         MovementDirection `json:"direction"`
	Quantity          int               `json:"quantity"`
	RequestedQuantity int               `json:"requested_quantity"`
	PreviousStock     int               `json:"previous_stock"`
	NewStock          int               `json:"new_stock"`
	Reason            string            `json:"reason"`
	ReferenceID       string            `json:"reference_id,omitempty"`
	Actor             string            `json:"actor"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (m InventoryMovement) Clamped() bool {
	return m.Quantity != m.RequestedQuantity
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

type DiscountScope string

const (
	ScopeGeneral  DiscountScope = "general"
	ScopeProduct  DiscountScope = "product"
	ScopeCategory DiscountScope = "category"
	ScopeQuantity DiscountScope = "quantity"
	ScopeAmount   DiscountScope = "amount"
)

type Discount struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Kind        DiscountKind        `json:"kind"`
	Scope       DiscountScope       `json:"scope"`
	ProductID   string              `json:"product_id,omitempty"`
	CategoryID  string              `json:"category_id,omitempty"`
	MinQuantity int                 `json:"min_quantity,omitempty"`
	MinAmount   decimal.Decimal     `json:"min_amount"`
	Value       decimal.Decimal     `json:"value"`
	Cap         decimal.NullDecimal `json:"cap"`
	ValidFrom   *time.Time          `json:"valid_from,omitempty"`
	ValidUntil  *time.Time          `json:"valid_until,omitempty"`
	UsageCount  int                 `json:"usage_count"`
	UsageLimit  *int                `json:"usage_limit,omitempty"`
	CouponCode  string              `json:"coupon_code,omitempty"`
	Accumulable bool                `json:"accumulable"`
	Active      bool                `json:"active"`
	CreatedAt   time.Time           `json:"created_at"`
}

type OfferKind string

const (
	OfferBuyXGetY     OfferKind = "buy_x_get_y"
	OfferCombo        OfferKind = "combo"
	OfferQuantityTier OfferKind = "quantity_tier"
	OfferAmountTier   OfferKind = "amount_tier"
)

type OfferItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// Offer is a multi-item promotion. Rate is a percentage (15 means 15%) and
// applies to the tier kinds; ComboPrice applies to combos; MinQuantity is X
// in buy-X-get-one and the quantity threshold for amount tiers.
type Offer struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Kind          OfferKind           `json:"kind"`
	MinQuantity   int                 `json:"min_quantity"`
	Rate          decimal.Decimal     `json:"rate"`
	ComboPrice    decimal.NullDecimal `json:"combo_price"`
	RequiredItems []OfferItem         `json:"required_items"`
	FreeItems     []OfferItem         `json:"free_items,omitempty"`
	ValidFrom     *time.Time          `json:"valid_from,omitempty"`
	ValidUntil    *time.Time          `json:"valid_until,omitempty"`
	UsageCount    int                 `json:"usage_count"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	Accumulable   bool                `json:"accumulable"`
	Active        bool                `json:"active"`
	CreatedAt     time.Time           `json:"created_at"`
}

type PromotionKind string

const (
	PromotionDiscount PromotionKind = "discount"
	PromotionOffer    PromotionKind = "offer"
)

type DiscountApplication struct {
	ID            string          `json:"id"`
	SaleID        string          `json:"sale_id"`
	PromotionKind PromotionKind   `json:"promotion_kind"`
	PromotionID   string          `json:"promotion_id"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CashSessionStatus string

const (
	CashSessionOpen   CashSessionStatus = "open"
	CashSessionClosed CashSessionStatus = "closed"
)

type CashSession struct {
	ID            string              `json:"id"`
	OpeningAmount decimal.Decimal     `json:"opening_amount"`
	ClosingAmount decimal.NullDecimal `json:"closing_amount"`
	Status        CashSessionStatus   `json:"status"`
	OpenedBy      string              `json:"opened_by"`
	ClosedBy      string              `json:"closed_by,omitempty"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
}

type CashDirection string

const (
	CashIngress CashDirection = "ingress"
	CashEgress  CashDirection = "egress"
)

type CashKind string

const (
	CashOpening     CashKind = "opening"
	CashSalePayment CashKind = "sale_payment"
	CashSaleRefund  CashKind = "sale_refund"
	CashManual      CashKind = "manual"
)

type CashTransaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Direction   CashDirection   `json:"direction"`
	Kind        CashKind        `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Concept     string          `json:"concept"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Actor       string          `json:"actor"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CashSessionSummary compares the recorded balance with the counted amount.
// It is informational only; closing never enforces it.
type CashSessionSummary struct {
	Session      CashSession         `json:"session"`
	Expected     decimal.Decimal     `json:"expected"`
	Counted      decimal.NullDecimal `json:"counted"`
	Difference   decimal.NullDecimal `json:"difference"`
	Ingress      decimal.Decimal     `json:"ingress"`
	Egress       decimal.Decimal     `json:"egress"`
	Transactions int                 `json:"transactions"`
}

// SaleSnapshot is the projection published for receipt renderers.
type SaleSnapshot struct {
	Sale        Sale      `json:"sale"`
	Customer    Customer  `json:"customer"`
	GeneratedAt time.Time `json:"generated_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog is one back-office action kept for later review.
type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
