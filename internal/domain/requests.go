package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SaleCreateRequest carries a sale header and its lines. Total is the amount
// the caller displayed; the ledger recomputes its own and warns on mismatch.
type SaleCreateRequest struct {
	CustomerID      string            `json:"customer_id"`
	PaymentMethod   string            `json:"payment_method" validate:"required,oneof=cash card qris ewallet transfer"`
	Total           *decimal.Decimal  `json:"total" validate:"required"`
	Discount        decimal.Decimal   `json:"discount"`
	CouponCode      string            `json:"coupon_code" validate:"omitempty,max=64"`
	StackPromotions *bool             `json:"stack_promotions,omitempty"`
	Items           []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
}

// SaleItemRequest prices default to the product's current price and tax rate.
type SaleItemRequest struct {
	ProductID    string           `json:"product_id" validate:"required"`
	Quantity     int              `json:"quantity" validate:"required,min=1"`
	UnitPrice    *decimal.Decimal `json:"unit_price,omitempty"`
	LineDiscount decimal.Decimal  `json:"line_discount"`
	TaxRate      *decimal.Decimal `json:"tax_rate,omitempty"`
}

type SaleCancelRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type StockAdjustRequest struct {
	Delta       int    `json:"delta" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=200"`
	ReferenceID string `json:"reference_id" validate:"omitempty,max=64"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=200"`
	CategoryID   string          `json:"category_id" validate:"max=64"`
	Price        decimal.Decimal `json:"price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	InitialStock int             `json:"initial_stock" validate:"min=0"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	TaxID string `json:"tax_id" validate:"max=32"`
}

type DiscountCreateRequest struct {
	Name        string              `json:"name" validate:"required,max=120"`
	Kind        DiscountKind        `json:"kind" validate:"required,oneof=percentage fixed"`
	Scope       DiscountScope       `json:"scope" validate:"required,oneof=general product category quantity amount"`
	ProductID   string              `json:"product_id" validate:"required_if=Scope product"`
	CategoryID  string              `json:"category_id" validate:"required_if=Scope category"`
	MinQuantity int                 `json:"min_quantity" validate:"min=0"`
	MinAmount   decimal.Decimal     `json:"min_amount"`
	Value       decimal.Decimal     `json:"value"`
	Cap         decimal.NullDecimal `json:"cap"`
	ValidFrom   *time.Time          `json:"valid_from,omitempty"`
	ValidUntil  *time.Time          `json:"valid_until,omitempty"`
	UsageLimit  *int                `json:"usage_limit,omitempty" validate:"omitempty,min=1"`
	CouponCode  string              `json:"coupon_code" validate:"omitempty,max=64"`
	Accumulable bool                `json:"accumulable"`
}

type OfferCreateRequest struct {
	Name          string              `json:"name" validate:"required,max=120"`
	Kind          OfferKind           `json:"kind" validate:"required,oneof=buy_x_get_y combo quantity_tier amount_tier"`
	MinQuantity   int                 `json:"min_quantity" validate:"min=0"`
	Rate          decimal.Decimal     `json:"rate"`
	ComboPrice    decimal.NullDecimal `json:"combo_price"`
	RequiredItems []OfferItem         `json:"required_items" validate:"required,min=1,dive"`
	FreeItems     []OfferItem         `json:"free_items" validate:"dive"`
	ValidFrom     *time.Time          `json:"valid_from,omitempty"`
	ValidUntil    *time.Time          `json:"valid_until,omitempty"`
	UsageLimit    *int                `json:"usage_limit,omitempty" validate:"omitempty,min=1"`
	Accumulable   bool                `json:"accumulable"`
}

type PromotionPreviewRequest struct {
	CouponCode string                 `json:"coupon_code"`
	Stack      bool                   `json:"stack"`
	Items      []PromotionPreviewItem `json:"items" validate:"required,min=1,dive"`
}

type PromotionPreviewItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type CashSessionOpenRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type CashTransactionRequest struct {
	Direction CashDirection   `json:"direction" validate:"required,oneof=ingress egress"`
	Amount    decimal.Decimal `json:"amount"`
	Concept   string          `json:"concept" validate:"required,max=200"`
}

type CashSessionCloseRequest struct {
	CountedAmount decimal.Decimal `json:"counted_amount"`
}
