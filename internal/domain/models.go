package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money travels as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// FallbackVariantLabel is the variant row used for sale items when neither the
// item nor the product names a variant.
const FallbackVariantLabel = "-"

type Product struct {
	ID       int64            `json:"id" db:"id"`
	SKU      string           `json:"sku" db:"sku"`
	Name     string           `json:"name" db:"name"`
	Variant  *string          `json:"variant" db:"variant"`
	Price    decimal.Decimal  `json:"price" db:"price"`
	ImageURL *string          `json:"image_url" db:"image_url"`
	Variants []ProductVariant `json:"variants" db:"-"`
}

type ProductVariant struct {
	ID        int64               `json:"id" db:"id"`
	ProductID int64               `json:"product_id" db:"product_id"`
	Variant   string              `json:"variant" db:"variant"`
	Stock     int                 `json:"stock" db:"stock"`
	MinStock  int                 `json:"min_stock" db:"min_stock"`
	Price     decimal.NullDecimal `json:"price" db:"price"`
	ImageURL  *string             `json:"image_url" db:"image_url"`
}

type ProductCreateRequest struct {
	SKU      string          `json:"sku" validate:"required,max=64"`
	Name     string          `json:"name" validate:"required,max=255"`
	Variant  *string         `json:"variant,omitempty" validate:"omitempty,max=120"`
	Price    decimal.Decimal `json:"price"`
	ImageURL *string         `json:"image_url,omitempty"`
}

// ProductUpdateRequest only touches fields present in the request body.
type ProductUpdateRequest struct {
	SKU      Optional[string]          `json:"sku,omitzero"`
	Name     Optional[string]          `json:"name,omitzero"`
	Variant  Optional[string]          `json:"variant,omitzero"`
	Price    Optional[decimal.Decimal] `json:"price,omitzero"`
	ImageURL Optional[string]          `json:"image_url,omitzero"`
}

type VariantUpsertRequest struct {
	Variant  string              `json:"variant" validate:"required,max=120"`
	Stock    int                 `json:"stock"`
	MinStock int                 `json:"min_stock"`
	Price    decimal.NullDecimal `json:"price"`
}

type ProductPage struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
}

type Client struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Sale struct {
	ID            int64           `json:"id" db:"id"`
	ClientName    *string         `json:"client_name" db:"client_name"`
	Payment       string          `json:"payment" db:"payment"`
	Installments  int             `json:"installments" db:"installments"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`
	DiscountPct   decimal.Decimal `json:"discount_pct" db:"discount_pct"`
	Freight       decimal.Decimal `json:"freight" db:"freight"`
	Received      decimal.Decimal `json:"received" db:"received"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	Total         decimal.Decimal `json:"total" db:"total"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Items         []SaleItem      `json:"items" db:"-"`
}

// SaleItem is a snapshot taken at sale time. It never points back at the
// live product or variant rows.
type SaleItem struct {
	ID      int64           `json:"id" db:"id"`
	SaleID  int64           `json:"sale_id" db:"sale_id"`
	SKU     *string         `json:"sku" db:"sku"`
	Name    string          `json:"name" db:"name"`
	Variant *string         `json:"variant" db:"variant"`
	Qty     int             `json:"qty" db:"qty"`
	Price   decimal.Decimal `json:"price" db:"price"`
}

type SaleItemInput struct {
	SKU     *string         `json:"sku"`
	Name    string          `json:"name" validate:"required,max=255"`
	Variant *string         `json:"variant"`
	Qty     int             `json:"qty"`
	Price   decimal.Decimal `json:"price"`
}

type SaleRequest struct {
	ClientName    *string         `json:"client_name"`
	Payment       string          `json:"payment" validate:"required,max=50"`
	Installments  int             `json:"installments" validate:"min=0"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	DiscountPct   decimal.Decimal `json:"discount_pct"`
	Freight       decimal.Decimal `json:"freight"`
	Received      decimal.Decimal `json:"received"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	Items         []SaleItemInput `json:"items" validate:"required,dive"`
}

type KPIs struct {
	Orders       int64           `json:"orders"`
	Revenue      decimal.Decimal `json:"revenue"`
	AvgTicket    decimal.Decimal `json:"avg_ticket"`
	MonthRevenue decimal.Decimal `json:"month_revenue"`
}

type DashboardSummary struct {
	KPIs  KPIs   `json:"kpis"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type TopProduct struct {
	Name    string          `json:"name" db:"name"`
	Qty     int64           `json:"qty" db:"qty"`
	Revenue decimal.Decimal `json:"revenue" db:"revenue"`
}

type SalesTotals struct {
	Orders  int64           `db:"orders"`
	Revenue decimal.Decimal `db:"revenue"`
}
