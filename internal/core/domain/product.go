package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const MaxPhotoURLs = 8

type Product struct {
	ID             string          `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	DiscountPrice  decimal.Decimal `json:"discount_price"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	Stock          int             `json:"stock"` // quantity on hand, never negative
	Category       string          `json:"category"`
	Brand          string          `json:"brand"`
	Barcode        string          `json:"barcode"`
	Branch         string          `json:"branch"`
	PhotoURLs      []string        `json:"photo_urls"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ImportSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}
