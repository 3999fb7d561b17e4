package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "Completed"
	SaleStatusAnnulled  SaleStatus = "Annulled"
)

type Customer struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	TaxID   string `json:"id"`
}

type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineItem is one frozen row of a sale snapshot. ProductID refers to the
// durable product id so that SKU edits do not orphan history.
type LineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Sale struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Customer   Customer        `json:"customer"`
	Total      decimal.Decimal `json:"total"`
	Status     SaleStatus      `json:"status"`
	Operator   Operator        `json:"operator"`
	RequestID  string          `json:"request_id,omitempty"`
	Items      []LineItem      `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
	AnnulledAt *time.Time      `json:"annulled_at,omitempty"`
}

func SaleTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// SaleRecord is a sale as read back from storage, before its snapshot has
// been decoded. RawItems is whatever the items column held.
type SaleRecord struct {
	ID         string
	Code       string
	Customer   Customer
	Total      decimal.Decimal
	Status     SaleStatus
	Operator   Operator
	RequestID  string
	RawItems   []byte
	CreatedAt  time.Time
	AnnulledAt *time.Time
}

// SkippedItem describes a snapshot entry that could not be used.
type SkippedItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}
