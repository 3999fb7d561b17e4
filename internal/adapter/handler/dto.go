package handler

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

// SaleRequest is the record-sale payload shared by the HTTP and gRPC
// transports.
type SaleRequest struct {
	Customer     CustomerRequest   `json:"customer"`
	Items        []SaleItemRequest `json:"items"`
	OperatorID   string            `json:"operatorId"`
	OperatorName string            `json:"operatorName"`
	RequestID    string            `json:"requestId,omitempty"`
}

type CustomerRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	ID      string `json:"id"`
}

type SaleItemRequest struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

type AnnulRequest struct {
	SaleID string `json:"saleId"`
}

type ListSalesRequest struct{}

type ListSalesResponse struct {
	Sales []domain.Sale `json:"sales"`
}

type ImportRequest struct {
	Products []domain.Product `json:"products"`
}

func (r SaleRequest) toService() service.RecordSaleRequest {
	items := make([]domain.LineItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.LineItem{
			ProductID:   it.ProductID,
			ProductName: it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			UnitCost:    it.UnitCost,
		}
	}
	return service.RecordSaleRequest{
		Customer: domain.Customer{
			Name:    r.Customer.Name,
			Contact: r.Customer.Contact,
			TaxID:   r.Customer.ID,
		},
		Items:     items,
		Operator:  domain.Operator{ID: r.OperatorID, Name: r.OperatorName},
		RequestID: r.RequestID,
	}
}
