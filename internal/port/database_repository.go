package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/retail-pos/internal/core/domain"
)

var (
	ErrDuplicateSaleCode = errors.New("duplicate sale code")
	ErrDuplicateSKU      = errors.New("duplicate sku")
	// ErrTxConflict marks a unit the engine aborted because of lock
	// contention (deadlock victim, busy database). Retrying it is safe.
	ErrTxConflict = errors.New("transaction conflict")
)

// StockLedger is the only write path to a product's quantity on hand.
type StockLedger interface {
	// DecrementIfSufficient subtracts quantity in one conditional write and
	// reports false when stock was short or the product does not exist
	DecrementIfSufficient(ctx context.Context, productID string, quantity int) (bool, error)

	// Increment adds quantity back, reports false when the product row is gone
	Increment(ctx context.Context, productID string, quantity int) (bool, error)

	// StockLevel reads current stock; only used to describe a failed guard
	StockLevel(ctx context.Context, productID string) (int, bool, error)
}

type SaleStore interface {
	// SaleCodes returns every sale code that starts with prefix. It also takes
	// the lock that serialises code generation for prefix until the unit ends.
	SaleCodes(ctx context.Context, prefix string) ([]string, error)

	// InsertSale stores the header and the encoded line-item snapshot
	InsertSale(ctx context.Context, sale domain.Sale) error

	// LockSale loads a sale by id or code and holds an exclusive lock on it
	// until the unit ends. Returns nil when no sale matches.
	LockSale(ctx context.Context, ref string) (*domain.SaleRecord, error)

	MarkAnnulled(ctx context.Context, saleID string, at time.Time) error
}

type ProductWriter interface {
	FindProductIDBySKU(ctx context.Context, sku string) (string, bool, error)
	InsertProduct(ctx context.Context, product domain.Product) error
	OverwriteProduct(ctx context.Context, product domain.Product) error
}

// UnitOfWork is the view of the store handed to code running inside one
// atomic unit. Nothing it writes is visible until the unit commits.
type UnitOfWork interface {
	StockLedger
	SaleStore
	ProductWriter
}

type DatabaseRepository interface {
	// WithTx runs fn in one transaction, commits when fn returns nil and
	// rolls back otherwise
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	ListSales(ctx context.Context) ([]domain.SaleRecord, error)
	GetSale(ctx context.Context, ref string) (*domain.SaleRecord, error)

	CreateProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) (bool, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}
