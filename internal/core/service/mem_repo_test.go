package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

// memRepo is an in-memory port.DatabaseRepository. A unit of work holds the
// mutex for its whole life and works on a copy that is swapped in on commit.
type memRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
	sales    []domain.SaleRecord

	// txErr fails every WithTx before fn runs
	txErr error
	// racingCodes makes the next n InsertSale calls lose the code to a
	// concurrent writer
	racingCodes int
	// conflicts aborts the next n units as deadlock victims
	conflicts int
	txCount   int
}

func newMemRepo(products ...domain.Product) *memRepo {
	r := &memRepo{products: make(map[string]domain.Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func product(id string, stock int) domain.Product {
	return domain.Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id, Stock: stock}
}

func (r *memRepo) stock(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Stock
}

func (r *memRepo) saleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

func (r *memRepo) setRawItems(code string, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sales {
		if r.sales[i].Code == code {
			r.sales[i].RawItems = []byte(raw)
		}
	}
}

func (r *memRepo) deleteProduct(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

func (r *memRepo) WithTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.txErr != nil {
		return r.txErr
	}
	r.txCount++
	if r.conflicts > 0 {
		r.conflicts--
		return fmt.Errorf("deadlock: %w", port.ErrTxConflict)
	}

	u := &memUnit{
		repo:     r,
		products: maps.Clone(r.products),
		sales:    slices.Clone(r.sales),
	}
	if err := fn(u); err != nil {
		return err
	}
	r.products, r.sales = u.products, u.sales
	return nil
}

func (r *memRepo) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.sales)
	slices.Reverse(out)
	return out, nil
}

func (r *memRepo) GetSale(ctx context.Context, ref string) (*domain.SaleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return findSale(r.sales, ref), nil
}

func (r *memRepo) CreateProduct(ctx context.Context, p domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return insertMemProduct(r.products, p)
}

func (r *memRepo) UpdateProduct(ctx context.Context, p domain.Product) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.products[p.ID]
	if !ok {
		return false, nil
	}
	for _, other := range r.products {
		if other.ID != p.ID && other.SKU == p.SKU {
			return false, fmt.Errorf("%w: %s", port.ErrDuplicateSKU, p.SKU)
		}
	}
	p.CreatedAt = existing.CreatedAt
	r.products[p.ID] = p
	return true, nil
}

func (r *memRepo) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memRepo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Collect(maps.Values(r.products))
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

type memUnit struct {
	repo     *memRepo
	products map[string]domain.Product
	sales    []domain.SaleRecord
}

func (u *memUnit) DecrementIfSufficient(ctx context.Context, productID string, quantity int) (bool, error) {
	p, ok := u.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	u.products[productID] = p
	return true, nil
}

func (u *memUnit) Increment(ctx context.Context, productID string, quantity int) (bool, error) {
	p, ok := u.products[productID]
	if !ok {
		return false, nil
	}
	p.Stock += quantity
	u.products[productID] = p
	return true, nil
}

func (u *memUnit) StockLevel(ctx context.Context, productID string) (int, bool, error) {
	p, ok := u.products[productID]
	return p.Stock, ok, nil
}

func (u *memUnit) SaleCodes(ctx context.Context, prefix string) ([]string, error) {
	var codes []string
	for _, s := range u.sales {
		if strings.HasPrefix(s.Code, prefix) {
			codes = append(codes, s.Code)
		}
	}
	return codes, nil
}

func (u *memUnit) InsertSale(ctx context.Context, sale domain.Sale) error {
	if u.repo.racingCodes > 0 {
		u.repo.racingCodes--
		return fmt.Errorf("%w: %s", port.ErrDuplicateSaleCode, sale.Code)
	}
	if findSale(u.sales, sale.Code) != nil {
		return fmt.Errorf("%w: %s", port.ErrDuplicateSaleCode, sale.Code)
	}

	raw, err := domain.EncodeLineItems(sale.Items)
	if err != nil {
		return err
	}
	u.sales = append(u.sales, domain.SaleRecord{
		ID:        sale.ID,
		Code:      sale.Code,
		Customer:  sale.Customer,
		Total:     sale.Total,
		Status:    sale.Status,
		Operator:  sale.Operator,
		RequestID: sale.RequestID,
		RawItems:  raw,
		CreatedAt: sale.CreatedAt,
	})
	return nil
}

func (u *memUnit) LockSale(ctx context.Context, ref string) (*domain.SaleRecord, error) {
	return findSale(u.sales, ref), nil
}

func (u *memUnit) MarkAnnulled(ctx context.Context, saleID string, at time.Time) error {
	for i := range u.sales {
		if u.sales[i].ID == saleID && u.sales[i].Status == domain.SaleStatusCompleted {
			u.sales[i].Status = domain.SaleStatusAnnulled
			u.sales[i].AnnulledAt = &at
			return nil
		}
	}
	return fmt.Errorf("sale %s is not completed", saleID)
}

func (u *memUnit) FindProductIDBySKU(ctx context.Context, sku string) (string, bool, error) {
	for _, p := range u.products {
		if p.SKU == sku {
			return p.ID, true, nil
		}
	}
	return "", false, nil
}

func (u *memUnit) InsertProduct(ctx context.Context, p domain.Product) error {
	return insertMemProduct(u.products, p)
}

func (u *memUnit) OverwriteProduct(ctx context.Context, p domain.Product) error {
	existing, ok := u.products[p.ID]
	if !ok {
		return fmt.Errorf("product %s not found", p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	u.products[p.ID] = p
	return nil
}

func insertMemProduct(products map[string]domain.Product, p domain.Product) error {
	for _, other := range products {
		if other.SKU == p.SKU {
			return fmt.Errorf("%w: %s", port.ErrDuplicateSKU, p.SKU)
		}
	}
	products[p.ID] = p
	return nil
}

func findSale(sales []domain.SaleRecord, ref string) *domain.SaleRecord {
	for _, s := range sales {
		if s.ID == ref || s.Code == ref {
			return &s
		}
	}
	return nil
}

// memGuard is an in-memory port.IdempotencyGuard.
type memGuard struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemGuard() *memGuard {
	return &memGuard{keys: make(map[string]bool)}
}

func (g *memGuard) Reserve(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return false, g.err
	}
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

func (g *memGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}
