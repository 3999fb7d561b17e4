package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/retail-pos/internal/core/domain"
)

func newTestCatalog(t *testing.T, repo *memRepo) *CatalogService {
	t.Helper()
	return NewCatalogService(repo, zaptest.NewLogger(t), 0)
}

func catalogProduct(sku string, stock int) domain.Product {
	return domain.Product{
		SKU:       sku,
		Name:      "Vestido " + sku,
		SalePrice: decimal.RequireFromString("120"),
		Stock:     stock,
		PhotoURLs: []string{" https://cdn.example.com/a.jpg ", ""},
	}
}

func TestCreateProduct(t *testing.T) {
	repo := newMemRepo()
	svc := newTestCatalog(t, repo)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, catalogProduct(" VES-1 ", 4))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "VES-1", p.SKU)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, p.PhotoURLs)
	assert.False(t, p.CreatedAt.IsZero())

	_, err = svc.CreateProduct(ctx, catalogProduct("VES-1", 1))
	assert.True(t, errors.Is(err, ErrDuplicateSKU))
	assert.True(t, IsConflict(err))
}

func TestCreateProduct_Validation(t *testing.T) {
	cases := map[string]func(p *domain.Product){
		"no sku":         func(p *domain.Product) { p.SKU = "" },
		"no name":        func(p *domain.Product) { p.Name = " " },
		"negative stock": func(p *domain.Product) { p.Stock = -1 },
		"negative price": func(p *domain.Product) { p.WholesalePrice = decimal.NewFromInt(-5) },
		"too many photos": func(p *domain.Product) {
			p.PhotoURLs = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestCatalog(t, newMemRepo())
			p := catalogProduct("VES-1", 1)
			mutate(&p)

			_, err := svc.CreateProduct(context.Background(), p)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestUpdateProduct_OverwritesStock(t *testing.T) {
	repo := newMemRepo()
	svc := newTestCatalog(t, repo)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, catalogProduct("VES-1", 4))
	require.NoError(t, err)

	change := catalogProduct("VES-1", 25)
	change.Brand = "Acme"
	updated, err := svc.UpdateProduct(ctx, created.ID, change)
	require.NoError(t, err)
	assert.Equal(t, 25, updated.Stock)
	assert.Equal(t, "Acme", updated.Brand)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = svc.UpdateProduct(ctx, "missing", change)
	assert.True(t, errors.Is(err, ErrProductNotFound))
}

func TestGetProduct_NotFound(t *testing.T) {
	svc := newTestCatalog(t, newMemRepo())

	_, err := svc.GetProduct(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestImportProducts(t *testing.T) {
	repo := newMemRepo()
	svc := newTestCatalog(t, repo)
	ctx := context.Background()

	existing, err := svc.CreateProduct(ctx, catalogProduct("VES-1", 4))
	require.NoError(t, err)

	summary, err := svc.ImportProducts(ctx, []domain.Product{
		catalogProduct("VES-1", 10),
		catalogProduct("VES-2", 3),
		catalogProduct("VES-3", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportSummary{Inserted: 2, Updated: 1}, summary)

	p, err := svc.GetProduct(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestImportProducts_InvalidBatchWritesNothing(t *testing.T) {
	repo := newMemRepo()
	svc := newTestCatalog(t, repo)

	bad := catalogProduct("", 1)
	_, err := svc.ImportProducts(context.Background(), []domain.Product{catalogProduct("VES-1", 1), bad})

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "products[1].sku", vErr.Field)
	assert.Zero(t, repo.txCount)

	_, err = svc.ImportProducts(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrValidation))
}
