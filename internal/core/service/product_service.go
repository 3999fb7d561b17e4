package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

// CatalogService manages product rows. It never adjusts stock by delta; that
// path belongs to SaleService.
type CatalogService struct {
	db        port.DatabaseRepository
	logger    *zap.Logger
	txTimeout time.Duration
	now       func() time.Time
}

func NewCatalogService(db port.DatabaseRepository, logger *zap.Logger, txTimeout time.Duration) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &CatalogService{db: db, logger: logger, txTimeout: txTimeout, now: time.Now}
}

func (s *CatalogService) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	p = normalizeProduct(p)
	if err := validateProduct("", p); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.db.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, port.ErrDuplicateSKU) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
		}
		s.logger.Error("failed to create product", zap.String("sku", p.SKU), zap.Error(err))
		return nil, storageError("create product", err)
	}

	s.logger.Info("product created", zap.String("product_id", p.ID), zap.String("sku", p.SKU))
	return &p, nil
}

// UpdateProduct overwrites every field of the product with id, stock included.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, p domain.Product) (*domain.Product, error) {
	p = normalizeProduct(p)
	if err := validateProduct("", p); err != nil {
		return nil, err
	}
	p.ID = strings.TrimSpace(id)
	p.UpdatedAt = s.now().UTC()

	ok, err := s.db.UpdateProduct(ctx, p)
	if err != nil {
		if errors.Is(err, port.ErrDuplicateSKU) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
		}
		s.logger.Error("failed to update product", zap.String("product_id", p.ID), zap.Error(err))
		return nil, storageError("update product", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, p.ID)
	}
	return s.GetProduct(ctx, p.ID)
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.db.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, storageError("get product", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.db.ListProducts(ctx)
	if err != nil {
		s.logger.Error("failed to list products", zap.Error(err))
		return nil, storageError("list products", err)
	}
	return products, nil
}

// ImportProducts upserts a batch keyed by SKU in one atomic unit: a new SKU
// is inserted, a known SKU has all of its fields overwritten.
func (s *CatalogService) ImportProducts(ctx context.Context, products []domain.Product) (domain.ImportSummary, error) {
	if len(products) == 0 {
		return domain.ImportSummary{}, &ValidationError{Field: "products", Reason: "no products provided for import"}
	}
	batch := make([]domain.Product, len(products))
	for i, p := range products {
		p = normalizeProduct(p)
		if err := validateProduct(fmt.Sprintf("products[%d].", i), p); err != nil {
			return domain.ImportSummary{}, err
		}
		batch[i] = p
	}

	var summary domain.ImportSummary
	tctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithTx(tctx, func(uow port.UnitOfWork) error {
		summary = domain.ImportSummary{}
		now := s.now().UTC()
		for _, p := range batch {
			id, found, err := uow.FindProductIDBySKU(tctx, p.SKU)
			if err != nil {
				return err
			}
			p.UpdatedAt = now
			if found {
				p.ID = id
				if err := uow.OverwriteProduct(tctx, p); err != nil {
					return err
				}
				summary.Updated++
				continue
			}
			p.ID = uuid.NewString()
			p.CreatedAt = now
			if err := uow.InsertProduct(tctx, p); err != nil {
				return err
			}
			summary.Inserted++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("product import failed", zap.Int("products", len(batch)), zap.Error(err))
		return domain.ImportSummary{}, storageError("import products", err)
	}

	s.logger.Info("products imported",
		zap.Int("inserted", summary.Inserted), zap.Int("updated", summary.Updated))
	return summary, nil
}

func normalizeProduct(p domain.Product) domain.Product {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	urls := make([]string, 0, len(p.PhotoURLs))
	for _, u := range p.PhotoURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	p.PhotoURLs = urls
	return p
}

func validateProduct(prefix string, p domain.Product) error {
	switch {
	case p.SKU == "":
		return &ValidationError{Field: prefix + "sku", Reason: "is required"}
	case p.Name == "":
		return &ValidationError{Field: prefix + "name", Reason: "is required"}
	case p.Stock < 0:
		return &ValidationError{Field: prefix + "stock", Reason: "must not be negative"}
	case len(p.PhotoURLs) > domain.MaxPhotoURLs:
		return &ValidationError{Field: prefix + "photo_urls", Reason: fmt.Sprintf("at most %d photos", domain.MaxPhotoURLs)}
	}
	prices := map[string]decimal.Decimal{
		"sale_price":      p.SalePrice,
		"discount_price":  p.DiscountPrice,
		"purchase_price":  p.PurchasePrice,
		"wholesale_price": p.WholesalePrice,
	}
	for name, price := range prices {
		if price.IsNegative() {
			return &ValidationError{Field: prefix + name, Reason: "must not be negative"}
		}
	}
	return nil
}
