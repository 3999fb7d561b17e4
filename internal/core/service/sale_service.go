package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	DefaultSaleCodePrefix = "AS"
	DefaultTxTimeout      = 5 * time.Second

	maxUnitAttempts  = 5
	maxRequestIDLen  = 128
	requestKeyPrefix = "sale-request:"
)

type Options struct {
	CodePrefix string
	TxTimeout  time.Duration
}

type SaleService struct {
	db        port.DatabaseRepository
	guard     port.IdempotencyGuard
	logger    *zap.Logger
	prefix    string
	txTimeout time.Duration
	now       func() time.Time
}

type RecordSaleRequest struct {
	Customer  domain.Customer
	Items     []domain.LineItem
	Operator  domain.Operator
	RequestID string
}

type AnnulResult struct {
	SaleID        string               `json:"saleId"`
	Code          string               `json:"code"`
	RestoredCount int                  `json:"restoredCount"`
	Restored      []domain.LineItem    `json:"restored"`
	Skipped       []domain.SkippedItem `json:"skipped"`
}

// NewSaleService builds the engine. guard may be nil, in which case request
// ids are stored but not deduplicated.
func NewSaleService(db port.DatabaseRepository, guard port.IdempotencyGuard, logger *zap.Logger, opts Options) *SaleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CodePrefix == "" {
		opts.CodePrefix = DefaultSaleCodePrefix
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	return &SaleService{
		db:        db,
		guard:     guard,
		logger:    logger,
		prefix:    opts.CodePrefix,
		txTimeout: opts.TxTimeout,
		now:       time.Now,
	}
}

func (s *SaleService) RecordSale(ctx context.Context, req RecordSaleRequest) (_ *domain.Sale, err error) {
	if err := validateSaleRequest(req); err != nil {
		return nil, err
	}

	if req.RequestID != "" && s.guard != nil {
		key := requestKeyPrefix + req.RequestID
		ok, reserveErr := s.guard.Reserve(ctx, key)
		if reserveErr != nil {
			return nil, storageError("reserve request id", reserveErr)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Error("failed to release request id",
					zap.String("request_id", req.RequestID), zap.Error(relErr))
			}
		}()
	}

	items := make([]domain.LineItem, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.ProductName = strings.TrimSpace(item.ProductName)
		items[i] = item
	}

	sale := domain.Sale{
		ID: uuid.NewString(),
		Customer: domain.Customer{
			Name:    strings.TrimSpace(req.Customer.Name),
			Contact: strings.TrimSpace(req.Customer.Contact),
			TaxID:   strings.TrimSpace(req.Customer.TaxID),
		},
		Total:     domain.SaleTotal(items),
		Status:    domain.SaleStatusCompleted,
		Operator:  req.Operator,
		RequestID: req.RequestID,
		Items:     items,
		CreatedAt: s.now().UTC(),
	}

	err = s.runUnit(ctx, "record sale", func(ctx context.Context, uow port.UnitOfWork) error {
		return s.recordInTx(ctx, uow, &sale)
	})
	if err != nil {
		err = classify("record sale", err)
		s.logFailure("record sale failed", err, zap.String("sale_id", sale.ID), zap.Int("items", len(items)))
		return nil, err
	}

	s.logger.Info("sale recorded",
		zap.String("sale_id", sale.ID),
		zap.String("sale_code", sale.Code),
		zap.String("total", sale.Total.StringFixed(2)),
		zap.String("operator_id", sale.Operator.ID),
	)
	return &sale, nil
}

func (s *SaleService) recordInTx(ctx context.Context, uow port.UnitOfWork, sale *domain.Sale) error {
	codes, err := uow.SaleCodes(ctx, s.prefix)
	if err != nil {
		return storageError("read sale codes", err)
	}
	sale.Code = NextSaleCode(s.prefix, codes)

	if err := uow.InsertSale(ctx, *sale); err != nil {
		return storageError("insert sale", err)
	}

	var shortfalls []Shortfall
	for _, i := range lockOrder(sale.Items) {
		item := sale.Items[i]
		ok, err := uow.DecrementIfSufficient(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return storageError("decrement stock", err)
		}
		if ok {
			continue
		}

		available, exists, err := uow.StockLevel(ctx, item.ProductID)
		if err != nil {
			return storageError("read stock level", err)
		}
		if !exists {
			return &ValidationError{
				Field:  fmt.Sprintf("items[%d].productId", i),
				Reason: fmt.Sprintf("unknown product %q", item.ProductID),
			}
		}
		shortfalls = append(shortfalls, Shortfall{
			index:       i,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Requested:   item.Quantity,
			Available:   available,
			Missing:     item.Quantity - available,
		})
	}

	if len(shortfalls) > 0 {
		sort.SliceStable(shortfalls, func(a, b int) bool {
			return shortfalls[a].index < shortfalls[b].index
		})
		return &InsufficientStockError{Shortfalls: shortfalls}
	}
	return nil
}

// AnnulSale reverses the stock effect of a completed sale. ref is the sale id
// or its code. A second call for the same sale fails with ErrAlreadyAnnulled.
func (s *SaleService) AnnulSale(ctx context.Context, ref string) (*AnnulResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &ValidationError{Field: "saleId", Reason: "is required"}
	}

	var result *AnnulResult
	err := s.runUnit(ctx, "annul sale", func(ctx context.Context, uow port.UnitOfWork) error {
		res, err := s.annulInTx(ctx, uow, ref)
		result = res
		return err
	})
	if err != nil {
		err = classify("annul sale", err)
		s.logFailure("annul sale failed", err, zap.String("sale_ref", ref))
		return nil, err
	}

	s.logger.Info("sale annulled",
		zap.String("sale_id", result.SaleID),
		zap.String("sale_code", result.Code),
		zap.Int("restored", result.RestoredCount),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *SaleService) annulInTx(ctx context.Context, uow port.UnitOfWork, ref string) (*AnnulResult, error) {
	rec, err := uow.LockSale(ctx, ref)
	if err != nil {
		return nil, storageError("lock sale", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, ref)
	}
	if rec.Status == domain.SaleStatusAnnulled {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAnnulled, rec.Code)
	}

	if err := uow.MarkAnnulled(ctx, rec.ID, s.now().UTC()); err != nil {
		return nil, storageError("mark sale annulled", err)
	}

	items, skipped, err := domain.DecodeLineItems(rec.RawItems)
	if err != nil {
		return nil, &FormatError{SaleID: rec.Code, Err: err}
	}

	res := &AnnulResult{
		SaleID:   rec.ID,
		Code:     rec.Code,
		Restored: make([]domain.LineItem, 0, len(items)),
		Skipped:  skipped,
	}
	for _, sk := range skipped {
		s.logger.Warn("skipping malformed line item",
			zap.String("sale_id", rec.ID), zap.Int("index", sk.Index), zap.String("reason", sk.Reason))
	}

	positions := snapshotPositions(len(items), skipped)
	for _, i := range lockOrder(items) {
		item := items[i]
		ok, err := uow.Increment(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, storageError("restore stock", err)
		}
		if !ok {
			s.logger.Warn("line item references a missing product",
				zap.String("sale_id", rec.ID), zap.String("product_id", item.ProductID))
			res.Skipped = append(res.Skipped, domain.SkippedItem{
				Index:  positions[i],
				Reason: fmt.Sprintf("product %s no longer exists", item.ProductID),
			})
			continue
		}
		res.Restored = append(res.Restored, item)
	}
	res.RestoredCount = len(res.Restored)
	return res, nil
}

// ListSales returns every sale, newest first.
func (s *SaleService) ListSales(ctx context.Context) ([]domain.Sale, error) {
	records, err := s.db.ListSales(ctx)
	if err != nil {
		s.logger.Error("failed to list sales", zap.Error(err))
		return nil, storageError("list sales", err)
	}

	sales := make([]domain.Sale, 0, len(records))
	for _, rec := range records {
		sales = append(sales, s.toSale(rec))
	}
	return sales, nil
}

func (s *SaleService) GetSale(ctx context.Context, ref string) (*domain.Sale, error) {
	rec, err := s.db.GetSale(ctx, strings.TrimSpace(ref))
	if err != nil {
		s.logger.Error("failed to get sale", zap.String("sale_ref", ref), zap.Error(err))
		return nil, storageError("get sale", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, ref)
	}
	sale := s.toSale(*rec)
	return &sale, nil
}

func (s *SaleService) toSale(rec domain.SaleRecord) domain.Sale {
	items, _, err := domain.DecodeLineItems(rec.RawItems)
	if err != nil {
		s.logger.Warn("sale snapshot unreadable, listing without items",
			zap.String("sale_id", rec.ID), zap.Error(err))
		items = []domain.LineItem{}
	}
	return domain.Sale{
		ID:         rec.ID,
		Code:       rec.Code,
		Customer:   rec.Customer,
		Total:      rec.Total,
		Status:     rec.Status,
		Operator:   rec.Operator,
		RequestID:  rec.RequestID,
		Items:      items,
		CreatedAt:  rec.CreatedAt,
		AnnulledAt: rec.AnnulledAt,
	}
}

// runUnit executes fn as one atomic unit bounded by the service timeout. A
// unit that lost a race (taken sale code, deadlock) is re-run from scratch.
func (s *SaleService) runUnit(ctx context.Context, op string, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	var err error
	for attempt := 1; attempt <= maxUnitAttempts; attempt++ {
		err = s.bounded(ctx, func(ctx context.Context) error {
			return s.db.WithTx(ctx, func(uow port.UnitOfWork) error {
				return fn(ctx, uow)
			})
		})
		if !errors.Is(err, port.ErrDuplicateSaleCode) && !errors.Is(err, port.ErrTxConflict) {
			return err
		}
		s.logger.Warn("unit lost a race with a concurrent writer, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *SaleService) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *SaleService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) || IsNotFound(err) {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

// classify wraps anything that is not already a known engine error as a
// transient storage failure.
func classify(op string, err error) error {
	for _, known := range []error{
		ErrValidation, ErrInsufficientStock, ErrSaleNotFound, ErrProductNotFound,
		ErrAlreadyAnnulled, ErrDuplicateSKU, ErrSnapshotFormat, ErrTransientStorage,
		ErrDuplicateRequest,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return storageError(op, err)
}

// lockOrder returns item indexes sorted by product id. Rows are always
// locked in this order so two sales over the same products cannot deadlock.
func lockOrder(items []domain.LineItem) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].ProductID < items[order[b]].ProductID
	})
	return order
}

// snapshotPositions maps decoded items back to their index in the stored
// snapshot.
func snapshotPositions(decoded int, skipped []domain.SkippedItem) []int {
	gaps := make(map[int]bool, len(skipped))
	for _, sk := range skipped {
		gaps[sk.Index] = true
	}
	positions := make([]int, 0, decoded)
	for idx := 0; len(positions) < decoded; idx++ {
		if !gaps[idx] {
			positions = append(positions, idx)
		}
	}
	return positions
}

func validateSaleRequest(req RecordSaleRequest) error {
	if strings.TrimSpace(req.Customer.Name) == "" {
		return &ValidationError{Field: "customer.name", Reason: "is required"}
	}
	if strings.TrimSpace(req.Operator.ID) == "" {
		return &ValidationError{Field: "operatorId", Reason: "is required"}
	}
	if len(req.RequestID) > maxRequestIDLen {
		return &ValidationError{Field: "requestId", Reason: fmt.Sprintf("must be at most %d characters", maxRequestIDLen)}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return &ValidationError{Field: field + ".productId", Reason: "is required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: field + ".quantity", Reason: "must be greater than zero"}
		}
		if item.UnitPrice.LessThan(decimal.Zero) {
			return &ValidationError{Field: field + ".unitPrice", Reason: "must not be negative"}
		}
		if item.UnitCost.LessThan(decimal.Zero) {
			return &ValidationError{Field: field + ".unitCost", Reason: "must not be negative"}
		}
	}
	return nil
}
