package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrAlreadyAnnulled   = errors.New("sale already annulled")
	ErrDuplicateSKU      = errors.New("sku already exists")
	ErrSnapshotFormat    = errors.New("corrupt sale snapshot")
	ErrTransientStorage  = errors.New("storage unavailable")
	ErrDuplicateRequest  = errors.New("duplicate request")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Shortfall is one line that could not be covered by stock on hand.
type Shortfall struct {
	index int

	ProductID   string `json:"product_id"`
	ProductName string `json:"name,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
	Missing     int    `json:"missing"`
}

type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		label := s.ProductID
		if s.ProductName != "" {
			label = fmt.Sprintf("%s (%s)", s.ProductName, s.ProductID)
		}
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d, short by %d",
			label, s.Requested, s.Available, s.Missing))
	}
	return "insufficient stock for " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type FormatError struct {
	SaleID string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("sale %s: line-item snapshot is unreadable: %v", e.SaleID, e.Err)
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrSnapshotFormat, e.Err}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStorage, err)
}

// IsClientError reports errors caused by the request itself. Their message
// is safe to show verbatim.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrDuplicateSKU) ||
		errors.Is(err, ErrAlreadyAnnulled)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrSaleNotFound) || errors.Is(err, ErrProductNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAnnulled) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrDuplicateSKU) ||
		errors.Is(err, ErrInsufficientStock)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}
