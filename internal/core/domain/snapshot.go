package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnparsableSnapshot = errors.New("unparsable line-item snapshot")

// Key aliases accepted when reading snapshots back. Older rows were written
// with camelCase or Spanish keys.
var (
	productIDKeys = []string{"product_id", "productId"}
	nameKeys      = []string{"name", "product_name", "Nombre"}
	quantityKeys  = []string{"quantity", "cantidad"}
	unitPriceKeys = []string{"unit_price", "unitPrice", "price", "precio"}
	unitCostKeys  = []string{"unit_cost", "unitCost", "purchase_price", "Precio (Compra)"}
)

func EncodeLineItems(items []LineItem) ([]byte, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}
	return data, nil
}

// DecodeLineItems reads a stored snapshot. The column may hold a native JSON
// array or a JSON string whose text is the array. Entries that cannot be
// used are reported in skipped; only a snapshot that is not an array at all
// yields an error.
func DecodeLineItems(raw []byte) ([]LineItem, []SkippedItem, error) {
	data := bytes.TrimSpace(raw)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnparsableSnapshot, err)
		}
		data = bytes.TrimSpace([]byte(text))
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil, fmt.Errorf("%w: empty snapshot", ErrUnparsableSnapshot)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnparsableSnapshot, err)
	}

	items := make([]LineItem, 0, len(entries))
	var skipped []SkippedItem
	for i, entry := range entries {
		item, reason := decodeEntry(entry)
		if reason != "" {
			skipped = append(skipped, SkippedItem{Index: i, Reason: reason})
			continue
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

func decodeEntry(entry json.RawMessage) (LineItem, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return LineItem{}, "entry is not an object"
	}

	productID := stringField(fields, productIDKeys)
	if productID == "" {
		return LineItem{}, "missing product reference"
	}

	raw, ok := lookup(fields, quantityKeys)
	if !ok {
		return LineItem{}, "missing quantity"
	}
	quantity, err := parseQuantity(raw)
	if err != nil {
		return LineItem{}, err.Error()
	}

	return LineItem{
		ProductID:   productID,
		ProductName: stringField(fields, nameKeys),
		Quantity:    quantity,
		UnitPrice:   decimalField(fields, unitPriceKeys),
		UnitCost:    decimalField(fields, unitCostKeys),
	}, ""
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]json.RawMessage, keys []string) string {
	raw, ok := lookup(fields, keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func decimalField(fields map[string]json.RawMessage, keys []string) decimal.Decimal {
	raw, ok := lookup(fields, keys)
	if !ok {
		return decimal.Zero
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero
	}
	return d
}

func parseQuantity(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.New("non-numeric quantity")
	}

	var n int
	switch q := v.(type) {
	case float64:
		if q != math.Trunc(q) || q > math.MaxInt32 {
			return 0, errors.New("non-integer quantity")
		}
		n = int(q)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(q))
		if err != nil {
			return 0, errors.New("non-numeric quantity")
		}
		n = parsed
	default:
		return 0, errors.New("non-numeric quantity")
	}

	if n <= 0 {
		return 0, errors.New("non-positive quantity")
	}
	return n, nil
}
