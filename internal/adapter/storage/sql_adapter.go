package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	saleColumns = `id, code, customer_name, customer_contact, customer_tax_id, total, status,
		operator_id, operator_name, request_id, items_json, created_at, annulled_at`

	productColumns = `id, sku, name, description, sale_price, discount_price, purchase_price,
		wholesale_price, stock, category, brand, barcode, branch, photo_urls, created_at, updated_at`
)

// dialect holds what differs between the SQL engines behind SQLAdapter.
type dialect struct {
	name string

	// schema statements, executed one at a time
	schema []string

	// appended to selects that must hold row locks until the unit ends
	forUpdate string

	// lockSaleCodes, when set, is executed with the code prefix before the
	// codes are read
	lockSaleCodes string

	isUniqueViolation func(err error) bool
	isConflict        func(err error) bool
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLAdapter implements port.DatabaseRepository on database/sql. The handle
// is owned by the caller; SQLAdapter never opens or closes it.
type SQLAdapter struct {
	db      *sql.DB
	dialect dialect
}

var _ port.DatabaseRepository = (*SQLAdapter)(nil)

func (a *SQLAdapter) Dialect() string {
	return a.dialect.name
}

func (a *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range a.dialect.schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", a.dialect.name, err)
		}
	}
	return nil
}

func (a *SQLAdapter) WithTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txUnit{q: tx, d: a.dialect}); err != nil {
		return a.markConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return a.markConflict(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (a *SQLAdapter) markConflict(err error) error {
	if a.dialect.isConflict(err) {
		return fmt.Errorf("%w: %w", port.ErrTxConflict, err)
	}
	return err
}

func (a *SQLAdapter) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 64)
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

func (a *SQLAdapter) GetSale(ctx context.Context, ref string) (*domain.SaleRecord, error) {
	return getSale(ctx, a.db, ref, "")
}

func (a *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	return insertProduct(ctx, a.db, a.dialect, p)
}

func (a *SQLAdapter) UpdateProduct(ctx context.Context, p domain.Product) (bool, error) {
	return overwriteProduct(ctx, a.db, a.dialect, p)
}

func (a *SQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a *SQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC, sku ASC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// txUnit is the port.UnitOfWork bound to one open transaction.
type txUnit struct {
	q queryer
	d dialect
}

func (u *txUnit) DecrementIfSufficient(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := u.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return rows == 1, nil
}

func (u *txUnit) Increment(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := u.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?
		WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return false, fmt.Errorf("increment stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment stock: %w", err)
	}
	return rows == 1, nil
}

func (u *txUnit) StockLevel(ctx context.Context, productID string) (int, bool, error) {
	var stock int
	err := u.q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query stock: %w", err)
	}
	return stock, true, nil
}

func (u *txUnit) SaleCodes(ctx context.Context, prefix string) ([]string, error) {
	if u.d.lockSaleCodes != "" {
		if _, err := u.q.ExecContext(ctx, u.d.lockSaleCodes, prefix); err != nil {
			return nil, fmt.Errorf("lock sale codes: %w", err)
		}
	}

	rows, err := u.q.QueryContext(ctx,
		`SELECT code FROM sales WHERE code LIKE ? ESCAPE '!'`+u.d.forUpdate,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("query sale codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan sale code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale codes: %w", err)
	}
	return codes, nil
}

func (u *txUnit) InsertSale(ctx context.Context, sale domain.Sale) error {
	items, err := domain.EncodeLineItems(sale.Items)
	if err != nil {
		return err
	}

	_, err = u.q.ExecContext(ctx, `
		INSERT INTO sales (id, code, customer_name, customer_contact, customer_tax_id, total, status,
			operator_id, operator_name, request_id, items_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.Code, sale.Customer.Name, sale.Customer.Contact, sale.Customer.TaxID,
		sale.Total, string(sale.Status), sale.Operator.ID, sale.Operator.Name,
		nullString(sale.RequestID), string(items), sale.CreatedAt,
	)
	if err != nil {
		if u.d.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s: %v", port.ErrDuplicateSaleCode, sale.Code, err)
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (u *txUnit) LockSale(ctx context.Context, ref string) (*domain.SaleRecord, error) {
	return getSale(ctx, u.q, ref, u.d.forUpdate)
}

func (u *txUnit) MarkAnnulled(ctx context.Context, saleID string, at time.Time) error {
	result, err := u.q.ExecContext(ctx, `
		UPDATE sales
		SET status = ?, annulled_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.SaleStatusAnnulled), at, saleID, string(domain.SaleStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("update sale status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sale status: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update sale status: sale %s is not completed", saleID)
	}
	return nil
}

func (u *txUnit) FindProductIDBySKU(ctx context.Context, sku string) (string, bool, error) {
	var id string
	err := u.q.QueryRowContext(ctx, `SELECT id FROM products WHERE sku = ?`+u.d.forUpdate, sku).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query product by sku: %w", err)
	}
	return id, true, nil
}

func (u *txUnit) InsertProduct(ctx context.Context, p domain.Product) error {
	return insertProduct(ctx, u.q, u.d, p)
}

func (u *txUnit) OverwriteProduct(ctx context.Context, p domain.Product) error {
	ok, err := overwriteProduct(ctx, u.q, u.d, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("overwrite product %s: no row updated", p.ID)
	}
	return nil
}

func getSale(ctx context.Context, q queryer, ref, lock string) (*domain.SaleRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = ? OR code = ? LIMIT 1`+lock, ref, ref)
	rec, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func insertProduct(ctx context.Context, q queryer, d dialect, p domain.Product) error {
	photos, err := encodePhotos(p.PhotoURLs)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SKU, p.Name, p.Description, p.SalePrice, p.DiscountPrice, p.PurchasePrice,
		p.WholesalePrice, p.Stock, p.Category, p.Brand, p.Barcode, p.Branch, photos,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if d.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s: %v", port.ErrDuplicateSKU, p.SKU, err)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func overwriteProduct(ctx context.Context, q queryer, d dialect, p domain.Product) (bool, error) {
	photos, err := encodePhotos(p.PhotoURLs)
	if err != nil {
		return false, err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET sku = ?, name = ?, description = ?, sale_price = ?, discount_price = ?,
			purchase_price = ?, wholesale_price = ?, stock = ?, category = ?, brand = ?,
			barcode = ?, branch = ?, photo_urls = ?, updated_at = ?
		WHERE id = ?`,
		p.SKU, p.Name, p.Description, p.SalePrice, p.DiscountPrice, p.PurchasePrice,
		p.WholesalePrice, p.Stock, p.Category, p.Brand, p.Barcode, p.Branch, photos,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		if d.isUniqueViolation(err) {
			return false, fmt.Errorf("%w: %s: %v", port.ErrDuplicateSKU, p.SKU, err)
		}
		return false, fmt.Errorf("update product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update product: %w", err)
	}
	return rows > 0, nil
}

func scanSale(row rowScanner) (*domain.SaleRecord, error) {
	var (
		rec        domain.SaleRecord
		status     string
		requestID  sql.NullString
		annulledAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Code, &rec.Customer.Name, &rec.Customer.Contact, &rec.Customer.TaxID,
		&rec.Total, &status, &rec.Operator.ID, &rec.Operator.Name, &requestID, &rec.RawItems,
		&rec.CreatedAt, &annulledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sale: %w", err)
	}

	rec.Status = domain.SaleStatus(status)
	rec.RequestID = requestID.String
	if annulledAt.Valid {
		t := annulledAt.Time
		rec.AnnulledAt = &t
	}
	return &rec, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p      domain.Product
		photos []byte
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.SalePrice, &p.DiscountPrice,
		&p.PurchasePrice, &p.WholesalePrice, &p.Stock, &p.Category, &p.Brand, &p.Barcode,
		&p.Branch, &photos, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	p.PhotoURLs = []string{}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &p.PhotoURLs); err != nil {
			return nil, fmt.Errorf("decode photo urls of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodePhotos(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("encode photo urls: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
