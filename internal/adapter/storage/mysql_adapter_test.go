package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/retailpos"
	}

	db, err := OpenMySQL(dsn, PoolConfig{MaxOpenConns: 20})
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

func newMySQLStore(t *testing.T) *SQLAdapter {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return adapter
}

func TestMySQL_DecrementConcurrent(t *testing.T) {
	adapter := newMySQLStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	seedProduct(t, adapter, id, "SKU-"+id, 20)
	defer adapter.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.WithTx(ctx, func(uow port.UnitOfWork) error {
				ok, err := uow.DecrementIfSufficient(ctx, id, 1)
				if ok {
					successCount.Add(1)
				}
				return err
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 20 {
		t.Errorf("expected 20 successes, got %d", successCount.Load())
	}
	if stock := stockOf(t, adapter, id); stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
}

func TestMySQL_DuplicateKeys(t *testing.T) {
	adapter := newMySQLStore(t)
	ctx := context.Background()

	code := "TEST" + uuid.NewString()[:8]
	defer adapter.db.ExecContext(ctx, `DELETE FROM sales WHERE code = ?`, code)

	insert := func() error {
		return adapter.WithTx(ctx, func(uow port.UnitOfWork) error {
			return uow.InsertSale(ctx, testSale(uuid.NewString(), code, domain.LineItem{ProductID: "p-1", Quantity: 1}))
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert(); !errors.Is(err, port.ErrDuplicateSaleCode) {
		t.Errorf("expected ErrDuplicateSaleCode, got %v", err)
	}

	id := uuid.NewString()
	seedProduct(t, adapter, id, "SKU-"+id, 1)
	defer adapter.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)

	p, err := adapter.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	p.ID = uuid.NewString()
	if err := adapter.CreateProduct(ctx, *p); !errors.Is(err, port.ErrDuplicateSKU) {
		t.Errorf("expected ErrDuplicateSKU, got %v", err)
	}
}

func TestMySQL_UpdateUnchangedProductIsFound(t *testing.T) {
	adapter := newMySQLStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	seedProduct(t, adapter, id, "SKU-"+id, 3)
	defer adapter.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)

	p, err := adapter.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}

	// identical values still count as a match with found-rows enabled
	ok, err := adapter.UpdateProduct(ctx, *p)
	if err != nil {
		t.Fatalf("UpdateProduct failed: %v", err)
	}
	if !ok {
		t.Error("expected unchanged update to report the row as found")
	}
}
