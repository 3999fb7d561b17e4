package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

func main() {
	driver := flag.String("driver", "sqlite", "store to hammer: sqlite or mysql")
	dsn := flag.String("dsn", "root:root@tcp(localhost:3306)/retailpos", "mysql dsn")
	initialStock := flag.Int("stock", 20, "initial stock of the contested product")
	totalRequests := flag.Int("requests", 50, "concurrent record-sale calls")
	flag.Parse()

	ctx := context.Background()

	db, store, cleanup, err := openStore(ctx, *driver, *dsn)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer cleanup()

	logger, _ := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	defer logger.Sync()

	catalog := service.NewCatalogService(store, logger, 0)
	sales := service.NewSaleService(store, nil, logger, service.Options{TxTimeout: 30 * time.Second})

	product, err := catalog.CreateProduct(ctx, domain.Product{
		SKU:       "STRESS-" + uuid.NewString()[:8],
		Name:      "Contested product",
		SalePrice: decimal.NewFromInt(10),
		Stock:     *initialStock,
	})
	if err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	var successCount, shortCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := sales.RecordSale(ctx, service.RecordSaleRequest{
				Customer: domain.Customer{Name: fmt.Sprintf("customer-%d", n)},
				Items: []domain.LineItem{
					{ProductID: product.ID, ProductName: product.Name, Quantity: 1, UnitPrice: product.SalePrice},
				},
				Operator: domain.Operator{ID: "stress"},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("request %d: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	short := shortCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", store.Dialect())
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", short)
	fmt.Printf("Other failures:   %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	wantSuccess := min(*initialStock, *totalRequests)
	if int(success) == wantSuccess && int(short) == *totalRequests-wantSuccess {
		fmt.Printf("PASS: exactly %d sales recorded, %d rejected\n", success, short)
	} else {
		fmt.Printf("FAIL: expected %d recorded/%d rejected, got %d/%d\n",
			wantSuccess, *totalRequests-wantSuccess, success, short)
	}

	var finalStock int
	if err := db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, product.ID).Scan(&finalStock); err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", finalStock)

	if finalStock == *initialStock-wantSuccess {
		fmt.Printf("PASS: stock is %d\n", finalStock)
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-wantSuccess, finalStock)
	}
}

func openStore(ctx context.Context, driver, dsn string) (*sql.DB, *storage.SQLAdapter, func(), error) {
	var (
		db      *sql.DB
		store   *storage.SQLAdapter
		cleanup func()
	)

	switch driver {
	case "mysql":
		var err error
		db, err = storage.OpenMySQL(dsn, storage.PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25})
		if err != nil {
			return nil, nil, nil, err
		}
		store = storage.NewMySQLAdapter(db)
		cleanup = func() { db.Close() }
	case "sqlite":
		dir, err := os.MkdirTemp("", "retailpos-stress-")
		if err != nil {
			return nil, nil, nil, err
		}
		db, err = storage.OpenSQLite(filepath.Join(dir, "stress.db"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, nil, err
		}
		store = storage.NewSQLiteAdapter(db)
		cleanup = func() {
			db.Close()
			os.RemoveAll(dir)
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown driver %q", driver)
	}

	if err := store.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return db, store, cleanup, nil
}
