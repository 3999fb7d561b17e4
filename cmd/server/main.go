package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/retail-pos/internal/adapter/handler"
	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/config"
	"github.com/rl1809/retail-pos/internal/core/service"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("driver", store.Dialect()))

	var guard *storage.RedisAdapter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()

		guard = storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		if err := guard.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set, request ids will not be deduplicated")
	}

	opts := service.Options{CodePrefix: cfg.Sales.CodePrefix, TxTimeout: cfg.Sales.TxTimeout}
	var sales *service.SaleService
	if guard != nil {
		sales = service.NewSaleService(store, guard, logger, opts)
	} else {
		sales = service.NewSaleService(store, nil, logger, opts)
	}
	catalog := service.NewCatalogService(store, logger, cfg.Sales.TxTimeout)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLogger(logger)))
	handler.RegisterSaleServiceServer(grpcServer, handler.NewGRPCHandler(sales))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	httpHandler := handler.NewHTTPHandler(sales, catalog, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.NewRouter(httpHandler, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return runErr
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, *storage.SQLAdapter, error) {
	var (
		db    *sql.DB
		store *storage.SQLAdapter
		err   error
	)

	switch cfg.Driver {
	case config.DriverMySQL:
		db, err = storage.OpenMySQL(cfg.MySQLDSN, storage.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err == nil {
			store = storage.NewMySQLAdapter(db)
		}
	default:
		db, err = storage.OpenSQLite(cfg.SQLitePath)
		if err == nil {
			store = storage.NewSQLiteAdapter(db)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}
