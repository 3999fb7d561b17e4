package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Sales    SalesConfig
	Log      LogConfig
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string
	MySQLDSN        string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables request deduplication when Addr is set.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	IdempotencyTTL time.Duration
}

type SalesConfig struct {
	CodePrefix string
	TxTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from the environment, with envFile (if it
// exists) providing values the environment does not set.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:        v.GetString("HTTP_ADDR"),
			GRPCAddr:        v.GetString("GRPC_ADDR"),
			CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			MySQLDSN:        v.GetString("MYSQL_DSN"),
			SQLitePath:      v.GetString("SQLITE_PATH"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:           v.GetString("REDIS_ADDR"),
			Password:       v.GetString("REDIS_PASSWORD"),
			DB:             v.GetInt("REDIS_DB"),
			PoolSize:       v.GetInt("REDIS_POOL_SIZE"),
			IdempotencyTTL: v.GetDuration("IDEMPOTENCY_TTL"),
		},
		Sales: SalesConfig{
			CodePrefix: strings.TrimSpace(v.GetString("SALE_CODE_PREFIX")),
			TxTimeout:  v.GetDuration("TX_TIMEOUT"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":50051")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/retailpos")
	v.SetDefault("SQLITE_PATH", "retailpos.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 50)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	v.SetDefault("SALE_CODE_PREFIX", "AS")
	v.SetDefault("TX_TIMEOUT", "5s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required when DB_DRIVER=mysql"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when DB_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, c.Database.Driver))
	}

	if c.Sales.CodePrefix == "" {
		errs = append(errs, errors.New("SALE_CODE_PREFIX must not be empty"))
	}
	if c.Sales.TxTimeout <= 0 {
		errs = append(errs, errors.New("TX_TIMEOUT must be positive"))
	}
	if c.Redis.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the process logger: production JSON output, or the
// development console encoder when Format is "console".
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
