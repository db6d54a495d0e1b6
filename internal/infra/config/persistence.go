package config

import "time"

const (
	PersistenceMemory   = "memory"
	PersistencePostgres = "postgres"
	PersistenceSQLite   = "sqlite"
)

// CircuitBreakerConfig holds settings for the persistence circuit breaker.
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures"  validate:"required_if=Enabled true,omitempty,gte=1"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// PersistenceConfig represents the ledger storage configuration.
type PersistenceConfig struct {
	Type             string               `mapstructure:"type" validate:"required,oneof=memory postgres sqlite"`
	OperationTimeout time.Duration        `mapstructure:"operation_timeout"`
	Postgres         PostgresConfig       `mapstructure:"postgres"`
	SQLite           SQLiteConfig         `mapstructure:"sqlite"`
	CircuitBreaker   CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// PostgresConfig represents the postgres connection pool configuration.
type PostgresConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,dsn_scheme=postgres"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// SQLiteConfig represents the embedded database configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}
