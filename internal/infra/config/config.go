package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	customvalidator "github.com/spounge-ai/auditchain/pkg/validator"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Server         ServerConfig      `mapstructure:"server"`
	Logging        LoggingConfig     `mapstructure:"logging"`
	Signing        SigningConfig     `mapstructure:"signing"`
	Persistence    PersistenceConfig `mapstructure:"persistence" validate:"required"`
	Archive        ArchiveConfig     `mapstructure:"archive"`
	AWS            AWSConfig         `mapstructure:"aws"`
	ServiceVersion string            `mapstructure:"-"`
	BuildCommit    string            `mapstructure:"-"`
}

// IsProduction reports whether the deployment is explicitly flagged as production.
func (c *Config) IsProduction() bool {
	return c.Server.Mode == ModeProduction
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(vip)
	if err := bindEnv(vip); err != nil {
		return nil, err
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.ServiceVersion = getenv("AUDITCHAIN_SERVICE_VERSION", "unknown")
	cfg.BuildCommit = getenv("AUDITCHAIN_BUILD_COMMIT", "unknown")

	return &cfg, nil
}

// Validate runs struct validation including the custom validators.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := customvalidator.RegisterCustomValidators(validate); err != nil {
		return fmt.Errorf("failed to register custom validators: %w", err)
	}

	validate.RegisterStructValidation(validatePersistence, PersistenceConfig{})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func validatePersistence(sl validator.StructLevel) {
	p := sl.Current().Interface().(PersistenceConfig)
	if p.Type == PersistencePostgres && p.Postgres.URL == "" {
		sl.ReportError(p.Postgres.URL, "Postgres.URL", "URL", "required_with_postgres", "")
	}
	if p.Type == PersistenceSQLite && p.SQLite.Path == "" {
		sl.ReportError(p.SQLite.Path, "SQLite.Path", "Path", "required_with_sqlite", "")
	}
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", 50061)
	vip.SetDefault("server.mode", ModeDevelopment)
	vip.SetDefault("server.rate_limiter.enabled", true)
	vip.SetDefault("server.rate_limiter.rate", 20.0)
	vip.SetDefault("server.rate_limiter.burst", 40)

	vip.SetDefault("logging.level", "info")
	vip.SetDefault("logging.format", "text")

	vip.SetDefault("signing.key_bits", 3072)
	vip.SetDefault("signing.fetch_timeout", 5*time.Second)

	vip.SetDefault("persistence.type", "memory")
	vip.SetDefault("persistence.operation_timeout", 3*time.Second)
	vip.SetDefault("persistence.sqlite.path", "auditchain.db")
	vip.SetDefault("persistence.postgres.max_conns", 10)
	vip.SetDefault("persistence.postgres.min_conns", 1)
	vip.SetDefault("persistence.postgres.max_conn_lifetime", time.Hour)
	vip.SetDefault("persistence.postgres.max_conn_idle_time", 10*time.Minute)
	vip.SetDefault("persistence.circuit_breaker.enabled", true)
	vip.SetDefault("persistence.circuit_breaker.max_failures", 5)
	vip.SetDefault("persistence.circuit_breaker.reset_timeout", 30*time.Second)

	vip.SetDefault("archive.prefix", "ledger")

	vip.SetDefault("aws.region", "us-east-1")
}

// bindEnv maps the conventional variable names onto config keys.
func bindEnv(vip *viper.Viper) error {
	bindings := map[string][]string{
		"server.mode":              {"AUDITCHAIN_ENV", "ENVIRONMENT"},
		"signing.private_key_pem":  {"AUDIT_SIGNING_KEY"},
		"signing.public_key_pem":   {"AUDIT_VERIFY_KEY"},
		"persistence.postgres.url": {"DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := vip.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// getenv returns an environment variable or a default value.
func getenv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
