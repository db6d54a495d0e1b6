package config

// ServerConfig represents the server configuration.
type ServerConfig struct {
	Port        int               `mapstructure:"port" validate:"gte=0,lte=65535"`
	TLS         TLS               `mapstructure:"tls"`
	Mode        string            `mapstructure:"mode" validate:"required,oneof=development production"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
}

// RateLimiterConfig holds the configuration for the gRPC rate limiter.
type RateLimiterConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"  validate:"required_if=Enabled true,omitempty,gt=0"`
	Burst   int     `mapstructure:"burst" validate:"required_if=Enabled true,omitempty,gte=1"`
}

// TLS represents the TLS configuration. ClientCAFile and ClientAuth enable
// mutual TLS.
type TLS struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"      validate:"required_if=Enabled true"`
	KeyFile      string `mapstructure:"key_file"       validate:"required_if=Enabled true"`
	ClientCAFile string `mapstructure:"client_ca_file" validate:"omitempty,file"`
	ClientAuth   string `mapstructure:"client_auth"    validate:"omitempty,oneof=NoClientCert RequestClientCert RequireAnyClientCert VerifyClientCertIfGiven RequireAndVerifyClientCert"`
}
