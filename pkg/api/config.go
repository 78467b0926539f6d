package api

import (
	"os"
	"time"
)

// EnvJWTSecret is the environment variable for the JWT signing secret.
// Preferred over putting the secret in the config file.
const EnvJWTSecret = "REELHAVEN_API_JWT_SECRET"

// Config configures the upload API HTTP server.
type Config struct {
	// Host is the listen address. Empty means all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port for the upload API.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadHeaderTimeout bounds reading the request headers. The request body
	// is deliberately not covered: chunk appends stream for minutes and are
	// bounded by the upload service's own append timeout.
	// Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// Auth configures caller identification.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// AuthConfig configures how the owner of an upload is identified.
//
// Identity itself lives in a separate service; the API only needs the
// authenticated subject. Tokens are HMAC-signed JWTs whose subject claim is
// the owner ID; the signing secret is shared with the identity service.
type AuthConfig struct {
	// JWTSecret verifies Bearer tokens. At least 32 characters. The
	// REELHAVEN_API_JWT_SECRET environment variable takes precedence.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`

	// DevMode accepts an X-Owner-ID header instead of a token. Never enable
	// outside local development.
	DevMode bool `mapstructure:"dev_mode" yaml:"dev_mode"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// GetJWTSecret returns the signing secret, preferring the environment
// variable over the config file.
func (c *Config) GetJWTSecret() string {
	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		return secret
	}
	return c.Auth.JWTSecret
}
