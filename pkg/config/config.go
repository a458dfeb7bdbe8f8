package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Backend names selectable via storage.backend.
const (
	BackendDocument   = "document"
	BackendRelational = "relational"
)

// Auth token verification modes.
const (
	AuthModeSecret = "secret" // HS256 with a shared signing secret
	AuthModeJWKS   = "jwks"   // RS256 against one or more JWKS endpoints
)

// Config holds all configuration for stratum-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, signing keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// MultiTenant turns on organization scoping: tenant-scoped rows carry
	// _orgId and their reads and writes are fenced to the caller's
	// organization.
	MultiTenant bool `yaml:"multi_tenant" env:"MULTI_TENANT" env-default:"false"`

	// Storage backend selection and connection settings
	Storage StorageConfig `yaml:"storage"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Migration engine settings
	Migrations MigrationsConfig `yaml:"migrations"`

	// Bootstrap rows created by the synthetic migrations
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// StorageConfig selects the backend and carries per-backend settings.
type StorageConfig struct {
	// Backend is "document" (MongoDB) or "relational" (PostgreSQL).
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"relational"`

	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"stratum"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"stratum_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// MongoConfig holds MongoDB document store configuration.
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database       string        `yaml:"database" env:"MONGO_DATABASE" env-default:"stratum_engine"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MONGO_CONNECT_TIMEOUT" env-default:"10s"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// Mode selects token verification: "secret" (HS256) or "jwks" (RS256).
	Mode string `yaml:"mode" env:"AUTH_MODE" env-default:"secret"`

	// Secret signs and verifies HS256 tokens. Required in secret mode.
	Secret string `yaml:"-" env:"AUTH_JWT_SECRET"` // Secret - not in YAML

	// Issuer is the iss claim stamped on tokens this engine issues.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:"stratum-engine"`

	// AccessTokenTTL bounds the lifetime of issued access tokens.
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"15m"`

	// RefreshTokenTTL bounds the lifetime of issued refresh tokens.
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"AUTH_REFRESH_TOKEN_TTL" env-default:"720h"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2". Only read in jwks mode.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"AUTH_JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// MigrationsConfig holds schema migration engine settings.
type MigrationsConfig struct {
	// Dir is the directory scanned for .sql migration files.
	Dir string `yaml:"dir" env:"MIGRATIONS_DIR" env-default:"migrations"`

	// Timezone is the IANA zone used to timestamp newly created migration
	// files, so names sort the same across developer machines.
	Timezone string `yaml:"timezone" env:"MIGRATIONS_TIMEZONE" env-default:"UTC"`

	// Manifest is the path of the synthetic migration manifest. Optional;
	// when the file is absent the built-in defaults apply.
	Manifest string `yaml:"manifest" env:"MIGRATIONS_MANIFEST" env-default:"migrations.yaml"`
}

// BootstrapConfig describes the rows the synthetic migrations create.
type BootstrapConfig struct {
	// MetaOrgName names the operator organization created in multi-tenant
	// mode. The system user context is derived from this row.
	MetaOrgName string `yaml:"meta_org_name" env:"BOOTSTRAP_META_ORG_NAME" env-default:"Meta Organization"`

	// MetaOrgCode is the meta organization's unique short code.
	MetaOrgCode string `yaml:"meta_org_code" env:"BOOTSTRAP_META_ORG_CODE" env-default:"meta"`

	// AdminEmail is the initial administrator account. Required for the admin
	// bootstrap migration.
	AdminEmail string `yaml:"-" env:"BOOTSTRAP_ADMIN_EMAIL"` // Secret-adjacent - env only

	// AdminPassword is hashed with bcrypt inside the bootstrap migration;
	// the plaintext never reaches storage.
	AdminPassword string `yaml:"-" env:"BOOTSTRAP_ADMIN_PASSWORD"` // Secret - env only
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendDocument, BackendRelational:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q",
			BackendDocument, BackendRelational, c.Storage.Backend)
	}

	switch c.Auth.Mode {
	case AuthModeSecret:
		if c.Auth.Secret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required in secret mode")
		}
	case AuthModeJWKS:
		if len(c.Auth.JWKSEndpoints) == 0 {
			return fmt.Errorf("auth.jwks_endpoints is required in jwks mode")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q",
			AuthModeSecret, AuthModeJWKS, c.Auth.Mode)
	}

	if _, err := time.LoadLocation(c.Migrations.Timezone); err != nil {
		return fmt.Errorf("migrations.timezone %q is not a valid IANA zone: %w", c.Migrations.Timezone, err)
	}

	return c.validateTLS()
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string. Localhost hosts
// are rewritten when running inside Docker so the pool reaches the host machine.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Location resolves the configured migration timezone.
func (c *MigrationsConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
