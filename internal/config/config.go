// Package config loads licensetool settings from a TOML file and LICENSEKEY_*
// environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey"
	"github.com/CloudNativeWorks/cnw-licensekey/licensekey/licensestore"
)

// EnvPrefix prefixes every environment override, e.g. LICENSEKEY_STORE_DRIVER.
const EnvPrefix = "LICENSEKEY"

// Store drivers.
const (
	DriverNone     = "none"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// ErrSigningKeyNotConfigured is returned by Signer when no private key file is set.
var ErrSigningKeyNotConfigured = errors.New("no signing key configured")

// Config is the complete licensetool configuration.
type Config struct {
	Log     LogConfig     `toml:"log" envconfig:"LOG"`
	Trust   TrustConfig   `toml:"trust" envconfig:"TRUST"`
	Signing SigningConfig `toml:"signing" envconfig:"SIGNING"`
	Store   StoreConfig   `toml:"store" envconfig:"STORE"`
	Cache   CacheConfig   `toml:"cache" envconfig:"CACHE"`
}

// LogConfig selects the apex/log handler and level.
type LogConfig struct {
	Level  string `toml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error fatal"`
	Format string `toml:"format" envconfig:"FORMAT" validate:"oneof=text json"`
}

// TrustConfig lists the public keys signatures are checked against.
type TrustConfig struct {
	// SkipShippedKeys drops the keys compiled into the library.
	SkipShippedKeys bool `toml:"skip_shipped_keys" envconfig:"SKIP_SHIPPED_KEYS"`
	// KeyFile is a PEM bundle consulted for key ids not configured statically.
	KeyFile string       `toml:"key_file" envconfig:"KEY_FILE"`
	Keys    []TrustedKey `toml:"keys" ignored:"true" validate:"dive"`

	RetryAttempts  int `toml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" validate:"min=1,max=10"`
	RetryInitialMS int `toml:"retry_initial_ms" envconfig:"RETRY_INITIAL_MS" validate:"min=0"`
	RetryMaxMS     int `toml:"retry_max_ms" envconfig:"RETRY_MAX_MS" validate:"min=0,gtefield=RetryInitialMS"`
}

// TrustedKey is one statically trusted public key.
type TrustedKey struct {
	ID        int    `toml:"id" validate:"min=0,max=255"`
	PublicKey string `toml:"public_key" validate:"required"`
}

// SigningConfig points at the issuer's private key.
type SigningConfig struct {
	KeyFile string `toml:"key_file" envconfig:"KEY_FILE"`
}

// StoreConfig selects where registered keys are kept.
type StoreConfig struct {
	Driver string `toml:"driver" envconfig:"DRIVER" validate:"oneof=none bolt postgres mongo"`
	// Path is the bbolt file.
	Path string `toml:"path" envconfig:"PATH" validate:"required_if=Driver bolt"`
	DSN  string `toml:"dsn" envconfig:"DSN" validate:"required_if=Driver postgres"`
	URI  string `toml:"uri" envconfig:"URI" validate:"required_if=Driver mongo"`
	// Database is the MongoDB database.
	Database string `toml:"database" envconfig:"DATABASE" validate:"required_if=Driver mongo"`
	// Table is the Postgres table or Mongo collection. Empty uses the store default.
	Table string `toml:"table" envconfig:"TABLE"`
}

// CacheConfig controls the deserialization cache.
type CacheConfig struct {
	// Metrics registers the cache counters with the default Prometheus registry.
	Metrics bool `toml:"metrics" envconfig:"METRICS"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverNone
	}
	p := licensekey.DefaultRetryPolicy()
	if c.Trust.RetryAttempts == 0 {
		c.Trust.RetryAttempts = p.MaxAttempts
	}
	if c.Trust.RetryInitialMS == 0 {
		c.Trust.RetryInitialMS = int(p.InitialDelay / time.Millisecond)
	}
	if c.Trust.RetryMaxMS == 0 {
		c.Trust.RetryMaxMS = int(p.MaxDelay / time.Millisecond)
	}
}

// Load reads the TOML file at path, if path is not empty, applies environment
// overrides and validates the result. Environment variables win over the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	cfg.setDefaults()
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RetryPolicy returns the key source retry settings.
func (c *Config) RetryPolicy() licensekey.RetryPolicy {
	p := licensekey.DefaultRetryPolicy()
	p.MaxAttempts = c.Trust.RetryAttempts
	p.InitialDelay = time.Duration(c.Trust.RetryInitialMS) * time.Millisecond
	p.MaxDelay = time.Duration(c.Trust.RetryMaxMS) * time.Millisecond
	return p
}

// TrustContext builds the trust context described by c.
func (c *Config) TrustContext(logger log.Interface) (*licensekey.TrustContext, error) {
	opts := []licensekey.TrustOption{
		licensekey.WithRetry(c.RetryPolicy()),
		licensekey.WithTrustLogger(logger),
	}
	if !c.Trust.SkipShippedKeys {
		opts = append(opts, licensekey.WithShippedKeys())
	}
	for _, k := range c.Trust.Keys {
		pub, err := licensekey.ParsePublicKey(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("trusted key %d: %w", k.ID, err)
		}
		opts = append(opts, licensekey.WithKey(uint8(k.ID), pub))
	}
	if c.Trust.KeyFile != "" {
		opts = append(opts, licensekey.WithKeySource(licensekey.NewFileKeySource(c.Trust.KeyFile)))
	}
	return licensekey.NewTrustContext(opts...)
}

// Signer loads the issuer's private key.
func (c *Config) Signer() (*licensekey.Signer, error) {
	if c.Signing.KeyFile == "" {
		return nil, ErrSigningKeyNotConfigured
	}
	data, err := os.ReadFile(c.Signing.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	id, priv, err := licensekey.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Signing.KeyFile, err)
	}
	return licensekey.NewSigner(id, priv)
}

// NewCache builds a cache over trust, registering its metrics when enabled.
func (c *Config) NewCache(trust *licensekey.TrustContext, logger log.Interface) (*licensekey.Cache, error) {
	opts := []licensekey.CacheOption{licensekey.WithCacheLogger(logger)}
	if c.Cache.Metrics {
		opts = append(opts, licensekey.WithRegisterer(prometheus.DefaultRegisterer))
	}
	return licensekey.NewCache(trust, opts...)
}

// OpenStore opens the configured store. It returns nil when the driver is "none".
func (c *Config) OpenStore(ctx context.Context) (licensestore.Store, error) {
	switch c.Store.Driver {
	case DriverNone, "":
		return nil, nil
	case DriverBolt:
		s, err := licensestore.OpenBoltStore(c.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		var opts []licensestore.PostgresOption
		if c.Store.Table != "" {
			opts = append(opts, licensestore.WithTableName(c.Store.Table))
		}
		s, err := licensestore.OpenPostgresStore(ctx, c.Store.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMongo:
		var opts []licensestore.MongoOption
		if c.Store.Table != "" {
			opts = append(opts, licensestore.WithCollectionName(c.Store.Table))
		}
		s, err := licensestore.OpenMongoStore(ctx, c.Store.URI, c.Store.Database, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
}
