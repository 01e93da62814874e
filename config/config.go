// Package config loads operator configuration for issuers and relying sites
// from a YAML file, a .env file and KOTOMI_JWT_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
)

const (
	// EnvPrefix prefixes every environment override, e.g. KOTOMI_JWT_ISSUER_SECRET.
	EnvPrefix = "KOTOMI_JWT"
	// EnvFileVar names the .env file to load. Defaults to ".env".
	EnvFileVar = "KOTOMI_JWT_ENV_FILE"
)

// Config is the complete operator configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Issuer IssuerConfig `mapstructure:"issuer"`
	Sites  []SiteConfig `mapstructure:"sites"`
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig configures the demo relying service.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// IssuerConfig holds the signing side. Secrets and keys may be given inline
// or as file paths; files win.
type IssuerConfig struct {
	Issuer              string        `mapstructure:"issuer"`
	Audience            string        `mapstructure:"audience"`
	TTL                 time.Duration `mapstructure:"ttl"`
	Algorithm           string        `mapstructure:"algorithm"`
	Secret              string        `mapstructure:"secret"`
	SecretFile          string        `mapstructure:"secret_file"`
	PrivateKeyFile      string        `mapstructure:"private_key_file"`
	KeyID               string        `mapstructure:"key_id"`
	RequireStrongSecret bool          `mapstructure:"require_strong_secret"`
}

// SiteConfig is one relying site as configured in the admin console.
type SiteConfig struct {
	ID                string        `mapstructure:"id"`
	AuthMode          string        `mapstructure:"auth_mode"`
	ValidationType    string        `mapstructure:"validation_type"`
	Secret            string        `mapstructure:"secret"`
	SecretFile        string        `mapstructure:"secret_file"`
	PublicKey         string        `mapstructure:"public_key"`
	PublicKeyFile     string        `mapstructure:"public_key_file"`
	JWKSURL           string        `mapstructure:"jwks_url"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	ClockSkew         time.Duration `mapstructure:"clock_skew"`
	AllowedAlgorithms []string      `mapstructure:"allowed_algorithms"`
	// WatchKeyFile reloads SecretFile or PublicKeyFile when it changes.
	WatchKeyFile bool `mapstructure:"watch_key_file"`
}

// Load reads configuration from path, or from kotomi-jwt.yaml in
// /etc/kotomi-jwt and the working directory when path is empty. A missing
// default file or .env file is not an error.
func Load(path string) (*Config, error) {
	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kotomi-jwt")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/kotomi-jwt/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("issuer.issuer", "")
	v.SetDefault("issuer.audience", "kotomi")
	v.SetDefault("issuer.ttl", "1h")
	v.SetDefault("issuer.algorithm", "")
	v.SetDefault("issuer.secret", "")
	v.SetDefault("issuer.secret_file", "")
	v.SetDefault("issuer.private_key_file", "")
	v.SetDefault("issuer.key_id", "")
	v.SetDefault("issuer.require_strong_secret", false)
}

// Validate checks values that would otherwise only fail when used.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		if site.ID == "" {
			return fmt.Errorf("sites[%d]: id is required", i)
		}
		if _, dup := seen[site.ID]; dup {
			return fmt.Errorf("sites[%d]: duplicate id %q", i, site.ID)
		}
		seen[site.ID] = struct{}{}
		switch jwtx.AuthMode(site.AuthMode) {
		case "", jwtx.AuthModeExternal:
			if _, err := jwtx.ParseValidationType(site.ValidationType); err != nil {
				return fmt.Errorf("site %q: %w", site.ID, err)
			}
		case jwtx.AuthModeNone:
		default:
			return fmt.Errorf("site %q: unsupported auth_mode %q", site.ID, site.AuthMode)
		}
	}
	return nil
}

// HasSigningKey reports whether an issuer secret or private key is configured.
func (c IssuerConfig) HasSigningKey() bool {
	return c.Secret != "" || c.SecretFile != "" || c.PrivateKeyFile != ""
}

// JWTX converts the issuer settings, reading key files.
func (c IssuerConfig) JWTX(logger *zap.Logger, metrics *jwtx.Metrics) (jwtx.IssuerConfig, error) {
	out := jwtx.IssuerConfig{
		Issuer:              c.Issuer,
		Audience:            c.Audience,
		TTL:                 c.TTL,
		Algorithm:           jwtx.Algorithm(c.Algorithm),
		KeyID:               c.KeyID,
		RequireStrongSecret: c.RequireStrongSecret,
		Logger:              logger,
		Metrics:             metrics,
	}
	switch {
	case c.PrivateKeyFile != "":
		pem, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return jwtx.IssuerConfig{}, fmt.Errorf("read private key: %w", err)
		}
		out.PrivateKeyPEM = pem
	case c.SecretFile != "":
		material, err := jwtx.LoadKeyFile(c.SecretFile, jwtx.SecretDecoder)
		if err != nil {
			return jwtx.IssuerConfig{}, err
		}
		out.Secret = material.Secret
	case c.Secret != "":
		out.Secret = []byte(c.Secret)
	}
	return out, nil
}

// KeyFile returns the file holding the site's key material, if any.
func (s SiteConfig) KeyFile() string {
	if s.SecretFile != "" {
		return s.SecretFile
	}
	return s.PublicKeyFile
}

// JWTX converts the site settings, reading key files.
func (s SiteConfig) JWTX(logger *zap.Logger, metrics *jwtx.Metrics) (jwtx.SiteConfig, error) {
	out := jwtx.SiteConfig{
		ID:       s.ID,
		AuthMode: jwtx.AuthMode(s.AuthMode),
	}
	if out.AuthMode == jwtx.AuthModeNone {
		return out, nil
	}

	vt, err := jwtx.ParseValidationType(s.ValidationType)
	if err != nil {
		return jwtx.SiteConfig{}, err
	}
	algs := make([]jwtx.Algorithm, 0, len(s.AllowedAlgorithms))
	for _, a := range s.AllowedAlgorithms {
		algs = append(algs, jwtx.Algorithm(a))
	}
	out.Verifier = jwtx.VerifierConfig{
		ValidationType:    vt,
		JWKSURL:           s.JWKSURL,
		Issuer:            s.Issuer,
		Audience:          s.Audience,
		ClockSkew:         s.ClockSkew,
		AllowedAlgorithms: algs,
		Logger:            logger,
		Metrics:           metrics,
	}

	switch {
	case vt == jwtx.ValidationJWKS:
	case s.KeyFile() != "":
		material, err := jwtx.LoadKeyFile(s.KeyFile(), jwtx.DecoderFor(vt))
		if err != nil {
			return jwtx.SiteConfig{}, err
		}
		out.Verifier.KeyStore = jwtx.NewKeyStore(material)
	case vt == jwtx.ValidationHMAC:
		out.Verifier.Secret = []byte(s.Secret)
	default:
		out.Verifier.PublicKeyPEM = []byte(s.PublicKey)
	}
	return out, nil
}

// RegistryConfig converts every site.
func (c *Config) RegistryConfig(logger *zap.Logger, metrics *jwtx.Metrics) (jwtx.RegistryConfig, error) {
	out := jwtx.RegistryConfig{Logger: logger}
	for _, site := range c.Sites {
		converted, err := site.JWTX(logger, metrics)
		if err != nil {
			return jwtx.RegistryConfig{}, fmt.Errorf("site %q: %w", site.ID, err)
		}
		out.Sites = append(out.Sites, converted)
	}
	return out, nil
}

// WatchKeys starts a key watcher for every external site with
// watch_key_file set. Watchers stop when ctx is done; callers should Close
// the returned watchers on shutdown.
func (c *Config) WatchKeys(ctx context.Context, reg *jwtx.Registry, logger *zap.Logger) ([]*jwtx.KeyWatcher, error) {
	var watchers []*jwtx.KeyWatcher
	for _, site := range c.Sites {
		if !site.WatchKeyFile || site.KeyFile() == "" {
			continue
		}
		v, ok := reg.Verifier(site.ID)
		if !ok || v.KeyStore() == nil {
			continue
		}
		vt, err := jwtx.ParseValidationType(site.ValidationType)
		if err != nil {
			return watchers, err
		}
		siteLogger := logger.With(zap.String("site", site.ID))
		w, err := jwtx.NewKeyWatcher(site.KeyFile(), v.KeyStore(), jwtx.DecoderFor(vt), siteLogger)
		if err != nil {
			return watchers, fmt.Errorf("site %q: %w", site.ID, err)
		}
		watchers = append(watchers, w)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				siteLogger.Error("key watcher stopped", zap.Error(err))
			}
		}()
	}
	return watchers, nil
}
