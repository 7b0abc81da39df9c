// Package config loads the immutable process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const envPrefix = "CARDIAVUE_"

const (
	defaultHTTPAddr     = ":8080"
	defaultTokenTTL     = 8 * 24 * time.Hour
	defaultTokenIssuer  = "cardiavue"
	defaultStoreTimeout = 3 * time.Second
	minProdSecretLen    = 32
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:8080"}

// Config is built once at startup and passed by value into constructors.
type Config struct {
	HTTPAddr string
	GRPCAddr string // optional gRPC health endpoint
	PGDSN    string // empty selects in-memory stores with demo data

	AuthSecret   string
	TokenTTL     time.Duration
	TokenIssuer  string
	BcryptCost   int
	PolicyFile   string
	StoreTimeout time.Duration

	CORSOrigins     []string
	LoginRatePerSec float64
	LoginRateBurst  int
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies []netip.Prefix

	LogLevel string
	Env      string
}

// LoadFromEnv reads CARDIAVUE_* variables and applies defaults.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenv("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:        getenv("GRPC_ADDR", ""),
		PGDSN:           getenv("PG_DSN", ""),
		AuthSecret:      strings.TrimSpace(getenv("AUTH_SECRET", "")),
		TokenTTL:        defaultTokenTTL,
		TokenIssuer:     getenv("TOKEN_ISSUER", defaultTokenIssuer),
		BcryptCost:      bcrypt.DefaultCost,
		PolicyFile:      getenv("POLICY_FILE", ""),
		StoreTimeout:    defaultStoreTimeout,
		CORSOrigins:     defaultCORSOrigins,
		LoginRatePerSec: 1,
		LoginRateBurst:  5,
		LogLevel:        getenv("LOG_LEVEL", "info"),
		Env:             getenv("ENV", "development"),
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationEnv("STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", cfg.BcryptCost); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateBurst, err = intEnv("LOGIN_RATE_BURST", cfg.LoginRateBurst); err != nil {
		return Config{}, err
	}
	if v := getenv("LOGIN_RATE_PER_SEC", ""); v != "" {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return Config{}, fmt.Errorf("config: %sLOGIN_RATE_PER_SEC: %w", envPrefix, perr)
		}
		cfg.LoginRatePerSec = f
	}
	if v := getenv("CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if cfg.TrustedProxies, err = prefixListEnv("TRUSTED_PROXIES"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.AuthSecret == "" {
		return errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	if c.IsProduction() && len(c.AuthSecret) < minProdSecretLen {
		return fmt.Errorf("config: auth secret must be at least %d bytes in production", minProdSecretLen)
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token ttl must be greater than zero")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: store timeout must be greater than zero")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.LoginRatePerSec <= 0 || c.LoginRateBurst <= 0 {
		return errors.New("config: login rate limit must be positive")
	}
	return nil
}

// IsProduction reports whether ENV is "production".
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// SlogLevel maps LogLevel to an slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

// prefixListEnv parses a comma list of CIDRs or bare addresses.
func prefixListEnv(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(getenv(key, "")) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
