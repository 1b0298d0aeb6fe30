package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	ShopAPIBaseURL     string
	ShopAPIKey         string
	CORSAllowedOrigins []string
	CurrencyCode       string

	TaxRateBps            int
	FreeShippingThreshold int64
	FlatShippingFee       int64

	PaymentSessionTTL   time.Duration
	PaymentPollInterval time.Duration
	GatewayTimeout      time.Duration
	IdempotencyTTL      time.Duration
	CartTTL             time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		ShopAPIBaseURL:     k.String("SHOP_API_BASE_URL"),
		ShopAPIKey:         k.String("SHOP_API_KEY"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CurrencyCode:       valueOrDefault(k.String("CURRENCY_CODE"), "VND"),

		TaxRateBps:            parseInt(k.String("PRICING_TAX_RATE_BPS"), 800),
		FreeShippingThreshold: parseInt64(k.String("PRICING_FREE_SHIPPING_THRESHOLD"), 500_000),
		FlatShippingFee:       parseInt64(k.String("PRICING_FLAT_SHIPPING_FEE"), 25_000),

		PaymentSessionTTL:   parseDuration(k.String("PAYMENT_SESSION_TTL"), "600s"),
		PaymentPollInterval: parseDuration(k.String("PAYMENT_POLL_INTERVAL"), "5s"),
		GatewayTimeout:      parseDuration(k.String("SHOP_API_TIMEOUT"), "10s"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		CartTTL:             parseDuration(k.String("CART_TTL"), "168h"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ShopAPIBaseURL == "" {
		return nil, errors.New("SHOP_API_BASE_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
