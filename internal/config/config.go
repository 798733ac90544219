package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	// Clinic-local calendar semantics. All "is this slot past" checks are
	// evaluated in this timezone, never the caller's.
	ClinicTimezone string

	// Booking rules
	CancelWindow   time.Duration
	BookingHorizon int // days ahead exposed by the date listings
	SlotCacheTTL   time.Duration
	SlotCacheSize  int
	NextSlotsLimit int
	InFlightGuard  time.Duration

	// Web-checkout gateway (hosted checkout page, server-verified callback)
	CheckoutGatewayBaseURL string
	CheckoutGatewayKeyID   string
	CheckoutGatewaySecret  string
	CheckoutSuccessURL     string
	CheckoutCancelURL      string

	// Native-sheet gateway (in-app payment sheet, webhook-confirmed)
	SheetGatewayBaseURL string
	SheetGatewayKeyID   string
	SheetGatewaySecret  string
	SheetConfirmTTL     time.Duration

	AuthJWTSecret string

	// Shop pricing knobs
	ShopTaxBasisPoints int64 // 1800 = 18%
	ShopShippingCents  int64

	CORSAllowedOrigins []string

	// SendGrid email notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables. A local .env file is
// honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ClinicTimezone: getEnv("CLINIC_TZ", "Asia/Kolkata"),

		CancelWindow:   getEnvAsDuration("CANCEL_WINDOW", 60*time.Minute),
		BookingHorizon: getEnvAsInt("BOOKING_HORIZON_DAYS", 14),
		SlotCacheTTL:   getEnvAsDuration("SLOT_CACHE_TTL", 3*time.Minute),
		SlotCacheSize:  getEnvAsInt("SLOT_CACHE_SIZE", 64),
		NextSlotsLimit: getEnvAsInt("NEXT_SLOTS_LIMIT", 10),
		InFlightGuard:  getEnvAsDuration("BOOKING_INFLIGHT_GUARD", 15*time.Second),

		CheckoutGatewayBaseURL: getEnv("CHECKOUT_GATEWAY_BASE_URL", ""),
		CheckoutGatewayKeyID:   getEnv("CHECKOUT_GATEWAY_KEY_ID", ""),
		CheckoutGatewaySecret:  getEnv("CHECKOUT_GATEWAY_SECRET", ""),
		CheckoutSuccessURL:     getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:      getEnv("CHECKOUT_CANCEL_URL", ""),

		SheetGatewayBaseURL: getEnv("SHEET_GATEWAY_BASE_URL", ""),
		SheetGatewayKeyID:   getEnv("SHEET_GATEWAY_KEY_ID", ""),
		SheetGatewaySecret:  getEnv("SHEET_GATEWAY_SECRET", ""),
		SheetConfirmTTL:     getEnvAsDuration("SHEET_CONFIRM_TTL", 15*time.Minute),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		ShopTaxBasisPoints: int64(getEnvAsInt("SHOP_TAX_BASIS_POINTS", 1800)),
		ShopShippingCents:  int64(getEnvAsInt("SHOP_SHIPPING_CENTS", 500)),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Calmora Clinic"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable.
func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
