package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Checkout CheckoutConfig
	Razorpay RazorpayConfig
	Stripe   StripeConfig
	Cashfree CashfreeConfig
	PayU     PayUConfig
	Paytm    PaytmConfig
	Email    EmailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	BaseURL            string // public base URL, used for gateway return URLs
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// CheckoutConfig holds checkout pipeline settings.
type CheckoutConfig struct {
	Currency          string
	TaxRatePercent    float64
	SessionTTLMinutes int
	RefundWindowDays  int
}

// RazorpayConfig for the redirect/checkout-js gateway.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
}

// StripeConfig for the payment-intent gateway.
type StripeConfig struct {
	SecretKey string
	BaseURL   string
}

// CashfreeConfig for the hosted-session gateway.
type CashfreeConfig struct {
	AppID     string
	SecretKey string
	BaseURL   string
}

// PayUConfig for the form-post gateway with server-side hash.
type PayUConfig struct {
	MerchantKey string
	Salt        string
	BaseURL     string
}

// PaytmConfig for the token-exchange gateway.
type PaytmConfig struct {
	MerchantID  string
	MerchantKey string
	Website     string
	BaseURL     string
}

// EmailConfig for SMTP dispatch.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			BaseURL:            getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/learnhub?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "learnhub"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Checkout: CheckoutConfig{
			Currency:          getEnv("CHECKOUT_CURRENCY", "INR"),
			TaxRatePercent:    getEnvFloat("CHECKOUT_TAX_RATE_PERCENT", 18),
			SessionTTLMinutes: getEnvInt("CHECKOUT_SESSION_TTL_MINUTES", 60),
			RefundWindowDays:  getEnvInt("REFUND_WINDOW_DAYS", 30),
		},
		Razorpay: RazorpayConfig{
			KeyID:     getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret: getEnv("RAZORPAY_KEY_SECRET", ""),
			BaseURL:   getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			BaseURL:   getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		},
		Cashfree: CashfreeConfig{
			AppID:     getEnv("CASHFREE_APP_ID", ""),
			SecretKey: getEnv("CASHFREE_SECRET_KEY", ""),
			BaseURL:   getEnv("CASHFREE_BASE_URL", "https://api.cashfree.com"),
		},
		PayU: PayUConfig{
			MerchantKey: getEnv("PAYU_MERCHANT_KEY", ""),
			Salt:        getEnv("PAYU_SALT", ""),
			BaseURL:     getEnv("PAYU_BASE_URL", "https://secure.payu.in"),
		},
		Paytm: PaytmConfig{
			MerchantID:  getEnv("PAYTM_MERCHANT_ID", ""),
			MerchantKey: getEnv("PAYTM_MERCHANT_KEY", ""),
			Website:     getEnv("PAYTM_WEBSITE", "DEFAULT"),
			BaseURL:     getEnv("PAYTM_BASE_URL", "https://securegw.paytm.in"),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@learnhub.example"),
			FromName:    getEnv("EMAIL_FROM_NAME", "LearnHub"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
