package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Port         string
	DatabasePath string
	LogLevel     string
	LogFormat    string
	AppURL       string

	StripeSecretKey       string
	StripeWebhookSecret   string
	StripeTimeout         time.Duration
	StripePriceBasic      string
	StripePricePro        string
	StripePriceEnterprise string

	IdentityIssuer    string
	IdentityAudience  string
	IdentityJWKSURL   string
	IdentityAPIURL    string
	IdentitySecretKey string

	DataEncryptionKey string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string

	PostmarkToken string
	FromEmail     string

	ReconcileInterval time.Duration
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	port := get("PORT", "8080")
	cfg := Config{
		Port:         port,
		DatabasePath: get("DATABASE_PATH", "stayscan.db"),
		LogLevel:     get("LOG_LEVEL", "info"),
		LogFormat:    get("LOG_FORMAT", "text"),
		AppURL:       strings.TrimRight(get("APP_URL", "http://localhost:"+port), "/"),

		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceBasic:      os.Getenv("STRIPE_PRICE_BASIC"),
		StripePricePro:        os.Getenv("STRIPE_PRICE_PRO"),
		StripePriceEnterprise: os.Getenv("STRIPE_PRICE_ENTERPRISE"),

		IdentityIssuer:    os.Getenv("IDENTITY_ISSUER"),
		IdentityAudience:  os.Getenv("IDENTITY_AUDIENCE"),
		IdentityJWKSURL:   os.Getenv("IDENTITY_JWKS_URL"),
		IdentityAPIURL:    get("IDENTITY_API_URL", "https://api.clerk.com"),
		IdentitySecretKey: os.Getenv("IDENTITY_SECRET_KEY"),

		DataEncryptionKey: os.Getenv("DATA_ENCRYPTION_KEY"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    get("S3_REGION", "auto"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3PublicURL: strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),

		PostmarkToken: os.Getenv("POSTMARK_TOKEN"),
		FromEmail:     get("FROM_EMAIL", "billing@stayscan.app"),
	}

	var err error
	if cfg.StripeTimeout, err = duration("STRIPE_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = duration("RECONCILE_INTERVAL", 0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the required settings that are missing for serving traffic.
func (c Config) Validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.IdentityIssuer == "" {
		missing = append(missing, "IDENTITY_ISSUER")
	}
	if c.DataEncryptionKey == "" {
		missing = append(missing, "DATA_ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return nil
}

// S3Configured reports whether image uploads can be signed.
func (c Config) S3Configured() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// duration accepts Go durations ("90s") or bare seconds ("90").
func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
