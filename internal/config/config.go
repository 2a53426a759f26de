package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port         string
	DBConn       string
	LogLevel     string
	StoreBackend string
	DBMigrate    bool

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	CardEncryptionAlgorithm string
	CardEncryptionKey       []byte
	HMACSecret              string
	CardBIN                 string
	CardExpirationYears     int

	MaxTransferAmount     decimal.Decimal
	TransferRetryAttempts int

	ExpiryAuditSchedule string
}

// NewConfig loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables win.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		DBConn:                  getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:                getEnv("LOG_LEVEL", "INFO"),
		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		JWTSecret:               getEnv("JWT_SECRET", "secret"),
		JWTIssuer:               getEnv("JWT_ISSUER", "bank-cards"),
		CardEncryptionAlgorithm: getEnv("CARD_ENCRYPTION_ALGORITHM", "AES/GCM"),
		HMACSecret:              getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		CardBIN:                 getEnv("CARD_BIN", "400000"),
		ExpiryAuditSchedule:     getEnv("EXPIRY_AUDIT_SCHEDULE", "@daily"),
	}

	var err error
	if cfg.DBMigrate, err = getBool("DB_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CardExpirationYears, err = getInt("CARD_EXPIRATION_YEARS", 2); err != nil {
		return nil, err
	}
	if cfg.TransferRetryAttempts, err = getInt("TRANSFER_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxTransferAmount, err = decimal.NewFromString(getEnv("MAX_TRANSFER_AMOUNT", "250000")); err != nil {
		return nil, fmt.Errorf("invalid MAX_TRANSFER_AMOUNT: %w", err)
	}
	if cfg.CardEncryptionKey, err = parseKey(getEnv("CARD_ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DBConn == "" {
			return fmt.Errorf("DB_CONN is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND=%s", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.HMACSecret == "" {
		return fmt.Errorf("HMAC_SECRET is required")
	}
	if c.CardExpirationYears <= 0 {
		return fmt.Errorf("CARD_EXPIRATION_YEARS must be positive, got %d", c.CardExpirationYears)
	}
	if !c.MaxTransferAmount.IsPositive() {
		return fmt.Errorf("MAX_TRANSFER_AMOUNT must be positive, got %s", c.MaxTransferAmount)
	}
	if c.TransferRetryAttempts < 1 {
		return fmt.Errorf("TRANSFER_RETRY_ATTEMPTS must be at least 1, got %d", c.TransferRetryAttempts)
	}
	return nil
}

// parseKey accepts a hex-encoded or raw AES key of 16, 24 or 32 bytes
func parseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("CARD_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(s)
	if err != nil || !validKeyLen(len(key)) {
		key = []byte(s)
	}
	if !validKeyLen(len(key)) {
		return nil, fmt.Errorf("CARD_ENCRYPTION_KEY must be 16, 24, or 32 bytes, got %d", len(key))
	}
	return key, nil
}

func validKeyLen(n int) bool {
	return n == 16 || n == 24 || n == 32
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
