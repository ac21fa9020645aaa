package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	RedisAddr             string   `mapstructure:"REDIS_ADDR"`
	JWTSecret             string   `mapstructure:"JWT_SECRET"`
	TokenTTLMinutes       int      `mapstructure:"TOKEN_TTL_MINUTES"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	PHIEncryptionKey      string   `mapstructure:"PHI_ENCRYPTION_KEY"`
	PHIEncryptionKeyVer   int      `mapstructure:"PHI_ENCRYPTION_KEY_VERSION"`
	PHIEncryptionPrevKeys string   `mapstructure:"PHI_ENCRYPTION_PREVIOUS_KEYS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	ReminderLookaheadDays int      `mapstructure:"REMINDER_LOOKAHEAD_DAYS"`
	ReminderHour          int      `mapstructure:"REMINDER_HOUR"`
	SlotHoldTTLSeconds    int      `mapstructure:"SLOT_HOLD_TTL_SECONDS"`
	TLSEnabled            bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile           string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile            string   `mapstructure:"TLS_KEY_FILE"`
}

// devJWTSecret is the fallback signing key for development. Validate refuses
// to run production with it.
const devJWTSecret = "dev-secret-change-me"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("TOKEN_TTL_MINUTES", 1440)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PHI_ENCRYPTION_KEY_VERSION", 1)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REMINDER_LOOKAHEAD_DAYS", 7)
	v.SetDefault("REMINDER_HOUR", 8)
	v.SetDefault("SLOT_HOLD_TTL_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_ADDR")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("TOKEN_TTL_MINUTES")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("PHI_ENCRYPTION_KEY_VERSION")
	v.BindEnv("PHI_ENCRYPTION_PREVIOUS_KEYS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REMINDER_LOOKAHEAD_DAYS")
	v.BindEnv("REMINDER_HOUR")
	v.BindEnv("SLOT_HOLD_TTL_SECONDS")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// PreviousPHIKeys parses PHI_ENCRYPTION_PREVIOUS_KEYS, a comma-separated
// list of "version:hexkey" entries kept around after a key rotation so old
// ciphertexts stay readable. An empty setting returns an empty map.
func (c *Config) PreviousPHIKeys() (map[int]string, error) {
	keys := make(map[int]string)
	if c.PHIEncryptionPrevKeys == "" {
		return keys, nil
	}
	for _, entry := range strings.Split(c.PHIEncryptionPrevKeys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("PHI_ENCRYPTION_PREVIOUS_KEYS entry %q must be version:hexkey", entry)
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil || version < 1 {
			return nil, fmt.Errorf("PHI_ENCRYPTION_PREVIOUS_KEYS entry %q has invalid version", entry)
		}
		keyBytes, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("PHI_ENCRYPTION_PREVIOUS_KEYS entry for version %d is not valid hex: %w", version, err)
		}
		if len(keyBytes) != 32 {
			return nil, fmt.Errorf("PHI_ENCRYPTION_PREVIOUS_KEYS entry for version %d must be 32 bytes (64 hex chars), got %d bytes", version, len(keyBytes))
		}
		keys[version] = parts[1]
	}
	return keys, nil
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production a real
// JWT_SECRET is required and PHI_ENCRYPTION_KEY must be a valid 64-character
// hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set to a non-default value in production")
		}
		if c.PHIEncryptionKey == "" {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
		}
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
		if c.PHIEncryptionKeyVer < 1 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY_VERSION must be at least 1, got %d", c.PHIEncryptionKeyVer)
		}
	}
	if _, err := c.PreviousPHIKeys(); err != nil {
		return err
	}

	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("TOKEN_TTL_MINUTES must be positive, got %d", c.TokenTTLMinutes)
	}
	if c.ReminderLookaheadDays < 1 {
		return fmt.Errorf("REMINDER_LOOKAHEAD_DAYS must be at least 1, got %d", c.ReminderLookaheadDays)
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("REMINDER_HOUR must be between 0 and 23, got %d", c.ReminderHour)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
