package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string     `json:"serverAddress"`
	DatabasePath  string     `json:"databasePath"`
	DatabaseURL   string     `json:"databaseUrl"`
	LogLevel      string     `json:"logLevel"`
	Security      Security   `json:"security"`
	Ingest        Ingest     `json:"ingest"`
	Partitions    Partitions `json:"partitions"`
	Auditor       Auditor    `json:"auditor"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Security configuration
type Security struct {
	APIKey                  string `json:"apiKey"`
	APIKeyHeader            string `json:"apiKeyHeader"`
	DeviceTokenHeader       string `json:"deviceTokenHeader"`
	RequireRegisteredDevice bool   `json:"requireRegisteredDevice"`
}

// Ingest limits for the sync endpoint
type Ingest struct {
	MaxBatchItems int   `json:"maxBatchItems"`
	MaxBodyBytes  int64 `json:"maxBodyBytes"`
}

// Partitions configures the per-device partition registry
type Partitions struct {
	IdleTTLMinutes int `json:"idleTtlMinutes"`
}

// IdleTTL returns the idle eviction age for partition handles
func (p Partitions) IdleTTL() time.Duration {
	return time.Duration(p.IdleTTLMinutes) * time.Minute
}

// Auditor configuration for the background dedup audit
type Auditor struct {
	Enabled       bool `json:"enabled"`
	IntervalHours int  `json:"intervalHours"`
	AutoStart     bool `json:"autoStart"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "devicevault.db",
		LogLevel:      "info",
		Security: Security{
			APIKey:            "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader:      "X-API-Key",
			DeviceTokenHeader: "X-Device-Token",
		},
		Ingest: Ingest{
			MaxBatchItems: 5000,
			MaxBodyBytes:  16 << 20,
		},
		Partitions: Partitions{
			IdleTTLMinutes: 30,
		},
		Auditor: Auditor{
			Enabled:       true,
			IntervalHours: 24,
			AutoStart:     false,
		},
	}
}

// Load loads configuration from file, .env and environment, in that order of precedence (lowest first)
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is fine; real environment variables still win over it
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if header := os.Getenv("API_KEY_HEADER"); header != "" {
		cfg.Security.APIKeyHeader = header
	}
	if header := os.Getenv("DEVICE_TOKEN_HEADER"); header != "" {
		cfg.Security.DeviceTokenHeader = header
	}
	if v, ok := envBool("REQUIRE_REGISTERED_DEVICE"); ok {
		cfg.Security.RequireRegisteredDevice = v
	}

	if n, ok := envInt("MAX_BATCH_ITEMS"); ok {
		cfg.Ingest.MaxBatchItems = n
	}
	if n, ok := envInt("MAX_BODY_BYTES"); ok {
		cfg.Ingest.MaxBodyBytes = int64(n)
	}
	if ttl := os.Getenv("PARTITION_IDLE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			cfg.Partitions.IdleTTLMinutes = int(d / time.Minute)
		}
	}

	if v, ok := envBool("AUDIT_ENABLED"); ok {
		cfg.Auditor.Enabled = v
	}
	if n, ok := envInt("AUDIT_INTERVAL_HOURS"); ok {
		cfg.Auditor.IntervalHours = n
	}
	if v, ok := envBool("AUDIT_AUTO_START"); ok {
		cfg.Auditor.AutoStart = v
	}
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
