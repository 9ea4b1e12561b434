package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration: credentials, endpoints and
// operational knobs. Trading behavior (sizing, risk limits, exits) lives in
// the persisted BotConfig singleton, not here.
type Config struct {
	// Broker API
	BrokerKeyID     string
	BrokerSecretKey string
	BrokerPaperURL  string
	BrokerLiveURL   string

	// Market data
	MarketDataURL string
	MarketDataKey string

	// News feeds, comma separated websocket URLs as name=url pairs
	NewsSources map[string]string

	// AI advisory (optional; empty key disables tiers 3-4)
	AdvisorURL string
	AdvisorKey string

	// Database
	DBPath string

	// HTTP API
	HTTPPort int

	// Logging
	LogLevel  string
	LogPretty bool

	// Timings
	PollInterval   time.Duration // position monitor cadence
	ReconnectDelay time.Duration // base delay for stream reconnects

	// Market session timezone
	MarketTimezone string
}

// Load reads configuration from environment variables (.env file supported).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.BrokerKeyID = getEnv("BROKER_KEY_ID", "")
	cfg.BrokerSecretKey = getEnv("BROKER_SECRET_KEY", "")
	if cfg.BrokerKeyID == "" {
		errs = append(errs, "BROKER_KEY_ID must be set")
	}
	if cfg.BrokerSecretKey == "" {
		errs = append(errs, "BROKER_SECRET_KEY must be set")
	}
	cfg.BrokerPaperURL = getEnv("BROKER_PAPER_URL", "https://paper-api.alpaca.markets")
	cfg.BrokerLiveURL = getEnv("BROKER_LIVE_URL", "https://api.alpaca.markets")

	cfg.MarketDataURL = getEnv("MARKET_DATA_URL", "https://data.alpaca.markets")
	cfg.MarketDataKey = getEnv("MARKET_DATA_KEY", cfg.BrokerKeyID)

	cfg.NewsSources = map[string]string{}
	for _, entry := range splitNonEmpty(getEnv("NEWS_SOURCES", "")) {
		name, url, ok := strings.Cut(entry, "=")
		if !ok || name == "" || url == "" {
			errs = append(errs, fmt.Sprintf("invalid NEWS_SOURCES entry %q (want name=url)", entry))
			continue
		}
		cfg.NewsSources[name] = url
	}
	if len(cfg.NewsSources) == 0 {
		errs = append(errs, "NEWS_SOURCES must list at least one name=url feed")
	}

	cfg.AdvisorURL = getEnv("ADVISOR_URL", "")
	cfg.AdvisorKey = getEnv("ADVISOR_KEY", "")

	cfg.DBPath = getEnv("DB_PATH", "./data/catalystbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8090)
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		errs = append(errs, "HTTP_PORT must be a valid port")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 5)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	reconnectSeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectSeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectSeconds) * time.Second

	cfg.MarketTimezone = getEnv("MARKET_TIMEZONE", "America/New_York")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
