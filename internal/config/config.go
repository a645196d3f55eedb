package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// WIBLoc is the fixed +07:00 offset the Indonesian equities market trades in.
// Using FixedZone avoids a dependency on the host's zoneinfo database.
var WIBLoc = time.FixedZone("WIB", 7*3600)

// Config holds all tweakable application parameters.
// Values are loaded from environment variables or set to sensible defaults.
type Config struct {
	LogLevel      string // Environment: STOCKBIT_LOG_LEVEL
	MaxLogSizeMB  int64  // Environment: STOCKBIT_MAX_LOG_SIZE_MB
	MaxLogBackups int    // Environment: STOCKBIT_MAX_LOG_BACKUPS

	APIBase      string // Environment: STOCKBIT_API_BASE
	WebsocketURL string // Environment: STOCKBIT_WEBSOCKET_URL

	DataDir      string // Environment: STOCKBIT_DATA_DIR
	OrderbookDir string // Environment: STOCKBIT_ORDERBOOK_DIR
	CrawlDir     string // Environment: STOCKBIT_CRAWL_DIR
	ConfigDir    string // Environment: STOCKBIT_CONFIG_DIR

	SchedulerTickSeconds int // Environment: STOCKBIT_SCHEDULER_TICK_SECONDS

	DefaultPageLimit        int     // Environment: STOCKBIT_DEFAULT_LIMIT
	DefaultDelaySeconds     float64 // Environment: STOCKBIT_DEFAULT_DELAY_SECONDS
	DefaultRetryCount       int     // Environment: STOCKBIT_DEFAULT_RETRY_COUNT
	DefaultRetryBackoffSecs float64 // Environment: STOCKBIT_DEFAULT_RETRY_BACKOFF_SECONDS

	TelegramBotToken string // Environment: TELEGRAM_BOT_TOKEN
	TelegramChatID   string // Environment: TELEGRAM_CHAT_ID
}

// Load initializes the configuration.
// It reads .env, then populates the Config struct from env vars with defaults.
// Unlike a brokerage client, this service has no credential it must have at
// boot time -- the bearer token is supplied later via TokenStore.Set -- so
// nothing here is fatal on a missing value.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{
		LogLevel:      getEnv("STOCKBIT_LOG_LEVEL", "INFO"),
		MaxLogSizeMB:  getEnvAsInt64("STOCKBIT_MAX_LOG_SIZE_MB", 10),
		MaxLogBackups: getEnvAsInt("STOCKBIT_MAX_LOG_BACKUPS", 5),

		APIBase:      getEnv("STOCKBIT_API_BASE", "https://exodus.stockbit.com"),
		WebsocketURL: getEnv("STOCKBIT_WEBSOCKET_URL", "wss://wss-jkt.trading.stockbit.com/ws"),

		DataDir:      getEnv("STOCKBIT_DATA_DIR", "data"),
		OrderbookDir: getEnv("STOCKBIT_ORDERBOOK_DIR", "data/orderbook"),
		CrawlDir:     getEnv("STOCKBIT_CRAWL_DIR", "data/running_trade"),
		ConfigDir:    getEnv("STOCKBIT_CONFIG_DIR", "config_data"),

		SchedulerTickSeconds: getEnvAsInt("STOCKBIT_SCHEDULER_TICK_SECONDS", 30),

		DefaultPageLimit:        getEnvAsInt("STOCKBIT_DEFAULT_LIMIT", 50),
		DefaultDelaySeconds:     getEnvAsFloat64("STOCKBIT_DEFAULT_DELAY_SECONDS", 3.0),
		DefaultRetryCount:       getEnvAsInt("STOCKBIT_DEFAULT_RETRY_COUNT", 3),
		DefaultRetryBackoffSecs: getEnvAsFloat64("STOCKBIT_DEFAULT_RETRY_BACKOFF_SECONDS", 2.0),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}

	for _, dir := range []string{cfg.DataDir, cfg.OrderbookDir, cfg.CrawlDir, cfg.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Warning: could not create directory %s: %v", dir, err)
		}
	}

	log.Printf("Configuration loaded: LogLevel=%s MaxSize=%dMB Backups=%d SchedulerTick=%ds",
		cfg.LogLevel, cfg.MaxLogSizeMB, cfg.MaxLogBackups, cfg.SchedulerTickSeconds)

	return cfg
}

// Helper to get string env with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper to get int env with default
func getEnvAsInt(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt(valueStr, fallback)
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt64(valueStr, fallback)
}

func getEnvAsBool(key string, fallback bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return fallback
	}
	val, err := parseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid bool for config %s, using default %v", key, fallback)
		return fallback
	}
	return val
}
