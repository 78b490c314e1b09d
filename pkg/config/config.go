package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the order gateway.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// Config holds environment-driven process settings.
type Config struct {
	Port     string
	LogLevel string
	Mode     Mode

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	UseMockFeed      bool

	// Paper trading
	PaperInitialBalance float64
	PaperFeeRate        float64 // decimal (e.g. 0.001 = 10 bps)
	PaperSlippageBps    float64
	SimulationSnapshot  string

	// Signal ingestion
	WebhookSecret  string
	AllowedSymbols []string // doublestar patterns, e.g. "*USDT"

	// AI filter
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	AITimeout     time.Duration

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Storage
	DBPath            string
	BacktestResults   string
	PresetsFile       string
	StrategyConfig    string
	ProtectiveOrders  bool
	OrderPollInterval time.Duration

	// Auth
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string

	// Localization
	Language string // "en" or "tr"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	mode := Mode(strings.ToLower(getEnv("TRADING_MODE", string(ModePaper))))
	if mode != ModeLive {
		mode = ModePaper
	}

	return &Config{
		Port:                getEnv("PORT", "3000"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Mode:                mode,
		BinanceTestnet:      getEnvBool("BINANCE_TESTNET", true),
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		UseMockFeed:         getEnvBool("USE_MOCK_FEED", false),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 1000),
		PaperFeeRate:        getEnvFloat("PAPER_FEE_RATE", 0.001),
		PaperSlippageBps:    getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		SimulationSnapshot:  getEnv("SIMULATION_SNAPSHOT", "./data/simulation_trades.json"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		AllowedSymbols:      splitAndTrim(getEnv("ALLOWED_SYMBOLS", "*USDT")),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AITimeout:           time.Duration(getEnvInt("AI_TIMEOUT_SECONDS", 10)) * time.Second,
		TelegramToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		DBPath:              getEnv("DB_PATH", "./data/signal-engine.db"),
		BacktestResults:     getEnv("BACKTEST_RESULTS", "./data/backtest_results.json"),
		PresetsFile:         os.Getenv("PRESETS_FILE"),
		StrategyConfig:      os.Getenv("STRATEGY_CONFIG"),
		ProtectiveOrders:    getEnvBool("PROTECTIVE_ORDERS_ENABLED", true),
		OrderPollInterval:   time.Duration(getEnvInt("PRICE_POLL_SECONDS", 10)) * time.Second,
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:           getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash:   os.Getenv("ADMIN_PASSWORD_HASH"),
		Language:            getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
