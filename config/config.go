package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Input/output files
	InstrumentMasterURL string
	InstrumentCSV       string
	MappingCSV          string
	NSEListingCSV       string
	BSEListingCSV       string

	// Refresh loop
	RefreshInterval  time.Duration
	BatchSize        int
	MinGapPct        decimal.Decimal
	SortMode         string
	BSELookupMode    string
	EquityOnly       bool
	RequestDelay     time.Duration
	QuoteTimeout     time.Duration
	FetchConcurrency int
	MarketHoursOnly  bool

	// Daily instrument refresh (cron spec, IST). Empty disables it.
	InstrumentRefreshCron string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Alerts
	AlertGapPct      decimal.Decimal
	AlertCooldown    time.Duration
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; values
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	c := &Config{
		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),

		InstrumentMasterURL: getEnv("INSTRUMENT_MASTER_URL",
			"https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"),
		InstrumentCSV: getEnv("INSTRUMENT_CSV", "instrument_list.csv"),
		MappingCSV:    getEnv("MAPPING_CSV", "nse_bse_merged.csv"),
		NSEListingCSV: getEnv("NSE_LISTING_CSV", "NSE.csv"),
		BSEListingCSV: getEnv("BSE_LISTING_CSV", "BSE.csv"),

		RefreshInterval:  p.duration("REFRESH_INTERVAL", 5*time.Second),
		BatchSize:        p.int("BATCH_SIZE", 15),
		MinGapPct:        p.decimal("MIN_GAP_PCT", decimal.Zero),
		SortMode:         getEnv("SORT_MODE", "none"),
		BSELookupMode:    getEnv("BSE_LOOKUP_MODE", "scrip_code"),
		EquityOnly:       p.bool("EQUITY_ONLY", false),
		RequestDelay:     p.duration("REQUEST_DELAY", 0),
		QuoteTimeout:     p.duration("QUOTE_TIMEOUT", 5*time.Second),
		FetchConcurrency: p.int("FETCH_CONCURRENCY", 1),
		MarketHoursOnly:  p.bool("MARKET_HOURS_ONLY", false),

		InstrumentRefreshCron: getEnv("INSTRUMENT_REFRESH_CRON", "0 8 * * 1-5"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		AlertGapPct:      p.decimal("ALERT_GAP_PCT", decimal.Zero),
		AlertCooldown:    p.duration("ALERT_COOLDOWN", 15*time.Minute),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if c.RefreshInterval <= 0 {
		p.errs = append(p.errs, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval))
	}
	if c.FetchConcurrency < 1 {
		c.FetchConcurrency = 1
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// RequireCredentials reports which Angel One credentials are missing.
func (c *Config) RequireCredentials() error {
	var missing []string
	for key, v := range map[string]string{
		"ANGEL_API_KEY":     c.AngelAPIKey,
		"ANGEL_CLIENT_CODE": c.AngelClientCode,
		"ANGEL_PASSWORD":    c.AngelPassword,
		"ANGEL_TOTP_SECRET": c.AngelTOTPSecret,
	} {
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("config: required env vars not set: %s", strings.Join(missing, ", "))
}

// AlertsEnabled is true when a positive alert threshold is configured.
func (c *Config) AlertsEnabled() bool {
	return c.AlertGapPct.IsPositive()
}

type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *parser) decimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
