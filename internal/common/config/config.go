package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultCalendarURLs are the public OpenTimestamps calendars tried in order.
var DefaultCalendarURLs = []string{
	"https://a.pool.opentimestamps.org",
	"https://b.pool.opentimestamps.org",
	"https://a.pool.eternitywall.com",
	"https://ots.btc.catallaxy.com",
}

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"ipproof-backend"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`

	Server struct {
		Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

		// Comma separated; "*" allows any origin
		CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
		// Public site URL used to build verification links in certificates
		PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"https://localhost:3000"`
	}

	Postgres struct {
		URL         string `env:"DATABASE_URL,required,notEmpty"`
		MaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
		AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	}

	Redis struct {
		// Empty address disables Redis; an in-process lock is used instead
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Timestamp struct {
		CalendarURLs    []string      `env:"OTS_CALENDAR_URLS" envSeparator:","`
		CalendarTimeout time.Duration `env:"OTS_CALENDAR_TIMEOUT" envDefault:"10s"`
		// Calendars allowed on upgrade besides OTS_CALENDAR_URLS; empty keeps the public pool defaults
		UpgradeWhitelist []string      `env:"OTS_UPGRADE_WHITELIST" envSeparator:","`
		EsploraURL       string        `env:"ESPLORA_BASE_URL" envDefault:"https://blockstream.info/api"`
		EsploraTimeout   time.Duration `env:"ESPLORA_TIMEOUT" envDefault:"10s"`
	}

	Anchor struct {
		Enabled   bool          `env:"ANCHOR_WORKER_ENABLED" envDefault:"true"`
		Interval  time.Duration `env:"ANCHOR_INTERVAL" envDefault:"10m"`
		BatchSize int           `env:"ANCHOR_BATCH_SIZE" envDefault:"50"`
		LockTTL   time.Duration `env:"ANCHOR_LOCK_TTL" envDefault:"5m"`
	}

	VerifyCache struct {
		Size int           `env:"VERIFY_CACHE_SIZE" envDefault:"1024"`
		TTL  time.Duration `env:"VERIFY_CACHE_TTL" envDefault:"10m"`
	}

	Telegram struct {
		// Optional: enables init-data validation on register and confirmation notifications
		BotToken    string        `env:"TELEGRAM_BOT_TOKEN"`
		InitDataTTL time.Duration `env:"INIT_DATA_TTL" envDefault:"24h"`
	}

	Certificate struct {
		Compress bool `env:"CERTIFICATE_COMPRESS" envDefault:"true"`
	}
}

// Load reads .env (if present) and the process environment into Config.
func Load() (*Config, error) {
	// .env is optional; in production variables are set directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Timestamp.CalendarURLs = normalizeURLs(cfg.Timestamp.CalendarURLs)
	if len(cfg.Timestamp.CalendarURLs) == 0 {
		cfg.Timestamp.CalendarURLs = append([]string(nil), DefaultCalendarURLs...)
	}
	cfg.Timestamp.UpgradeWhitelist = normalizeURLs(cfg.Timestamp.UpgradeWhitelist)
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Timestamp.CalendarTimeout <= 0 {
		return fmt.Errorf("OTS_CALENDAR_TIMEOUT must be positive")
	}
	if c.Timestamp.EsploraTimeout <= 0 {
		return fmt.Errorf("ESPLORA_TIMEOUT must be positive")
	}
	if c.Anchor.Interval <= 0 {
		return fmt.Errorf("ANCHOR_INTERVAL must be positive")
	}
	if c.Anchor.BatchSize <= 0 {
		return fmt.Errorf("ANCHOR_BATCH_SIZE must be positive")
	}
	if c.Anchor.LockTTL <= 0 {
		return fmt.Errorf("ANCHOR_LOCK_TTL must be positive")
	}
	if c.VerifyCache.Size <= 0 {
		return fmt.Errorf("VERIFY_CACHE_SIZE must be positive")
	}
	return nil
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
