package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverFile   = "file"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":5000"`
	BaseURL  string `env:"BASE_URL"  envDefault:"http://localhost:5000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver     string `env:"STORE_DRIVER"      envDefault:"sqlite"`
	DBPath          string `env:"DB_PATH"           envDefault:"db.sqlite"`
	SubscribersPath string `env:"SUBSCRIBERS_PATH"  envDefault:"subscribers.json"`
	DeliveryLogPath string `env:"DELIVERY_LOG_PATH" envDefault:"deliveries.jsonl"`
	CatalogPath     string `env:"CATALOG_PATH"`

	DispatchSpec     string        `env:"DISPATCH_SPEC"     envDefault:"0 7 * * *"`
	DispatchTimezone string        `env:"DISPATCH_TIMEZONE" envDefault:"Local"`
	DispatchTimeout  time.Duration `env:"DISPATCH_TIMEOUT"  envDefault:"30m"`
	DispatchWorkers  int           `env:"DISPATCH_WORKERS"  envDefault:"4"`

	FeedTimeout     time.Duration `env:"FEED_TIMEOUT"      envDefault:"20s"`
	FeedRetries     int           `env:"FEED_RETRIES"      envDefault:"2"`
	FeedInsecureTLS bool          `env:"FEED_INSECURE_TLS" envDefault:"true"`
	FeedCacheTTL    time.Duration `env:"FEED_CACHE_TTL"    envDefault:"5m"`

	SMTPHost           string        `env:"SMTP_HOST"            envDefault:"smtp.gmail.com"`
	SMTPPort           int           `env:"SMTP_PORT"            envDefault:"587"`
	SMTPTimeout        time.Duration `env:"SMTP_TIMEOUT"         envDefault:"30s"`
	EmailAddress       string        `env:"EMAIL_ADDRESS,required,notEmpty"`
	EmailPassword      string        `env:"EMAIL_PASSWORD,required,notEmpty"`
	EmailFromName      string        `env:"EMAIL_FROM_NAME"      envDefault:"Daily IT Papers"`
	MailRatePerSecond  float64       `env:"MAIL_RATE_PER_SECOND" envDefault:"1"`
	MailDomainInterval time.Duration `env:"MAIL_DOMAIN_INTERVAL" envDefault:"0s"`

	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIModel   string        `env:"OPENAI_MODEL"`
	OpenAITimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"20s"`
	RandomSeed    uint64        `env:"RANDOM_SEED"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))

	switch c.StoreDriver {
	case StoreDriverSQLite, StoreDriverFile:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}

	if c.FeedRetries < 0 {
		return fmt.Errorf("FEED_RETRIES must not be negative, got %d", c.FeedRetries)
	}

	if c.OpenAITimeout <= 0 {
		return fmt.Errorf("OPENAI_TIMEOUT must be positive, got %v", c.OpenAITimeout)
	}

	if c.MailRatePerSecond <= 0 {
		return fmt.Errorf("MAIL_RATE_PER_SECOND must be positive, got %v", c.MailRatePerSecond)
	}

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.OpenAIModel = strings.TrimSpace(c.OpenAIModel)

	return nil
}

// Location resolves DISPATCH_TIMEZONE; "Local" is the host zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.DispatchTimezone)
	if name == "" || name == "Local" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}

	return loc, nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
