package config

import (
	"log/slog"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("EMAIL_ADDRESS", "papers@example.com")
	t.Setenv("EMAIL_PASSWORD", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StoreDriver != StoreDriverSQLite {
		t.Fatalf("unexpected store driver: %q", cfg.StoreDriver)
	}

	if cfg.DispatchSpec != "0 7 * * *" {
		t.Fatalf("unexpected dispatch spec: %q", cfg.DispatchSpec)
	}

	if cfg.FeedTimeout != 20*time.Second {
		t.Fatalf("unexpected feed timeout: %v", cfg.FeedTimeout)
	}

	if !cfg.FeedInsecureTLS {
		t.Fatalf("expected relaxed feed TLS by default")
	}

	if cfg.OpenAITimeout != 20*time.Second {
		t.Fatalf("unexpected OpenAI timeout: %v", cfg.OpenAITimeout)
	}
}

func TestLoadRejectsNonPositiveOpenAITimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("OPENAI_TIMEOUT", "0s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero OpenAI timeout")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("EMAIL_ADDRESS", "")
	t.Setenv("EMAIL_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when SMTP credentials are missing")
	}
}

func TestLoadRejectsUnknownStoreDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "redis")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown store driver")
	}
}

func TestLoadTrimsBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("BASE_URL", " https://papers.example.com/ ")
	t.Setenv("STORE_DRIVER", " FILE ")
	t.Setenv("OPENAI_MODEL", " gpt-5-nano ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BaseURL != "https://papers.example.com" {
		t.Fatalf("unexpected base URL: %q", cfg.BaseURL)
	}

	if cfg.StoreDriver != StoreDriverFile {
		t.Fatalf("unexpected store driver: %q", cfg.StoreDriver)
	}

	if cfg.OpenAIModel != "gpt-5-nano" {
		t.Fatalf("unexpected OpenAI model: %q", cfg.OpenAIModel)
	}
}

func TestLocation(t *testing.T) {
	cfg := Config{DispatchTimezone: "Local"}

	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("expected local zone, got %v (err = %v)", loc, err)
	}

	cfg.DispatchTimezone = "UTC"
	if loc, err = cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %v (err = %v)", loc, err)
	}

	cfg.DispatchTimezone = "Not/AZone"
	if _, err = cfg.Location(); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for in, want := range cases {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Fatalf("level %q: got %v want %v", in, got, want)
		}
	}
}
