package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	content := `
feed:
  poll_interval: 30m
  chain_id: solana

filters:
  min_market_cap: 2000000
  max_top_holders_pct: 60
  ignored_risks:
    - copycat token

blacklist:
  backend: file
  file_path: ./data/test-blacklists.json
  exempt_issuers:
    - Issuer1
    - Issuer2

trading:
  enabled: true
  mode: paper
  amount_sol: 0.01

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  driver: sqlite
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`
	path := writeTemp(t, "config.yaml", content)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.PollInterval != 30*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Feed.PollInterval)
	}
	if cfg.Filters.MinMarketCap != 2_000_000 {
		t.Errorf("Unexpected min market cap: %f", cfg.Filters.MinMarketCap)
	}
	if cfg.Filters.MaxTopHoldersPct != 60 {
		t.Errorf("Unexpected max top holders pct: %f", cfg.Filters.MaxTopHoldersPct)
	}
	if len(cfg.Filters.IgnoredRisks) != 1 {
		t.Errorf("Expected 1 ignored risk, got %d", len(cfg.Filters.IgnoredRisks))
	}
	if len(cfg.Blacklist.ExemptIssuers) != 2 {
		t.Errorf("Expected 2 exempt issuers, got %d", len(cfg.Blacklist.ExemptIssuers))
	}
	// defaults survive partial files
	if cfg.Filters.MinVolume24h != 10_000 {
		t.Errorf("Unexpected default min volume: %f", cfg.Filters.MinVolume24h)
	}
	if cfg.Engine.CallTimeout != 15*time.Second {
		t.Errorf("Unexpected default call timeout: %v", cfg.Engine.CallTimeout)
	}
	if cfg.Engine.TradeTimeout != 90*time.Second {
		t.Errorf("Unexpected default trade timeout: %v", cfg.Engine.TradeTimeout)
	}
	if cfg.Feed.BaseURL != "https://api.dexscreener.com" {
		t.Errorf("Unexpected default feed url: %s", cfg.Feed.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Trading.Enabled {
		t.Error("trading must be disabled by default")
	}
	if len(cfg.Blacklist.ExemptIssuers) != 1 {
		t.Errorf("expected the launchpad authority as default exempt issuer, got %v", cfg.Blacklist.ExemptIssuers)
	}
}

func TestLoad_EnvFileOverrides(t *testing.T) {
	envPath := writeTemp(t, ".env", "DEXSCREENER_TELEGRAM_CHAT_ID=999\nDEXSCREENER_FILTERS_MIN_VOLUME_24H=42\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("DEXSCREENER_TELEGRAM_CHAT_ID")
		_ = os.Unsetenv("DEXSCREENER_FILTERS_MIN_VOLUME_24H")
	})

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.ChatID != "999" {
		t.Errorf("chat id = %q, want 999", cfg.Telegram.ChatID)
	}
	if cfg.Filters.MinVolume24h != 42 {
		t.Errorf("min volume = %f, want 42", cfg.Filters.MinVolume24h)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	secret := base58.Encode(make([]byte, 64))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.ChatID = "1"
			},
			wantErr: true,
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Feed.PollInterval = 10 * time.Second },
			wantErr: true,
		},
		{
			name:    "top holders pct out of range",
			mutate:  func(c *Config) { c.Filters.MaxTopHoldersPct = 150 },
			wantErr: true,
		},
		{
			name:    "unknown blacklist backend",
			mutate:  func(c *Config) { c.Blacklist.Backend = "s3" },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: true,
		},
		{
			name: "live trading without wallet",
			mutate: func(c *Config) {
				c.Trading.Enabled = true
				c.Trading.Mode = "live"
			},
			wantErr: true,
		},
		{
			name: "live trading with short key",
			mutate: func(c *Config) {
				c.Trading.Enabled = true
				c.Trading.Mode = "live"
				c.Trading.WalletSecretKey = base58.Encode([]byte("short"))
			},
			wantErr: true,
		},
		{
			name: "live trading with valid key",
			mutate: func(c *Config) {
				c.Trading.Enabled = true
				c.Trading.Mode = "live"
				c.Trading.WalletSecretKey = secret
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "zero screen concurrency",
			mutate:  func(c *Config) { c.Engine.ScreenConcurrency = 0 },
			wantErr: true,
		},
		{
			name:    "zero trade timeout",
			mutate:  func(c *Config) { c.Engine.TradeTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
