package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	RugCheck  RugCheckConfig  `mapstructure:"rugcheck"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FeedConfig holds Dexscreener API configuration
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ChainID        string        `mapstructure:"chain_id"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// RugCheckConfig holds the risk evaluator configuration
type RugCheckConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SolanaConfig holds JSON-RPC settings used for holder, issuer and trade calls
type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RPCAPIKey      string        `mapstructure:"rpc_api_key"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// FiltersConfig holds screening thresholds
type FiltersConfig struct {
	MinMarketCap            float64  `mapstructure:"min_market_cap"`
	MinVolume24h            float64  `mapstructure:"min_volume_24h"`
	MaxVolumeMarketCapRatio float64  `mapstructure:"max_volume_market_cap_ratio"`
	MaxRiskScore            float64  `mapstructure:"max_risk_score"`
	IgnoredRisks            []string `mapstructure:"ignored_risks"`
	MaxTopHoldersPct        float64  `mapstructure:"max_top_holders_pct"`
	TopHolders              int      `mapstructure:"top_holders"`
	MinPriceChangeForVolume float64  `mapstructure:"min_price_change_for_volume"`
}

// BlacklistConfig holds blacklist persistence configuration
type BlacklistConfig struct {
	Backend       string   `mapstructure:"backend"` // "file" or "redis"
	FilePath      string   `mapstructure:"file_path"`
	RedisAddr     string   `mapstructure:"redis_addr"`
	RedisPassword string   `mapstructure:"redis_password"`
	RedisDB       int      `mapstructure:"redis_db"`
	RedisPrefix   string   `mapstructure:"redis_prefix"`
	ExemptIssuers []string `mapstructure:"exempt_issuers"`
	Tokens        []string `mapstructure:"tokens"`
	Issuers       []string `mapstructure:"issuers"`
}

// TradingConfig holds trade execution configuration
type TradingConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Mode            string  `mapstructure:"mode"` // "paper" or "live"
	AmountSOL       float64 `mapstructure:"amount_sol"`
	SlippageBps     int     `mapstructure:"slippage_bps"`
	JupiterURL      string  `mapstructure:"jupiter_url"`
	WalletSecretKey string  `mapstructure:"wallet_secret_key"`
}

// EngineConfig holds decision engine configuration
type EngineConfig struct {
	ScreenConcurrency int           `mapstructure:"screen_concurrency"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	TradeTimeout      time.Duration `mapstructure:"trade_timeout"`
}

// StorageConfig holds position ledger persistence configuration
type StorageConfig struct {
	Driver          string `mapstructure:"driver"` // "sqlite" or "postgres"
	DBPath          string `mapstructure:"db_path"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	MaxObservations int    `mapstructure:"max_observations"` // 0 keeps all history
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads an optional .env file, then the config file and environment variables.
// An empty path skips the config file and relies on defaults and environment.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()

	setDefaults(v)

	// DEXSCREENER_TRADING_WALLET_SECRET_KEY overrides trading.wallet_secret_key
	v.SetEnvPrefix("DEXSCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.base_url", "https://api.dexscreener.com")
	v.SetDefault("feed.chain_id", "solana")
	v.SetDefault("feed.poll_interval", "1h")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.batch_size", 30)

	v.SetDefault("rugcheck.enabled", true)
	v.SetDefault("rugcheck.base_url", "https://api.rugcheck.xyz")
	v.SetDefault("rugcheck.api_key", "")
	v.SetDefault("rugcheck.timeout", "10s")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.rpc_api_key", "")
	v.SetDefault("solana.confirm_timeout", "60s")

	v.SetDefault("filters.min_market_cap", 1_000_000.0)
	v.SetDefault("filters.min_volume_24h", 10_000.0)
	v.SetDefault("filters.max_volume_market_cap_ratio", 1.0)
	v.SetDefault("filters.max_risk_score", 50.0)
	v.SetDefault("filters.ignored_risks", []string{"copycat token", "low amount of lp providers"})
	v.SetDefault("filters.max_top_holders_pct", 50.0)
	v.SetDefault("filters.top_holders", 5)
	v.SetDefault("filters.min_price_change_for_volume", 1.0)

	v.SetDefault("blacklist.backend", "file")
	v.SetDefault("blacklist.file_path", "./data/blacklists.json")
	v.SetDefault("blacklist.redis_addr", "localhost:6379")
	v.SetDefault("blacklist.redis_password", "")
	v.SetDefault("blacklist.redis_db", 0)
	v.SetDefault("blacklist.redis_prefix", "dexscreener:blacklist")
	// pump.fun mint authority: shared by every launchpad token, never malicious by itself
	v.SetDefault("blacklist.exempt_issuers", []string{"TSLvdd1pWpHVjahSpsvCXUbgwsL3JAcvokwaKt1eokM"})
	v.SetDefault("blacklist.tokens", []string{})
	v.SetDefault("blacklist.issuers", []string{})

	v.SetDefault("trading.enabled", false)
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.amount_sol", 0.005)
	v.SetDefault("trading.slippage_bps", 500)
	v.SetDefault("trading.jupiter_url", "https://lite-api.jup.ag")
	v.SetDefault("trading.wallet_secret_key", "")

	v.SetDefault("engine.screen_concurrency", 4)
	v.SetDefault("engine.call_timeout", "15s")
	v.SetDefault("engine.trade_timeout", "90s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/dexscreener.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_observations", 10000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.ChainID == "" {
		return fmt.Errorf("feed.chain_id is required")
	}
	if c.Feed.PollInterval < 1*time.Minute {
		return fmt.Errorf("feed.poll_interval must be at least 1 minute")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.BatchSize < 1 || c.Feed.BatchSize > 30 {
		return fmt.Errorf("feed.batch_size must be between 1 and 30")
	}

	if c.RugCheck.Enabled && c.RugCheck.BaseURL == "" {
		return fmt.Errorf("rugcheck.base_url is required when rugcheck is enabled")
	}

	if c.Solana.RPCURL == "" {
		return fmt.Errorf("solana.rpc_url is required")
	}

	if c.Filters.MinMarketCap < 0 {
		return fmt.Errorf("filters.min_market_cap must not be negative")
	}
	if c.Filters.MinVolume24h < 0 {
		return fmt.Errorf("filters.min_volume_24h must not be negative")
	}
	if c.Filters.MaxVolumeMarketCapRatio <= 0 {
		return fmt.Errorf("filters.max_volume_market_cap_ratio must be positive")
	}
	if c.Filters.MaxRiskScore < 0 {
		return fmt.Errorf("filters.max_risk_score must not be negative")
	}
	if c.Filters.MaxTopHoldersPct <= 0 || c.Filters.MaxTopHoldersPct > 100 {
		return fmt.Errorf("filters.max_top_holders_pct must be in (0, 100]")
	}
	if c.Filters.TopHolders < 1 || c.Filters.TopHolders > 20 {
		return fmt.Errorf("filters.top_holders must be between 1 and 20")
	}

	switch c.Blacklist.Backend {
	case "file":
		if c.Blacklist.FilePath == "" {
			return fmt.Errorf("blacklist.file_path is required for the file backend")
		}
	case "redis":
		if c.Blacklist.RedisAddr == "" {
			return fmt.Errorf("blacklist.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("blacklist.backend must be one of: file, redis")
	}

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode must be one of: paper, live")
	}
	if c.Trading.Enabled {
		if c.Trading.AmountSOL <= 0 {
			return fmt.Errorf("trading.amount_sol must be positive")
		}
		if c.Trading.SlippageBps < 1 || c.Trading.SlippageBps > 5000 {
			return fmt.Errorf("trading.slippage_bps must be between 1 and 5000")
		}
		if c.Trading.Mode == "live" {
			if c.Trading.JupiterURL == "" {
				return fmt.Errorf("trading.jupiter_url is required in live mode")
			}
			if err := validateSecretKey(c.Trading.WalletSecretKey); err != nil {
				return fmt.Errorf("trading.wallet_secret_key: %w", err)
			}
		}
	}

	if c.Engine.ScreenConcurrency < 1 {
		return fmt.Errorf("engine.screen_concurrency must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be positive")
	}
	if c.Engine.TradeTimeout <= 0 {
		return fmt.Errorf("engine.trade_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.MaxObservations < 0 {
		return fmt.Errorf("storage.max_observations must not be negative")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// validateSecretKey checks that key is a base58 encoded 64-byte ed25519 secret.
func validateSecretKey(key string) error {
	if key == "" {
		return errors.New("required in live mode")
	}
	raw, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("not valid base58: %w", err)
	}
	if len(raw) != 64 {
		return fmt.Errorf("expected 64 bytes, got %d", len(raw))
	}
	return nil
}
