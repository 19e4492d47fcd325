package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLASHARB_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "ETHEREUM_RPC_URL") // compatibility alias
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")
	setDuration(&cfg.Chain.CallTimeout, "FLASHARB_CHAIN_CALL_TIMEOUT")

	// ── Contracts ──
	setStr(&cfg.Contracts.Aggregator, "FLASHARB_CONTRACTS_AGGREGATOR")
	setStr(&cfg.Contracts.FlashLoan, "FLASHARB_CONTRACTS_FLASH_LOAN")
	setStr(&cfg.Contracts.NativeUSDFeed, "FLASHARB_CONTRACTS_NATIVE_USD_FEED")

	// ── Snapshot ──
	setStr(&cfg.Snapshot.Path, "FLASHARB_SNAPSHOT_PATH")
	setStr(&cfg.Snapshot.BlobKey, "FLASHARB_SNAPSHOT_BLOB_KEY")
	setBool(&cfg.Snapshot.Archive, "FLASHARB_SNAPSHOT_ARCHIVE")

	// ── Gecko ──
	setStr(&cfg.Gecko.BaseURL, "FLASHARB_GECKO_BASE_URL")
	setStr(&cfg.Gecko.APIKey, "FLASHARB_GECKO_API_KEY")
	setStr(&cfg.Gecko.APIKey, "GECKO_API_KEY") // compatibility alias
	setStr(&cfg.Gecko.Network, "FLASHARB_GECKO_NETWORK")
	setStringSlice(&cfg.Gecko.Dexes, "FLASHARB_GECKO_DEXES")
	setInt(&cfg.Gecko.Pages, "FLASHARB_GECKO_PAGES")
	setInt(&cfg.Gecko.TopPools, "FLASHARB_GECKO_TOP_POOLS")
	setInt(&cfg.Gecko.MaxConcurrent, "FLASHARB_GECKO_MAX_CONCURRENT")
	setDuration(&cfg.Gecko.RequestDelay, "FLASHARB_GECKO_REQUEST_DELAY")
	setDuration(&cfg.Gecko.Interval, "FLASHARB_GECKO_INTERVAL")
	setInt(&cfg.Gecko.SharedLimit, "FLASHARB_GECKO_SHARED_LIMIT")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "FLASHARB_SCANNER_INTERVAL")
	setFloat64(&cfg.Scanner.MinLiquidityUSD, "FLASHARB_SCANNER_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Scanner.MinProfitPercent, "FLASHARB_SCANNER_MIN_PROFIT_PERCENT")
	setFloat64(&cfg.Scanner.MaxSlippagePercent, "FLASHARB_SCANNER_MAX_SLIPPAGE_PERCENT")
	setFloat64(&cfg.Scanner.TradeSizeFraction, "FLASHARB_SCANNER_TRADE_SIZE_FRACTION")
	setFloat64(&cfg.Scanner.RealizationFactor, "FLASHARB_SCANNER_REALIZATION_FACTOR")
	setFloat64(&cfg.Scanner.FlashLoanFeeRate, "FLASHARB_SCANNER_FLASH_LOAN_FEE_RATE")
	setInt(&cfg.Scanner.TopK, "FLASHARB_SCANNER_TOP_K")
	setUint64(&cfg.Scanner.GasLimit, "FLASHARB_SCANNER_GAS_LIMIT")
	setFloat64(&cfg.Scanner.DefaultGasGwei, "FLASHARB_SCANNER_DEFAULT_GAS_PRICE_GWEI")
	setStringSlice(&cfg.Scanner.Stablecoins, "FLASHARB_SCANNER_STABLECOINS")

	// ── Gate ──
	setBool(&cfg.Gate.Enabled, "FLASHARB_GATE_ENABLED")
	setFloat64(&cfg.Gate.MinProfitUSD, "FLASHARB_GATE_MIN_PROFIT_USD")
	setFloat64(&cfg.Gate.SafetyMultiplier, "FLASHARB_GATE_SAFETY_MULTIPLIER")
	setFloat64(&cfg.Gate.MaxGasPriceGwei, "FLASHARB_GATE_MAX_GAS_PRICE_GWEI")
	setStr(&cfg.Gate.Policy, "FLASHARB_GATE_POLICY")

	// ── Dispatch ──
	setInt(&cfg.Dispatch.TargetBlocks, "FLASHARB_DISPATCH_TARGET_BLOCKS")
	setInt(&cfg.Dispatch.MaxWaitBlocks, "FLASHARB_DISPATCH_MAX_WAIT_BLOCKS")
	setDuration(&cfg.Dispatch.PollInterval, "FLASHARB_DISPATCH_POLL_INTERVAL")
	setDuration(&cfg.Dispatch.BlockTime, "FLASHARB_DISPATCH_BLOCK_TIME")
	setFloat64(&cfg.Dispatch.PriorityGwei, "FLASHARB_DISPATCH_PRIORITY_FEE_GWEI")

	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "FLASHARB_RELAY_ENABLED")
	setStr(&cfg.Relay.URL, "FLASHARB_RELAY_URL")
	setStr(&cfg.Relay.SigningKey, "FLASHARB_RELAY_SIGNING_KEY")
	setStr(&cfg.Relay.SigningKey, "FLASHBOTS_KEY") // compatibility alias

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "FLASHARB_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "FLASHARB_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "FLASHARB_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "FLASHARB_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "FLASHARB_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "FLASHARB_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "FLASHARB_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "FLASHARB_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "FLASHARB_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "FLASHARB_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "FLASHARB_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLASHARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLASHARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveCycles, "FLASHARB_S3_ARCHIVE_CYCLES")
	setInt(&cfg.S3.RetentionDays, "FLASHARB_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "FLASHARB_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FLASHARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHARB_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "FLASHARB_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "FLASHARB_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
