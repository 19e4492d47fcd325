// Package config defines the top-level configuration for the flash-loan
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHARB_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Contracts ContractsConfig `toml:"contracts"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Gecko     GeckoConfig     `toml:"gecko"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Gate      GateConfig      `toml:"gate"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Relay     RelayConfig     `toml:"relay"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the executing account's credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint and circuit-breaker settings.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	CallTimeout     duration `toml:"call_timeout"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// ContractsConfig holds deployed contract addresses.
type ContractsConfig struct {
	Aggregator    string `toml:"aggregator"`
	FlashLoan     string `toml:"flash_loan"`
	NativeUSDFeed string `toml:"native_usd_feed"`
}

// SnapshotConfig selects where the pool snapshot is read from.
type SnapshotConfig struct {
	Path string `toml:"path"`
	// BlobKey is an object key, or a prefix ending in "/" whose newest
	// .json object is read.
	BlobKey string `toml:"blob_key"`
	Archive bool   `toml:"archive"`
}

// GeckoConfig holds pool ingestion parameters.
type GeckoConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Network       string   `toml:"network"`
	Dexes         []string `toml:"dexes"`
	Pages         int      `toml:"pages"`
	TopPools      int      `toml:"top_pools"`
	MaxConcurrent int      `toml:"max_concurrent"`
	RequestDelay  duration `toml:"request_delay"`
	Interval      duration `toml:"interval"`
	SharedLimit   int      `toml:"shared_limit"`
}

// ScannerConfig holds the opportunity model parameters. TradeSizeFraction and
// RealizationFactor are empirical heuristics, not derived from a price-impact
// model.
type ScannerConfig struct {
	Interval           duration `toml:"interval"`
	MinLiquidityUSD    float64  `toml:"min_liquidity_usd"`
	MinProfitPercent   float64  `toml:"min_profit_percent"`
	MaxSlippagePercent float64  `toml:"max_slippage_percent"`
	TradeSizeFraction  float64  `toml:"trade_size_fraction"`
	RealizationFactor  float64  `toml:"realization_factor"`
	FlashLoanFeeRate   float64  `toml:"flash_loan_fee_rate"`
	TopK               int      `toml:"top_k"`
	GasLimit           uint64   `toml:"gas_limit"`
	DefaultGasGwei     float64  `toml:"default_gas_price_gwei"`
	Stablecoins        []string `toml:"stablecoins"`
	NativeSymbols      []string `toml:"native_symbols"`
	DisplayTop         int      `toml:"display_top"`
}

// GateConfig holds the execution gate parameters.
type GateConfig struct {
	Enabled          bool    `toml:"enabled"`
	MinProfitUSD     float64 `toml:"min_profit_usd"`
	SafetyMultiplier float64 `toml:"safety_multiplier"`
	MaxGasPriceGwei  float64 `toml:"max_gas_price_gwei"`
	// Policy is "fail_closed" (default) or "fail_open".
	Policy string `toml:"policy"`
}

// DispatchConfig holds transaction dispatch parameters.
type DispatchConfig struct {
	TargetBlocks  int      `toml:"target_blocks"`
	MaxWaitBlocks int      `toml:"max_wait_blocks"`
	PollInterval  duration `toml:"poll_interval"`
	PriorityGwei  float64  `toml:"priority_fee_gwei"`
	LockTTL       duration `toml:"lock_ttl"`
	InflightTTL   duration `toml:"inflight_ttl"`
	// BlockTime bounds the confirmation wait in wall-clock terms:
	// max_wait_blocks * block_time.
	BlockTime duration `toml:"block_time"`
}

// RelayConfig holds private relay parameters.
type RelayConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	SigningKey string `toml:"signing_key"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	RankingTTL   duration `toml:"ranking_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveCycles uploads each cycle report as JSONL.
	ArchiveCycles bool `toml:"archive_cycles"`
	// RetentionDays bounds how long opportunities stay in Postgres before the
	// archiver moves them to the bucket.
	RetentionDays int    `toml:"retention_days"`
	ArchiveCron   string `toml:"archive_cron"`
}

// MetricsConfig controls the Prometheus endpoint on the API server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:          "http://localhost:8545",
			ChainID:         1,
			CallTimeout:     duration{10 * time.Second},
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
		},
		Contracts: ContractsConfig{
			NativeUSDFeed: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
		},
		Snapshot: SnapshotConfig{
			Path:    "data/dexespools.json",
			Archive: false,
		},
		Gecko: GeckoConfig{
			BaseURL: "https://api.geckoterminal.com/api/v2",
			Network: "eth",
			Dexes: []string{
				"uniswap_v2",
				"uniswap_v3",
				"uniswap-v4-ethereum",
				"sushiswap",
				"sushiswap-v3-ethereum",
				"pancakeswap_ethereum",
				"pancakeswap-v3-ethereum",
				"balancer_ethereum",
				"curve",
			},
			Pages:         1,
			TopPools:      10,
			MaxConcurrent: 5,
			RequestDelay:  duration{250 * time.Millisecond},
			Interval:      duration{10 * time.Minute},
		},
		Scanner: ScannerConfig{
			Interval:           duration{time.Minute},
			MinLiquidityUSD:    10_000,
			MinProfitPercent:   0.001,
			MaxSlippagePercent: 0.2,
			TradeSizeFraction:  0.003,
			RealizationFactor:  0.8,
			FlashLoanFeeRate:   0.0005,
			TopK:               3,
			GasLimit:           300_000,
			DefaultGasGwei:     50,
			Stablecoins:        []string{"USDC", "USDT", "DAI"},
			NativeSymbols:      []string{"WETH", "ETH"},
			DisplayTop:         5,
		},
		Gate: GateConfig{
			Enabled:          false,
			MinProfitUSD:     0.01,
			SafetyMultiplier: 1.5,
			MaxGasPriceGwei:  40,
			Policy:           "fail_closed",
		},
		Dispatch: DispatchConfig{
			TargetBlocks:  3,
			MaxWaitBlocks: 10,
			PollInterval:  duration{2 * time.Second},
			PriorityGwei:  2,
			LockTTL:       duration{5 * time.Minute},
			InflightTTL:   duration{10 * time.Minute},
			BlockTime:     duration{12 * time.Second},
		},
		Relay: RelayConfig{
			Enabled: true,
			URL:     "https://relay.flashbots.net",
		},
		Supabase: SupabaseConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			RankingTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-data",
			ForcePathStyle: true,
			ArchiveCycles:  true,
			RetentionDays:  30,
			ArchiveCron:    "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution_settled", "execution_failed", "execution_unknown", "cycle_error"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"execute": true,
	"ingest":  true,
	"once":    true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validPolicies enumerates the accepted values for GateConfig.Policy.
var validPolicies = map[string]bool{
	"fail_closed": true,
	"fail_open":   true,
}

// Executes reports whether the mode may dispatch transactions.
func (c *Config) Executes() bool {
	m := strings.ToLower(c.Mode)
	return c.Gate.Enabled && (m == "execute" || m == "full" || m == "once")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, execute, ingest, once, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: required whenever the gate may approve a dispatch.
	if c.Executes() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if !isAddress(c.Contracts.FlashLoan) {
			errs = append(errs, "contracts: flash_loan must be a valid address when execution is enabled")
		}
		if c.Relay.Enabled && c.Relay.URL == "" {
			errs = append(errs, "relay: url must not be empty when relay is enabled")
		}
	}

	if c.Chain.RPCURL == "" && strings.ToLower(c.Mode) != "ingest" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Contracts.Aggregator != "" && !isAddress(c.Contracts.Aggregator) {
		errs = append(errs, fmt.Sprintf("contracts: aggregator %q is not a valid address", c.Contracts.Aggregator))
	}
	if c.Contracts.NativeUSDFeed != "" && !isAddress(c.Contracts.NativeUSDFeed) {
		errs = append(errs, fmt.Sprintf("contracts: native_usd_feed %q is not a valid address", c.Contracts.NativeUSDFeed))
	}
	if c.Gate.Enabled && !isAddress(c.Contracts.Aggregator) {
		errs = append(errs, "contracts: aggregator is required when gate is enabled")
	}

	if c.Snapshot.Path == "" && c.Snapshot.BlobKey == "" {
		errs = append(errs, "snapshot: path or blob_key must be set")
	}
	if c.Snapshot.BlobKey != "" && !c.S3.Enabled {
		errs = append(errs, "snapshot: blob_key requires s3.enabled")
	}

	// Gecko
	if c.Gecko.BaseURL == "" {
		errs = append(errs, "gecko: base_url must not be empty")
	}
	if c.Gecko.MaxConcurrent < 1 {
		errs = append(errs, "gecko: max_concurrent must be >= 1")
	}
	if c.Gecko.RequestDelay.Duration < 0 {
		errs = append(errs, "gecko: request_delay must not be negative")
	}
	if c.Gecko.TopPools < 0 {
		errs = append(errs, "gecko: top_pools must be >= 0")
	}
	if c.Gecko.Pages < 1 {
		errs = append(errs, "gecko: pages must be >= 1")
	}

	// Scanner
	if c.Scanner.MinLiquidityUSD < 0 {
		errs = append(errs, "scanner: min_liquidity_usd must be >= 0")
	}
	if c.Scanner.MaxSlippagePercent < 0 || c.Scanner.MaxSlippagePercent >= 100 {
		errs = append(errs, "scanner: max_slippage_percent must be in [0, 100)")
	}
	if c.Scanner.TradeSizeFraction <= 0 || c.Scanner.TradeSizeFraction > 1 {
		errs = append(errs, "scanner: trade_size_fraction must be in (0, 1]")
	}
	if c.Scanner.RealizationFactor <= 0 || c.Scanner.RealizationFactor > 1 {
		errs = append(errs, "scanner: realization_factor must be in (0, 1]")
	}
	if c.Scanner.FlashLoanFeeRate < 0 {
		errs = append(errs, "scanner: flash_loan_fee_rate must be >= 0")
	}
	if c.Scanner.TopK < 1 {
		errs = append(errs, "scanner: top_k must be >= 1")
	}
	if c.Scanner.GasLimit == 0 {
		errs = append(errs, "scanner: gas_limit must be > 0")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}

	// Gate
	if !validPolicies[strings.ToLower(c.Gate.Policy)] {
		errs = append(errs, fmt.Sprintf("gate: unknown policy %q (valid: fail_closed, fail_open)", c.Gate.Policy))
	}
	if c.Gate.SafetyMultiplier < 1 {
		errs = append(errs, "gate: safety_multiplier must be >= 1")
	}
	if c.Gate.MaxGasPriceGwei <= 0 {
		errs = append(errs, "gate: max_gas_price_gwei must be > 0")
	}

	// Dispatch
	if c.Dispatch.TargetBlocks < 1 {
		errs = append(errs, "dispatch: target_blocks must be >= 1")
	}
	if c.Dispatch.MaxWaitBlocks < 1 {
		errs = append(errs, "dispatch: max_wait_blocks must be >= 1")
	}
	if c.Dispatch.PollInterval.Duration <= 0 {
		errs = append(errs, "dispatch: poll_interval must be > 0")
	}
	if c.Dispatch.BlockTime.Duration <= 0 {
		errs = append(errs, "dispatch: block_time must be > 0")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.RetentionDays < 0 {
			errs = append(errs, "s3: retention_days must be >= 0")
		}
		if c.S3.RetentionDays > 0 && len(strings.Fields(c.S3.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("s3: archive_cron must have 5 fields, got %q", c.S3.ArchiveCron))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(s)
}
