package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "fail_closed", cfg.Gate.Policy)
	assert.Equal(t, 3, cfg.Scanner.TopK)
	assert.Equal(t, 12*time.Second, cfg.Dispatch.BlockTime.Duration)
	assert.Equal(t, 0.003, cfg.Scanner.TradeSizeFraction)
	assert.Equal(t, 0.8, cfg.Scanner.RealizationFactor)
	assert.False(t, cfg.Executes())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Scanner.TopK = 0
	cfg.Gate.Policy = "maybe"
	cfg.Dispatch.BlockTime = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
	assert.Contains(t, err.Error(), "scanner: top_k must be >= 1")
	assert.Contains(t, err.Error(), `gate: unknown policy "maybe"`)
	assert.Contains(t, err.Error(), "dispatch: block_time must be > 0")
}

func TestExecuteModeRequiresWalletAndContracts(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "execute"
	cfg.Gate.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")
	assert.Contains(t, err.Error(), "contracts: flash_loan")
	assert.Contains(t, err.Error(), "contracts: aggregator is required")

	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Contracts.FlashLoan = "0x00000000000000000000000000000000000000aa"
	cfg.Contracts.Aggregator = "0x00000000000000000000000000000000000000bb"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Executes())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flasharb.toml")
	body := `
mode = "once"
log_level = "debug"

[scanner]
interval = "30s"
top_k = 5
stablecoins = ["USDC"]

[gate]
max_gas_price_gwei = 25.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("FLASHARB_SCANNER_MIN_LIQUIDITY_USD", "25000")
	t.Setenv("FLASHARB_GECKO_DEXES", "uniswap_v3, curve ,")
	t.Setenv("FLASHARB_DISPATCH_MAX_WAIT_BLOCKS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Scanner.Interval.Duration)
	assert.Equal(t, 5, cfg.Scanner.TopK)
	assert.Equal(t, []string{"USDC"}, cfg.Scanner.Stablecoins)
	assert.InDelta(t, 25.5, cfg.Gate.MaxGasPriceGwei, 1e-9)
	assert.InDelta(t, 25000, cfg.Scanner.MinLiquidityUSD, 1e-9)
	assert.Equal(t, []string{"uniswap_v3", "curve"}, cfg.Gecko.Dexes)
	// Unparseable values leave the default in place.
	assert.Equal(t, 10, cfg.Dispatch.MaxWaitBlocks)
	// Untouched sections keep their defaults.
	assert.Equal(t, uint64(300_000), cfg.Scanner.GasLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Relay.SigningKey = "cafe"
	cfg.Redis.Password = "hunter2"
	cfg.Server.APIKey = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Relay.SigningKey)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Empty(t, out.Server.APIKey)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	out.Gecko.Dexes[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Gecko.Dexes[0])
}
