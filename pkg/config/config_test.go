package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/pkg/lx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("PERPD_GOV", "lux1treasury")
	path := writeConfig(t, `
node:
  http_addr: ":9090"
  in_memory: true
  block_interval: 500ms
market:
  gov: ${PERPD_GOV}
  vault_closing_fee_p: "0.75"
  trading_state: close_only
  collaterals:
    - index: 0
      denom: uusdc
      price: "1"
  groups:
    - {index: 0, name: fx, min_leverage: "2", max_leverage: "1000"}
  fees:
    - {index: 0, name: fx, open_fee_p: "0.0001", close_fee_p: "0.0001", min_position_size_usd: "1500"}
  pairs:
    - index: 3
      from: EUR
      to: USD
      oracle_index: 7
      price: "1.08"
      fee_per_block: "0.00000001"
      max_open_interest: "1000000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Node.HTTPAddr)
	assert.True(t, cfg.Node.InMemory)
	assert.Equal(t, "500ms", cfg.Node.BlockInterval)
	assert.Equal(t, "info", cfg.Node.LogLevel, "unset fields keep defaults")
	assert.Equal(t, "lux1treasury", cfg.Market.Gov)
	assert.Equal(t, lx.TradingCloseOnly, cfg.Market.TradingState)
	assert.True(t, cfg.Market.VaultClosingFeeP.Equal(decimal.RequireFromString("0.75")))
	require.Len(t, cfg.Market.Pairs, 1)
	assert.Equal(t, "EUR", cfg.Market.Pairs[0].From)

	prices, collateralPrices := cfg.Market.Prices()
	assert.True(t, prices[7].Equal(decimal.RequireFromString("1.08")))
	assert.True(t, collateralPrices[0].Equal(decimal.NewFromInt(1)))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "node: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "market:\n  trading_state: halted\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no http addr", func(c *Config) { c.Node.HTTPAddr = "" }},
		{"bad log level", func(c *Config) { c.Node.LogLevel = "loud" }},
		{"bad interval", func(c *Config) { c.Node.BlockInterval = "soon" }},
		{"zero interval", func(c *Config) { c.Node.BlockInterval = "0s" }},
		{"no rate limit", func(c *Config) { c.Node.RateLimit = 0 }},
		{"no data dir", func(c *Config) { c.Node.DataDir = "" }},
		{"no vault", func(c *Config) { c.Node.VaultAccount = "" }},
		{"duplicate pair", func(c *Config) { c.Market.Pairs = append(c.Market.Pairs, c.Market.Pairs[0]) }},
		{"unknown group", func(c *Config) { c.Market.Pairs[0].GroupIndex = 9 }},
		{"unknown fee", func(c *Config) { c.Market.Pairs[0].FeeIndex = 9 }},
		{"unknown collateral", func(c *Config) { c.Market.Pairs[0].Collateral = 9 }},
		{"reserved borrowing group", func(c *Config) { c.Market.BorrowingGroups[0].Index = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestMarketCommandsOrder(t *testing.T) {
	cmds := DefaultMarket().Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name()
	}

	first := func(name string) int {
		for i, n := range names {
			if n == name {
				return i
			}
		}
		return -1
	}
	assert.Equal(t, "admin_set_collaterals", names[0])
	assert.Less(t, first("admin_set_borrowing_group_params"), first("admin_set_borrowing_pair_params"))
	assert.Equal(t, "admin_set_trading_state", names[len(names)-1])

	pairParams := 0
	for _, c := range cmds {
		if p, ok := c.(lx.SetBorrowingPairParams); ok {
			pairParams++
			assert.Equal(t, uint32(1), p.GroupIndex)
		}
	}
	assert.Equal(t, 2, pairParams)
}

func TestMarshalRoundTrip(t *testing.T) {
	raw, err := Default().Marshal()
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, string(raw)))
	require.NoError(t, err)
	assert.Equal(t, Default().Node, cfg.Node)
	assert.Len(t, cfg.Market.Pairs, 2)
}
