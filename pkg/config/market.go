package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/lx"
)

// Market is the genesis market, applied once as admin commands.
type Market struct {
	Collaterals       []Collateral               `yaml:"collaterals"`
	Groups            []Group                    `yaml:"groups"`
	Fees              []Fee                      `yaml:"fees"`
	Pairs             []Pair                     `yaml:"pairs"`
	BorrowingGroups   []BorrowingGroup           `yaml:"borrowing_groups,omitempty"`
	Windows           Windows                    `yaml:"windows"`
	FeeTiers          []FeeTier                  `yaml:"fee_tiers,omitempty"`
	VolumeMultipliers map[uint32]decimal.Decimal `yaml:"volume_multipliers,omitempty"`
	Gov               string                     `yaml:"gov"`
	Staking           string                     `yaml:"staking"`
	VaultClosingFeeP  decimal.Decimal            `yaml:"vault_closing_fee_p"`
	TradingState      lx.TradingState            `yaml:"trading_state"`
}

type Collateral struct {
	Index uint32          `yaml:"index"`
	Denom string          `yaml:"denom"`
	Price decimal.Decimal `yaml:"price"`
}

type Group struct {
	Index       uint32          `yaml:"index"`
	Name        string          `yaml:"name"`
	MinLeverage decimal.Decimal `yaml:"min_leverage"`
	MaxLeverage decimal.Decimal `yaml:"max_leverage"`
}

type Fee struct {
	Index              uint32          `yaml:"index"`
	Name               string          `yaml:"name"`
	OpenFeeP           decimal.Decimal `yaml:"open_fee_p"`
	CloseFeeP          decimal.Decimal `yaml:"close_fee_p"`
	OracleFeeP         decimal.Decimal `yaml:"oracle_fee_p"`
	TriggerOrderFeeP   decimal.Decimal `yaml:"trigger_order_fee_p"`
	MinPositionSizeUsd decimal.Decimal `yaml:"min_position_size_usd"`
}

// Pair carries the pair, its borrowing parameters and caps for one collateral.
type Pair struct {
	Index       uint32          `yaml:"index"`
	From        string          `yaml:"from"`
	To          string          `yaml:"to"`
	SpreadP     decimal.Decimal `yaml:"spread_p"`
	OracleIndex uint32          `yaml:"oracle_index"`
	GroupIndex  uint32          `yaml:"group_index"`
	FeeIndex    uint32          `yaml:"fee_index"`
	MaxLeverage decimal.Decimal `yaml:"max_leverage,omitempty"`
	Price       decimal.Decimal `yaml:"price,omitempty"`

	Collateral      uint32          `yaml:"collateral"`
	BorrowingGroup  uint32          `yaml:"borrowing_group"`
	FeePerBlock     decimal.Decimal `yaml:"fee_per_block"`
	FeeExponent     uint32          `yaml:"fee_exponent"`
	MaxOpenInterest decimal.Decimal `yaml:"max_open_interest"`
	DepthAboveUsd   decimal.Decimal `yaml:"depth_above_usd,omitempty"`
	DepthBelowUsd   decimal.Decimal `yaml:"depth_below_usd,omitempty"`
}

type BorrowingGroup struct {
	Index           uint32          `yaml:"index"`
	Collateral      uint32          `yaml:"collateral"`
	FeePerBlock     decimal.Decimal `yaml:"fee_per_block"`
	FeeExponent     uint32          `yaml:"fee_exponent"`
	MaxOpenInterest decimal.Decimal `yaml:"max_open_interest"`
}

type Windows struct {
	StartTs  int64  `yaml:"start_ts"`
	Duration uint64 `yaml:"duration"`
	Count    uint64 `yaml:"count"`
}

type FeeTier struct {
	FeeMultiplier   decimal.Decimal `yaml:"fee_multiplier"`
	PointsThreshold decimal.Decimal `yaml:"points_threshold"`
}

// DefaultMarket lists BTC/USD and ETH/USD settled in USDC.
func DefaultMarket() Market {
	d := decimal.RequireFromString
	return Market{
		Collaterals: []Collateral{{Index: 0, Denom: "uusdc", Price: d("1")}},
		Groups:      []Group{{Index: 0, Name: "crypto", MinLeverage: d("1.1"), MaxLeverage: d("150")}},
		Fees: []Fee{{
			Index:              0,
			Name:               "crypto",
			OpenFeeP:           d("0.0003"),
			CloseFeeP:          d("0.0006"),
			TriggerOrderFeeP:   d("0.0002"),
			MinPositionSizeUsd: d("1500"),
		}},
		Pairs: []Pair{
			{
				Index: 0, From: "BTC", To: "USD", OracleIndex: 0, SpreadP: d("0.0004"),
				BorrowingGroup: 1, FeePerBlock: d("0.0000001"), FeeExponent: 1, MaxOpenInterest: d("50000000"),
				DepthAboveUsd: d("100000000"), DepthBelowUsd: d("100000000"),
			},
			{
				Index: 1, From: "ETH", To: "USD", OracleIndex: 1, SpreadP: d("0.0004"),
				BorrowingGroup: 1, FeePerBlock: d("0.0000001"), FeeExponent: 1, MaxOpenInterest: d("30000000"),
				DepthAboveUsd: d("50000000"), DepthBelowUsd: d("50000000"),
			},
		},
		BorrowingGroups: []BorrowingGroup{
			{Index: 1, FeePerBlock: d("0.0000002"), FeeExponent: 1, MaxOpenInterest: d("70000000")},
		},
		Windows:          Windows{Duration: 7200, Count: 3},
		Gov:              "lux1gov",
		Staking:          "lux1staking",
		VaultClosingFeeP: d("0.8"),
	}
}

// Validate checks the references between market entries. Value checks are
// left to the engine, which rejects bad admin commands.
func (m Market) Validate() error {
	collaterals, groups, fees := map[uint32]bool{}, map[uint32]bool{}, map[uint32]bool{}
	for _, c := range m.Collaterals {
		if collaterals[c.Index] {
			return fmt.Errorf("%w: duplicate collateral %d", ErrInvalid, c.Index)
		}
		collaterals[c.Index] = true
	}
	for _, g := range m.Groups {
		if groups[g.Index] {
			return fmt.Errorf("%w: duplicate group %d", ErrInvalid, g.Index)
		}
		groups[g.Index] = true
	}
	for _, f := range m.Fees {
		if fees[f.Index] {
			return fmt.Errorf("%w: duplicate fee %d", ErrInvalid, f.Index)
		}
		fees[f.Index] = true
	}
	seen := map[uint32]bool{}
	for _, p := range m.Pairs {
		switch {
		case seen[p.Index]:
			return fmt.Errorf("%w: duplicate pair %d", ErrInvalid, p.Index)
		case !groups[p.GroupIndex]:
			return fmt.Errorf("%w: pair %d references unknown group %d", ErrInvalid, p.Index, p.GroupIndex)
		case !fees[p.FeeIndex]:
			return fmt.Errorf("%w: pair %d references unknown fee %d", ErrInvalid, p.Index, p.FeeIndex)
		case !collaterals[p.Collateral]:
			return fmt.Errorf("%w: pair %d references unknown collateral %d", ErrInvalid, p.Index, p.Collateral)
		}
		seen[p.Index] = true
	}
	for _, g := range m.BorrowingGroups {
		if g.Index == 0 {
			return fmt.Errorf("%w: borrowing group 0 is reserved", ErrInvalid)
		}
	}
	return nil
}

// Commands returns the admin commands that create the market, in order.
func (m Market) Commands() []lx.Command {
	cmds := []lx.Command{}

	collaterals := lx.SetCollaterals{Collaterals: map[uint32]lx.Collateral{}}
	for _, c := range m.Collaterals {
		collaterals.Collaterals[c.Index] = lx.Collateral{Denom: c.Denom}
	}
	groups := lx.SetGroups{Groups: map[uint32]lx.Group{}}
	for _, g := range m.Groups {
		groups.Groups[g.Index] = lx.Group{Name: g.Name, MinLeverage: g.MinLeverage, MaxLeverage: g.MaxLeverage}
	}
	fees := lx.SetFees{Fees: map[uint32]lx.Fee{}}
	for _, f := range m.Fees {
		fees.Fees[f.Index] = lx.Fee{
			Name:               f.Name,
			OpenFeeP:           f.OpenFeeP,
			CloseFeeP:          f.CloseFeeP,
			OracleFeeP:         f.OracleFeeP,
			TriggerOrderFeeP:   f.TriggerOrderFeeP,
			MinPositionSizeUsd: f.MinPositionSizeUsd,
		}
	}
	pairs := lx.SetPairs{Pairs: map[uint32]lx.Pair{}}
	depths := lx.SetPairDepths{Depths: map[uint32]lx.PairDepth{}}
	for _, p := range m.Pairs {
		pairs.Pairs[p.Index] = lx.Pair{
			From:        p.From,
			To:          p.To,
			SpreadP:     p.SpreadP,
			OracleIndex: p.OracleIndex,
			GroupIndex:  p.GroupIndex,
			FeeIndex:    p.FeeIndex,
		}
		depths.Depths[p.Index] = lx.PairDepth{
			OnePercentDepthAboveUsd: p.DepthAboveUsd,
			OnePercentDepthBelowUsd: p.DepthBelowUsd,
		}
	}
	cmds = append(cmds, collaterals, groups, fees, pairs, depths)

	for _, p := range m.Pairs {
		if p.MaxLeverage.IsPositive() {
			cmds = append(cmds, lx.SetPairCustomMaxLeverage{PairIndex: p.Index, MaxLeverage: p.MaxLeverage})
		}
	}

	// Group rates before pairs join them.
	for _, g := range m.BorrowingGroups {
		cmds = append(cmds, lx.SetBorrowingGroupParams{
			CollateralIndex: g.Collateral,
			GroupIndex:      g.Index,
			FeePerBlock:     g.FeePerBlock,
			FeeExponent:     g.FeeExponent,
		})
		cmds = append(cmds, lx.SetOpenInterestCaps{
			CollateralIndex: g.Collateral,
			Groups:          map[uint32]decimal.Decimal{g.Index: g.MaxOpenInterest},
		})
	}
	for _, p := range m.Pairs {
		cmds = append(cmds, lx.SetBorrowingPairParams{
			CollateralIndex: p.Collateral,
			PairIndex:       p.Index,
			GroupIndex:      p.BorrowingGroup,
			FeePerBlock:     p.FeePerBlock,
			FeeExponent:     p.FeeExponent,
		})
		cmds = append(cmds, lx.SetOpenInterestCaps{
			CollateralIndex: p.Collateral,
			Pairs:           map[uint32]decimal.Decimal{p.Index: p.MaxOpenInterest},
		})
	}

	cmds = append(cmds, lx.SetWindowSettings{Settings: lx.OiWindowsSettings{
		StartTs:         m.Windows.StartTs,
		WindowsDuration: m.Windows.Duration,
		WindowsCount:    m.Windows.Count,
	}})

	if len(m.FeeTiers) > 0 {
		tiers := make([]lx.FeeTier, len(m.FeeTiers))
		for i, t := range m.FeeTiers {
			tiers[i] = lx.FeeTier{FeeMultiplier: t.FeeMultiplier, PointsThreshold: t.PointsThreshold}
		}
		cmds = append(cmds, lx.SetFeeTiers{Tiers: tiers})
	}
	if len(m.VolumeMultipliers) > 0 {
		cmds = append(cmds, lx.SetGroupVolumeMultipliers{Multipliers: m.VolumeMultipliers})
	}

	return append(cmds,
		lx.SetAddresses{Addresses: lx.Addresses{Gov: m.Gov, Staking: m.Staking}},
		lx.SetVaultClosingFeeP{VaultClosingFeeP: m.VaultClosingFeeP},
		lx.SetTradingState{State: m.TradingState},
	)
}

// Prices returns the initial oracle and collateral prices.
func (m Market) Prices() (pairs, collaterals map[uint32]decimal.Decimal) {
	pairs, collaterals = map[uint32]decimal.Decimal{}, map[uint32]decimal.Decimal{}
	for _, p := range m.Pairs {
		if p.Price.IsPositive() {
			pairs[p.OracleIndex] = p.Price
		}
	}
	for _, c := range m.Collaterals {
		if c.Price.IsPositive() {
			collaterals[c.Index] = c.Price
		}
	}
	return pairs, collaterals
}
