package lx

import (
	"github.com/shopspring/decimal"
)

// Command is a request to the engine. The set is closed: Execute handles
// every implementation in one switch.
type Command interface {
	Name() string
	isCommand()
}

// OpenTrade opens a market trade or places a limit/stop order. For market
// trades Trade.OpenPrice is the expected price slippage is measured from.
type OpenTrade struct {
	Trade        Trade           `json:"trade"`
	MaxSlippageP decimal.Decimal `json:"max_slippage_p"`
}

// UpdateOpenOrder changes a pending order.
type UpdateOpenOrder struct {
	User         string          `json:"user"`
	Index        uint32          `json:"index"`
	Price        decimal.Decimal `json:"price"`
	Tp           decimal.Decimal `json:"tp"`
	Sl           decimal.Decimal `json:"sl"`
	MaxSlippageP decimal.Decimal `json:"max_slippage_p"`
}

// CancelOpenOrder removes a pending order and refunds its collateral.
type CancelOpenOrder struct {
	User  string `json:"user"`
	Index uint32 `json:"index"`
}

// UpdateTp changes the take profit of a live trade.
type UpdateTp struct {
	User  string          `json:"user"`
	Index uint32          `json:"index"`
	Tp    decimal.Decimal `json:"tp"`
}

// UpdateSl changes the stop loss of a live trade.
type UpdateSl struct {
	User  string          `json:"user"`
	Index uint32          `json:"index"`
	Sl    decimal.Decimal `json:"sl"`
}

// TriggerOrder executes a pending order or a tp/sl/liquidation close on
// behalf of Executor, who earns the trigger reward.
type TriggerOrder struct {
	Executor string    `json:"executor"`
	User     string    `json:"user"`
	Index    uint32    `json:"index"`
	Kind     OrderType `json:"kind"`
}

// CloseTradeMarket closes a live trade at the oracle price.
type CloseTradeMarket struct {
	User  string `json:"user"`
	Index uint32 `json:"index"`
}

// IncreasePositionSize adds CollateralAmount at Leverage to a live trade.
// The added size opens at the market price, bounded by ExpectedPrice and
// MaxSlippageP, and the open price becomes the size-weighted average.
type IncreasePositionSize struct {
	User             string          `json:"user"`
	Index            uint32          `json:"index"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	Leverage         decimal.Decimal `json:"leverage"`
	ExpectedPrice    decimal.Decimal `json:"expected_price"`
	MaxSlippageP     decimal.Decimal `json:"max_slippage_p"`
}

func (OpenTrade) Name() string        { return "open_trade" }
func (UpdateOpenOrder) Name() string  { return "update_open_order" }
func (CancelOpenOrder) Name() string  { return "cancel_open_order" }
func (UpdateTp) Name() string         { return "update_tp" }
func (UpdateSl) Name() string         { return "update_sl" }
func (TriggerOrder) Name() string     { return "trigger_order" }
func (CloseTradeMarket) Name() string { return "close_trade_market" }

func (IncreasePositionSize) Name() string { return "increase_position_size" }

func (OpenTrade) isCommand()        {}
func (UpdateOpenOrder) isCommand()  {}
func (CancelOpenOrder) isCommand()  {}
func (UpdateTp) isCommand()         {}
func (UpdateSl) isCommand()         {}
func (TriggerOrder) isCommand()     {}
func (CloseTradeMarket) isCommand() {}

func (IncreasePositionSize) isCommand() {}

// Admin commands.

type SetPairs struct {
	Pairs map[uint32]Pair `json:"pairs"`
}

type SetGroups struct {
	Groups map[uint32]Group `json:"groups"`
}

type SetFees struct {
	Fees map[uint32]Fee `json:"fees"`
}

type SetCollaterals struct {
	Collaterals map[uint32]Collateral `json:"collaterals"`
}

// SetPairCustomMaxLeverage overrides the group max leverage of a pair. Zero clears it.
type SetPairCustomMaxLeverage struct {
	PairIndex   uint32          `json:"pair_index"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`
}

// SetBorrowingPairParams sets the pair accrual rate and its borrowing group.
// Group 0 means no group.
type SetBorrowingPairParams struct {
	CollateralIndex uint32          `json:"collateral_index"`
	PairIndex       uint32          `json:"pair_index"`
	GroupIndex      uint32          `json:"group_index"`
	FeePerBlock     decimal.Decimal `json:"fee_per_block"`
	FeeExponent     uint32          `json:"fee_exponent"`
}

type SetBorrowingGroupParams struct {
	CollateralIndex uint32          `json:"collateral_index"`
	GroupIndex      uint32          `json:"group_index"`
	FeePerBlock     decimal.Decimal `json:"fee_per_block"`
	FeeExponent     uint32          `json:"fee_exponent"`
}

// SetOpenInterestCaps sets the max open interest of pairs and groups.
type SetOpenInterestCaps struct {
	CollateralIndex uint32                     `json:"collateral_index"`
	Pairs           map[uint32]decimal.Decimal `json:"pairs"`
	Groups          map[uint32]decimal.Decimal `json:"groups"`
}

type SetWindowSettings struct {
	Settings OiWindowsSettings `json:"settings"`
}

type SetPairDepths struct {
	Depths map[uint32]PairDepth `json:"depths"`
}

type SetFeeTiers struct {
	Tiers []FeeTier `json:"tiers"`
}

type SetGroupVolumeMultipliers struct {
	Multipliers map[uint32]decimal.Decimal `json:"multipliers"`
}

type SetTradingState struct {
	State TradingState `json:"state"`
}

type SetAddresses struct {
	Addresses Addresses `json:"addresses"`
}

type SetVaultClosingFeeP struct {
	VaultClosingFeeP decimal.Decimal `json:"vault_closing_fee_p"`
}

// ClaimGovFees pays the accrued governance fees of a collateral to the gov address.
type ClaimGovFees struct {
	CollateralIndex uint32 `json:"collateral_index"`
}

func (SetPairs) Name() string                  { return "admin_set_pairs" }
func (SetGroups) Name() string                 { return "admin_set_groups" }
func (SetFees) Name() string                   { return "admin_set_fees" }
func (SetCollaterals) Name() string            { return "admin_set_collaterals" }
func (SetPairCustomMaxLeverage) Name() string  { return "admin_set_pair_custom_max_leverage" }
func (SetBorrowingPairParams) Name() string    { return "admin_set_borrowing_pair_params" }
func (SetBorrowingGroupParams) Name() string   { return "admin_set_borrowing_group_params" }
func (SetOpenInterestCaps) Name() string       { return "admin_set_open_interest_caps" }
func (SetWindowSettings) Name() string         { return "admin_set_window_settings" }
func (SetPairDepths) Name() string             { return "admin_set_pair_depths" }
func (SetFeeTiers) Name() string               { return "admin_set_fee_tiers" }
func (SetGroupVolumeMultipliers) Name() string { return "admin_set_group_volume_multipliers" }
func (SetTradingState) Name() string           { return "admin_set_trading_state" }
func (SetAddresses) Name() string              { return "admin_set_addresses" }
func (SetVaultClosingFeeP) Name() string       { return "admin_set_vault_closing_fee_p" }
func (ClaimGovFees) Name() string              { return "admin_claim_gov_fees" }

func (SetPairs) isCommand()                  {}
func (SetGroups) isCommand()                 {}
func (SetFees) isCommand()                   {}
func (SetCollaterals) isCommand()            {}
func (SetPairCustomMaxLeverage) isCommand()  {}
func (SetBorrowingPairParams) isCommand()    {}
func (SetBorrowingGroupParams) isCommand()   {}
func (SetOpenInterestCaps) isCommand()       {}
func (SetWindowSettings) isCommand()         {}
func (SetPairDepths) isCommand()             {}
func (SetFeeTiers) isCommand()               {}
func (SetGroupVolumeMultipliers) isCommand() {}
func (SetTradingState) isCommand()           {}
func (SetAddresses) isCommand()              {}
func (SetVaultClosingFeeP) isCommand()       {}
func (ClaimGovFees) isCommand()              {}
