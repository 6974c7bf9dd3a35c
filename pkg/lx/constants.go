package lx

import "github.com/shopspring/decimal"

// Protocol limits. Percentages are fractions: 1 is 100%.
var (
	// MaxSlP is the largest loss a stop-loss may be placed at.
	MaxSlP = decimal.RequireFromString("0.75")
	// MaxPnlP caps the profit of a trade (900%).
	MaxPnlP = decimal.NewFromInt(9)
	// LiqThresholdP is the share of collateral that can be lost before liquidation.
	LiqThresholdP = decimal.RequireFromString("0.9")
	// MaxOpenNegativePnlP bounds leverage × price impact on open.
	MaxOpenNegativePnlP = decimal.RequireFromString("0.4")
	// LiqFeeP is the closing fee charged on liquidations, as a share of collateral.
	LiqFeeP = decimal.RequireFromString("0.05")
	// TriggerRewardShare is the part of the trigger fee paid to whoever executes a pending order.
	TriggerRewardShare = decimal.RequireFromString("0.2")
)

const (
	// Precision is the number of decimal places kept by fixed-point divisions.
	Precision int32 = 18

	// MaxWindowsCount bounds OiWindowsSettings.WindowsCount.
	MaxWindowsCount = 5

	// MaxFeeExponent bounds BorrowingData.FeeExponent.
	MaxFeeExponent = 3

	// MaxFeeTiers bounds the fee tier table.
	MaxFeeTiers = 8

	// TrailingPeriodDays is the volume look-back used to pick a fee tier.
	TrailingPeriodDays = 30

	// MinCollateralFeeMultiple: position value / leverage must cover this many minimum fees.
	MinCollateralFeeMultiple = 5

	secondsPerDay = 86400
)
