package lx

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// admin applies a configuration command. Accumulators affected by a rate
// change are brought forward first so past blocks accrue at the old rate.
func (x *execution) admin(cmd Command) error {
	var err error
	switch c := cmd.(type) {
	case SetPairs:
		for i, p := range c.Pairs {
			if p.SpreadP.IsNegative() {
				return fmt.Errorf("%w: pair %d spread", ErrInvalidConfig, i)
			}
			if err = pairs.Save(x.kv, Index(i), p); err != nil {
				return err
			}
		}
	case SetGroups:
		for i, g := range c.Groups {
			if g.MinLeverage.LessThan(one) || g.MaxLeverage.LessThan(g.MinLeverage) {
				return fmt.Errorf("%w: group %d leverage", ErrInvalidConfig, i)
			}
			if err = groups.Save(x.kv, Index(i), g); err != nil {
				return err
			}
		}
	case SetFees:
		for i, f := range c.Fees {
			if f.OpenFeeP.IsNegative() || f.CloseFeeP.IsNegative() || f.TriggerOrderFeeP.IsNegative() ||
				f.OracleFeeP.IsNegative() || f.MinPositionSizeUsd.IsNegative() {
				return fmt.Errorf("%w: fee %d", ErrInvalidConfig, i)
			}
			if err = fees.Save(x.kv, Index(i), f); err != nil {
				return err
			}
		}
	case SetCollaterals:
		for i, col := range c.Collaterals {
			if col.Denom == "" {
				return fmt.Errorf("%w: collateral %d has no denom", ErrInvalidConfig, i)
			}
			if err = collaterals.Save(x.kv, Index(i), col); err != nil {
				return err
			}
		}
	case SetPairCustomMaxLeverage:
		if c.MaxLeverage.IsZero() {
			err = customLeverage.Remove(x.kv, Index(c.PairIndex))
		} else if c.MaxLeverage.LessThan(one) {
			return fmt.Errorf("%w: max leverage %s", ErrInvalidConfig, c.MaxLeverage)
		} else {
			err = customLeverage.Save(x.kv, Index(c.PairIndex), c.MaxLeverage)
		}
	case SetBorrowingPairParams:
		err = x.setBorrowingPairParams(c)
	case SetBorrowingGroupParams:
		err = x.setBorrowingGroupParams(c)
	case SetOpenInterestCaps:
		err = x.setOpenInterestCaps(c)
	case SetWindowSettings:
		s := c.Settings
		if s.WindowsCount > MaxWindowsCount || s.WindowsCount > 0 && s.WindowsDuration == 0 {
			return fmt.Errorf("%w: windows %d x %ds", ErrInvalidConfig, s.WindowsCount, s.WindowsDuration)
		}
		err = windowsSettings.Save(x.kv, s)
	case SetPairDepths:
		for i, d := range c.Depths {
			if d.OnePercentDepthAboveUsd.IsNegative() || d.OnePercentDepthBelowUsd.IsNegative() {
				return fmt.Errorf("%w: pair %d depth", ErrInvalidConfig, i)
			}
			if err = pairDepths.Save(x.kv, Index(i), d); err != nil {
				return err
			}
		}
	case SetFeeTiers:
		if err = ValidateFeeTiers(c.Tiers); err != nil {
			return err
		}
		err = feeTiers.Save(x.kv, c.Tiers)
	case SetGroupVolumeMultipliers:
		for i, m := range c.Multipliers {
			if m.IsNegative() {
				return fmt.Errorf("%w: group %d volume multiplier", ErrInvalidConfig, i)
			}
			if err = volumeMults.Save(x.kv, Index(i), m); err != nil {
				return err
			}
		}
	case SetTradingState:
		if c.State > TradingPaused {
			return fmt.Errorf("%w: trading state %d", ErrInvalidConfig, c.State)
		}
		err = tradingState.Save(x.kv, c.State)
	case SetAddresses:
		err = addresses.Save(x.kv, c.Addresses)
	case SetVaultClosingFeeP:
		if c.VaultClosingFeeP.IsNegative() || c.VaultClosingFeeP.GreaterThan(one) {
			return fmt.Errorf("%w: vault closing fee %s", ErrInvalidConfig, c.VaultClosingFeeP)
		}
		err = vaultClosingFee.Save(x.kv, c.VaultClosingFeeP)
	case ClaimGovFees:
		err = x.claimGovFees(c)
	}
	if err != nil {
		return err
	}
	x.res.emit("admin_updated", "command", cmd.Name())
	x.logger.Info("configuration updated", "command", cmd.Name(), "height", x.env.Height)
	return nil
}

func validBorrowingRate(feePerBlock decimal.Decimal, exponent uint32) error {
	if feePerBlock.IsNegative() || exponent > MaxFeeExponent {
		return fmt.Errorf("%w: fee per block %s, exponent %d", ErrInvalidConfig, feePerBlock, exponent)
	}
	return nil
}

func (x *execution) setBorrowingPairParams(c SetBorrowingPairParams) error {
	if err := validBorrowingRate(c.FeePerBlock, c.FeeExponent); err != nil {
		return err
	}
	data, err := x.setPairPendingAccFees(c.CollateralIndex, c.PairIndex)
	if err != nil {
		return err
	}
	if err := x.setPairGroup(c.CollateralIndex, c.PairIndex, c.GroupIndex); err != nil {
		return err
	}
	data.FeePerBlock = c.FeePerBlock
	data.FeeExponent = c.FeeExponent
	return pairBorrowing.Save(x.kv, PairKey{Collateral: c.CollateralIndex, Pair: c.PairIndex}, data)
}

func (x *execution) setBorrowingGroupParams(c SetBorrowingGroupParams) error {
	if c.GroupIndex == 0 {
		return fmt.Errorf("%w: group 0 is reserved for pairs without a group", ErrInvalidConfig)
	}
	if err := validBorrowingRate(c.FeePerBlock, c.FeeExponent); err != nil {
		return err
	}
	data, err := x.setGroupPendingAccFees(c.CollateralIndex, c.GroupIndex)
	if err != nil {
		return err
	}
	data.FeePerBlock = c.FeePerBlock
	data.FeeExponent = c.FeeExponent
	return groupBorrowing.Save(x.kv, GroupKey{Collateral: c.CollateralIndex, Group: c.GroupIndex}, data)
}

// setOpenInterestCaps changes caps. Caps feed the accrual ratio, so the
// accumulators are settled first.
func (x *execution) setOpenInterestCaps(c SetOpenInterestCaps) error {
	for pair, limit := range c.Pairs {
		if limit.IsNegative() {
			return fmt.Errorf("%w: pair %d cap", ErrInvalidConfig, pair)
		}
		if _, err := x.setPairPendingAccFees(c.CollateralIndex, pair); err != nil {
			return err
		}
		key := PairKey{Collateral: c.CollateralIndex, Pair: pair}
		oi, _, err := pairOis.MayLoad(x.kv, key)
		if err != nil {
			return err
		}
		oi.Max = limit
		if err := pairOis.Save(x.kv, key, oi); err != nil {
			return err
		}
	}
	for group, limit := range c.Groups {
		if group == 0 || limit.IsNegative() {
			return fmt.Errorf("%w: group %d cap", ErrInvalidConfig, group)
		}
		if _, err := x.setGroupPendingAccFees(c.CollateralIndex, group); err != nil {
			return err
		}
		key := GroupKey{Collateral: c.CollateralIndex, Group: group}
		oi, _, err := groupOis.MayLoad(x.kv, key)
		if err != nil {
			return err
		}
		oi.Max = limit
		if err := groupOis.Save(x.kv, key, oi); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) claimGovFees(c ClaimGovFees) error {
	collateral, err := x.collateral(c.CollateralIndex)
	if err != nil {
		return err
	}
	addrs, _, err := addresses.MayLoad(x.kv)
	if err != nil {
		return err
	}
	if addrs.Gov == "" {
		return fmt.Errorf("%w: no gov address", ErrInvalidConfig)
	}
	pending, _, err := pendingGovFees.MayLoad(x.kv, Index(c.CollateralIndex))
	if err != nil {
		return err
	}
	if !pending.IsPositive() {
		return ErrNothingToClaim
	}
	if err := pendingGovFees.Save(x.kv, Index(c.CollateralIndex), decimal.Zero); err != nil {
		return err
	}
	x.res.pay(collateral.Denom, addrs.Gov, pending)
	x.res.emit("gov_fees_claimed",
		"collateral_index", strconv.FormatUint(uint64(c.CollateralIndex), 10),
		"amount", pending.String(),
	)
	return nil
}
