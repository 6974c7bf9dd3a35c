package lx

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// FeeTier discounts fees once trailing points reach PointsThreshold.
type FeeTier struct {
	FeeMultiplier   decimal.Decimal `json:"fee_multiplier"`
	PointsThreshold decimal.Decimal `json:"points_threshold"`
}

// TraderInfo tracks trailing volume points.
type TraderInfo struct {
	LastDayUpdated uint64          `json:"last_day_updated"`
	TrailingPoints decimal.Decimal `json:"trailing_points"`
}

// TraderDailyInfo holds one day of points and the multiplier cached for that day.
type TraderDailyInfo struct {
	FeeMultiplierCache decimal.Decimal `json:"fee_multiplier_cache"`
	Points             decimal.Decimal `json:"points"`
}

// OpeningFees is the split of the fee charged when a trade opens.
type OpeningFees struct {
	Total         decimal.Decimal `json:"total"`
	Gov           decimal.Decimal `json:"gov"`
	Staking       decimal.Decimal `json:"staking"`
	TriggerReward decimal.Decimal `json:"trigger_reward"`
}

// ClosingFees is the split of the fee charged when a trade closes.
type ClosingFees struct {
	Total         decimal.Decimal `json:"total"`
	Vault         decimal.Decimal `json:"vault"`
	Staking       decimal.Decimal `json:"staking"`
	TriggerReward decimal.Decimal `json:"trigger_reward"`
}

// ValidateFeeTiers checks the tier table is short, ascending and discounting.
func ValidateFeeTiers(tiers []FeeTier) error {
	if len(tiers) > MaxFeeTiers {
		return ErrInvalidConfig
	}
	for i, tier := range tiers {
		if !tier.FeeMultiplier.IsPositive() || tier.FeeMultiplier.GreaterThan(one) {
			return ErrInvalidConfig
		}
		if i > 0 && !tier.PointsThreshold.GreaterThan(tiers[i-1].PointsThreshold) {
			return ErrInvalidConfig
		}
	}
	return nil
}

// FeeTierMultiplier returns the multiplier of the highest tier reached, or 1.
func FeeTierMultiplier(tiers []FeeTier, trailingPoints decimal.Decimal) decimal.Decimal {
	for i := len(tiers) - 1; i >= 0; i-- {
		if trailingPoints.GreaterThanOrEqual(tiers[i].PointsThreshold) {
			return tiers[i].FeeMultiplier
		}
	}
	return one
}

// positionSizeBasis is the position size fees are charged on: never below the
// pair's minimum position size.
func positionSizeBasis(positionCollateral decimal.Decimal, fee Fee, collateralPrice decimal.Decimal) (decimal.Decimal, error) {
	minCollateral, err := quo(fee.MinPositionSizeUsd, collateralPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(positionCollateral, minCollateral.Floor()), nil
}

func currentDay(x *execution) uint64 {
	ts := x.env.Time.Unix()
	if ts <= 0 {
		return 0
	}
	return uint64(ts) / secondsPerDay
}

// calculateFeeAmount floors normalFee to whole units, then applies the
// trader's cached daily multiplier.
func (x *execution) calculateFeeAmount(trader string, normalFee decimal.Decimal) (decimal.Decimal, error) {
	normal, err := floorAmount(normalFee)
	if err != nil {
		return decimal.Zero, err
	}
	daily, _, err := traderDailies.MayLoad(x.kv, DayKey{User: trader, Day: currentDay(x)})
	if err != nil {
		return decimal.Zero, err
	}
	if daily.FeeMultiplierCache.IsZero() {
		return normal, nil
	}
	return floorAmount(normal.Mul(daily.FeeMultiplierCache))
}

// updateTraderPoints credits volume to today and, once per new day, rolls the
// trailing window forward and caches the tier multiplier for today.
func (x *execution) updateTraderPoints(trader string, volumeUsd decimal.Decimal, group uint32) error {
	day := currentDay(x)
	dayKey := DayKey{User: trader, Day: day}
	daily, _, err := traderDailies.MayLoad(x.kv, dayKey)
	if err != nil {
		return err
	}

	multiplier, _, err := volumeMults.MayLoad(x.kv, Index(group))
	if err != nil {
		return err
	}
	if volumeUsd.IsPositive() && multiplier.IsPositive() {
		daily.Points = daily.Points.Add(volumeUsd.Mul(multiplier))
	}

	info, _, err := traderInfos.MayLoad(x.kv, Addr(trader))
	if err != nil {
		return err
	}

	if info.LastDayUpdated == 0 {
		info.LastDayUpdated = day
	} else if day > info.LastDayUpdated {
		trailing, err := x.trailingPoints(trader, info, day)
		if err != nil {
			return err
		}
		tiers, _, err := feeTiers.MayLoad(x.kv)
		if err != nil {
			return err
		}
		info.TrailingPoints = trailing
		info.LastDayUpdated = day
		daily.FeeMultiplierCache = FeeTierMultiplier(tiers, trailing)
	}

	if err := traderInfos.Save(x.kv, Addr(trader), info); err != nil {
		return err
	}
	return traderDailies.Save(x.kv, dayKey, daily)
}

// trailingPoints sums the finalized points of the last TrailingPeriodDays days.
func (x *execution) trailingPoints(trader string, info TraderInfo, day uint64) (decimal.Decimal, error) {
	earliestActive := satSubUint(day, TrailingPeriodDays)
	points := func(d uint64) (decimal.Decimal, error) {
		daily, _, err := traderDailies.MayLoad(x.kv, DayKey{User: trader, Day: d})
		return daily.Points, err
	}

	if info.LastDayUpdated >= earliestActive {
		last, err := points(info.LastDayUpdated)
		if err != nil {
			return decimal.Zero, err
		}
		trailing := info.TrailingPoints.Add(last)
		if earliestActive > 0 {
			for d := satSubUint(info.LastDayUpdated, TrailingPeriodDays); d < earliestActive; d++ {
				expired, err := points(d)
				if err != nil {
					return decimal.Zero, err
				}
				trailing = satSub(trailing, expired)
			}
		}
		return trailing, nil
	}

	trailing := decimal.Zero
	for d := earliestActive; d < day; d++ {
		p, err := points(d)
		if err != nil {
			return decimal.Zero, err
		}
		trailing = trailing.Add(p)
	}
	return trailing, nil
}

// processOpeningFees charges and distributes the opening fee. The governance
// share accrues for claiming; the trigger reward is paid out of it.
func (x *execution) processOpeningFees(t *Trade, fee Fee, collateral Collateral, collateralPrice decimal.Decimal, order OrderType, executor string) (OpeningFees, error) {
	basis, err := positionSizeBasis(t.PositionSizeCollateral(), fee, collateralPrice)
	if err != nil {
		return OpeningFees{}, err
	}
	gov, err := x.calculateFeeAmount(t.User, basis.Mul(fee.OpenFeeP))
	if err != nil {
		return OpeningFees{}, err
	}
	triggerFee, err := x.calculateFeeAmount(t.User, basis.Mul(fee.TriggerOrderFeeP))
	if err != nil {
		return OpeningFees{}, err
	}

	fees := OpeningFees{
		Total:   gov.Mul(two).Add(triggerFee),
		Gov:     gov,
		Staking: gov.Add(triggerFee),
	}
	if order.IsTrigger() {
		fees.TriggerReward = decimal.Min(triggerFee.Mul(TriggerRewardShare).Floor(), gov)
		fees.Gov = gov.Sub(fees.TriggerReward)
	}

	if err := x.accrueGovFees(t.CollateralIndex, fees.Gov); err != nil {
		return OpeningFees{}, err
	}
	addrs, _, err := addresses.MayLoad(x.kv)
	if err != nil {
		return OpeningFees{}, err
	}
	x.res.pay(collateral.Denom, addrs.Staking, fees.Staking)
	x.res.pay(collateral.Denom, executor, fees.TriggerReward)
	x.res.emit("fees_distributed",
		"trader", t.User,
		"index", strconv.FormatUint(uint64(t.Index), 10),
		"phase", "open",
		"total", fees.Total.String(),
		"gov", fees.Gov.String(),
		"staking", fees.Staking.String(),
		"trigger_reward", fees.TriggerReward.String(),
	)
	return fees, nil
}

// closingFees computes the closing fee split without side effects. available
// is what the trade can still pay; the fee never exceeds it.
func (x *execution) closingFees(t *Trade, fee Fee, collateralPrice decimal.Decimal, order OrderType, available decimal.Decimal) (ClosingFees, error) {
	basis, err := positionSizeBasis(t.PositionSizeCollateral(), fee, collateralPrice)
	if err != nil {
		return ClosingFees{}, err
	}

	var total decimal.Decimal
	if order == OrderLiqClose {
		total = t.CollateralAmount.Mul(LiqFeeP).Floor()
	} else if total, err = x.calculateFeeAmount(t.User, basis.Mul(fee.CloseFeeP)); err != nil {
		return ClosingFees{}, err
	}
	total = decimal.Min(total, decimal.Max(available, decimal.Zero))

	vaultP, _, err := vaultClosingFee.MayLoad(x.kv)
	if err != nil {
		return ClosingFees{}, err
	}
	fees := ClosingFees{Total: total}
	fees.Vault = total.Mul(vaultP).Floor()
	fees.Staking = total.Sub(fees.Vault)

	if order.IsTrigger() {
		reward, err := x.calculateFeeAmount(t.User, basis.Mul(fee.TriggerOrderFeeP))
		if err != nil {
			return ClosingFees{}, err
		}
		fees.TriggerReward = decimal.Min(reward, fees.Staking)
		fees.Staking = fees.Staking.Sub(fees.TriggerReward)
	}
	return fees, nil
}

func (x *execution) accrueGovFees(collateral uint32, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	pending, _, err := pendingGovFees.MayLoad(x.kv, Index(collateral))
	if err != nil {
		return err
	}
	return pendingGovFees.Save(x.kv, Index(collateral), pending.Add(amount))
}

func (x *execution) accrueVaultFees(collateral uint32, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	total, _, err := vaultFees.MayLoad(x.kv, Index(collateral))
	if err != nil {
		return err
	}
	return vaultFees.Save(x.kv, Index(collateral), total.Add(amount))
}
