package lx

import (
	"github.com/shopspring/decimal"
)

// LiquidationPrice is the price at which losses plus fees consume
// LiqThresholdP of the collateral. Never negative.
func LiquidationPrice(openPrice decimal.Decimal, long bool, collateral, leverage, feesCollateral decimal.Decimal) (decimal.Decimal, error) {
	liqNegativePnl := collateral.Mul(LiqThresholdP)
	perCollateral, err := quo(openPrice.Mul(liqNegativePnl.Sub(feesCollateral)), collateral)
	if err != nil {
		return decimal.Zero, err
	}
	distance, err := quo(perCollateral, leverage)
	if err != nil {
		return decimal.Zero, err
	}
	if long {
		return decimal.Max(openPrice.Sub(distance), decimal.Zero), nil
	}
	return decimal.Max(openPrice.Add(distance), decimal.Zero), nil
}

// PnlPercent is the leveraged return from openPrice to currentPrice,
// clamped to [-100%, MaxPnlP].
func PnlPercent(openPrice, currentPrice decimal.Decimal, long bool, leverage decimal.Decimal) (decimal.Decimal, error) {
	if openPrice.IsZero() {
		return decimal.Zero, nil
	}
	move := currentPrice.Sub(openPrice)
	if !long {
		move = move.Neg()
	}
	p, err := quo(move.Mul(leverage), openPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if p.GreaterThan(MaxPnlP) {
		return MaxPnlP, nil
	}
	if p.LessThan(one.Neg()) {
		return one.Neg(), nil
	}
	return p, nil
}

// TradeValue is what the trader receives on close. Anything inside the
// liquidation buffer is forfeited.
func TradeValue(collateral, pnlP, borrowingFee, closingFee decimal.Decimal) (decimal.Decimal, error) {
	value := collateral.Add(collateral.Mul(pnlP)).Sub(borrowingFee).Sub(closingFee)
	threshold := collateral.Mul(one.Sub(LiqThresholdP))
	if value.LessThanOrEqual(threshold) {
		return decimal.Zero, nil
	}
	return floorAmount(value)
}

// LimitTpDistance clamps a take profit to the MaxPnlP boundary. Zero means
// the boundary.
func LimitTpDistance(openPrice, leverage, tp decimal.Decimal, long bool) (decimal.Decimal, error) {
	if !tp.IsZero() {
		pnl, err := PnlPercent(openPrice, tp, long, leverage)
		if err != nil {
			return decimal.Zero, err
		}
		if pnl.LessThan(MaxPnlP) {
			return tp, nil
		}
	}
	diff, err := quo(openPrice.Mul(MaxPnlP), leverage)
	if err != nil {
		return decimal.Zero, err
	}
	if long {
		return openPrice.Add(diff), nil
	}
	return satSub(openPrice, diff), nil
}

// LimitSlDistance clamps a stop loss to the MaxSlP boundary. Zero means the
// boundary.
func LimitSlDistance(openPrice, leverage, sl decimal.Decimal, long bool) (decimal.Decimal, error) {
	if !sl.IsZero() {
		pnl, err := PnlPercent(openPrice, sl, long, leverage)
		if err != nil {
			return decimal.Zero, err
		}
		if pnl.GreaterThanOrEqual(MaxSlP.Neg()) {
			return sl, nil
		}
	}
	diff, err := quo(openPrice.Mul(MaxSlP), leverage)
	if err != nil {
		return decimal.Zero, err
	}
	if long {
		return satSub(openPrice, diff), nil
	}
	return openPrice.Add(diff), nil
}

// tpOnProfitSide reports whether tp lies strictly beyond price in the profit direction.
func tpOnProfitSide(price, tp decimal.Decimal, long bool) bool {
	if long {
		return tp.GreaterThan(price)
	}
	return tp.LessThan(price)
}

// slOnLossSide reports whether sl lies strictly beyond price in the loss direction.
func slOnLossSide(price, sl decimal.Decimal, long bool) bool {
	if long {
		return sl.LessThan(price)
	}
	return sl.GreaterThan(price)
}

// liquidationPrice includes the borrowing fee owed so far and the closing fee
// the trade would pay.
func (x *execution) liquidationPrice(t *Trade) (decimal.Decimal, error) {
	pair, err := x.pair(t.PairIndex)
	if err != nil {
		return decimal.Zero, err
	}
	fee, err := x.fee(pair.FeeIndex)
	if err != nil {
		return decimal.Zero, err
	}
	collateralPrice, err := x.collateralPrice(t.CollateralIndex)
	if err != nil {
		return decimal.Zero, err
	}
	basis, err := positionSizeBasis(t.PositionSizeCollateral(), fee, collateralPrice)
	if err != nil {
		return decimal.Zero, err
	}
	closing := basis.Mul(fee.CloseFeeP.Add(fee.TriggerOrderFeeP)).Floor()
	borrowing, err := x.tradeBorrowingFee(t)
	if err != nil {
		return decimal.Zero, err
	}
	return LiquidationPrice(t.OpenPrice, t.Long, t.CollateralAmount, t.Leverage, closing.Add(borrowing))
}
