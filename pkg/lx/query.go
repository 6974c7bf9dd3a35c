package lx

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Read-only views. None of them write to the store.

// Trade returns a trade and its info, open or closed.
func (e *Engine) Trade(user string, index uint32) (Trade, TradeInfo, error) {
	key := TradeKey{User: user, Index: index}
	t, ok, err := trades.MayLoad(e.kv, key)
	if err != nil {
		return t, TradeInfo{}, err
	}
	if !ok {
		return t, TradeInfo{}, fmt.Errorf("%w: %s/%d", ErrTradeNotFound, user, index)
	}
	info, err := tradeInfos.Load(e.kv, key)
	return t, info, err
}

// OpenTrades lists a user's open trades and pending orders.
func (e *Engine) OpenTrades(user string) ([]Trade, error) {
	count, _, err := userCounters.MayLoad(e.kv, Addr(user))
	if err != nil {
		return nil, err
	}
	var open []Trade
	for i := uint32(0); i < count; i++ {
		t, ok, err := trades.MayLoad(e.kv, TradeKey{User: user, Index: i})
		if err != nil {
			return nil, err
		}
		if ok && t.IsOpen {
			open = append(open, t)
		}
	}
	return open, nil
}

// LiquidationPrice returns the liquidation price of a live trade, fees included.
func (e *Engine) LiquidationPrice(env Env, user string, index uint32) (decimal.Decimal, error) {
	x := e.execution(env)
	t, _, err := x.loadLiveTrade(user, index)
	if err != nil {
		return decimal.Zero, err
	}
	return x.liquidationPrice(&t)
}

// TradeBorrowingFee returns the borrowing fee a live trade owes at env.
func (e *Engine) TradeBorrowingFee(env Env, user string, index uint32) (decimal.Decimal, error) {
	x := e.execution(env)
	t, _, err := x.loadLiveTrade(user, index)
	if err != nil {
		return decimal.Zero, err
	}
	return x.tradeBorrowingFee(&t)
}

// TradeValue previews closing a live trade at the oracle price.
func (e *Engine) TradeValue(env Env, user string, index uint32) (Settlement, error) {
	x := e.execution(env)
	t, _, err := x.loadLiveTrade(user, index)
	if err != nil {
		return Settlement{}, err
	}
	pair, err := x.pair(t.PairIndex)
	if err != nil {
		return Settlement{}, err
	}
	fee, err := x.fee(pair.FeeIndex)
	if err != nil {
		return Settlement{}, err
	}
	price, err := x.price(pair.OracleIndex)
	if err != nil {
		return Settlement{}, err
	}
	collateralPrice, err := x.collateralPrice(t.CollateralIndex)
	if err != nil {
		return Settlement{}, err
	}
	return x.settle(&t, fee, collateralPrice, OrderMarketClose, price)
}

// BorrowingView is an accumulator with its open interest and pending values.
type BorrowingView struct {
	Data         BorrowingData        `json:"data"`
	OpenInterest OpenInterest         `json:"open_interest"`
	PendingLong  decimal.Decimal      `json:"pending_acc_fee_long"`
	PendingShort decimal.Decimal      `json:"pending_acc_fee_short"`
	Group        uint32               `json:"group"`
	History      []BorrowingPairGroup `json:"history,omitempty"`
}

// PairBorrowing returns the pair accumulator brought forward to env.
func (e *Engine) PairBorrowing(env Env, collateral, pair uint32) (BorrowingView, error) {
	x := e.execution(env)
	data, oi, err := x.pairBorrowing(collateral, pair)
	if err != nil {
		return BorrowingView{}, err
	}
	pending, err := PendingAccFees(data, oi, env.Height)
	if err != nil {
		return BorrowingView{}, err
	}
	group, history, err := x.borrowingGroup(collateral, pair)
	if err != nil {
		return BorrowingView{}, err
	}
	return BorrowingView{
		Data:         data,
		OpenInterest: oi,
		PendingLong:  pending.AccFeeLong,
		PendingShort: pending.AccFeeShort,
		Group:        group,
		History:      history,
	}, nil
}

// GroupBorrowing returns the group accumulator brought forward to env.
func (e *Engine) GroupBorrowing(env Env, collateral, group uint32) (BorrowingView, error) {
	x := e.execution(env)
	data, oi, err := x.groupBorrowing(collateral, group)
	if err != nil {
		return BorrowingView{}, err
	}
	pending, err := PendingAccFees(data, oi, env.Height)
	if err != nil {
		return BorrowingView{}, err
	}
	return BorrowingView{
		Data:         data,
		OpenInterest: oi,
		PendingLong:  pending.AccFeeLong,
		PendingShort: pending.AccFeeShort,
		Group:        group,
	}, nil
}

// ActiveOi returns the USD open interest of the active windows.
func (e *Engine) ActiveOi(env Env, pair uint32) (PairOi, error) {
	x := e.execution(env)
	long, err := x.activeOi(pair, true)
	if err != nil {
		return PairOi{}, err
	}
	short, err := x.activeOi(pair, false)
	if err != nil {
		return PairOi{}, err
	}
	return PairOi{OiLongUsd: long, OiShortUsd: short}, nil
}

// PriceImpactView is a price-impact preview.
type PriceImpactView struct {
	ImpactP          decimal.Decimal `json:"impact_p"`
	ExecutionPrice   decimal.Decimal `json:"execution_price"`
	PriceAfterImpact decimal.Decimal `json:"price_after_impact"`
}

// PriceImpact previews the execution price of a trade of tradeOiUsd.
func (e *Engine) PriceImpact(env Env, pairIndex uint32, long bool, tradeOiUsd decimal.Decimal) (PriceImpactView, error) {
	x := e.execution(env)
	pair, err := x.pair(pairIndex)
	if err != nil {
		return PriceImpactView{}, err
	}
	price, err := x.price(pair.OracleIndex)
	if err != nil {
		return PriceImpactView{}, err
	}
	execution := MarketExecutionPrice(price, pair.SpreadP, long)
	impactP, after, err := x.tradePriceImpact(execution, pairIndex, long, tradeOiUsd)
	if err != nil {
		return PriceImpactView{}, err
	}
	return PriceImpactView{ImpactP: impactP, ExecutionPrice: execution, PriceAfterImpact: after}, nil
}

// PendingGovFees returns the unclaimed governance fees of a collateral.
func (e *Engine) PendingGovFees(collateral uint32) (decimal.Decimal, error) {
	v, _, err := pendingGovFees.MayLoad(e.kv, Index(collateral))
	return v, err
}

// VaultFees returns the fees kept by the vault for a collateral.
func (e *Engine) VaultFees(collateral uint32) (decimal.Decimal, error) {
	v, _, err := vaultFees.MayLoad(e.kv, Index(collateral))
	return v, err
}

// TradingState returns the current trading state.
func (e *Engine) TradingState() (TradingState, error) {
	s, _, err := tradingState.MayLoad(e.kv)
	return s, err
}

// Collateral returns a configured collateral.
func (e *Engine) Collateral(index uint32) (Collateral, error) {
	return e.execution(Env{}).collateral(index)
}

// Pair returns a configured pair.
func (e *Engine) Pair(index uint32) (Pair, error) {
	return e.execution(Env{}).pair(index)
}
