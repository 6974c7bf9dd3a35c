package lx

import (
	"errors"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	alice  = "lux1alice"
	keeper = "lux1keeper"
	gov    = "lux1gov"
	stake  = "lux1staking"
	denom  = "uusdc"
)

type testOracle struct {
	prices     map[uint32]decimal.Decimal
	collateral map[uint32]decimal.Decimal
}

func (o *testOracle) Price(index uint32) (decimal.Decimal, error) {
	p, ok := o.prices[index]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

func (o *testOracle) CollateralPrice(index uint32) (decimal.Decimal, error) {
	p, ok := o.collateral[index]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

// harness is an engine over an in-memory database with one pair, BTC/USD at
// 100, settled in a collateral worth one dollar.
type harness struct {
	t      *testing.T
	engine *Engine
	oracle *testOracle
	height uint64
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t: t,
		oracle: &testOracle{
			prices:     map[uint32]decimal.Decimal{0: d("100")},
			collateral: map[uint32]decimal.Decimal{0: d("1")},
		},
		height: 1,
		now:    time.Unix(1_700_000_000, 0),
	}
	h.engine = NewEngine(memdb.New(), h.oracle, testLogger())

	h.admin(SetCollaterals{Collaterals: map[uint32]Collateral{0: {Denom: denom}}})
	h.admin(SetGroups{Groups: map[uint32]Group{0: {Name: "crypto", MinLeverage: d("1"), MaxLeverage: d("100")}}})
	h.admin(SetFees{Fees: map[uint32]Fee{0: {
		Name:               "crypto",
		OpenFeeP:           d("0.0003"),
		CloseFeeP:          d("0.0006"),
		TriggerOrderFeeP:   d("0.0002"),
		MinPositionSizeUsd: d("1500"),
	}}})
	h.admin(SetPairs{Pairs: map[uint32]Pair{0: {From: "BTC", To: "USD"}}})
	h.admin(SetAddresses{Addresses: Addresses{Gov: gov, Staking: stake}})
	h.admin(SetVaultClosingFeeP{VaultClosingFeeP: d("0.8")})
	h.admin(SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: d("1000000")}})
	return h
}

func testLogger() log.Logger {
	level, _ := log.ToLevel("info")
	return log.NewTestLogger(level)
}

func (h *harness) env() Env {
	return Env{Height: h.height, Time: h.now}
}

func (h *harness) next() {
	h.height++
	h.now = h.now.Add(6 * time.Second)
}

func (h *harness) exec(cmd Command) (*Result, error) {
	return h.engine.Execute(h.env(), cmd)
}

func (h *harness) must(cmd Command) *Result {
	h.t.Helper()
	res, err := h.exec(cmd)
	require.NoError(h.t, err, cmd.Name())
	return res
}

func (h *harness) admin(cmd Command) {
	h.t.Helper()
	h.must(cmd)
}

func (h *harness) setPrice(p string) {
	h.oracle.prices[0] = d(p)
}

func marketLong(collateral, leverage string) OpenTrade {
	return OpenTrade{
		Trade: Trade{
			User:             alice,
			CollateralAmount: d(collateral),
			Leverage:         d(leverage),
			Long:             true,
			TradeType:        TradeTypeMarket,
			OpenPrice:        d("100"),
		},
		MaxSlippageP: d("0.01"),
	}
}

func paid(res *Result, recipient string) decimal.Decimal {
	total := decimal.Zero
	for _, tr := range res.Transfers {
		if tr.Recipient == recipient {
			total = total.Add(tr.Amount)
		}
	}
	return total
}

func hasEvent(res *Result, typ string) bool {
	for _, e := range res.Events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestOpenAndCloseMarketTrade(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	res := h.must(marketLong("1000", "10"))
	require.NotNil(res.Trade)
	require.True(hasEvent(res, "trade_opened"))
	require.True(hasEvent(res, "fees_distributed"))

	// gov 3, trigger fee 2: total 8, staking receives 5
	opened := *res.Trade
	require.Equal(uint32(0), opened.Index)
	require.True(d("992").Equal(opened.CollateralAmount), opened.CollateralAmount.String())
	require.True(d("100").Equal(opened.OpenPrice))
	require.True(d("190").Equal(opened.Tp), opened.Tp.String())
	require.True(d("92.5").Equal(opened.Sl), opened.Sl.String())
	require.True(d("5").Equal(paid(res, stake)))

	pendingGov, err := h.engine.PendingGovFees(0)
	require.NoError(err)
	require.True(d("3").Equal(pendingGov))

	pairOi, err := h.engine.PairBorrowing(h.env(), 0, 0)
	require.NoError(err)
	require.True(d("9920").Equal(pairOi.OpenInterest.Long), pairOi.OpenInterest.Long.String())

	h.next()
	res = h.must(CloseTradeMarket{User: alice, Index: 0})
	require.True(hasEvent(res, "trade_closed"))
	// closing fee floor(9920 × 0.0006) = 5: vault 4, staking 1
	require.True(d("987").Equal(paid(res, alice)), paid(res, alice).String())
	require.True(d("1").Equal(paid(res, stake)))

	vault, err := h.engine.VaultFees(0)
	require.NoError(err)
	require.True(d("4").Equal(vault))

	pairOi, err = h.engine.PairBorrowing(h.env(), 0, 0)
	require.NoError(err)
	require.True(pairOi.OpenInterest.Long.IsZero())

	_, err = h.exec(CloseTradeMarket{User: alice, Index: 0})
	require.ErrorIs(err, ErrTradeClosed)
	_, err = h.exec(CloseTradeMarket{User: alice, Index: 7})
	require.ErrorIs(err, ErrTradeNotFound)

	open, err := h.engine.OpenTrades(alice)
	require.NoError(err)
	require.Empty(open)
}

func TestTradeIndexesIncrease(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	for i := uint32(0); i < 3; i++ {
		res := h.must(marketLong("1000", "10"))
		require.Equal(i, res.Trade.Index)
	}
	h.next()
	h.must(CloseTradeMarket{User: alice, Index: 1})

	// Indexes are never reused.
	res := h.must(marketLong("1000", "10"))
	require.Equal(uint32(3), res.Trade.Index)

	open, err := h.engine.OpenTrades(alice)
	require.NoError(err)
	require.Len(open, 3)
}

func TestOpenTradeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OpenTrade)
		want   error
	}{
		{"leverage below one", func(c *OpenTrade) { c.Trade.Leverage = d("0.5") }, ErrInvalidLeverage},
		{"leverage above group max", func(c *OpenTrade) { c.Trade.Leverage = d("150") }, ErrInvalidLeverage},
		{"position too small", func(c *OpenTrade) { c.Trade.CollateralAmount = d("5") }, ErrInsufficientCollateral},
		{"no open price", func(c *OpenTrade) { c.Trade.OpenPrice = decimal.Zero }, ErrInvalidOpenPrice},
		{"no slippage", func(c *OpenTrade) { c.MaxSlippageP = decimal.Zero }, ErrInvalidSlippage},
		{"slippage", func(c *OpenTrade) { c.Trade.OpenPrice = d("90") }, ErrSlippageExceeded},
		{"tp below price", func(c *OpenTrade) { c.Trade.Tp = d("99") }, ErrInvalidTp},
		{"sl above price", func(c *OpenTrade) { c.Trade.Sl = d("101") }, ErrInvalidSl},
		{"unknown pair", func(c *OpenTrade) { c.Trade.PairIndex = 9 }, ErrPairNotFound},
		{"unknown collateral", func(c *OpenTrade) { c.Trade.CollateralIndex = 9 }, ErrCollateralNotFound},
		{"exposure", func(c *OpenTrade) { c.Trade.CollateralAmount = d("200000") }, ErrExposureLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			cmd := marketLong("1000", "10")
			tt.mutate(&cmd)
			_, err := h.exec(cmd)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, ClassValidation, Classify(err))
		})
	}
}

func TestCustomMaxLeverage(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.admin(SetPairCustomMaxLeverage{PairIndex: 0, MaxLeverage: d("5")})
	_, err := h.exec(marketLong("1000", "10"))
	require.ErrorIs(err, ErrInvalidLeverage)

	h.admin(SetPairCustomMaxLeverage{PairIndex: 0})
	h.must(marketLong("1000", "10"))
}

func TestExposureLimits(t *testing.T) {
	t.Run("pair cap is strict", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.admin(SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: d("10000")}})

		h.must(marketLong("1000", "10"))
		_, err := h.exec(marketLong("100", "10"))
		require.ErrorIs(err, ErrExposureLimit)
	})

	t.Run("zero pair cap rejects every open", func(t *testing.T) {
		h := newHarness(t)
		h.admin(SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: decimal.Zero}})
		_, err := h.exec(marketLong("1000", "10"))
		require.ErrorIs(t, err, ErrExposureLimit)
	})

	t.Run("group cap only when set", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		h.admin(SetBorrowingPairParams{PairIndex: 0, GroupIndex: 1})

		h.must(marketLong("1000", "10"))

		h.admin(SetOpenInterestCaps{Groups: map[uint32]decimal.Decimal{1: d("15000")}})
		_, err := h.exec(marketLong("1000", "10"))
		require.ErrorIs(err, ErrExposureLimit)

		view, err := h.engine.GroupBorrowing(h.env(), 0, 1)
		require.NoError(err)
		require.True(d("9920").Equal(view.OpenInterest.Long), view.OpenInterest.Long.String())
	})
}

func TestTakeProfitTrigger(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	cmd := marketLong("1000", "10")
	cmd.Trade.Tp = d("110")
	h.must(cmd)

	h.setPrice("111")
	trigger := TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderTpClose}
	_, err := h.exec(trigger)
	require.ErrorIs(err, ErrLimitOrderTimelock)

	h.next()
	h.setPrice("105")
	_, err = h.exec(trigger)
	require.ErrorIs(err, ErrInvalidTrigger)

	h.setPrice("111")
	res := h.must(trigger)
	// pnl 100% at 110: 992 + 992 - closing fee 5
	require.True(d("1979").Equal(paid(res, alice)), paid(res, alice).String())
	require.True(d("1").Equal(paid(res, keeper)))
	require.True(paid(res, stake).IsZero())
}

func TestUpdateTpRestartsTimelock(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.must(marketLong("1000", "10"))

	h.next()
	h.must(UpdateTp{User: alice, Index: 0, Tp: d("105")})
	h.setPrice("106")
	_, err := h.exec(TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderTpClose})
	require.ErrorIs(err, ErrLimitOrderTimelock)

	_, err = h.exec(UpdateTp{User: alice, Index: 0, Tp: d("90")})
	require.ErrorIs(err, ErrInvalidTp)

	// A zero tp resets to the max profit boundary.
	res := h.must(UpdateTp{User: alice, Index: 0, Tp: decimal.Zero})
	require.True(d("190").Equal(res.Trade.Tp))

	res = h.must(UpdateSl{User: alice, Index: 0, Sl: d("50")})
	require.True(d("92.5").Equal(res.Trade.Sl), "sl is clamped to the max loss")
}

func TestLiquidationReclassifiedAsStopLoss(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.must(marketLong("1000", "10"))

	liq, err := h.engine.LiquidationPrice(h.env(), alice, 0)
	require.NoError(err)
	require.True(liq.LessThan(d("92.5")), liq.String())

	h.next()
	h.setPrice("92")
	res := h.must(TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderLiqClose})
	require.True(hasEvent(res, "trade_closed"))
	require.False(hasEvent(res, "trade_liquidated"))
	// closed at the sl, 92.5: 992 - 744 - 5
	require.True(d("243").Equal(paid(res, alice)), paid(res, alice).String())
	require.True(d("1").Equal(paid(res, keeper)))
}

func TestLiquidation(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.admin(SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: d("10000")}})
	h.admin(SetBorrowingPairParams{PairIndex: 0, FeePerBlock: d("0.001"), FeeExponent: 1})
	h.must(marketLong("1000", "10"))

	for i := 0; i < 20; i++ {
		h.next()
	}

	// 20 blocks at 0.001 × 0.992 per block on a 9920 position.
	fee, err := h.engine.TradeBorrowingFee(h.env(), alice, 0)
	require.NoError(err)
	require.True(d("196").Equal(fee), fee.String())

	liq, err := h.engine.LiquidationPrice(h.env(), alice, 0)
	require.NoError(err)
	require.True(liq.GreaterThan(d("92.5")), liq.String())

	h.setPrice("93.5")
	trigger := TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderLiqClose}
	_, err = h.exec(trigger)
	require.ErrorIs(err, ErrInvalidTrigger)

	h.setPrice("93")
	res := h.must(trigger)
	require.True(hasEvent(res, "trade_liquidated"))
	require.True(paid(res, alice).IsZero())
	// liquidation fee floor(992 × 5%) = 49: vault 39, staking 10, keeper up to the trigger fee
	require.True(d("1").Equal(paid(res, keeper)))
	require.True(d("9").Equal(paid(res, stake)))

	vault, err := h.engine.VaultFees(0)
	require.NoError(err)
	require.True(d("235").Equal(vault), vault.String())
}

func TestLimitOrderLifecycle(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	res := h.must(OpenTrade{
		Trade: Trade{
			User:             alice,
			CollateralAmount: d("10000"),
			Leverage:         d("10"),
			Long:             true,
			TradeType:        TradeTypeLimit,
			OpenPrice:        d("95"),
		},
		MaxSlippageP: d("0.01"),
	})
	require.True(hasEvent(res, "order_placed"))
	require.True(res.Trade.Pending())

	// Pending orders cannot be closed or have their tp moved.
	_, err := h.exec(CloseTradeMarket{User: alice, Index: 0})
	require.ErrorIs(err, ErrPendingOrder)
	_, err = h.exec(UpdateTp{User: alice, Index: 0, Tp: d("120")})
	require.ErrorIs(err, ErrPendingOrder)

	h.next()
	trigger := TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderLimitOpen}
	h.setPrice("96")
	_, err = h.exec(trigger)
	require.ErrorIs(err, ErrInvalidTrigger)

	_, err = h.exec(TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderStopOpen})
	require.ErrorIs(err, ErrWrongOrderType)

	h.setPrice("94")
	res = h.must(trigger)
	require.False(res.Trade.Pending())
	require.True(d("95").Equal(res.Trade.OpenPrice), "limit orders fill at their price")

	// position 100000: gov 30, trigger fee 20, keeper gets 4 out of gov
	require.True(d("9920").Equal(res.Trade.CollateralAmount), res.Trade.CollateralAmount.String())
	require.True(d("4").Equal(paid(res, keeper)))
	require.True(d("50").Equal(paid(res, stake)))
	pendingGov, err := h.engine.PendingGovFees(0)
	require.NoError(err)
	require.True(d("26").Equal(pendingGov))

	_, err = h.exec(trigger)
	require.ErrorIs(err, ErrNotPendingOrder)
}

func TestStopOrderFillsAtMarket(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.must(OpenTrade{
		Trade: Trade{
			User:             alice,
			CollateralAmount: d("1000"),
			Leverage:         d("10"),
			Long:             true,
			TradeType:        TradeTypeStop,
			OpenPrice:        d("105"),
		},
		MaxSlippageP: d("0.05"),
	})

	h.next()
	h.setPrice("106")
	res := h.must(TriggerOrder{Executor: keeper, User: alice, Index: 0, Kind: OrderStopOpen})
	require.True(d("106").Equal(res.Trade.OpenPrice))
}

func TestUpdateAndCancelOpenOrder(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.must(OpenTrade{
		Trade: Trade{
			User:             alice,
			CollateralAmount: d("1000"),
			Leverage:         d("10"),
			Long:             true,
			TradeType:        TradeTypeLimit,
			OpenPrice:        d("95"),
		},
		MaxSlippageP: d("0.01"),
	})

	_, err := h.exec(UpdateOpenOrder{User: alice, Index: 0, Price: d("90"), Tp: d("85"), MaxSlippageP: d("0.01")})
	require.ErrorIs(err, ErrInvalidTp)

	res := h.must(UpdateOpenOrder{User: alice, Index: 0, Price: d("90"), Tp: d("120"), Sl: d("85"), MaxSlippageP: d("0.02")})
	require.True(d("90").Equal(res.Trade.OpenPrice))

	res = h.must(CancelOpenOrder{User: alice, Index: 0})
	require.True(hasEvent(res, "order_cancelled"))
	require.True(d("1000").Equal(paid(res, alice)), "cancel refunds the full collateral")

	_, err = h.exec(CancelOpenOrder{User: alice, Index: 0})
	require.ErrorIs(err, ErrTradeClosed)
}

func TestCancelRejectsLiveTrade(t *testing.T) {
	h := newHarness(t)
	h.must(marketLong("1000", "10"))
	_, err := h.exec(CancelOpenOrder{User: alice, Index: 0})
	require.ErrorIs(t, err, ErrNotPendingOrder)
}

func TestTradingStates(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.must(marketLong("1000", "10"))

	h.admin(SetTradingState{State: TradingCloseOnly})
	_, err := h.exec(marketLong("1000", "10"))
	require.ErrorIs(err, ErrTradingNotActive)

	h.next()
	h.must(UpdateSl{User: alice, Index: 0, Sl: d("95")})

	h.admin(SetTradingState{State: TradingPaused})
	_, err = h.exec(CloseTradeMarket{User: alice, Index: 0})
	require.ErrorIs(err, ErrTradingNotActive)

	h.admin(SetTradingState{State: TradingCloseOnly})
	h.must(CloseTradeMarket{User: alice, Index: 0})

	state, err := h.engine.TradingState()
	require.NoError(err)
	require.Equal(TradingCloseOnly, state)
}

func TestPriceUnavailable(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.must(marketLong("1000", "10"))

	h.setPrice("0")
	_, err := h.exec(CloseTradeMarket{User: alice, Index: 0})
	require.ErrorIs(err, ErrPriceUnavailable)
	require.Equal(ClassExternal, Classify(err))

	delete(h.oracle.prices, 0)
	_, err = h.exec(marketLong("1000", "10"))
	require.ErrorIs(err, ErrPriceUnavailable)
}

func TestPriceImpactOnOpen(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.admin(SetWindowSettings{Settings: OiWindowsSettings{WindowsDuration: 3600, WindowsCount: 3}})
	h.admin(SetPairDepths{Depths: map[uint32]PairDepth{0: {
		OnePercentDepthAboveUsd: d("1000000"),
		OnePercentDepthBelowUsd: d("1000000"),
	}}})

	// (0 + 10000/2) / 1000000
	res := h.must(marketLong("1000", "10"))
	require.True(d("100.5").Equal(res.Trade.OpenPrice), res.Trade.OpenPrice.String())

	oi, err := h.engine.ActiveOi(h.env(), 0)
	require.NoError(err)
	require.True(d("9920").Equal(oi.OiLongUsd), oi.OiLongUsd.String())

	view, err := h.engine.PriceImpact(h.env(), 0, true, d("10000"))
	require.NoError(err)
	require.True(d("0.01492").Equal(view.ImpactP), view.ImpactP.String())

	h.next()
	h.must(CloseTradeMarket{User: alice, Index: 0})
	oi, err = h.engine.ActiveOi(h.env(), 0)
	require.NoError(err)
	require.True(oi.OiLongUsd.IsZero(), oi.OiLongUsd.String())
}

func TestPriceImpactTooHigh(t *testing.T) {
	h := newHarness(t)
	h.admin(SetWindowSettings{Settings: OiWindowsSettings{WindowsDuration: 3600, WindowsCount: 3}})
	h.admin(SetPairDepths{Depths: map[uint32]PairDepth{0: {
		OnePercentDepthAboveUsd: d("100000"),
		OnePercentDepthBelowUsd: d("100000"),
	}}})

	cmd := marketLong("1000", "10")
	cmd.MaxSlippageP = d("0.1")
	_, err := h.exec(cmd)
	require.ErrorIs(t, err, ErrPriceImpactTooHigh)
}

func TestClaimGovFees(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	_, err := h.exec(ClaimGovFees{CollateralIndex: 0})
	require.ErrorIs(err, ErrNothingToClaim)

	h.must(marketLong("1000", "10"))
	res := h.must(ClaimGovFees{CollateralIndex: 0})
	require.True(hasEvent(res, "gov_fees_claimed"))
	require.True(d("3").Equal(paid(res, gov)))

	pending, err := h.engine.PendingGovFees(0)
	require.NoError(err)
	require.True(pending.IsZero())
}

func TestAdminValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"group leverage", SetGroups{Groups: map[uint32]Group{1: {MinLeverage: d("0.5"), MaxLeverage: d("10")}}}},
		{"negative fee", SetFees{Fees: map[uint32]Fee{1: {OpenFeeP: d("-0.1")}}}},
		{"collateral without denom", SetCollaterals{Collaterals: map[uint32]Collateral{1: {}}}},
		{"too many windows", SetWindowSettings{Settings: OiWindowsSettings{WindowsDuration: 60, WindowsCount: 6}}},
		{"windows without duration", SetWindowSettings{Settings: OiWindowsSettings{WindowsCount: 2}}},
		{"exponent", SetBorrowingPairParams{FeePerBlock: d("0.1"), FeeExponent: 4}},
		{"group zero params", SetBorrowingGroupParams{GroupIndex: 0, FeePerBlock: d("0.1"), FeeExponent: 1}},
		{"group zero cap", SetOpenInterestCaps{Groups: map[uint32]decimal.Decimal{0: d("1")}}},
		{"vault share", SetVaultClosingFeeP{VaultClosingFeeP: d("1.5")}},
		{"fee tiers", SetFeeTiers{Tiers: []FeeTier{{FeeMultiplier: d("0.9"), PointsThreshold: d("10")}, {FeeMultiplier: d("0.8"), PointsThreshold: d("5")}}}},
		{"trading state", SetTradingState{State: TradingState(7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.exec(tt.cmd)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

type unknownCommand struct{ Command }

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(unknownCommand{Command: ClaimGovFees{}})
	require.ErrorIs(t, err, ErrUnknownCommand)
	require.Equal(t, ClassSequencing, Classify(err))
}

func TestBorrowingGroupSwitchSameBlockAsOpen(t *testing.T) {
	// Opening before or after a group switch within one block owes the same fee.
	run := func(t *testing.T, openFirst bool) decimal.Decimal {
		h := newHarness(t)
		h.admin(SetBorrowingGroupParams{GroupIndex: 1, FeePerBlock: d("0.0001"), FeeExponent: 1})
		h.admin(SetBorrowingGroupParams{GroupIndex: 2, FeePerBlock: d("0.0002"), FeeExponent: 1})
		h.admin(SetOpenInterestCaps{Groups: map[uint32]decimal.Decimal{1: d("20000"), 2: d("20000")}})
		h.admin(SetBorrowingPairParams{PairIndex: 0, GroupIndex: 1, FeePerBlock: d("0.00001"), FeeExponent: 1})

		h.next()
		switchGroup := SetBorrowingPairParams{PairIndex: 0, GroupIndex: 2, FeePerBlock: d("0.00001"), FeeExponent: 1}
		if openFirst {
			h.must(marketLong("1000", "10"))
			h.admin(switchGroup)
		} else {
			h.admin(switchGroup)
			h.must(marketLong("1000", "10"))
		}

		for i := 0; i < 10; i++ {
			h.next()
		}
		fee, err := h.engine.TradeBorrowingFee(h.env(), alice, 0)
		require.NoError(t, err)
		return fee
	}

	before := run(t, true)
	after := run(t, false)
	require.True(t, before.Equal(after), "before %s after %s", before, after)
	// group 2 rate × 10 blocks × 9920/20000, on 9920
	require.True(t, d("9").Equal(after), after.String())
}

func TestIncreasePositionSizeRealizesBorrowingFee(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.admin(SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: d("20000")}})
	h.admin(SetBorrowingPairParams{PairIndex: 0, FeePerBlock: d("0.001"), FeeExponent: 1})
	h.must(marketLong("1000", "10"))

	for i := 0; i < 20; i++ {
		h.next()
	}
	// 20 blocks at 0.001 × 0.496 per block on a 9920 position.
	owed, err := h.engine.TradeBorrowingFee(h.env(), alice, 0)
	require.NoError(err)
	require.True(d("98").Equal(owed), owed.String())

	res := h.must(increase("500", "10"))
	require.True(d("1391").Equal(res.Trade.CollateralAmount), "992 - 98 + 500 - 3, got %s", res.Trade.CollateralAmount)
	require.True(d("14920").Equal(res.Trade.PositionSizeCollateral()))
	// opening fees on the added 5000: gov 1, trigger 1
	require.True(d("2").Equal(paid(res, stake)), paid(res, stake).String())

	vault, err := h.engine.VaultFees(0)
	require.NoError(err)
	require.True(owed.Equal(vault), vault.String())

	fee, err := h.engine.TradeBorrowingFee(h.env(), alice, 0)
	require.NoError(err)
	require.True(fee.IsZero(), "the accumulator restarts at the new size")

	tests := []struct {
		name string
		cmd  IncreasePositionSize
		err  error
	}{
		{"no collateral", increase("0", "10"), ErrInsufficientCollateral},
		{"leverage below one", increase("500", "0.5"), ErrInvalidLeverage},
		{"slippage", IncreasePositionSize{User: alice, CollateralAmount: d("500"), Leverage: d("10"), ExpectedPrice: d("90"), MaxSlippageP: d("0.01")}, ErrSlippageExceeded},
		{"exposure", increase("1000", "10"), ErrExposureLimit},
		{"unknown trade", IncreasePositionSize{User: keeper, CollateralAmount: d("500"), Leverage: d("10"), ExpectedPrice: d("100"), MaxSlippageP: d("0.01")}, ErrTradeNotFound},
	}
	for _, tt := range tests {
		_, err := h.exec(tt.cmd)
		require.ErrorIs(err, tt.err, tt.name)
	}
}
