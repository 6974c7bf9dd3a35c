package lx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowID(t *testing.T) {
	s := OiWindowsSettings{StartTs: 1000, WindowsDuration: 60, WindowsCount: 3}

	require.Equal(t, uint64(0), WindowID(900, s))
	require.Equal(t, uint64(0), WindowID(1059, s))
	require.Equal(t, uint64(1), WindowID(1060, s))
	require.Equal(t, uint64(10), WindowID(1000+600, s))
	require.Equal(t, uint64(0), WindowID(5000, OiWindowsSettings{}))

	require.Equal(t, uint64(8), EarliestActiveWindow(10, 3))
	require.Equal(t, uint64(0), EarliestActiveWindow(1, 5))
	require.Equal(t, uint64(4), EarliestActiveWindow(4, 0))
}

func TestPriceImpact(t *testing.T) {
	tests := []struct {
		name      string
		long      bool
		start     string
		trade     string
		depth     string
		wantP     string
		wantPrice string
	}{
		{"zero depth disables impact", true, "5000", "10000", "0", "0", "100"},
		{"long pays more", true, "0", "10000", "1000000", "0.005", "100.5"},
		{"short receives less", false, "0", "10000", "1000000", "0.005", "99.5"},
		{"active oi adds up", true, "20000", "10000", "1000000", "0.025", "102.5"},
		{"odd trade size is floored before halving", true, "0", "3", "100", "0.01", "101"},
		{"short price floors at zero", false, "0", "400", "100", "2", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impactP, price, err := PriceImpact(d("100"), tt.long, d(tt.start), d(tt.trade), d(tt.depth))
			require.NoError(t, err)
			require.True(t, d(tt.wantP).Equal(impactP), "impact %s", impactP)
			require.True(t, d(tt.wantPrice).Equal(price), "price %s", price)
		})
	}
}

func TestActiveOi(t *testing.T) {
	require := require.New(t)
	s := OiWindowsSettings{WindowsDuration: 10, WindowsCount: 3}
	windows := map[uint64]PairOi{
		6: {OiLongUsd: d("1000")},
		7: {OiLongUsd: d("10"), OiShortUsd: d("4")},
		8: {OiLongUsd: d("20")},
		9: {OiLongUsd: d("30"), OiShortUsd: d("6")},
	}

	// now 95 is window 9: windows 7, 8 and 9 count.
	require.True(d("60").Equal(ActiveOi(windows, s, 95, true)))
	require.True(d("10").Equal(ActiveOi(windows, s, 95, false)))
	require.True(ActiveOi(windows, OiWindowsSettings{}, 95, true).IsZero())
}

func TestMarketExecutionPrice(t *testing.T) {
	require.True(t, d("100.05").Equal(MarketExecutionPrice(d("100"), d("0.0005"), true)))
	require.True(t, d("99.95").Equal(MarketExecutionPrice(d("100"), d("0.0005"), false)))
	require.True(t, d("100").Equal(MarketExecutionPrice(d("100"), d("0"), true)))
}

// A trade opened in one window and closed after its window aged out leaves
// the newer windows untouched.
func TestRemoveWindowOiAfterExpiry(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.admin(SetWindowSettings{Settings: OiWindowsSettings{WindowsDuration: 60, WindowsCount: 2}})
	h.admin(SetPairDepths{Depths: map[uint32]PairDepth{0: {
		OnePercentDepthAboveUsd: d("100000000"),
		OnePercentDepthBelowUsd: d("100000000"),
	}}})

	h.must(marketLong("1000", "10"))
	h.next()
	h.now = h.now.Add(3 * time.Minute)

	cmd := marketLong("1000", "10")
	cmd.Trade.Long = false
	h.must(cmd)
	h.must(marketLong("1000", "10"))

	h.next()
	h.must(CloseTradeMarket{User: alice, Index: 0})

	oi, err := h.engine.ActiveOi(h.env(), 0)
	require.NoError(err)
	require.True(d("9920").Equal(oi.OiLongUsd), oi.OiLongUsd.String())
	require.True(d("9920").Equal(oi.OiShortUsd), oi.OiShortUsd.String())
}

func increase(collateral, leverage string) IncreasePositionSize {
	return IncreasePositionSize{
		User:             alice,
		Index:            0,
		CollateralAmount: d(collateral),
		Leverage:         d(leverage),
		ExpectedPrice:    d("100"),
		MaxSlippageP:     d("0.01"),
	}
}

// Growing a trade inside its window replaces its window contribution
// instead of adding to it, and closing it clears the window.
func TestIncreasePositionSizeMovesWindowOi(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.admin(SetWindowSettings{Settings: OiWindowsSettings{WindowsDuration: 60, WindowsCount: 2}})
	h.admin(SetPairDepths{Depths: map[uint32]PairDepth{0: {
		OnePercentDepthAboveUsd: d("100000000"),
		OnePercentDepthBelowUsd: d("100000000"),
	}}})

	h.must(marketLong("1000", "10"))
	h.next()

	// 992 + 500 - 3 in opening fees
	res := h.must(increase("500", "10"))
	require.True(hasEvent(res, "position_increased"))
	require.True(d("1489").Equal(res.Trade.CollateralAmount), res.Trade.CollateralAmount.String())
	require.True(d("14920").Equal(res.Trade.PositionSizeCollateral()), res.Trade.Leverage.String())
	require.True(res.Trade.OpenPrice.GreaterThan(d("100")) && res.Trade.OpenPrice.LessThan(d("100.02")), res.Trade.OpenPrice.String())

	oi, err := h.engine.ActiveOi(h.env(), 0)
	require.NoError(err)
	require.True(d("14920").Equal(oi.OiLongUsd), oi.OiLongUsd.String())

	_, info, err := h.engine.Trade(alice, 0)
	require.NoError(err)
	require.True(d("14920").Equal(info.LastWindowOiUsd), info.LastWindowOiUsd.String())

	view, err := h.engine.PairBorrowing(h.env(), 0, 0)
	require.NoError(err)
	require.True(d("14920").Equal(view.OpenInterest.Long), view.OpenInterest.Long.String())

	h.next()
	h.must(CloseTradeMarket{User: alice, Index: 0})

	oi, err = h.engine.ActiveOi(h.env(), 0)
	require.NoError(err)
	require.True(oi.OiLongUsd.IsZero(), oi.OiLongUsd.String())
	view, err = h.engine.PairBorrowing(h.env(), 0, 0)
	require.NoError(err)
	require.True(view.OpenInterest.Long.IsZero(), view.OpenInterest.Long.String())
}
