package lx

import (
	"github.com/shopspring/decimal"
)

// OiWindowsSettings splits time into fixed windows for price-impact open interest.
type OiWindowsSettings struct {
	StartTs         int64  `json:"start_ts"`
	WindowsDuration uint64 `json:"windows_duration"`
	WindowsCount    uint64 `json:"windows_count"`
}

// Enabled reports whether impact pricing is configured.
func (s OiWindowsSettings) Enabled() bool {
	return s.WindowsCount > 0 && s.WindowsDuration > 0
}

// PairOi is the USD open interest added to a pair within one window.
type PairOi struct {
	OiLongUsd  decimal.Decimal `json:"oi_long_usd"`
	OiShortUsd decimal.Decimal `json:"oi_short_usd"`
}

// Side returns the open interest of one side.
func (p PairOi) Side(long bool) decimal.Decimal {
	if long {
		return p.OiLongUsd
	}
	return p.OiShortUsd
}

// PairDepth is the USD needed to move a pair's price by one percent.
type PairDepth struct {
	OnePercentDepthAboveUsd decimal.Decimal `json:"one_percent_depth_above_usd"`
	OnePercentDepthBelowUsd decimal.Decimal `json:"one_percent_depth_below_usd"`
}

// Side returns the depth longs (above) or shorts (below) trade against.
func (d PairDepth) Side(long bool) decimal.Decimal {
	if long {
		return d.OnePercentDepthAboveUsd
	}
	return d.OnePercentDepthBelowUsd
}

// WindowID returns the window containing ts.
func WindowID(ts int64, s OiWindowsSettings) uint64 {
	if s.WindowsDuration == 0 || ts <= s.StartTs {
		return 0
	}
	return uint64(ts-s.StartTs) / s.WindowsDuration
}

// EarliestActiveWindow returns the oldest window still counted.
func EarliestActiveWindow(current, count uint64) uint64 {
	if count == 0 {
		return current
	}
	return satSubUint(current, count-1)
}

// PriceImpact returns the impact percentage and the impacted price. Longs pay
// more, shorts receive less. Zero depth disables the impact.
func PriceImpact(openPrice decimal.Decimal, long bool, startOiUsd, tradeOiUsd, depthUsd decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if depthUsd.IsZero() {
		return decimal.Zero, openPrice, nil
	}
	oi := startOiUsd.Add(tradeOiUsd.Div(two).Floor())
	impactP, err := quo(oi, depthUsd)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	impact := impactP.Mul(openPrice)
	if long {
		return impactP, openPrice.Add(impact), nil
	}
	return impactP, satSub(openPrice, impact), nil
}

// ActiveOi sums one side of the active windows, oldest to newest.
func ActiveOi(windows map[uint64]PairOi, s OiWindowsSettings, now int64, long bool) decimal.Decimal {
	if !s.Enabled() {
		return decimal.Zero
	}
	current := WindowID(now, s)
	total := decimal.Zero
	for id := EarliestActiveWindow(current, s.WindowsCount); id <= current; id++ {
		total = total.Add(windows[id].Side(long))
	}
	return total
}

// MarketExecutionPrice applies the pair spread against the trader.
func MarketExecutionPrice(price, spreadP decimal.Decimal, long bool) decimal.Decimal {
	spread := price.Mul(spreadP)
	if long {
		return price.Add(spread)
	}
	return satSub(price, spread)
}

// Stateful window bookkeeping.

func (x *execution) activeWindows(pair uint32, s OiWindowsSettings) (map[uint64]PairOi, error) {
	windows := make(map[uint64]PairOi)
	if !s.Enabled() {
		return windows, nil
	}
	current := WindowID(x.env.Time.Unix(), s)
	for id := EarliestActiveWindow(current, s.WindowsCount); id <= current; id++ {
		w, _, err := oiWindows.MayLoad(x.kv, WindowKey{Duration: s.WindowsDuration, Pair: pair, Window: id})
		if err != nil {
			return nil, err
		}
		windows[id] = w
	}
	return windows, nil
}

// activeOi is the start OI fed into the impact formula.
func (x *execution) activeOi(pair uint32, long bool) (decimal.Decimal, error) {
	s, _, err := windowsSettings.MayLoad(x.kv)
	if err != nil {
		return decimal.Zero, err
	}
	windows, err := x.activeWindows(pair, s)
	if err != nil {
		return decimal.Zero, err
	}
	return ActiveOi(windows, s, x.env.Time.Unix(), long), nil
}

// tradePriceImpact prices a trade of tradeOiUsd against the pair's active OI.
func (x *execution) tradePriceImpact(openPrice decimal.Decimal, pair uint32, long bool, tradeOiUsd decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	s, _, err := windowsSettings.MayLoad(x.kv)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !s.Enabled() {
		return decimal.Zero, openPrice, nil
	}
	depth, _, err := pairDepths.MayLoad(x.kv, Index(pair))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	start, err := x.activeOi(pair, long)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return PriceImpact(openPrice, long, start, tradeOiUsd, depth.Side(long))
}

// addPriceImpactOpenInterest records positionCollateral in the current window.
// A trade that already holds window OI has it moved forward first, re-priced
// at the current collateral price.
func (x *execution) addPriceImpactOpenInterest(t *Trade, info *TradeInfo, positionCollateral, collateralPrice decimal.Decimal) error {
	s, _, err := windowsSettings.MayLoad(x.kv)
	if err != nil || !s.Enabled() {
		return err
	}
	now := x.env.Time.Unix()
	current := WindowID(now, s)

	oiDeltaUsd, err := floorAmount(positionCollateral.Mul(collateralPrice))
	if err != nil {
		return err
	}

	if info.LastOiUpdateTs > 0 && WindowID(info.LastOiUpdateTs, s) >= EarliestActiveWindow(current, s.WindowsCount) {
		last := info.LastWindowOiUsd
		if err := x.removeWindowOi(t, info, s, last); err != nil {
			return err
		}
		if info.CollateralPriceUsd.IsPositive() {
			moved, err := quo(last.Mul(collateralPrice), info.CollateralPriceUsd)
			if err != nil {
				return err
			}
			oiDeltaUsd = oiDeltaUsd.Add(moved.Floor())
		}
	}

	key := WindowKey{Duration: s.WindowsDuration, Pair: t.PairIndex, Window: current}
	w, _, err := oiWindows.MayLoad(x.kv, key)
	if err != nil {
		return err
	}
	if t.Long {
		w.OiLongUsd = w.OiLongUsd.Add(oiDeltaUsd)
	} else {
		w.OiShortUsd = w.OiShortUsd.Add(oiDeltaUsd)
	}
	if err := oiWindows.Save(x.kv, key, w); err != nil {
		return err
	}

	info.LastOiUpdateTs = now
	info.CollateralPriceUsd = collateralPrice
	info.LastWindowOiUsd = oiDeltaUsd
	return nil
}

// removePriceImpactOpenInterest retires positionCollateral from the window the
// trade recorded it in. Windows that aged out are left alone.
func (x *execution) removePriceImpactOpenInterest(t *Trade, info *TradeInfo, positionCollateral decimal.Decimal) error {
	if positionCollateral.IsZero() || info.LastOiUpdateTs == 0 {
		return nil
	}
	s, _, err := windowsSettings.MayLoad(x.kv)
	if err != nil || !s.Enabled() {
		return err
	}
	current := WindowID(x.env.Time.Unix(), s)
	if WindowID(info.LastOiUpdateTs, s) < EarliestActiveWindow(current, s.WindowsCount) {
		return nil
	}
	oiUsd := positionCollateral.Mul(info.CollateralPriceUsd).Floor()
	return x.removeWindowOi(t, info, s, oiUsd)
}

func (x *execution) removeWindowOi(t *Trade, info *TradeInfo, s OiWindowsSettings, oiUsd decimal.Decimal) error {
	oiUsd = decimal.Min(oiUsd, info.LastWindowOiUsd)
	key := WindowKey{Duration: s.WindowsDuration, Pair: t.PairIndex, Window: WindowID(info.LastOiUpdateTs, s)}
	w, _, err := oiWindows.MayLoad(x.kv, key)
	if err != nil {
		return err
	}
	if t.Long {
		w.OiLongUsd = satSub(w.OiLongUsd, oiUsd)
	} else {
		w.OiShortUsd = satSub(w.OiShortUsd, oiUsd)
	}
	info.LastWindowOiUsd = info.LastWindowOiUsd.Sub(oiUsd)
	return oiWindows.Save(x.kv, key, w)
}
