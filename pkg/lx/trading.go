package lx

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// openContext is the configuration a trade is validated and charged against.
type openContext struct {
	pair            Pair
	group           Group
	fee             Fee
	collateral      Collateral
	collateralPrice decimal.Decimal
	customMaxLev    decimal.Decimal
}

func (x *execution) openContext(t *Trade) (openContext, error) {
	var (
		oc  openContext
		err error
	)
	if oc.pair, err = x.pair(t.PairIndex); err != nil {
		return oc, err
	}
	if oc.group, err = x.group(oc.pair.GroupIndex); err != nil {
		return oc, err
	}
	if oc.fee, err = x.fee(oc.pair.FeeIndex); err != nil {
		return oc, err
	}
	if oc.collateral, err = x.collateral(t.CollateralIndex); err != nil {
		return oc, err
	}
	if oc.customMaxLev, _, err = customLeverage.MayLoad(x.kv, Index(t.PairIndex)); err != nil {
		return oc, err
	}
	oc.collateralPrice, err = x.collateralPrice(t.CollateralIndex)
	return oc, err
}

func (oc openContext) maxLeverage() decimal.Decimal {
	if oc.customMaxLev.IsPositive() {
		return oc.customMaxLev
	}
	return oc.group.MaxLeverage
}

// validateTradeSize checks leverage bounds and that fees stay a small share
// of the position.
func (x *execution) validateTradeSize(t *Trade, oc openContext) error {
	if t.Leverage.LessThan(one) {
		return fmt.Errorf("%w: %s below 1", ErrInvalidLeverage, t.Leverage)
	}
	if !t.CollateralAmount.IsPositive() {
		return ErrInsufficientCollateral
	}

	positionUsd, err := floorAmount(t.PositionSizeCollateral().Mul(oc.collateralPrice))
	if err != nil {
		return err
	}
	perLeverage, err := quo(positionUsd, t.Leverage)
	if err != nil {
		return err
	}
	minimum := oc.fee.MinFeeUsd().Mul(decimal.NewFromInt(MinCollateralFeeMultiple))
	if perLeverage.LessThan(minimum) {
		return fmt.Errorf("%w: %s usd below %s", ErrInsufficientCollateral, perLeverage, minimum)
	}

	if t.Leverage.LessThan(oc.group.MinLeverage) || t.Leverage.GreaterThan(oc.maxLeverage()) {
		return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidLeverage, t.Leverage, oc.group.MinLeverage, oc.maxLeverage())
	}
	return nil
}

// validateTpSl checks tp and sl sit on the right side of price.
func validateTpSl(t *Trade, price decimal.Decimal) error {
	if !t.Tp.IsZero() && !tpOnProfitSide(price, t.Tp, t.Long) {
		return ErrInvalidTp
	}
	if !t.Sl.IsZero() && !slOnLossSide(price, t.Sl, t.Long) {
		return ErrInvalidSl
	}
	return nil
}

// validateMarket runs the execution checks shared by market opens and
// limit/stop triggers, and returns the price the trade opens at.
func (x *execution) validateMarket(t *Trade, oc openContext, basePrice, expectedPrice, maxSlippageP decimal.Decimal) (decimal.Decimal, error) {
	executionPrice := MarketExecutionPrice(basePrice, oc.pair.SpreadP, t.Long)
	positionCollateral := t.PositionSizeCollateral()
	positionUsd, err := floorAmount(positionCollateral.Mul(oc.collateralPrice))
	if err != nil {
		return decimal.Zero, err
	}

	impactP, priceAfterImpact, err := x.tradePriceImpact(executionPrice, t.PairIndex, t.Long, positionUsd)
	if err != nil {
		return decimal.Zero, err
	}

	maxSlippage := expectedPrice.Mul(maxSlippageP)
	if t.Long && priceAfterImpact.GreaterThan(expectedPrice.Add(maxSlippage)) ||
		!t.Long && priceAfterImpact.LessThan(expectedPrice.Sub(maxSlippage)) {
		return decimal.Zero, fmt.Errorf("%w: %s vs expected %s", ErrSlippageExceeded, priceAfterImpact, expectedPrice)
	}

	if err := validateTpSl(t, priceAfterImpact); err != nil {
		return decimal.Zero, err
	}
	if err := x.withinExposureLimits(t, positionCollateral); err != nil {
		return decimal.Zero, err
	}
	if impactP.Mul(t.Leverage).GreaterThan(MaxOpenNegativePnlP) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceImpactTooHigh, impactP)
	}
	return priceAfterImpact, nil
}

// withinExposureLimits checks the pair cap strictly and the group cap when one is set.
func (x *execution) withinExposureLimits(t *Trade, positionCollateral decimal.Decimal) error {
	pairOi, _, err := pairOis.MayLoad(x.kv, PairKey{Collateral: t.CollateralIndex, Pair: t.PairIndex})
	if err != nil {
		return err
	}
	if pairOi.Side(t.Long).Add(positionCollateral).GreaterThan(pairOi.Max) {
		return fmt.Errorf("%w: pair %d", ErrExposureLimit, t.PairIndex)
	}

	group, _, err := x.borrowingGroup(t.CollateralIndex, t.PairIndex)
	if err != nil || group == 0 {
		return err
	}
	groupOi, _, err := groupOis.MayLoad(x.kv, GroupKey{Collateral: t.CollateralIndex, Group: group})
	if err != nil {
		return err
	}
	if groupOi.Max.IsPositive() && groupOi.Side(t.Long).Add(positionCollateral).GreaterThan(groupOi.Max) {
		return fmt.Errorf("%w: group %d", ErrExposureLimit, group)
	}
	return nil
}

func (x *execution) nextTradeIndex(user string) (uint32, error) {
	next, _, err := userCounters.MayLoad(x.kv, Addr(user))
	if err != nil {
		return 0, err
	}
	return next, userCounters.Save(x.kv, Addr(user), next+1)
}

func (x *execution) loadTrade(user string, index uint32) (Trade, TradeInfo, error) {
	key := TradeKey{User: user, Index: index}
	t, ok, err := trades.MayLoad(x.kv, key)
	if err != nil {
		return t, TradeInfo{}, err
	}
	if !ok {
		return t, TradeInfo{}, fmt.Errorf("%w: %s/%d", ErrTradeNotFound, user, index)
	}
	if !t.IsOpen {
		return t, TradeInfo{}, fmt.Errorf("%w: %s/%d", ErrTradeClosed, user, index)
	}
	info, err := tradeInfos.Load(x.kv, key)
	return t, info, err
}

func (x *execution) loadLiveTrade(user string, index uint32) (Trade, TradeInfo, error) {
	t, info, err := x.loadTrade(user, index)
	if err == nil && t.Pending() {
		err = ErrPendingOrder
	}
	return t, info, err
}

func (x *execution) saveTrade(t *Trade, info *TradeInfo) error {
	if err := trades.Save(x.kv, t.key(), *t); err != nil {
		return err
	}
	return tradeInfos.Save(x.kv, t.key(), *info)
}

func (x *execution) openTrade(c OpenTrade) error {
	if err := x.requireState(TradingActivated); err != nil {
		return err
	}
	t := c.Trade
	if !t.OpenPrice.IsPositive() {
		return ErrInvalidOpenPrice
	}
	if !c.MaxSlippageP.IsPositive() {
		return ErrInvalidSlippage
	}

	oc, err := x.openContext(&t)
	if err != nil {
		return err
	}
	if err := x.validateTradeSize(&t, oc); err != nil {
		return err
	}

	info := TradeInfo{
		CreatedBlock:       x.env.Height,
		TpLastUpdatedBlock: x.env.Height,
		SlLastUpdatedBlock: x.env.Height,
		CollateralPriceUsd: oc.collateralPrice,
		MaxSlippageP:       c.MaxSlippageP,
	}

	switch t.TradeType {
	case TradeTypeMarket:
		price, err := x.price(oc.pair.OracleIndex)
		if err != nil {
			return err
		}
		openPrice, err := x.validateMarket(&t, oc, price, t.OpenPrice, c.MaxSlippageP)
		if err != nil {
			return err
		}
		if t.Index, err = x.nextTradeIndex(t.User); err != nil {
			return err
		}
		t.OpenPrice = openPrice
		t.IsOpen = true
		return x.registerTrade(&t, &info, oc, OrderMarketOpen, "")

	case TradeTypeLimit, TradeTypeStop:
		if err := validateTpSl(&t, t.OpenPrice); err != nil {
			return err
		}
		if t.Index, err = x.nextTradeIndex(t.User); err != nil {
			return err
		}
		t.IsOpen = true
		if err := x.saveTrade(&t, &info); err != nil {
			return err
		}
		x.res.Trade = &t
		x.res.emit("order_placed", tradeAttrs(&t)...)
		return nil

	default:
		return ErrWrongOrderType
	}
}

// registerTrade turns a validated trade into a live position.
func (x *execution) registerTrade(t *Trade, info *TradeInfo, oc openContext, order OrderType, executor string) error {
	fees, err := x.processOpeningFees(t, oc.fee, oc.collateral, oc.collateralPrice, order, executor)
	if err != nil {
		return err
	}
	if fees.Total.GreaterThanOrEqual(t.CollateralAmount) {
		return fmt.Errorf("%w: fees %s exceed collateral", ErrInsufficientCollateral, fees.Total)
	}
	t.CollateralAmount = t.CollateralAmount.Sub(fees.Total)
	t.TradeType = TradeTypeMarket

	if t.Tp, err = LimitTpDistance(t.OpenPrice, t.Leverage, t.Tp, t.Long); err != nil {
		return err
	}
	if t.Sl, err = LimitSlDistance(t.OpenPrice, t.Leverage, t.Sl, t.Long); err != nil {
		return err
	}

	positionCollateral := t.PositionSizeCollateral()
	if err := x.handleTradeBorrowing(t, true, positionCollateral); err != nil {
		return err
	}
	if err := x.addPriceImpactOpenInterest(t, info, positionCollateral, oc.collateralPrice); err != nil {
		return err
	}
	positionUsd, err := floorAmount(positionCollateral.Mul(oc.collateralPrice))
	if err != nil {
		return err
	}
	if err := x.updateTraderPoints(t.User, positionUsd, oc.pair.GroupIndex); err != nil {
		return err
	}

	info.CreatedBlock = x.env.Height
	info.TpLastUpdatedBlock = x.env.Height
	info.SlLastUpdatedBlock = x.env.Height
	if err := x.saveTrade(t, info); err != nil {
		return err
	}

	x.res.Trade = t
	x.res.emit("trade_opened", append(tradeAttrs(t), "order_type", order.String(), "opening_fees", fees.Total.String())...)
	x.logger.Info("trade opened",
		"trader", t.User,
		"index", t.Index,
		"pair", oc.pair.Name(),
		"long", t.Long,
		"open_price", t.OpenPrice,
		"collateral", t.CollateralAmount,
		"leverage", t.Leverage,
	)
	return nil
}

func (x *execution) updateOpenOrder(c UpdateOpenOrder) error {
	if err := x.requireState(TradingActivated); err != nil {
		return err
	}
	t, info, err := x.loadTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	if !t.Pending() {
		return ErrNotPendingOrder
	}
	if !c.Price.IsPositive() {
		return ErrInvalidOpenPrice
	}
	if !c.MaxSlippageP.IsPositive() {
		return ErrInvalidSlippage
	}

	t.OpenPrice, t.Tp, t.Sl = c.Price, c.Tp, c.Sl
	if err := validateTpSl(&t, t.OpenPrice); err != nil {
		return err
	}
	info.MaxSlippageP = c.MaxSlippageP
	info.TpLastUpdatedBlock = x.env.Height
	info.SlLastUpdatedBlock = x.env.Height
	if err := x.saveTrade(&t, &info); err != nil {
		return err
	}
	x.res.Trade = &t
	x.res.emit("order_updated", tradeAttrs(&t)...)
	return nil
}

func (x *execution) cancelOpenOrder(c CancelOpenOrder) error {
	if err := x.requireState(TradingActivated, TradingCloseOnly); err != nil {
		return err
	}
	t, info, err := x.loadTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	if !t.Pending() {
		return ErrNotPendingOrder
	}
	collateral, err := x.collateral(t.CollateralIndex)
	if err != nil {
		return err
	}

	t.IsOpen = false
	if err := x.saveTrade(&t, &info); err != nil {
		return err
	}
	x.res.pay(collateral.Denom, t.User, t.CollateralAmount)
	x.res.Trade = &t
	x.res.emit("order_cancelled", tradeAttrs(&t)...)
	return nil
}

func (x *execution) updateTp(c UpdateTp) error {
	if err := x.requireState(TradingActivated, TradingCloseOnly); err != nil {
		return err
	}
	t, info, err := x.loadLiveTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	if !c.Tp.IsZero() && !tpOnProfitSide(t.OpenPrice, c.Tp, t.Long) {
		return ErrInvalidTp
	}
	if t.Tp, err = LimitTpDistance(t.OpenPrice, t.Leverage, c.Tp, t.Long); err != nil {
		return err
	}
	info.TpLastUpdatedBlock = x.env.Height
	if err := x.saveTrade(&t, &info); err != nil {
		return err
	}
	x.res.Trade = &t
	x.res.emit("tp_updated", tradeAttrs(&t)...)
	return nil
}

func (x *execution) updateSl(c UpdateSl) error {
	if err := x.requireState(TradingActivated, TradingCloseOnly); err != nil {
		return err
	}
	t, info, err := x.loadLiveTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	if !c.Sl.IsZero() && !slOnLossSide(t.OpenPrice, c.Sl, t.Long) {
		return ErrInvalidSl
	}
	if t.Sl, err = LimitSlDistance(t.OpenPrice, t.Leverage, c.Sl, t.Long); err != nil {
		return err
	}
	info.SlLastUpdatedBlock = x.env.Height
	if err := x.saveTrade(&t, &info); err != nil {
		return err
	}
	x.res.Trade = &t
	x.res.emit("sl_updated", tradeAttrs(&t)...)
	return nil
}

func (x *execution) triggerOrder(c TriggerOrder) error {
	switch c.Kind {
	case OrderLimitOpen, OrderStopOpen:
		if err := x.requireState(TradingActivated); err != nil {
			return err
		}
		return x.triggerOpen(c)
	case OrderTpClose, OrderSlClose, OrderLiqClose:
		if err := x.requireState(TradingActivated, TradingCloseOnly); err != nil {
			return err
		}
		return x.triggerClose(c)
	default:
		return fmt.Errorf("%w: %s cannot be triggered", ErrWrongOrderType, c.Kind)
	}
}

// triggerOpen converts a limit or stop order into a live trade once the
// price has crossed its open price.
func (x *execution) triggerOpen(c TriggerOrder) error {
	t, info, err := x.loadTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	if !t.Pending() {
		return ErrNotPendingOrder
	}
	if (c.Kind == OrderLimitOpen) != (t.TradeType == TradeTypeLimit) {
		return fmt.Errorf("%w: %s order triggered as %s", ErrWrongOrderType, t.TradeType, c.Kind)
	}

	oc, err := x.openContext(&t)
	if err != nil {
		return err
	}
	price, err := x.price(oc.pair.OracleIndex)
	if err != nil {
		return err
	}

	// Limits buy below (sell above) the open price, stops the other way.
	below := price.LessThanOrEqual(t.OpenPrice)
	above := price.GreaterThanOrEqual(t.OpenPrice)
	var hit bool
	if t.TradeType == TradeTypeLimit {
		hit = t.Long && below || !t.Long && above
	} else {
		hit = t.Long && above || !t.Long && below
	}
	if !hit {
		return fmt.Errorf("%w: price %s, open price %s", ErrInvalidTrigger, price, t.OpenPrice)
	}

	basePrice := price
	if t.TradeType == TradeTypeLimit {
		basePrice = t.OpenPrice
	}
	if err := x.validateTradeSize(&t, oc); err != nil {
		return err
	}
	openPrice, err := x.validateMarket(&t, oc, basePrice, t.OpenPrice, info.MaxSlippageP)
	if err != nil {
		return err
	}
	t.OpenPrice = openPrice
	return x.registerTrade(&t, &info, oc, c.Kind, c.Executor)
}

// triggerClose closes a trade at its tp, sl or liquidation price.
func (x *execution) triggerClose(c TriggerOrder) error {
	t, info, err := x.loadLiveTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	pair, err := x.pair(t.PairIndex)
	if err != nil {
		return err
	}
	price, err := x.price(pair.OracleIndex)
	if err != nil {
		return err
	}

	kind := c.Kind
	reclassified := false
	var liqPrice decimal.Decimal
	if kind == OrderLiqClose {
		if liqPrice, err = x.liquidationPrice(&t); err != nil {
			return err
		}
		// The stop loss fires before liquidation.
		if !t.Sl.IsZero() && (t.Long && t.Sl.GreaterThanOrEqual(liqPrice) || !t.Long && t.Sl.LessThanOrEqual(liqPrice)) {
			kind = OrderSlClose
			reclassified = true
		}
	}

	var closePrice decimal.Decimal
	switch kind {
	case OrderTpClose:
		if t.Tp.IsZero() {
			return ErrNoTp
		}
		if x.env.Height <= info.TpLastUpdatedBlock {
			return ErrLimitOrderTimelock
		}
		if t.Long && price.LessThan(t.Tp) || !t.Long && price.GreaterThan(t.Tp) {
			return fmt.Errorf("%w: price %s, tp %s", ErrInvalidTrigger, price, t.Tp)
		}
		closePrice = t.Tp
	case OrderSlClose:
		if t.Sl.IsZero() {
			return ErrNoSl
		}
		if !reclassified && x.env.Height <= info.SlLastUpdatedBlock {
			return ErrLimitOrderTimelock
		}
		if t.Long && price.GreaterThan(t.Sl) || !t.Long && price.LessThan(t.Sl) {
			return fmt.Errorf("%w: price %s, sl %s", ErrInvalidTrigger, price, t.Sl)
		}
		closePrice = t.Sl
	case OrderLiqClose:
		if t.Long && price.GreaterThan(liqPrice) || !t.Long && price.LessThan(liqPrice) {
			return fmt.Errorf("%w: price %s, liquidation price %s", ErrInvalidTrigger, price, liqPrice)
		}
		closePrice = price
	}
	return x.unregisterTrade(&t, &info, kind, closePrice, c.Executor)
}

func (x *execution) closeTradeMarket(c CloseTradeMarket) error {
	if err := x.requireState(TradingActivated, TradingCloseOnly); err != nil {
		return err
	}
	t, info, err := x.loadLiveTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	pair, err := x.pair(t.PairIndex)
	if err != nil {
		return err
	}
	price, err := x.price(pair.OracleIndex)
	if err != nil {
		return err
	}
	return x.unregisterTrade(&t, &info, OrderMarketClose, price, "")
}

// increasePositionSize grows a live trade. The borrowing fee owed so far is
// realized into the vault, the added size pays opening fees and the trade's
// open interest is re-registered at the combined size.
func (x *execution) increasePositionSize(c IncreasePositionSize) error {
	if err := x.requireState(TradingActivated); err != nil {
		return err
	}
	if !c.ExpectedPrice.IsPositive() {
		return ErrInvalidOpenPrice
	}
	if !c.MaxSlippageP.IsPositive() {
		return ErrInvalidSlippage
	}
	t, info, err := x.loadLiveTrade(c.User, c.Index)
	if err != nil {
		return err
	}
	oc, err := x.openContext(&t)
	if err != nil {
		return err
	}

	delta := Trade{
		User:             t.User,
		Index:            t.Index,
		PairIndex:        t.PairIndex,
		CollateralIndex:  t.CollateralIndex,
		CollateralAmount: c.CollateralAmount,
		Leverage:         c.Leverage,
		Long:             t.Long,
		IsOpen:           true,
	}
	if err := x.validateTradeSize(&delta, oc); err != nil {
		return err
	}
	price, err := x.price(oc.pair.OracleIndex)
	if err != nil {
		return err
	}
	deltaPrice, err := x.validateMarket(&delta, oc, price, c.ExpectedPrice, c.MaxSlippageP)
	if err != nil {
		return err
	}

	borrowingFee, err := x.tradeBorrowingFee(&t)
	if err != nil {
		return err
	}
	fees, err := x.processOpeningFees(&delta, oc.fee, oc.collateral, oc.collateralPrice, OrderMarketOpen, "")
	if err != nil {
		return err
	}
	if fees.Total.GreaterThanOrEqual(delta.CollateralAmount) {
		return fmt.Errorf("%w: fees %s exceed collateral", ErrInsufficientCollateral, fees.Total)
	}

	oldSize := t.PositionSizeCollateral()
	deltaSize := delta.PositionSizeCollateral()
	newSize := oldSize.Add(deltaSize)
	newCollateral := t.CollateralAmount.Sub(borrowingFee).Add(delta.CollateralAmount).Sub(fees.Total)
	if !newCollateral.IsPositive() {
		return fmt.Errorf("%w: borrowing fee %s exceeds collateral", ErrInsufficientCollateral, borrowingFee)
	}
	// Rounded up so the stored position size is exactly newSize.
	newLeverage, err := quoCeil(newSize, newCollateral)
	if err != nil {
		return err
	}
	if newLeverage.GreaterThan(oc.maxLeverage()) {
		return fmt.Errorf("%w: combined %s above %s", ErrInvalidLeverage, newLeverage, oc.maxLeverage())
	}
	newOpenPrice, err := quo(oldSize.Mul(t.OpenPrice).Add(deltaSize.Mul(deltaPrice)), newSize)
	if err != nil {
		return err
	}

	if err := x.handleTradeBorrowing(&t, false, oldSize); err != nil {
		return err
	}
	if err := x.accrueVaultFees(t.CollateralIndex, borrowingFee); err != nil {
		return err
	}

	t.CollateralAmount = newCollateral
	t.Leverage = newLeverage
	t.OpenPrice = newOpenPrice
	if t.Tp, err = LimitTpDistance(t.OpenPrice, t.Leverage, t.Tp, t.Long); err != nil {
		return err
	}
	if t.Sl, err = LimitSlDistance(t.OpenPrice, t.Leverage, t.Sl, t.Long); err != nil {
		return err
	}

	if err := x.handleTradeBorrowing(&t, true, t.PositionSizeCollateral()); err != nil {
		return err
	}
	if err := x.addPriceImpactOpenInterest(&t, &info, deltaSize, oc.collateralPrice); err != nil {
		return err
	}
	deltaUsd, err := floorAmount(deltaSize.Mul(oc.collateralPrice))
	if err != nil {
		return err
	}
	if err := x.updateTraderPoints(t.User, deltaUsd, oc.pair.GroupIndex); err != nil {
		return err
	}
	if err := x.saveTrade(&t, &info); err != nil {
		return err
	}

	x.res.Trade = &t
	x.res.emit("position_increased", append(tradeAttrs(&t),
		"collateral_delta", delta.CollateralAmount.String(),
		"position_delta", deltaSize.String(),
		"opening_fees", fees.Total.String(),
		"borrowing_fee", borrowingFee.String(),
	)...)
	x.logger.Info("position increased",
		"trader", t.User,
		"index", t.Index,
		"pair", oc.pair.Name(),
		"open_price", t.OpenPrice,
		"collateral", t.CollateralAmount,
		"leverage", t.Leverage,
	)
	return nil
}

// Settlement is the outcome of closing a trade.
type Settlement struct {
	PnlP         decimal.Decimal `json:"pnl_p"`
	BorrowingFee decimal.Decimal `json:"borrowing_fee"`
	ClosingFees  ClosingFees     `json:"closing_fees"`
	Value        decimal.Decimal `json:"value"`
}

// settle prices the close of t at closePrice without writing anything.
func (x *execution) settle(t *Trade, fee Fee, collateralPrice decimal.Decimal, order OrderType, closePrice decimal.Decimal) (Settlement, error) {
	var s Settlement
	var err error
	if s.BorrowingFee, err = x.tradeBorrowingFee(t); err != nil {
		return s, err
	}
	if s.PnlP, err = PnlPercent(t.OpenPrice, closePrice, t.Long, t.Leverage); err != nil {
		return s, err
	}
	gross := t.CollateralAmount.Add(t.CollateralAmount.Mul(s.PnlP))
	if s.ClosingFees, err = x.closingFees(t, fee, collateralPrice, order, gross.Sub(s.BorrowingFee)); err != nil {
		return s, err
	}
	if order == OrderLiqClose {
		s.Value = decimal.Zero
		return s, nil
	}
	s.Value, err = TradeValue(t.CollateralAmount, s.PnlP, s.BorrowingFee, s.ClosingFees.Total)
	return s, err
}

// unregisterTrade retires the trade's open interest, charges fees and pays out.
func (x *execution) unregisterTrade(t *Trade, info *TradeInfo, order OrderType, closePrice decimal.Decimal, executor string) error {
	pair, err := x.pair(t.PairIndex)
	if err != nil {
		return err
	}
	fee, err := x.fee(pair.FeeIndex)
	if err != nil {
		return err
	}
	collateral, err := x.collateral(t.CollateralIndex)
	if err != nil {
		return err
	}
	collateralPrice, err := x.collateralPrice(t.CollateralIndex)
	if err != nil {
		return err
	}

	s, err := x.settle(t, fee, collateralPrice, order, closePrice)
	if err != nil {
		return err
	}

	positionCollateral := t.PositionSizeCollateral()
	if err := x.handleTradeBorrowing(t, false, positionCollateral); err != nil {
		return err
	}
	if err := x.removePriceImpactOpenInterest(t, info, positionCollateral); err != nil {
		return err
	}
	positionUsd, err := floorAmount(positionCollateral.Mul(collateralPrice))
	if err != nil {
		return err
	}
	if err := x.updateTraderPoints(t.User, positionUsd, pair.GroupIndex); err != nil {
		return err
	}

	// The vault keeps its fee share and whatever borrowing fee the trade could cover.
	gross := decimal.Max(t.CollateralAmount.Add(t.CollateralAmount.Mul(s.PnlP)), decimal.Zero)
	if err := x.accrueVaultFees(t.CollateralIndex, s.ClosingFees.Vault.Add(decimal.Min(s.BorrowingFee, gross.Floor()))); err != nil {
		return err
	}
	addrs, _, err := addresses.MayLoad(x.kv)
	if err != nil {
		return err
	}
	x.res.pay(collateral.Denom, t.User, s.Value)
	x.res.pay(collateral.Denom, addrs.Staking, s.ClosingFees.Staking)
	x.res.pay(collateral.Denom, executor, s.ClosingFees.TriggerReward)

	t.IsOpen = false
	if err := x.saveTrade(t, info); err != nil {
		return err
	}

	event := "trade_closed"
	if order == OrderLiqClose {
		event = "trade_liquidated"
	}
	x.res.Trade = t
	x.res.emit(event, append(tradeAttrs(t),
		"order_type", order.String(),
		"close_price", closePrice.String(),
		"pnl_p", s.PnlP.String(),
		"borrowing_fee", s.BorrowingFee.String(),
		"closing_fee", s.ClosingFees.Total.String(),
		"value", s.Value.String(),
	)...)
	x.logger.Info("trade closed",
		"trader", t.User,
		"index", t.Index,
		"order_type", order,
		"close_price", closePrice,
		"value", s.Value,
	)
	return nil
}

func tradeAttrs(t *Trade) []string {
	return []string{
		"trader", t.User,
		"index", strconv.FormatUint(uint64(t.Index), 10),
		"pair_index", strconv.FormatUint(uint64(t.PairIndex), 10),
		"collateral_index", strconv.FormatUint(uint64(t.CollateralIndex), 10),
		"long", strconv.FormatBool(t.Long),
		"trade_type", t.TradeType.String(),
		"collateral", t.CollateralAmount.String(),
		"leverage", t.Leverage.String(),
		"open_price", t.OpenPrice.String(),
		"tp", t.Tp.String(),
		"sl", t.Sl.String(),
	}
}
