package lx

import (
	"github.com/shopspring/decimal"
)

// BorrowingData is the fee accumulator of a pair or group.
type BorrowingData struct {
	FeePerBlock         decimal.Decimal `json:"fee_per_block"`
	AccFeeLong          decimal.Decimal `json:"acc_fee_long"`
	AccFeeShort         decimal.Decimal `json:"acc_fee_short"`
	AccLastUpdatedBlock uint64          `json:"acc_last_updated_block"`
	FeeExponent         uint32          `json:"fee_exponent"`
}

// AccFee returns the accumulator of one side.
func (d BorrowingData) AccFee(long bool) decimal.Decimal {
	if long {
		return d.AccFeeLong
	}
	return d.AccFeeShort
}

// OpenInterest is the collateral held long and short, and its cap.
type OpenInterest struct {
	Long  decimal.Decimal `json:"long"`
	Short decimal.Decimal `json:"short"`
	Max   decimal.Decimal `json:"max"`
}

// Side returns the open interest of one side.
func (oi OpenInterest) Side(long bool) decimal.Decimal {
	if long {
		return oi.Long
	}
	return oi.Short
}

// BorrowingPairGroup records that a pair joined GroupIndex at Block.
type BorrowingPairGroup struct {
	GroupIndex uint32 `json:"group_index"`
	Block      uint64 `json:"block"`

	// Accumulator of the joined group at Block.
	InitialAccFeeLong  decimal.Decimal `json:"initial_acc_fee_long"`
	InitialAccFeeShort decimal.Decimal `json:"initial_acc_fee_short"`

	// Accumulator of the group that was left at Block.
	PrevGroupAccFeeLong  decimal.Decimal `json:"prev_group_acc_fee_long"`
	PrevGroupAccFeeShort decimal.Decimal `json:"prev_group_acc_fee_short"`

	// Accumulator of the pair itself at Block.
	PairAccFeeLong  decimal.Decimal `json:"pair_acc_fee_long"`
	PairAccFeeShort decimal.Decimal `json:"pair_acc_fee_short"`
}

func (g BorrowingPairGroup) initialAcc(long bool) decimal.Decimal {
	if long {
		return g.InitialAccFeeLong
	}
	return g.InitialAccFeeShort
}

func (g BorrowingPairGroup) prevGroupAcc(long bool) decimal.Decimal {
	if long {
		return g.PrevGroupAccFeeLong
	}
	return g.PrevGroupAccFeeShort
}

func (g BorrowingPairGroup) pairAcc(long bool) decimal.Decimal {
	if long {
		return g.PairAccFeeLong
	}
	return g.PairAccFeeShort
}

// InitialAccFees is the accumulator baseline of a trade, taken when it opened.
type InitialAccFees struct {
	AccPairFee  decimal.Decimal `json:"acc_pair_fee"`
	AccGroupFee decimal.Decimal `json:"acc_group_fee"`
	Block       uint64          `json:"block"`
}

// PendingAcc is an accumulator brought forward to a height.
type PendingAcc struct {
	AccFeeLong  decimal.Decimal
	AccFeeShort decimal.Decimal
	Delta       decimal.Decimal
}

// Side returns the pending accumulator of one side.
func (p PendingAcc) Side(long bool) decimal.Decimal {
	if long {
		return p.AccFeeLong
	}
	return p.AccFeeShort
}

// PendingAccFees brings data forward to height. The side holding more open
// interest absorbs the fee; the other side is unchanged.
func PendingAccFees(data BorrowingData, oi OpenInterest, height uint64) (PendingAcc, error) {
	if height < data.AccLastUpdatedBlock {
		return PendingAcc{}, ErrBlockOrder
	}

	pending := PendingAcc{
		AccFeeLong:  data.AccFeeLong,
		AccFeeShort: data.AccFeeShort,
		Delta:       decimal.Zero,
	}

	moreShorts := oi.Short.GreaterThan(oi.Long)
	netOi := oi.Long.Sub(oi.Short).Abs()

	if oi.Max.IsPositive() && data.FeeExponent > 0 {
		ratio, err := quo(netOi, oi.Max)
		if err != nil {
			return PendingAcc{}, err
		}
		elapsed := decimal.NewFromInt(int64(height - data.AccLastUpdatedBlock))
		delta := data.FeePerBlock.Mul(elapsed).Mul(powInt(ratio, data.FeeExponent)).Truncate(Precision)
		if _, err := checked(delta); err != nil {
			return PendingAcc{}, err
		}
		pending.Delta = delta
	}

	var err error
	if moreShorts {
		pending.AccFeeShort, err = checked(pending.AccFeeShort.Add(pending.Delta))
	} else {
		pending.AccFeeLong, err = checked(pending.AccFeeLong.Add(pending.Delta))
	}
	if err != nil {
		return PendingAcc{}, err
	}
	return pending, nil
}

// UpdateOI adds amount to one side, or removes it without going below zero.
func UpdateOI(oi OpenInterest, long, increase bool, amount decimal.Decimal) OpenInterest {
	side := &oi.Short
	if long {
		side = &oi.Long
	}
	if increase {
		*side = side.Add(amount)
	} else {
		*side = satSub(*side, amount)
	}
	return oi
}

// BorrowingFeeInput is everything TradeBorrowingFee needs.
type BorrowingFeeInput struct {
	Collateral decimal.Decimal
	Leverage   decimal.Decimal
	Long       bool
	Initial    InitialAccFees
	PairGroups []BorrowingPairGroup

	// Pair accumulator of the trade's side at the current height.
	PairAccFee decimal.Decimal
	// Accumulator of the pair's latest group at the current height.
	GroupAccFee decimal.Decimal
}

// TradeBorrowingFee returns the fee owed by a trade, floored.
func TradeBorrowingFee(in BorrowingFeeInput) (decimal.Decimal, error) {
	feeP, err := TradeBorrowingFeeP(in)
	if err != nil {
		return decimal.Zero, err
	}
	return floorAmount(in.Collateral.Mul(in.Leverage).Mul(feeP))
}

// TradeBorrowingFeeP sums, for every group segment the trade was open in,
// the larger of the group and pair accumulator deltas.
func TradeBorrowingFeeP(in BorrowingFeeInput) (decimal.Decimal, error) {
	history := in.PairGroups
	feeP := decimal.Zero

	// Pair-only segment from the open until the first group join.
	if len(history) == 0 || history[0].Block > in.Initial.Block {
		pairAcc := in.PairAccFee
		if len(history) > 0 {
			pairAcc = history[0].pairAcc(in.Long)
		}
		delta, err := accDelta(pairAcc, in.Initial.AccPairFee)
		if err != nil {
			return decimal.Zero, err
		}
		feeP = feeP.Add(delta)
	}

	for i := len(history) - 1; i >= 0; i-- {
		groupDelta, pairDelta, beforeOpen, err := segmentDeltas(in, i)
		if err != nil {
			return decimal.Zero, err
		}
		feeP = feeP.Add(decimal.Max(groupDelta, pairDelta))
		if beforeOpen {
			break
		}
	}
	return checked(feeP)
}

func segmentDeltas(in BorrowingFeeInput, i int) (groupDelta, pairDelta decimal.Decimal, beforeOpen bool, err error) {
	history := in.PairGroups
	segment := history[i]
	beforeOpen = segment.Block < in.Initial.Block

	var groupEnd, pairEnd decimal.Decimal
	if i == len(history)-1 {
		groupEnd, pairEnd = in.GroupAccFee, in.PairAccFee
	} else {
		next := history[i+1]
		// The segment ended before the trade opened.
		if beforeOpen && next.Block <= in.Initial.Block {
			return decimal.Zero, decimal.Zero, beforeOpen, nil
		}
		groupEnd, pairEnd = next.prevGroupAcc(in.Long), next.pairAcc(in.Long)
	}

	groupStart, pairStart := segment.initialAcc(in.Long), segment.pairAcc(in.Long)
	if beforeOpen {
		groupStart, pairStart = in.Initial.AccGroupFee, in.Initial.AccPairFee
	}

	if groupDelta, err = accDelta(groupEnd, groupStart); err != nil {
		return
	}
	pairDelta, err = accDelta(pairEnd, pairStart)
	return
}

func accDelta(end, start decimal.Decimal) (decimal.Decimal, error) {
	if end.LessThan(start) {
		return decimal.Zero, ErrAccFeeUnderflow
	}
	return end.Sub(start), nil
}

// Stateful accrual.

func (x *execution) pairBorrowing(collateral, pair uint32) (BorrowingData, OpenInterest, error) {
	key := PairKey{Collateral: collateral, Pair: pair}
	data, _, err := pairBorrowing.MayLoad(x.kv, key)
	if err != nil {
		return data, OpenInterest{}, err
	}
	oi, _, err := pairOis.MayLoad(x.kv, key)
	return data, oi, err
}

func (x *execution) groupBorrowing(collateral, group uint32) (BorrowingData, OpenInterest, error) {
	key := GroupKey{Collateral: collateral, Group: group}
	data, _, err := groupBorrowing.MayLoad(x.kv, key)
	if err != nil {
		return data, OpenInterest{}, err
	}
	oi, _, err := groupOis.MayLoad(x.kv, key)
	return data, oi, err
}

func (x *execution) pairPendingAcc(collateral, pair uint32) (PendingAcc, error) {
	data, oi, err := x.pairBorrowing(collateral, pair)
	if err != nil {
		return PendingAcc{}, err
	}
	return PendingAccFees(data, oi, x.env.Height)
}

func (x *execution) groupPendingAcc(collateral, group uint32) (PendingAcc, error) {
	data, oi, err := x.groupBorrowing(collateral, group)
	if err != nil {
		return PendingAcc{}, err
	}
	return PendingAccFees(data, oi, x.env.Height)
}

func (x *execution) setPairPendingAccFees(collateral, pair uint32) (BorrowingData, error) {
	data, oi, err := x.pairBorrowing(collateral, pair)
	if err != nil {
		return data, err
	}
	pending, err := PendingAccFees(data, oi, x.env.Height)
	if err != nil {
		return data, err
	}
	data.AccFeeLong, data.AccFeeShort = pending.AccFeeLong, pending.AccFeeShort
	data.AccLastUpdatedBlock = x.env.Height
	return data, pairBorrowing.Save(x.kv, PairKey{Collateral: collateral, Pair: pair}, data)
}

func (x *execution) setGroupPendingAccFees(collateral, group uint32) (BorrowingData, error) {
	data, oi, err := x.groupBorrowing(collateral, group)
	if err != nil {
		return data, err
	}
	pending, err := PendingAccFees(data, oi, x.env.Height)
	if err != nil {
		return data, err
	}
	data.AccFeeLong, data.AccFeeShort = pending.AccFeeLong, pending.AccFeeShort
	data.AccLastUpdatedBlock = x.env.Height
	return data, groupBorrowing.Save(x.kv, GroupKey{Collateral: collateral, Group: group}, data)
}

// borrowingGroup returns the group the pair currently accrues in, 0 for none.
func (x *execution) borrowingGroup(collateral, pair uint32) (uint32, []BorrowingPairGroup, error) {
	history, _, err := pairGroups.MayLoad(x.kv, PairKey{Collateral: collateral, Pair: pair})
	if err != nil || len(history) == 0 {
		return 0, history, err
	}
	return history[len(history)-1].GroupIndex, history, nil
}

// handleTradeBorrowing brings both accumulators forward, then moves the
// position into or out of the pair and group open interest.
func (x *execution) handleTradeBorrowing(t *Trade, open bool, positionCollateral decimal.Decimal) error {
	group, _, err := x.borrowingGroup(t.CollateralIndex, t.PairIndex)
	if err != nil {
		return err
	}

	pairData, err := x.setPairPendingAccFees(t.CollateralIndex, t.PairIndex)
	if err != nil {
		return err
	}
	groupData := BorrowingData{}
	if group != 0 {
		if groupData, err = x.setGroupPendingAccFees(t.CollateralIndex, group); err != nil {
			return err
		}
	}

	pairKey := PairKey{Collateral: t.CollateralIndex, Pair: t.PairIndex}
	pairOi, _, err := pairOis.MayLoad(x.kv, pairKey)
	if err != nil {
		return err
	}
	if err := pairOis.Save(x.kv, pairKey, UpdateOI(pairOi, t.Long, open, positionCollateral)); err != nil {
		return err
	}

	if group != 0 {
		groupKey := GroupKey{Collateral: t.CollateralIndex, Group: group}
		groupOi, _, err := groupOis.MayLoad(x.kv, groupKey)
		if err != nil {
			return err
		}
		if err := groupOis.Save(x.kv, groupKey, UpdateOI(groupOi, t.Long, open, positionCollateral)); err != nil {
			return err
		}
	}

	if !open {
		return initialAccFees.Remove(x.kv, t.key())
	}
	return initialAccFees.Save(x.kv, t.key(), InitialAccFees{
		AccPairFee:  pairData.AccFee(t.Long),
		AccGroupFee: groupData.AccFee(t.Long),
		Block:       x.env.Height,
	})
}

// tradeBorrowingFee is the fee a trade owes at the current height.
func (x *execution) tradeBorrowingFee(t *Trade) (decimal.Decimal, error) {
	initial, err := initialAccFees.Load(x.kv, t.key())
	if err != nil {
		return decimal.Zero, err
	}
	group, history, err := x.borrowingGroup(t.CollateralIndex, t.PairIndex)
	if err != nil {
		return decimal.Zero, err
	}

	pairPending, err := x.pairPendingAcc(t.CollateralIndex, t.PairIndex)
	if err != nil {
		return decimal.Zero, err
	}
	groupAcc := decimal.Zero
	if len(history) > 0 {
		groupPending, err := x.groupPendingAcc(t.CollateralIndex, group)
		if err != nil {
			return decimal.Zero, err
		}
		groupAcc = groupPending.Side(t.Long)
	}

	return TradeBorrowingFee(BorrowingFeeInput{
		Collateral:  t.CollateralAmount,
		Leverage:    t.Leverage,
		Long:        t.Long,
		Initial:     initial,
		PairGroups:  history,
		PairAccFee:  pairPending.Side(t.Long),
		GroupAccFee: groupAcc,
	})
}

// setPairGroup appends a membership record and moves the pair's open
// interest from its old group to the new one.
func (x *execution) setPairGroup(collateral, pair, newGroup uint32) error {
	oldGroup, history, err := x.borrowingGroup(collateral, pair)
	if err != nil {
		return err
	}
	if oldGroup == newGroup {
		return nil
	}

	prev, err := x.groupPendingAcc(collateral, oldGroup)
	if err != nil {
		return err
	}
	next, err := x.groupPendingAcc(collateral, newGroup)
	if err != nil {
		return err
	}
	pairAcc, err := x.pairPendingAcc(collateral, pair)
	if err != nil {
		return err
	}

	// Settle both groups at the current OI before it moves.
	if oldGroup != 0 {
		if _, err := x.setGroupPendingAccFees(collateral, oldGroup); err != nil {
			return err
		}
	}
	if newGroup != 0 {
		if _, err := x.setGroupPendingAccFees(collateral, newGroup); err != nil {
			return err
		}
	}

	history = append(history, BorrowingPairGroup{
		GroupIndex:           newGroup,
		Block:                x.env.Height,
		InitialAccFeeLong:    next.AccFeeLong,
		InitialAccFeeShort:   next.AccFeeShort,
		PrevGroupAccFeeLong:  prev.AccFeeLong,
		PrevGroupAccFeeShort: prev.AccFeeShort,
		PairAccFeeLong:       pairAcc.AccFeeLong,
		PairAccFeeShort:      pairAcc.AccFeeShort,
	})
	if err := pairGroups.Save(x.kv, PairKey{Collateral: collateral, Pair: pair}, history); err != nil {
		return err
	}

	pairOi, _, err := pairOis.MayLoad(x.kv, PairKey{Collateral: collateral, Pair: pair})
	if err != nil {
		return err
	}
	if err := x.moveGroupOi(collateral, oldGroup, pairOi, false); err != nil {
		return err
	}
	return x.moveGroupOi(collateral, newGroup, pairOi, true)
}

func (x *execution) moveGroupOi(collateral, group uint32, pairOi OpenInterest, increase bool) error {
	if group == 0 {
		return nil
	}
	key := GroupKey{Collateral: collateral, Group: group}
	oi, _, err := groupOis.MayLoad(x.kv, key)
	if err != nil {
		return err
	}
	oi = UpdateOI(oi, true, increase, pairOi.Long)
	oi = UpdateOI(oi, false, increase, pairOi.Short)
	return groupOis.Save(x.kv, key, oi)
}
