package lx

import (
	"fmt"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
)

// Oracle supplies spot prices. A zero price is unavailable.
type Oracle interface {
	Price(oracleIndex uint32) (decimal.Decimal, error)
	CollateralPrice(collateralIndex uint32) (decimal.Decimal, error)
}

// Engine executes commands against a KVStore. It holds no state of its own:
// every call reads and writes through kv, and the caller commits or discards
// the writes as a unit.
type Engine struct {
	kv     KVStore
	oracle Oracle
	logger log.Logger
}

// NewEngine creates an engine over kv.
func NewEngine(kv KVStore, oracle Oracle, logger log.Logger) *Engine {
	return &Engine{kv: kv, oracle: oracle, logger: logger}
}

// execution is the scope of one command.
type execution struct {
	kv     KVStore
	oracle Oracle
	logger log.Logger
	env    Env
	res    *Result
}

func (e *Engine) execution(env Env) *execution {
	return &execution{kv: e.kv, oracle: e.oracle, logger: e.logger, env: env, res: &Result{}}
}

// Execute runs cmd. On error the writes already made to kv must be discarded
// by the caller.
func (e *Engine) Execute(env Env, cmd Command) (*Result, error) {
	x := e.execution(env)
	e.logger.Debug("executing command", "command", cmd.Name(), "height", env.Height)

	var err error
	switch c := cmd.(type) {
	case OpenTrade:
		err = x.openTrade(c)
	case UpdateOpenOrder:
		err = x.updateOpenOrder(c)
	case CancelOpenOrder:
		err = x.cancelOpenOrder(c)
	case UpdateTp:
		err = x.updateTp(c)
	case UpdateSl:
		err = x.updateSl(c)
	case TriggerOrder:
		err = x.triggerOrder(c)
	case CloseTradeMarket:
		err = x.closeTradeMarket(c)
	case IncreasePositionSize:
		err = x.increasePositionSize(c)
	case SetPairs, SetGroups, SetFees, SetCollaterals, SetPairCustomMaxLeverage,
		SetBorrowingPairParams, SetBorrowingGroupParams, SetOpenInterestCaps,
		SetWindowSettings, SetPairDepths, SetFeeTiers, SetGroupVolumeMultipliers,
		SetTradingState, SetAddresses, SetVaultClosingFeeP, ClaimGovFees:
		err = x.admin(c)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return nil, err
	}
	return x.res, nil
}

// Configuration lookups.

func (x *execution) pair(index uint32) (Pair, error) {
	p, ok, err := pairs.MayLoad(x.kv, Index(index))
	if err == nil && !ok {
		err = fmt.Errorf("%w: %d", ErrPairNotFound, index)
	}
	return p, err
}

func (x *execution) group(index uint32) (Group, error) {
	g, ok, err := groups.MayLoad(x.kv, Index(index))
	if err == nil && !ok {
		err = fmt.Errorf("%w: %d", ErrGroupNotFound, index)
	}
	return g, err
}

func (x *execution) fee(index uint32) (Fee, error) {
	f, ok, err := fees.MayLoad(x.kv, Index(index))
	if err == nil && !ok {
		err = fmt.Errorf("%w: %d", ErrFeeNotFound, index)
	}
	return f, err
}

func (x *execution) collateral(index uint32) (Collateral, error) {
	c, ok, err := collaterals.MayLoad(x.kv, Index(index))
	if err == nil && !ok {
		err = fmt.Errorf("%w: %d", ErrCollateralNotFound, index)
	}
	return c, err
}

func (x *execution) price(oracleIndex uint32) (decimal.Decimal, error) {
	p, err := x.oracle.Price(oracleIndex)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: oracle index %d", ErrPriceUnavailable, oracleIndex)
	}
	return p, nil
}

func (x *execution) collateralPrice(index uint32) (decimal.Decimal, error) {
	p, err := x.oracle.CollateralPrice(index)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: collateral %d", ErrPriceUnavailable, index)
	}
	return p, nil
}

func (x *execution) requireState(allowed ...TradingState) error {
	state, _, err := tradingState.MayLoad(x.kv)
	if err != nil {
		return err
	}
	for _, s := range allowed {
		if s == state {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTradingNotActive, state)
}
