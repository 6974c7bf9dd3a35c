package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/lx"
)

// submit decodes params into a C and queues it for the next block.
func submit[C lx.Command](s *JSONRPCServer) handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var cmd C
		if err := decode(params, &cmd); err != nil {
			return nil, err
		}
		return s.node.Submit(ctx, cmd)
	}
}

func (s *JSONRPCServer) routes() map[string]handler {
	m := map[string]handler{
		"perps_ping":    func(context.Context, json.RawMessage) (interface{}, error) { return "pong", nil },
		"perps_getInfo": s.getInfo,

		"perps_openTrade":        submit[lx.OpenTrade](s),
		"perps_closeTradeMarket": submit[lx.CloseTradeMarket](s),
		"perps_updateOpenOrder":  submit[lx.UpdateOpenOrder](s),
		"perps_cancelOpenOrder":  submit[lx.CancelOpenOrder](s),
		"perps_updateTp":         submit[lx.UpdateTp](s),
		"perps_updateSl":         submit[lx.UpdateSl](s),
		"perps_triggerOrder":     submit[lx.TriggerOrder](s),

		"perps_increasePositionSize": submit[lx.IncreasePositionSize](s),

		"perps_getTrade":             s.getTrade,
		"perps_getOpenTrades":        s.getOpenTrades,
		"perps_getLiquidationPrice":  s.getLiquidationPrice,
		"perps_getTradeBorrowingFee": s.getTradeBorrowingFee,
		"perps_getTradeValue":        s.getTradeValue,
		"perps_getPairBorrowing":     s.getPairBorrowing,
		"perps_getGroupBorrowing":    s.getGroupBorrowing,
		"perps_getActiveOi":          s.getActiveOi,
		"perps_getPriceImpact":       s.getPriceImpact,
		"perps_getPendingGovFees":    s.getPendingGovFees,
		"perps_getVaultFees":         s.getVaultFees,
		"perps_getBalance":           s.getBalance,
		"perps_getBlock":             s.getBlock,
		"perps_withdraw":             s.withdraw,
	}
	if !s.admin {
		return m
	}

	for name, h := range map[string]handler{
		"admin_setPairs":                  submit[lx.SetPairs](s),
		"admin_setGroups":                 submit[lx.SetGroups](s),
		"admin_setFees":                   submit[lx.SetFees](s),
		"admin_setCollaterals":            submit[lx.SetCollaterals](s),
		"admin_setPairCustomMaxLeverage":  submit[lx.SetPairCustomMaxLeverage](s),
		"admin_setBorrowingPairParams":    submit[lx.SetBorrowingPairParams](s),
		"admin_setBorrowingGroupParams":   submit[lx.SetBorrowingGroupParams](s),
		"admin_setOpenInterestCaps":       submit[lx.SetOpenInterestCaps](s),
		"admin_setWindowSettings":         submit[lx.SetWindowSettings](s),
		"admin_setPairDepths":             submit[lx.SetPairDepths](s),
		"admin_setFeeTiers":               submit[lx.SetFeeTiers](s),
		"admin_setGroupVolumeMultipliers": submit[lx.SetGroupVolumeMultipliers](s),
		"admin_setTradingState":           submit[lx.SetTradingState](s),
		"admin_setAddresses":              submit[lx.SetAddresses](s),
		"admin_setVaultClosingFeeP":       submit[lx.SetVaultClosingFeeP](s),
		"admin_claimGovFees":              submit[lx.ClaimGovFees](s),
		"admin_deposit":                   s.deposit,
		"oracle_setPrice":                 s.setPrice,
		"oracle_setCollateralPrice":       s.setCollateralPrice,
	} {
		m[name] = h
	}
	return m
}

type tradeParams struct {
	User  string `json:"user"`
	Index uint32 `json:"index"`
}

type collateralParams struct {
	CollateralIndex uint32 `json:"collateral_index"`
}

type fundsParams struct {
	Address string          `json:"address"`
	Denom   string          `json:"denom"`
	Amount  decimal.Decimal `json:"amount"`
}

type priceParams struct {
	Index uint32          `json:"index"`
	Price decimal.Decimal `json:"price"`
}

// view decodes params into P and runs fn against committed state.
func view[P any](s *JSONRPCServer, params json.RawMessage, fn func(e *lx.Engine, env lx.Env, p P) (interface{}, error)) (interface{}, error) {
	var p P
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var result interface{}
	err := s.node.View(func(e *lx.Engine, env lx.Env) error {
		var err error
		result, err = fn(e, env, p)
		return err
	})
	return result, err
}

func (s *JSONRPCServer) getInfo(_ context.Context, _ json.RawMessage) (interface{}, error) {
	info := map[string]interface{}{
		"height":    s.node.Height(),
		"pending":   s.node.Pending(),
		"vault":     s.node.Vault(),
		"timestamp": time.Now().Unix(),
	}
	err := s.node.View(func(e *lx.Engine, _ lx.Env) error {
		state, err := e.TradingState()
		info["trading_state"] = state
		return err
	})
	return info, err
}

func (s *JSONRPCServer) getTrade(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, _ lx.Env, p tradeParams) (interface{}, error) {
		t, info, err := e.Trade(p.User, p.Index)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"trade": t, "info": info}, nil
	})
}

func (s *JSONRPCServer) getOpenTrades(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, _ lx.Env, p tradeParams) (interface{}, error) {
		trades, err := e.OpenTrades(p.User)
		if trades == nil {
			trades = []lx.Trade{}
		}
		return trades, err
	})
}

func (s *JSONRPCServer) getLiquidationPrice(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, env lx.Env, p tradeParams) (interface{}, error) {
		price, err := e.LiquidationPrice(env, p.User, p.Index)
		return map[string]decimal.Decimal{"liquidation_price": price}, err
	})
}

func (s *JSONRPCServer) getTradeBorrowingFee(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, env lx.Env, p tradeParams) (interface{}, error) {
		fee, err := e.TradeBorrowingFee(env, p.User, p.Index)
		return map[string]decimal.Decimal{"borrowing_fee": fee}, err
	})
}

func (s *JSONRPCServer) getTradeValue(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, env lx.Env, p tradeParams) (interface{}, error) {
		return e.TradeValue(env, p.User, p.Index)
	})
}

func (s *JSONRPCServer) getPairBorrowing(_ context.Context, params json.RawMessage) (interface{}, error) {
	type pairParams struct {
		CollateralIndex uint32 `json:"collateral_index"`
		PairIndex       uint32 `json:"pair_index"`
	}
	return view(s, params, func(e *lx.Engine, env lx.Env, p pairParams) (interface{}, error) {
		return e.PairBorrowing(env, p.CollateralIndex, p.PairIndex)
	})
}

func (s *JSONRPCServer) getGroupBorrowing(_ context.Context, params json.RawMessage) (interface{}, error) {
	type groupParams struct {
		CollateralIndex uint32 `json:"collateral_index"`
		GroupIndex      uint32 `json:"group_index"`
	}
	return view(s, params, func(e *lx.Engine, env lx.Env, p groupParams) (interface{}, error) {
		if p.GroupIndex == 0 {
			return nil, &RPCError{Code: InvalidParams, Message: "group_index must be positive"}
		}
		return e.GroupBorrowing(env, p.CollateralIndex, p.GroupIndex)
	})
}

func (s *JSONRPCServer) getActiveOi(_ context.Context, params json.RawMessage) (interface{}, error) {
	type oiParams struct {
		PairIndex uint32 `json:"pair_index"`
	}
	return view(s, params, func(e *lx.Engine, env lx.Env, p oiParams) (interface{}, error) {
		return e.ActiveOi(env, p.PairIndex)
	})
}

func (s *JSONRPCServer) getPriceImpact(_ context.Context, params json.RawMessage) (interface{}, error) {
	type impactParams struct {
		PairIndex uint32          `json:"pair_index"`
		Long      bool            `json:"long"`
		OiUsd     decimal.Decimal `json:"oi_usd"`
	}
	return view(s, params, func(e *lx.Engine, env lx.Env, p impactParams) (interface{}, error) {
		return e.PriceImpact(env, p.PairIndex, p.Long, p.OiUsd)
	})
}

func (s *JSONRPCServer) getPendingGovFees(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, _ lx.Env, p collateralParams) (interface{}, error) {
		fees, err := e.PendingGovFees(p.CollateralIndex)
		return map[string]decimal.Decimal{"pending_gov_fees": fees}, err
	})
}

func (s *JSONRPCServer) getVaultFees(_ context.Context, params json.RawMessage) (interface{}, error) {
	return view(s, params, func(e *lx.Engine, _ lx.Env, p collateralParams) (interface{}, error) {
		fees, err := e.VaultFees(p.CollateralIndex)
		return map[string]decimal.Decimal{"vault_fees": fees}, err
	})
}

func (s *JSONRPCServer) getBalance(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p fundsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	balance, err := s.node.Balance(p.Address, p.Denom)
	return map[string]interface{}{"address": p.Address, "denom": p.Denom, "balance": balance}, err
}

func (s *JSONRPCServer) getBlock(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Height uint64 `json:"height"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	b, ok, err := s.node.Block(p.Height)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("block %d not found", p.Height)}
	}
	return b, nil
}

func (s *JSONRPCServer) deposit(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p fundsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	balance, err := s.node.Deposit(p.Address, p.Denom, p.Amount)
	return map[string]interface{}{"address": p.Address, "denom": p.Denom, "balance": balance}, err
}

func (s *JSONRPCServer) withdraw(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p fundsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	balance, err := s.node.Withdraw(p.Address, p.Denom, p.Amount)
	return map[string]interface{}{"address": p.Address, "denom": p.Denom, "balance": balance}, err
}

func (s *JSONRPCServer) setPrice(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p priceParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := s.node.Feed().SetPrice(p.Index, p.Price); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return map[string]interface{}{"index": p.Index, "price": p.Price}, nil
}

func (s *JSONRPCServer) setCollateralPrice(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p priceParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := s.node.Feed().SetCollateralPrice(p.Index, p.Price); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return map[string]interface{}{"index": p.Index, "price": p.Price}, nil
}
