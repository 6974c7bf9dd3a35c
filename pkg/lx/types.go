package lx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType distinguishes live trades from pending orders.
type TradeType uint8

const (
	TradeTypeMarket TradeType = iota
	TradeTypeLimit
	TradeTypeStop
)

func (t TradeType) String() string {
	switch t {
	case TradeTypeMarket:
		return "market"
	case TradeTypeLimit:
		return "limit"
	case TradeTypeStop:
		return "stop"
	default:
		return fmt.Sprintf("trade_type(%d)", uint8(t))
	}
}

// MarshalJSON encodes the trade type by name.
func (t TradeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a trade type by name.
func (t *TradeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "market", "":
		*t = TradeTypeMarket
	case "limit":
		*t = TradeTypeLimit
	case "stop":
		*t = TradeTypeStop
	default:
		return fmt.Errorf("unknown trade type %q", s)
	}
	return nil
}

// OrderType is the kind of execution that opens or closes a trade.
type OrderType uint8

const (
	OrderMarketOpen OrderType = iota
	OrderMarketClose
	OrderLimitOpen
	OrderStopOpen
	OrderTpClose
	OrderSlClose
	OrderLiqClose
)

var orderTypeNames = map[OrderType]string{
	OrderMarketOpen:  "market_open",
	OrderMarketClose: "market_close",
	OrderLimitOpen:   "limit_open",
	OrderStopOpen:    "stop_open",
	OrderTpClose:     "tp_close",
	OrderSlClose:     "sl_close",
	OrderLiqClose:    "liq_close",
}

func (o OrderType) String() string {
	if name, ok := orderTypeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("order_type(%d)", uint8(o))
}

// MarshalJSON encodes the order type by name.
func (o OrderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an order type by name.
func (o *OrderType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, name := range orderTypeNames {
		if name == s {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown order type %q", s)
}

// IsTrigger reports whether the order is executed by a third party.
func (o OrderType) IsTrigger() bool {
	return o != OrderMarketOpen && o != OrderMarketClose
}

// TradingState gates which commands are accepted.
type TradingState uint8

const (
	TradingActivated TradingState = iota
	TradingCloseOnly
	TradingPaused
)

func (s TradingState) String() string {
	switch s {
	case TradingActivated:
		return "activated"
	case TradingCloseOnly:
		return "close_only"
	case TradingPaused:
		return "paused"
	default:
		return fmt.Sprintf("trading_state(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name.
func (s TradingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state by name.
func (s *TradingState) UnmarshalText(text []byte) error {
	for _, state := range []TradingState{TradingActivated, TradingCloseOnly, TradingPaused} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown trading state %q", text)
}

// Trade is a position or pending order. Identity is (User, Index).
type Trade struct {
	User             string          `json:"user"`
	Index            uint32          `json:"index"`
	PairIndex        uint32          `json:"pair_index"`
	CollateralIndex  uint32          `json:"collateral_index"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	Leverage         decimal.Decimal `json:"leverage"`
	Long             bool            `json:"long"`
	IsOpen           bool            `json:"is_open"`
	TradeType        TradeType       `json:"trade_type"`
	OpenPrice        decimal.Decimal `json:"open_price"`
	Tp               decimal.Decimal `json:"tp"`
	Sl               decimal.Decimal `json:"sl"`
}

// PositionSizeCollateral is collateral × leverage, floored.
func (t *Trade) PositionSizeCollateral() decimal.Decimal {
	return t.CollateralAmount.Mul(t.Leverage).Floor()
}

// Pending reports whether the trade is a limit or stop order waiting for its trigger.
func (t *Trade) Pending() bool {
	return t.TradeType != TradeTypeMarket
}

func (t *Trade) key() TradeKey {
	return TradeKey{User: t.User, Index: t.Index}
}

// TradeInfo holds bookkeeping that lives beside a Trade.
type TradeInfo struct {
	CreatedBlock       uint64          `json:"created_block"`
	TpLastUpdatedBlock uint64          `json:"tp_last_updated_block"`
	SlLastUpdatedBlock uint64          `json:"sl_last_updated_block"`
	LastOiUpdateTs     int64           `json:"last_oi_update_ts"`
	CollateralPriceUsd decimal.Decimal `json:"collateral_price_usd"`
	MaxSlippageP       decimal.Decimal `json:"max_slippage_p"`
	LastWindowOiUsd    decimal.Decimal `json:"last_window_oi_usd"`
}

// Pair is a tradable market.
type Pair struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	SpreadP     decimal.Decimal `json:"spread_p"`
	OracleIndex uint32          `json:"oracle_index"`
	GroupIndex  uint32          `json:"group_index"`
	FeeIndex    uint32          `json:"fee_index"`
}

// Name returns the pair symbol, e.g. BTC/USD.
func (p Pair) Name() string {
	return p.From + "/" + p.To
}

// Group bounds the leverage of its pairs.
type Group struct {
	Name        string          `json:"name"`
	MinLeverage decimal.Decimal `json:"min_leverage"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`
}

// Fee is a fee schedule shared by pairs.
type Fee struct {
	Name               string          `json:"name"`
	OpenFeeP           decimal.Decimal `json:"open_fee_p"`
	CloseFeeP          decimal.Decimal `json:"close_fee_p"`
	OracleFeeP         decimal.Decimal `json:"oracle_fee_p"`
	TriggerOrderFeeP   decimal.Decimal `json:"trigger_order_fee_p"`
	MinPositionSizeUsd decimal.Decimal `json:"min_position_size_usd"`
}

// MinFeeUsd is the fee paid by a minimum-size position opened and closed by triggers.
func (f Fee) MinFeeUsd() decimal.Decimal {
	return f.MinPositionSizeUsd.Mul(f.OpenFeeP.Mul(two).Add(f.TriggerOrderFeeP))
}

// Collateral is an accepted settlement denomination.
type Collateral struct {
	Denom string `json:"denom"`
}

// Addresses receive protocol fees.
type Addresses struct {
	Gov     string `json:"gov"`
	Staking string `json:"staking"`
}

// Env is the host-supplied position in the chain.
type Env struct {
	Height uint64
	Time   time.Time
}

// Transfer instructs the settlement layer to pay Amount of Denom to Recipient.
type Transfer struct {
	Denom     string          `json:"denom"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// Event describes a state change for subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Result carries the effects of a successful command.
type Result struct {
	Transfers []Transfer `json:"transfers,omitempty"`
	Events    []Event    `json:"events,omitempty"`
	Trade     *Trade     `json:"trade,omitempty"`
}

func (r *Result) pay(denom, recipient string, amount decimal.Decimal) {
	if !amount.IsPositive() || recipient == "" {
		return
	}
	r.Transfers = append(r.Transfers, Transfer{Denom: denom, Recipient: recipient, Amount: amount})
}

func (r *Result) emit(typ string, kv ...string) {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	r.Events = append(r.Events, Event{Type: typ, Attributes: attrs})
}
