package lx

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/shopspring/decimal"
)

// KVStore is the subset of database.Database the engine reads and writes.
// Implementations must give read-your-writes within one invocation.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Key encodes a composite storage key.
type Key interface {
	Bytes() []byte
}

// Index keys records by a single index.
type Index uint32

func (i Index) Bytes() []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(i))
}

// Addr keys records by address.
type Addr string

func (a Addr) Bytes() []byte {
	return appendString(nil, string(a))
}

// PairKey scopes pair records by collateral.
type PairKey struct {
	Collateral uint32
	Pair       uint32
}

func (k PairKey) Bytes() []byte {
	b := binary.BigEndian.AppendUint32(nil, k.Collateral)
	return binary.BigEndian.AppendUint32(b, k.Pair)
}

// GroupKey scopes group records by collateral.
type GroupKey struct {
	Collateral uint32
	Group      uint32
}

func (k GroupKey) Bytes() []byte {
	b := binary.BigEndian.AppendUint32(nil, k.Collateral)
	return binary.BigEndian.AppendUint32(b, k.Group)
}

// TradeKey identifies a trade.
type TradeKey struct {
	User  string
	Index uint32
}

func (k TradeKey) Bytes() []byte {
	return binary.BigEndian.AppendUint32(appendString(nil, k.User), k.Index)
}

// WindowKey identifies an OI window bucket.
type WindowKey struct {
	Duration uint64
	Pair     uint32
	Window   uint64
}

func (k WindowKey) Bytes() []byte {
	b := binary.BigEndian.AppendUint64(nil, k.Duration)
	b = binary.BigEndian.AppendUint32(b, k.Pair)
	return binary.BigEndian.AppendUint64(b, k.Window)
}

// DayKey identifies a trader's daily fee-tier record.
type DayKey struct {
	User string
	Day  uint64
}

func (k DayKey) Bytes() []byte {
	return binary.BigEndian.AppendUint64(appendString(nil, k.User), k.Day)
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// Map is a typed namespace of JSON records.
type Map[K Key, V any] struct {
	namespace string
}

// NewMap returns a map stored under namespace.
func NewMap[K Key, V any](namespace string) Map[K, V] {
	return Map[K, V]{namespace: namespace}
}

func (m Map[K, V]) key(k K) []byte {
	return append([]byte(m.namespace+"/"), k.Bytes()...)
}

// Load returns the record or an error wrapping ErrStorageMiss.
func (m Map[K, V]) Load(kv KVStore, k K) (V, error) {
	v, ok, err := m.MayLoad(kv, k)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%w: %s/%x", ErrStorageMiss, m.namespace, k.Bytes())
	}
	return v, nil
}

// MayLoad returns the record and whether it exists. A missing record yields the zero value.
func (m Map[K, V]) MayLoad(kv KVStore, k K) (V, bool, error) {
	var v V
	raw, err := kv.Get(m.key(k))
	if errors.Is(err, database.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", m.namespace, err)
	}
	return v, true, nil
}

// Has reports whether the record exists.
func (m Map[K, V]) Has(kv KVStore, k K) (bool, error) {
	return kv.Has(m.key(k))
}

// Save writes the record.
func (m Map[K, V]) Save(kv KVStore, k K, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.namespace, err)
	}
	return kv.Put(m.key(k), raw)
}

// Remove deletes the record.
func (m Map[K, V]) Remove(kv KVStore, k K) error {
	return kv.Delete(m.key(k))
}

type singleton struct{}

func (singleton) Bytes() []byte { return nil }

// Item is a single typed record.
type Item[V any] struct {
	m Map[singleton, V]
}

// NewItem returns an item stored under name.
func NewItem[V any](name string) Item[V] {
	return Item[V]{m: NewMap[singleton, V](name)}
}

func (i Item[V]) Load(kv KVStore) (V, error)          { return i.m.Load(kv, singleton{}) }
func (i Item[V]) MayLoad(kv KVStore) (V, bool, error) { return i.m.MayLoad(kv, singleton{}) }
func (i Item[V]) Save(kv KVStore, v V) error          { return i.m.Save(kv, singleton{}, v) }
func (i Item[V]) Remove(kv KVStore) error             { return i.m.Remove(kv, singleton{}) }

// Persistent state of the venue.
var (
	trades          = NewMap[TradeKey, Trade]("trade")
	tradeInfos      = NewMap[TradeKey, TradeInfo]("trade_info")
	initialAccFees  = NewMap[TradeKey, InitialAccFees]("initial_acc_fees")
	userCounters    = NewMap[Addr, uint32]("user_counter")
	pairs           = NewMap[Index, Pair]("pair")
	groups          = NewMap[Index, Group]("group")
	fees            = NewMap[Index, Fee]("fee")
	collaterals     = NewMap[Index, Collateral]("collateral")
	customLeverage  = NewMap[Index, decimal.Decimal]("pair_custom_max_leverage")
	pairBorrowing   = NewMap[PairKey, BorrowingData]("borrowing_pair")
	groupBorrowing  = NewMap[GroupKey, BorrowingData]("borrowing_group")
	pairOis         = NewMap[PairKey, OpenInterest]("oi_pair")
	groupOis        = NewMap[GroupKey, OpenInterest]("oi_group")
	pairGroups      = NewMap[PairKey, []BorrowingPairGroup]("pair_groups")
	oiWindows       = NewMap[WindowKey, PairOi]("oi_window")
	pairDepths      = NewMap[Index, PairDepth]("pair_depth")
	windowsSettings = NewItem[OiWindowsSettings]("oi_windows_settings")
	feeTiers        = NewItem[[]FeeTier]("fee_tiers")
	volumeMults     = NewMap[Index, decimal.Decimal]("group_volume_multiplier")
	traderInfos     = NewMap[Addr, TraderInfo]("trader_info")
	traderDailies   = NewMap[DayKey, TraderDailyInfo]("trader_daily_info")
	pendingGovFees  = NewMap[Index, decimal.Decimal]("pending_gov_fees")
	vaultFees       = NewMap[Index, decimal.Decimal]("vault_fees")
	vaultClosingFee = NewItem[decimal.Decimal]("vault_closing_fee_p")
	tradingState    = NewItem[TradingState]("trading_state")
	addresses       = NewItem[Addresses]("addresses")
)
