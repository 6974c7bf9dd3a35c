// Package oracle holds the spot prices the engine executes against.
package oracle

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/lx"
)

type quote struct {
	price  decimal.Decimal
	height uint64
}

// Feed is an in-memory price book keyed by oracle and collateral index. With
// a non-zero max age, prices older than that many blocks are unavailable.
type Feed struct {
	mu         sync.RWMutex
	prices     map[uint32]quote
	collateral map[uint32]quote
	maxAge     uint64
	height     uint64
}

// NewFeed creates an empty feed.
func NewFeed(maxAge uint64) *Feed {
	return &Feed{
		prices:     make(map[uint32]quote),
		collateral: make(map[uint32]quote),
		maxAge:     maxAge,
	}
}

// SetHeight advances the feed's view of the chain. Staleness is measured against it.
func (f *Feed) SetHeight(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if height > f.height {
		f.height = height
	}
}

// SetPrice records the price of oracleIndex.
func (f *Feed) SetPrice(oracleIndex uint32, price decimal.Decimal) error {
	return f.set(f.prices, oracleIndex, price)
}

// SetCollateralPrice records the USD price of a collateral.
func (f *Feed) SetCollateralPrice(collateralIndex uint32, price decimal.Decimal) error {
	return f.set(f.collateral, collateralIndex, price)
}

func (f *Feed) set(book map[uint32]quote, index uint32, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s for index %d", lx.ErrPriceUnavailable, price, index)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	book[index] = quote{price: price, height: f.height}
	return nil
}

// Price implements lx.Oracle.
func (f *Feed) Price(oracleIndex uint32) (decimal.Decimal, error) {
	return f.get(f.prices, "oracle", oracleIndex)
}

// CollateralPrice implements lx.Oracle.
func (f *Feed) CollateralPrice(collateralIndex uint32) (decimal.Decimal, error) {
	return f.get(f.collateral, "collateral", collateralIndex)
}

func (f *Feed) get(book map[uint32]quote, kind string, index uint32) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := book[index]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no %s price for index %d", lx.ErrPriceUnavailable, kind, index)
	}
	if f.maxAge > 0 && f.height-q.height > f.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s price for index %d is %d blocks old", lx.ErrPriceUnavailable, kind, index, f.height-q.height)
	}
	return q.price, nil
}

// Snapshot returns the current oracle prices.
func (f *Feed) Snapshot() map[uint32]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[uint32]decimal.Decimal, len(f.prices))
	for k, q := range f.prices {
		out[k] = q.price
	}
	return out
}
