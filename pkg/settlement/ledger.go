// Package settlement keeps account balances and applies the transfers the
// engine emits. Collateral held by the engine sits in a vault account, so
// every movement is a debit paired with a credit.
package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/lx"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// KV is where balances are stored. Pass the balance bucket of the same Tx the
// engine writes to so payouts commit with the state change.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Ledger moves balances. It holds no state of its own.
type Ledger struct {
	logger log.Logger
}

// NewLedger creates a ledger.
func NewLedger(logger log.Logger) *Ledger {
	return &Ledger{logger: logger}
}

func balanceKey(denom, addr string) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(len(denom)))
	b = append(b, denom...)
	return append(b, addr...)
}

// Balance returns addr's balance of denom.
func Balance(kv KV, denom, addr string) (decimal.Decimal, error) {
	raw, err := kv.Get(balanceKey(denom, addr))
	if errors.Is(err, database.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalText(raw); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance %s/%s: %w", denom, addr, err)
	}
	return amount, nil
}

func setBalance(kv KV, denom, addr string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return kv.Delete(balanceKey(denom, addr))
	}
	raw, err := amount.MarshalText()
	if err != nil {
		return err
	}
	return kv.Put(balanceKey(denom, addr), raw)
}

// Credit adds amount to addr.
func (l *Ledger) Credit(kv KV, denom, addr string, amount decimal.Decimal) error {
	if !amount.IsPositive() || addr == "" || denom == "" {
		return fmt.Errorf("%w: credit %s %s to %q", ErrInvalidAmount, amount, denom, addr)
	}
	balance, err := Balance(kv, denom, addr)
	if err != nil {
		return err
	}
	return setBalance(kv, denom, addr, balance.Add(amount))
}

// Debit removes amount from addr, failing when the balance is short.
func (l *Ledger) Debit(kv KV, denom, addr string, amount decimal.Decimal) error {
	if !amount.IsPositive() || addr == "" || denom == "" {
		return fmt.Errorf("%w: debit %s %s from %q", ErrInvalidAmount, amount, denom, addr)
	}
	balance, err := Balance(kv, denom, addr)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, addr, balance, denom, amount)
	}
	return setBalance(kv, denom, addr, balance.Sub(amount))
}

// Transfer moves amount of denom from one account to another.
func (l *Ledger) Transfer(kv KV, denom, from, to string, amount decimal.Decimal) error {
	if to == "" {
		return fmt.Errorf("%w: transfer %s %s to nobody", ErrInvalidAmount, amount, denom)
	}
	if err := l.Debit(kv, denom, from, amount); err != nil {
		return err
	}
	return l.Credit(kv, denom, to, amount)
}

// Apply pays every transfer out of the from account, which must hold enough
// of each denom.
func (l *Ledger) Apply(kv KV, from string, transfers []lx.Transfer) error {
	for _, t := range transfers {
		if err := l.Transfer(kv, t.Denom, from, t.Recipient, t.Amount); err != nil {
			return err
		}
		l.logger.Debug("transfer applied", "denom", t.Denom, "from", from, "recipient", t.Recipient, "amount", t.Amount)
	}
	return nil
}
