// Package node runs the perpetuals engine as a single-sequencer chain. Commands
// are queued, executed in blocks and committed one Tx per command, so a failed
// command leaves no trace while the rest of its block commits.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/lx"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/oracle"
	"github.com/luxfi/perps/pkg/settlement"
	"github.com/luxfi/perps/pkg/store"
)

var (
	ErrStopped        = errors.New("node stopped")
	ErrGenesisApplied = errors.New("genesis already applied")
)

// DefaultVault holds escrowed collateral, undistributed fees and the
// liquidity that pays trader profits.
const DefaultVault = "lux1vault"

// Node sequences commands into blocks.
type Node struct {
	store     *store.Store
	feed      *oracle.Feed
	ledger    *settlement.Ledger
	publisher events.Publisher
	metrics   *metrics.Metrics
	clock     Clock
	vault     string
	logger    log.Logger

	// mu orders block execution against views of committed state.
	mu     sync.RWMutex
	height uint64
	last   time.Time

	pendingMu sync.Mutex
	pending   []*submission
	stopped   bool

	wg sync.WaitGroup
}

// Option configures a Node.
type Option func(*Node)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithPublisher delivers committed events to p.
func WithPublisher(p events.Publisher) Option {
	return func(n *Node) { n.publisher = p }
}

// WithMetrics records commands, fees and open interest in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithVault sets the account collateral is escrowed to and paid out of.
func WithVault(addr string) Option {
	return func(n *Node) { n.vault = addr }
}

// New creates a node over st, resuming from its committed height.
func New(st *store.Store, feed *oracle.Feed, logger log.Logger, opts ...Option) (*Node, error) {
	n := &Node{
		store:  st,
		feed:   feed,
		ledger: settlement.NewLedger(logger),
		clock:  wallClock{},
		vault:  DefaultVault,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}

	height, err := st.Height()
	if err != nil {
		return nil, fmt.Errorf("failed to load height: %w", err)
	}
	n.height = height
	if height > 0 {
		b, ok, err := n.Block(height)
		if err != nil {
			return nil, err
		}
		if ok {
			n.last = b.Time
		}
		logger.Info("resuming from committed state", "height", height)
	} else {
		logger.Info("no previous state found, starting fresh")
	}
	feed.SetHeight(height)
	return n, nil
}

// Height returns the last committed height.
func (n *Node) Height() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.height
}

// Vault returns the account that holds the engine's collateral.
func (n *Node) Vault() string {
	return n.vault
}

// Feed returns the price feed the engine executes against.
func (n *Node) Feed() *oracle.Feed {
	return n.feed
}

// Deposit credits amount of denom to addr outside of block production.
func (n *Node) Deposit(addr, denom string, amount decimal.Decimal) (decimal.Decimal, error) {
	return n.moveFunds(addr, denom, amount, n.ledger.Credit)
}

// Withdraw debits amount of denom from addr.
func (n *Node) Withdraw(addr, denom string, amount decimal.Decimal) (decimal.Decimal, error) {
	return n.moveFunds(addr, denom, amount, n.ledger.Debit)
}

func (n *Node) moveFunds(addr, denom string, amount decimal.Decimal, move func(settlement.KV, string, string, decimal.Decimal) error) (decimal.Decimal, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tx := n.store.Begin()
	defer tx.Discard()
	balances := tx.Bucket(store.PrefixBalances)
	if err := move(balances, denom, addr, amount); err != nil {
		return decimal.Zero, err
	}
	balance, err := settlement.Balance(balances, denom, addr)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit: %w", err)
	}
	return balance, nil
}

// Balance returns the committed balance of addr.
func (n *Node) Balance(addr, denom string) (decimal.Decimal, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return settlement.Balance(n.store.Bucket(store.PrefixBalances), denom, addr)
}

// View runs fn against the committed state at the current height.
func (n *Node) View(fn func(e *lx.Engine, env lx.Env) error) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	env := lx.Env{Height: n.height, Time: n.blockTime()}
	return fn(lx.NewEngine(n.store.Bucket(store.PrefixState), n.feed, n.logger), env)
}

// Run produces a block every interval until ctx is done. Commands still
// queued when it returns fail with ErrStopped.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	n.wg.Add(1)
	defer n.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.stop()
			return
		case <-ticker.C:
			if _, err := n.FinalizeBlock(); err != nil {
				n.logger.Error("failed to finalize block", "error", err)
			}
		}
	}
}

// Wait blocks until Run has returned.
func (n *Node) Wait() {
	n.wg.Wait()
}

func (n *Node) stop() {
	n.pendingMu.Lock()
	queued := n.pending
	n.pending = nil
	n.stopped = true
	n.pendingMu.Unlock()

	for _, s := range queued {
		s.done <- Outcome{Err: ErrStopped}
	}
}

// blockTime never goes backwards.
func (n *Node) blockTime() time.Time {
	now := n.clock.Now()
	if now.Before(n.last) {
		return n.last
	}
	return now
}
