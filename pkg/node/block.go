package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/database"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/lx"
	"github.com/luxfi/perps/pkg/settlement"
	"github.com/luxfi/perps/pkg/store"
)

// Block is the committed record of one block.
type Block struct {
	Height   uint64    `json:"height"`
	Time     time.Time `json:"time"`
	Commands int       `json:"commands"`
	Failed   int       `json:"failed"`
	Events   int       `json:"events"`
}

// Receipt is the effect of a committed command.
type Receipt struct {
	Height    uint64            `json:"height"`
	Time      time.Time         `json:"time"`
	Command   string            `json:"command"`
	Transfers []lx.Transfer     `json:"transfers,omitempty"`
	Events    []events.Envelope `json:"events,omitempty"`
	Trade     *lx.Trade         `json:"trade,omitempty"`
}

// Outcome is the result of one command in a block.
type Outcome struct {
	Receipt *Receipt
	Err     error
}

type submission struct {
	cmd  lx.Command
	done chan Outcome
}

// Submit queues cmd for the next block and waits for its outcome. If ctx ends
// while cmd is still queued it is withdrawn and never runs; once its block has
// taken it, Submit waits for the outcome regardless of ctx.
func (n *Node) Submit(ctx context.Context, cmd lx.Command) (*Receipt, error) {
	s := &submission{cmd: cmd, done: make(chan Outcome, 1)}

	n.pendingMu.Lock()
	if n.stopped {
		n.pendingMu.Unlock()
		return nil, ErrStopped
	}
	n.pending = append(n.pending, s)
	n.pendingMu.Unlock()

	select {
	case o := <-s.done:
		return o.Receipt, o.Err
	case <-ctx.Done():
		if n.dequeue(s) {
			return nil, ctx.Err()
		}
		o := <-s.done
		return o.Receipt, o.Err
	}
}

// dequeue removes s from the queue, reporting whether it was still there.
func (n *Node) dequeue(s *submission) bool {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for i, p := range n.pending {
		if p == s {
			n.pending = append(n.pending[:i:i], n.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of queued commands.
func (n *Node) Pending() int {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	return len(n.pending)
}

// FinalizeBlock executes every queued command in one block. With nothing
// queued no block is produced.
func (n *Node) FinalizeBlock() (*Block, error) {
	n.pendingMu.Lock()
	queued := n.pending
	n.pending = nil
	n.pendingMu.Unlock()

	if len(queued) == 0 {
		return nil, nil
	}

	cmds := make([]lx.Command, len(queued))
	for i, s := range queued {
		cmds[i] = s.cmd
	}
	block, outcomes, err := n.ExecuteBlock(cmds)
	if err != nil {
		for _, s := range queued {
			s.done <- Outcome{Err: err}
		}
		return nil, err
	}
	for i, s := range queued {
		s.done <- outcomes[i]
	}
	return block, nil
}

// Execute runs cmd alone in a new block.
func (n *Node) Execute(cmd lx.Command) (*Receipt, error) {
	_, outcomes, err := n.ExecuteBlock([]lx.Command{cmd})
	if err != nil {
		return nil, err
	}
	return outcomes[0].Receipt, outcomes[0].Err
}

// ExecuteBlock runs cmds at the next height. Each command commits on its own;
// a rejected command is reported in its outcome and does not fail the block.
func (n *Node) ExecuteBlock(cmds []lx.Command) (*Block, []Outcome, error) {
	n.mu.Lock()
	env := lx.Env{Height: n.height + 1, Time: n.blockTime()}
	n.feed.SetHeight(env.Height)

	block := &Block{Height: env.Height, Time: env.Time, Commands: len(cmds)}
	outcomes := make([]Outcome, len(cmds))
	var committed []*Receipt
	for i, cmd := range cmds {
		start := time.Now()
		receipt, err := n.executeTx(env, cmd)
		n.recordCommand(cmd.Name(), err, time.Since(start))
		if err != nil {
			block.Failed++
			n.logger.Warn("command rejected", "command", cmd.Name(), "height", env.Height, "error", err)
		} else {
			block.Events += len(receipt.Events)
			committed = append(committed, receipt)
		}
		outcomes[i] = Outcome{Receipt: receipt, Err: err}
	}

	n.height = env.Height
	n.last = env.Time
	err := n.storeBlock(block)
	n.mu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store block %d: %w", block.Height, err)
	}

	n.observe(block, committed)
	n.logger.Debug("block finalized",
		"height", block.Height,
		"commands", block.Commands,
		"failed", block.Failed,
		"events", block.Events,
	)
	return block, outcomes, nil
}

// executeTx runs one command in its own Tx. Collateral a command brings in is
// escrowed from the trader to the vault before the engine sees it, and the
// engine's transfers are paid out of the vault.
func (n *Node) executeTx(env lx.Env, cmd lx.Command) (*Receipt, error) {
	tx := n.store.Begin()
	defer tx.Discard()

	engine := lx.NewEngine(tx.Bucket(store.PrefixState), n.feed, n.logger)
	balances := tx.Bucket(store.PrefixBalances)

	if err := n.escrow(engine, balances, cmd); err != nil {
		return nil, err
	}

	res, err := engine.Execute(env, cmd)
	if err != nil {
		return nil, err
	}
	if err := n.ledger.Apply(balances, n.vault, res.Transfers); err != nil {
		return nil, fmt.Errorf("failed to settle transfers: %w", err)
	}
	if err := tx.SetHeight(env.Height); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &Receipt{
		Height:    env.Height,
		Time:      env.Time,
		Command:   cmd.Name(),
		Transfers: res.Transfers,
		Events:    events.Wrap(env, cmd.Name(), res.Events),
		Trade:     res.Trade,
	}, nil
}

func (n *Node) escrow(engine *lx.Engine, balances settlement.KV, cmd lx.Command) error {
	var (
		user       string
		collateral uint32
		amount     decimal.Decimal
	)
	switch c := cmd.(type) {
	case lx.OpenTrade:
		user, collateral, amount = c.Trade.User, c.Trade.CollateralIndex, c.Trade.CollateralAmount
	case lx.IncreasePositionSize:
		t, _, err := engine.Trade(c.User, c.Index)
		if err != nil {
			return err
		}
		user, collateral, amount = c.User, t.CollateralIndex, c.CollateralAmount
	}
	if !amount.IsPositive() {
		return nil
	}
	info, err := engine.Collateral(collateral)
	if err != nil {
		return err
	}
	return n.ledger.Transfer(balances, info.Denom, user, n.vault, amount)
}

func (n *Node) storeBlock(block *Block) error {
	value, err := json.Marshal(block)
	if err != nil {
		return err
	}
	tx := n.store.Begin()
	defer tx.Discard()
	if err := tx.Bucket(store.PrefixBlocks).Put(store.HeightKey(block.Height), value); err != nil {
		return err
	}
	if err := tx.SetHeight(block.Height); err != nil {
		return err
	}
	return tx.Commit()
}

// Block returns the record of a committed block.
func (n *Node) Block(height uint64) (Block, bool, error) {
	var b Block
	raw, err := n.store.Bucket(store.PrefixBlocks).Get(store.HeightKey(height))
	if errors.Is(err, database.ErrNotFound) {
		return b, false, nil
	}
	if err != nil {
		return b, false, err
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return b, true, nil
}

// ApplyGenesis writes the genesis market in one block. Every command must
// succeed or nothing is written.
func (n *Node) ApplyGenesis(cmds []lx.Command) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	applied, err := n.store.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return ErrGenesisApplied
	}

	env := lx.Env{Height: n.height + 1, Time: n.blockTime()}
	tx := n.store.Begin()
	defer tx.Discard()

	engine := lx.NewEngine(tx.Bucket(store.PrefixState), n.feed, n.logger)
	for _, cmd := range cmds {
		if _, err := engine.Execute(env, cmd); err != nil {
			return fmt.Errorf("genesis %s: %w", cmd.Name(), err)
		}
	}
	block, err := json.Marshal(Block{Height: env.Height, Time: env.Time, Commands: len(cmds)})
	if err != nil {
		return err
	}
	if err := tx.Bucket(store.PrefixBlocks).Put(store.HeightKey(env.Height), block); err != nil {
		return err
	}
	if err := tx.SetHeight(env.Height); err != nil {
		return err
	}
	if err := tx.MarkGenesis(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis: %w", err)
	}

	n.height = env.Height
	n.last = env.Time
	n.feed.SetHeight(env.Height)
	n.logger.Info("genesis applied", "height", env.Height, "commands", len(cmds))
	return nil
}
