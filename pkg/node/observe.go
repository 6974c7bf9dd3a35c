package node

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/lx"
	"github.com/luxfi/perps/pkg/store"
)

func (n *Node) recordCommand(name string, err error, elapsed time.Duration) {
	if n.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = lx.Classify(err).String()
	}
	n.metrics.RecordCommand(name, result, elapsed)
}

// observe publishes the block's events and updates metrics. It runs after
// commit, so a publisher failure never undoes state.
func (n *Node) observe(block *Block, receipts []*Receipt) {
	var envs []events.Envelope
	for _, r := range receipts {
		envs = append(envs, r.Events...)
	}

	if n.publisher != nil && len(envs) > 0 {
		if err := n.publisher.Publish(envs); err != nil {
			n.logger.Warn("failed to publish events", "height", block.Height, "error", err)
		} else if n.metrics != nil {
			n.metrics.RecordEventsPublished(len(envs))
		}
	}
	if n.metrics == nil {
		return
	}

	n.metrics.SetBlockHeight(block.Height)
	touched := map[[2]uint32]bool{}
	for _, e := range envs {
		switch e.Type {
		case "fees_distributed":
			n.metrics.RecordFee("opening", attrFloat(e, "total"))
		case "trade_closed", "trade_liquidated":
			n.metrics.RecordFee("closing", attrFloat(e, "closing_fee"))
			n.metrics.RecordFee("borrowing", attrFloat(e, "borrowing_fee"))
			if e.Type == "trade_liquidated" {
				n.metrics.RecordLiquidation()
			}
		case "position_increased":
			n.metrics.RecordFee("borrowing", attrFloat(e, "borrowing_fee"))
		case "gov_fees_claimed":
			n.metrics.RecordFee("gov_claimed", attrFloat(e, "amount"))
		}
		switch e.Type {
		case "trade_opened", "trade_closed", "trade_liquidated", "position_increased":
			collateral, cerr := strconv.ParseUint(e.Attributes["collateral_index"], 10, 32)
			pair, perr := strconv.ParseUint(e.Attributes["pair_index"], 10, 32)
			if cerr == nil && perr == nil {
				touched[[2]uint32{uint32(collateral), uint32(pair)}] = true
			}
		}
	}
	for key := range touched {
		n.updateOpenInterest(key[0], key[1])
	}
}

func (n *Node) updateOpenInterest(collateral, pairIndex uint32) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	engine := lx.NewEngine(n.store.Bucket(store.PrefixState), n.feed, n.logger)
	pair, err := engine.Pair(pairIndex)
	if err != nil {
		return
	}
	view, err := engine.PairBorrowing(lx.Env{Height: n.height, Time: n.last}, collateral, pairIndex)
	if err != nil {
		n.logger.Debug("failed to read open interest", "pair", pair.Name(), "error", err)
		return
	}
	n.metrics.SetOpenInterest(pair.Name(), "long", view.OpenInterest.Long.InexactFloat64())
	n.metrics.SetOpenInterest(pair.Name(), "short", view.OpenInterest.Short.InexactFloat64())
}

func attrFloat(e events.Envelope, key string) float64 {
	v, err := decimal.NewFromString(e.Attributes[key])
	if err != nil {
		return 0
	}
	return v.InexactFloat64()
}
