package ytfake

import (
	"time"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

type transaction struct {
	id       string
	parentID string
	// timeout of zero never expires.
	timeout  time.Duration
	started  time.Time
	lastPing time.Time
	node     *node
}

func (tx *transaction) attr(name string) (*ytree.Node, bool) {
	switch name {
	case "timeout":
		return ytree.Int(tx.timeout.Milliseconds()), true
	case "start_time":
		return ytree.String(tx.started.UTC().Format(time.RFC3339Nano)), true
	case "last_ping_time":
		return ytree.String(tx.lastPing.UTC().Format(time.RFC3339Nano)), true
	case "parent_id":
		if tx.parentID != "" {
			return ytree.String(tx.parentID), true
		}
	}
	return nil, false
}

func (c *Cluster) startTx(parentID string, timeout time.Duration, attrs map[string]*ytree.Node) *transaction {
	n := c.newNode(typeTransaction)
	for key, value := range attrs {
		n.attrs[key] = value.Clone()
	}
	now := c.now()
	tx := &transaction{
		id:       n.id,
		parentID: parentID,
		timeout:  timeout,
		started:  now,
		lastPing: now,
		node:     n,
	}
	c.txs[tx.id] = tx
	c.mustResolve(consts.TransactionsPath).addChild(tx.id, n)
	return tx
}

// expireTxs aborts transactions that were not pinged in time.
func (c *Cluster) expireTxs() {
	now := c.now()
	for _, tx := range c.txs {
		if tx.timeout > 0 && now.Sub(tx.lastPing) > tx.timeout {
			c.logger.V(1).Info("Transaction expired", "transaction_id", tx.id)
			c.finishTx(tx, false)
		}
	}
}

func (c *Cluster) liveTx(id string) (*transaction, *yterrors.Error) {
	if id == "" {
		return nil, badParam("Parameter \"transaction_id\" is required")
	}
	tx, ok := c.txs[id]
	if !ok {
		return nil, noSuchTransaction(id)
	}
	return tx, nil
}

// checkTxParam validates an optional transaction_id parameter.
func (c *Cluster) checkTxParam(p *params) *yterrors.Error {
	if id := p.str("transaction_id"); id != "" {
		_, err := c.liveTx(id)
		return err
	}
	return nil
}

// finishTx commits or aborts tx. Nested transactions are aborted and
// operations running under an aborted transaction fail.
func (c *Cluster) finishTx(tx *transaction, commit bool) {
	if _, ok := c.txs[tx.id]; !ok {
		return
	}
	delete(c.txs, tx.id)
	for _, child := range c.txs {
		if child.parentID == tx.id {
			c.finishTx(child, false)
		}
	}
	c.detach(tx.node)
	c.unregister(tx.node)
	if commit {
		return
	}
	for _, op := range c.ops {
		if op.txID == tx.id {
			c.failOperation(op, &yterrors.Error{
				Code:        yterrs.CodeGeneric,
				Message:     "Operation transaction was aborted",
				InnerErrors: []*yterrors.Error{noSuchTransaction(tx.id)},
			})
		}
	}
}

func (c *Cluster) startTransaction(p *params) (*ytree.Node, *yterrors.Error) {
	parentID := p.str("transaction_id")
	if parentID != "" {
		if _, err := c.liveTx(parentID); err != nil {
			return nil, err
		}
	}
	timeout := defaultTxTimeout
	if ms := p.node("timeout").IntOr(0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	attrs, _ := p.node("attributes").AsMap()
	if title := p.str("title"); title != "" {
		if attrs == nil {
			attrs = map[string]*ytree.Node{}
		}
		attrs["title"] = ytree.String(title)
	}
	tx := c.startTx(parentID, timeout, attrs)
	return ytree.String(tx.id), nil
}

func (c *Cluster) pingTransaction(p *params) (*ytree.Node, *yterrors.Error) {
	tx, err := c.liveTx(p.str("transaction_id"))
	if err != nil {
		return nil, err
	}
	now := c.now()
	tx.lastPing = now
	if p.flag("ping_ancestor_transactions") {
		for parent := c.txs[tx.parentID]; parent != nil; parent = c.txs[parent.parentID] {
			parent.lastPing = now
		}
	}
	return nil, nil
}

func (c *Cluster) commitTransaction(p *params) (*ytree.Node, *yterrors.Error) {
	tx, err := c.liveTx(p.str("transaction_id"))
	if err != nil {
		return nil, err
	}
	c.finishTx(tx, true)
	return nil, nil
}

func (c *Cluster) abortTransaction(p *params) (*ytree.Node, *yterrors.Error) {
	tx, err := c.liveTx(p.str("transaction_id"))
	if err != nil {
		return nil, err
	}
	c.finishTx(tx, false)
	return nil, nil
}
