package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
)

// PingFailedMode selects what happens when a transaction ping fails.
type PingFailedMode int

const (
	// PingFailedPass logs the failure and keeps pinging.
	PingFailedPass PingFailedMode = iota
	// PingFailedCallFunction calls TxOptions.OnPingFailed and stops pinging.
	PingFailedCallFunction
	// PingFailedInterruptMain cancels Tx.Context and publishes on Tx.PingFailed.
	PingFailedInterruptMain
	// PingFailedSendSignal does what PingFailedInterruptMain does and also
	// notifies TxOptions.Signal.
	PingFailedSendSignal
)

const (
	DefaultTxTimeout    = 30 * time.Second
	DefaultTxPingPeriod = 5 * time.Second
)

var ErrTxFinished = errors.New("transaction is already finished")

type TxOptions struct {
	Timeout    time.Duration
	PingPeriod time.Duration
	// ParentID makes the transaction nested.
	ParentID      string
	PingAncestors bool
	Title         string
	Attributes    map[string]any
	// NoPing disables the background pinger.
	NoPing bool

	PingFailedMode PingFailedMode
	OnPingFailed   func(error)
	Signal         chan<- os.Signal
	// SignalValue is sent to Signal; SIGUSR1 by default.
	SignalValue os.Signal
}

func (o *TxOptions) setDefaults() {
	if o.Timeout == 0 {
		o.Timeout = DefaultTxTimeout
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = min(DefaultTxPingPeriod, o.Timeout/3)
	}
	if o.SignalValue == nil {
		o.SignalValue = syscall.SIGUSR1
	}
}

type txState int

const (
	txActive txState = iota
	txCommitted
	txAborted
)

// Tx is a master transaction with an optional background pinger.
type Tx struct {
	d    *Driver
	id   string
	opts TxOptions

	ctx    context.Context
	cancel context.CancelCauseFunc

	pingFailed chan error
	stopPinger context.CancelFunc
	pingerDone chan struct{}

	mu    sync.Mutex
	state txState
	// finishing is set while a commit or abort request is in flight.
	finishing bool
	lastPing  time.Time
}

// StartTx starts a master transaction. Unless NoPing is set, the transaction
// is pinged every PingPeriod until it is committed, aborted or closed.
func (d *Driver) StartTx(ctx context.Context, opts TxOptions, reqOpts ...Option) (*Tx, error) {
	opts.setDefaults()
	params := map[string]any{"timeout": opts.Timeout.Milliseconds()}
	if opts.ParentID != "" {
		params["transaction_id"] = opts.ParentID
		params["ping_ancestor_transactions"] = opts.PingAncestors
	}
	attrs := map[string]any{}
	for k, v := range opts.Attributes {
		attrs[k] = v
	}
	if opts.Title != "" {
		attrs["title"] = opts.Title
	}
	if len(attrs) > 0 {
		params["attributes"] = attrs
	}
	id, err := d.id(ctx, "start_transaction", params, reqOpts)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	tx := &Tx{
		d:          d,
		id:         id,
		opts:       opts,
		ctx:        txCtx,
		cancel:     cancel,
		pingFailed: make(chan error, 1),
		pingerDone: make(chan struct{}),
		lastPing:   time.Now(),
	}
	d.txMu.Lock()
	d.txs[id] = tx
	d.txMu.Unlock()

	if opts.NoPing {
		tx.stopPinger = func() {}
		close(tx.pingerDone)
	} else {
		pingCtx, stop := context.WithCancel(txCtx)
		tx.stopPinger = stop
		go tx.pinger(pingCtx)
	}
	return tx, nil
}

func (t *Tx) ID() string { return t.id }

// Option binds a request to this transaction.
func (t *Tx) Option() Option { return WithParam("transaction_id", t.id) }

// Context is cancelled when a ping fails under PingFailedInterruptMain or
// PingFailedSendSignal. context.Cause returns the ping error.
func (t *Tx) Context() context.Context { return t.ctx }

// PingFailed receives the ping error once pinging is given up.
func (t *Tx) PingFailed() <-chan error { return t.pingFailed }

func (t *Tx) LastPing() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPing
}

func (t *Tx) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txActive
}

func (t *Tx) pinger(ctx context.Context) {
	defer close(t.pingerDone)
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer ticker.Stop()
	logger := t.d.logger.WithValues("transaction_id", t.id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := t.d.PingTx(ctx, t.id, t.opts.PingAncestors)
		if err == nil {
			t.mu.Lock()
			t.lastPing = time.Now()
			t.mu.Unlock()
			continue
		}
		if ctx.Err() != nil {
			return
		}
		expired := yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction)
		err = fmt.Errorf("failed to ping transaction %s: %w", t.id, err)
		if expired {
			if !t.markExpired() {
				return
			}
			logger.Info("Transaction expired, pinger stopped", "error", err)
			if t.opts.PingFailedMode != PingFailedPass {
				t.onPingFailed(err)
			}
			return
		}
		if t.opts.PingFailedMode == PingFailedPass {
			logger.Info("Transaction ping failed", "error", err)
			continue
		}
		logger.Info("Transaction ping failed, pinger stopped", "error", err, "mode", t.opts.PingFailedMode)
		t.onPingFailed(err)
		return
	}
}

func (t *Tx) onPingFailed(err error) {
	switch t.opts.PingFailedMode {
	case PingFailedCallFunction:
		if t.opts.OnPingFailed != nil {
			t.opts.OnPingFailed(err)
		}
	case PingFailedInterruptMain, PingFailedSendSignal:
		t.pingFailed <- err
		t.cancel(err)
		if t.opts.PingFailedMode == PingFailedSendSignal && t.opts.Signal != nil {
			select {
			case t.opts.Signal <- t.opts.SignalValue:
			default:
			}
		}
	}
}

// markExpired records that the server no longer knows the transaction.
// It returns false if the transaction was finished concurrently.
func (t *Tx) markExpired() bool {
	t.mu.Lock()
	if t.state != txActive || t.finishing {
		t.mu.Unlock()
		return false
	}
	t.state = txAborted
	t.mu.Unlock()
	t.forget()
	return true
}

func (t *Tx) forget() {
	t.d.txMu.Lock()
	delete(t.d.txs, t.id)
	t.d.txMu.Unlock()
}

// StopPinger stops the background pinger and waits for it to exit.
func (t *Tx) StopPinger() {
	t.stopPinger()
	<-t.pingerDone
}

func (t *Tx) finish(ctx context.Context, command string, state txState) error {
	t.mu.Lock()
	if t.state != txActive || t.finishing {
		t.mu.Unlock()
		return ErrTxFinished
	}
	t.finishing = true
	t.mu.Unlock()

	// A failed commit leaves the transaction alive, so it keeps being pinged.
	if state == txAborted {
		t.StopPinger()
	}
	err := t.d.void(ctx, command, map[string]any{"transaction_id": t.id}, nil)
	if err != nil && state != txAborted {
		t.mu.Lock()
		t.finishing = false
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.state = state
	t.finishing = false
	t.mu.Unlock()
	t.StopPinger()
	t.cancel(context.Canceled)
	t.forget()
	return err
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit_transaction", txCommitted)
}

func (t *Tx) Abort(ctx context.Context) error {
	return t.finish(ctx, "abort_transaction", txAborted)
}

// Close aborts the transaction unless it is already finished. A transaction
// that expired on the server is not an error.
func (t *Tx) Close(ctx context.Context) error {
	err := t.Abort(ctx)
	if errors.Is(err, ErrTxFinished) || yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction) {
		return nil
	}
	return err
}

func (d *Driver) PingTx(ctx context.Context, id string, pingAncestors bool) error {
	return d.void(ctx, "ping_transaction", map[string]any{
		"transaction_id":             id,
		"ping_ancestor_transactions": pingAncestors,
	}, nil)
}

func (d *Driver) CommitTx(ctx context.Context, id string, opts ...Option) error {
	return d.void(ctx, "commit_transaction", map[string]any{"transaction_id": id}, opts)
}

func (d *Driver) AbortTx(ctx context.Context, id string, opts ...Option) error {
	return d.void(ctx, "abort_transaction", map[string]any{"transaction_id": id}, opts)
}

// ActiveTxs returns transactions started through this driver and not yet finished.
func (d *Driver) ActiveTxs() []*Tx {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	result := make([]*Tx, 0, len(d.txs))
	for _, tx := range d.txs {
		result = append(result, tx)
	}
	return result
}

// StopPingers stops pingers of all active transactions.
func (d *Driver) StopPingers() {
	for _, tx := range d.ActiveTxs() {
		tx.StopPinger()
	}
}
