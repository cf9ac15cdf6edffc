package driver

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// txBackend serves transaction commands and records ping times.
type txBackend struct {
	mu       sync.Mutex
	pings    []time.Time
	failPing bool
	// pingErr, when set, is returned by pings instead of NoSuchTransaction.
	pingErr    error
	failCommit bool
	commands   []string
}

func (b *txBackend) Kind() BackendKind { return BackendHTTP }
func (b *txBackend) Close() error      { return nil }

func (b *txBackend) Execute(_ context.Context, call *Call) (*Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, call.Descriptor.Name)
	switch call.Descriptor.Name {
	case "start_transaction":
		return &Response{Value: ytree.String("1-2-3-4")}, nil
	case "ping_transaction":
		if b.pingErr != nil {
			return nil, b.pingErr
		}
		if b.failPing {
			return nil, yterrs.New(yterrs.KindNoSuchTransaction, "no such transaction 1-2-3-4")
		}
		b.pings = append(b.pings, time.Now())
	case "commit_transaction":
		if b.failCommit {
			return nil, yterrs.New(yterrs.KindConcurrentTransactionLock, "cannot take lock")
		}
	}
	return &Response{}, nil
}

func (b *txBackend) pingTimes() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Time(nil), b.pings...)
}

func (b *txBackend) setFailPing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPing = v
}

func (b *txBackend) setFailCommit(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCommit = v
}

func (b *txBackend) countCommand(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, c := range b.commands {
		if c == name {
			count++
		}
	}
	return count
}

func (b *txBackend) lastCommand() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commands[len(b.commands)-1]
}

func newTxDriver(b *txBackend) *Driver {
	return NewWithBackend(Config{
		Proxy: "localhost:1",
		Retry: yterrs.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 10 * time.Millisecond},
	}, b, logr.Discard())
}

func TestTxPingGap(t *testing.T) {
	b := &txBackend{}
	d := newTxDriver(b)
	ctx := context.Background()

	period := 20 * time.Millisecond
	tx, err := d.StartTx(ctx, TxOptions{Timeout: time.Second, PingPeriod: period})
	require.NoError(t, err)
	require.Equal(t, "1-2-3-4", tx.ID())
	require.Len(t, d.ActiveTxs(), 1)

	start := time.Now()
	time.Sleep(10 * period)
	require.NoError(t, tx.Commit(ctx))

	pings := b.pingTimes()
	require.GreaterOrEqual(t, len(pings), 3)
	prev := start
	for _, p := range pings {
		require.LessOrEqual(t, p.Sub(prev), 2*period+10*time.Millisecond)
		prev = p
	}
	require.Equal(t, "commit_transaction", b.lastCommand())
	require.Empty(t, d.ActiveTxs())
	require.False(t, tx.Active())

	count := len(b.pingTimes())
	time.Sleep(3 * period)
	require.Equal(t, count, len(b.pingTimes()))
}

func TestTxPingFailedInterruptMain(t *testing.T) {
	b := &txBackend{failPing: true}
	d := newTxDriver(b)
	ctx := context.Background()

	tx, err := d.StartTx(ctx, TxOptions{PingPeriod: 5 * time.Millisecond, PingFailedMode: PingFailedInterruptMain})
	require.NoError(t, err)

	select {
	case err := <-tx.PingFailed():
		require.True(t, yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction))
	case <-time.After(5 * time.Second):
		t.Fatal("ping failure was not reported")
	}
	<-tx.Context().Done()
	require.True(t, yterrs.ContainsKind(context.Cause(tx.Context()), yterrs.KindNoSuchTransaction))

	b.setFailPing(false)
	require.NoError(t, tx.Close(ctx))
}

func TestTxPingFailedSendSignal(t *testing.T) {
	b := &txBackend{failPing: true}
	d := newTxDriver(b)
	ctx := context.Background()

	signals := make(chan os.Signal, 1)
	tx, err := d.StartTx(ctx, TxOptions{
		PingPeriod:     5 * time.Millisecond,
		PingFailedMode: PingFailedSendSignal,
		Signal:         signals,
	})
	require.NoError(t, err)

	select {
	case sig := <-signals:
		require.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not delivered")
	}
	require.Error(t, <-tx.PingFailed())
	require.False(t, tx.Active())
	require.ErrorIs(t, tx.Abort(ctx), ErrTxFinished)
}

func TestTxPingFailedCallFunction(t *testing.T) {
	b := &txBackend{pingErr: yterrs.New(yterrs.KindMasterCommunicationError, "master is unreachable")}
	d := newTxDriver(b)
	ctx := context.Background()

	called := make(chan error, 1)
	tx, err := d.StartTx(ctx, TxOptions{
		PingPeriod:     5 * time.Millisecond,
		PingFailedMode: PingFailedCallFunction,
		OnPingFailed:   func(err error) { called <- err },
	})
	require.NoError(t, err)

	select {
	case err := <-called:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}
	require.NoError(t, tx.Context().Err())
	require.NoError(t, tx.Close(ctx))
	require.Equal(t, "abort_transaction", b.lastCommand())
}

func TestTxNoPing(t *testing.T) {
	b := &txBackend{}
	d := newTxDriver(b)
	ctx := context.Background()

	tx, err := d.StartTx(ctx, TxOptions{NoPing: true, Title: "no ping", PingPeriod: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, b.pingTimes())
	require.NoError(t, tx.Close(ctx))
	require.NoError(t, tx.Close(ctx))
}

func TestTxPingStopsOnExpiredTransaction(t *testing.T) {
	b := &txBackend{failPing: true}
	d := newTxDriver(b)
	ctx := context.Background()

	tx, err := d.StartTx(ctx, TxOptions{PingPeriod: 10 * time.Millisecond, PingFailedMode: PingFailedPass})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !tx.Active() }, 5*time.Second, 5*time.Millisecond)
	require.Empty(t, d.ActiveTxs())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, b.countCommand("ping_transaction"))
	require.NoError(t, tx.Context().Err())
	require.NoError(t, tx.Close(ctx))
	require.Equal(t, 0, b.countCommand("abort_transaction"))
}

func TestTxFailedCommitKeepsPinging(t *testing.T) {
	b := &txBackend{failCommit: true}
	d := newTxDriver(b)
	ctx := context.Background()

	tx, err := d.StartTx(ctx, TxOptions{Timeout: time.Second, PingPeriod: 5 * time.Millisecond})
	require.NoError(t, err)

	require.Error(t, tx.Commit(ctx))
	require.True(t, tx.Active())
	require.Len(t, d.ActiveTxs(), 1)

	count := len(b.pingTimes())
	require.Eventually(t, func() bool { return len(b.pingTimes()) > count+1 }, 5*time.Second, 5*time.Millisecond)

	b.setFailCommit(false)
	require.NoError(t, tx.Commit(ctx))
	require.False(t, tx.Active())
	require.Empty(t, d.ActiveTxs())
}
