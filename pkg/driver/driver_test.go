package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	mock_yt "github.com/ytsaurus/ytsaurus-harness/pkg/mock"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func testConfig() driver.Config {
	return driver.Config{
		Cluster: "test",
		Proxy:   "localhost:1",
		Retry: yterrs.RetryPolicy{
			InitialInterval:  time.Millisecond,
			MaxInterval:      2 * time.Millisecond,
			MaxElapsedTime:   time.Second,
			MaxTabletRetries: 2,
		},
	}
}

func newMockDriver(t *testing.T) (*driver.Driver, *mock_yt.MockBackend) {
	ctrl := gomock.NewController(t)
	backend := mock_yt.NewMockBackend(ctrl)
	backend.EXPECT().Kind().Return(driver.BackendHTTP).AnyTimes()
	return driver.NewWithBackend(testConfig(), backend, logr.Discard()), backend
}

func value(v *ytree.Node) *driver.Response {
	return &driver.Response{Value: v}
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	gomock.InOrder(
		backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return(nil, yterrs.New(yterrs.KindRPCUnavailable, "proxy is down")),
		backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return(nil, yterrs.New(yterrs.KindRequestQueueSizeLimitExceeded, "queue is full")),
		backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return(value(ytree.Bool(true)), nil),
	)

	exists, err := d.Exists(ctx, "//tmp")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestExecuteDoesNotRetryResolveError(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, yterrs.New(yterrs.KindResolveError, "node //tmp/x has no child")).
		Times(1)

	_, err := d.Get(ctx, "//tmp/x")
	require.Error(t, err)
	require.True(t, yterrs.ContainsKind(err, yterrs.KindResolveError))
}

func TestExecuteRetriesTimeoutOnce(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, yterrs.New(yterrs.KindRequestTimedOut, "timed out")).
		Times(2)

	_, err := d.Get(ctx, "//tmp")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindRequestTimedOut))
}

func TestExecuteRetriesTabletErrorsBounded(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, yterrs.New(yterrs.KindTabletNotMounted, "tablet is not mounted")).
		Times(3)

	_, err := d.SelectRows(ctx, "* from [//tmp/t]")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindTabletNotMounted))
}

func TestExecuteMarksRetriedMutations(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	var mutationIDs []string
	var retries []bool
	record := func(_ context.Context, call *driver.Call) {
		mutationIDs = append(mutationIDs, call.Params.Get("mutation_id").Str())
		retries = append(retries, call.Params.Get("retry").BoolOr(false))
	}
	gomock.InOrder(
		backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Do(record).
			Return(nil, yterrs.New(yterrs.KindMasterCommunicationError, "master is unreachable")),
		backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Do(record).
			Return(value(ytree.String("1-2-3-4")), nil),
	)

	id, err := d.Create(ctx, "map_node", "//tmp/dir", driver.Recursive())
	require.NoError(t, err)
	require.Equal(t, "1-2-3-4", id)
	require.Len(t, mutationIDs, 2)
	require.NotEmpty(t, mutationIDs[0])
	require.Equal(t, mutationIDs[0], mutationIDs[1])
	require.Equal(t, []bool{false, true}, retries)
}

func TestExecuteParams(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, call *driver.Call) (*driver.Response, error) {
			require.Equal(t, "get", call.Descriptor.Name)
			require.Equal(t, "//tmp/t", call.Params.Get("path").Str())
			require.Equal(t, "alice", call.Params.Get("authenticated_user").Str())
			require.Equal(t, "1-2-3-4", call.Params.Get("transaction_id").Str())
			require.False(t, call.Params.Has("mutation_id"))
			return value(ytree.Int(42)), nil
		})

	result, err := d.Get(ctx, "//tmp/t", driver.WithUser("alice"), driver.WithParam("tx", "1-2-3-4"))
	require.NoError(t, err)
	require.Equal(t, int64(42), result.IntOr(0))
}

func TestGetDefault(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, yterrs.New(yterrs.KindResolveError, "no such node"))
	result, err := d.GetDefault(ctx, "//tmp/missing", ytree.Int(7))
	require.NoError(t, err)
	require.Equal(t, int64(7), result.IntOr(0))

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, yterrs.New(yterrs.KindTokenError, "bad token"))
	_, err = d.GetDefault(ctx, "//tmp/missing", ytree.Int(7))
	require.True(t, yterrs.ContainsKind(err, yterrs.KindTokenError))
}

func TestExecuteUnknownCommand(t *testing.T) {
	d, _ := newMockDriver(t)
	_, err := d.Execute(context.Background(), &driver.Request{Command: "frobnicate"})
	require.Error(t, err)
}

func TestExecuteAsync(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx := context.Background()

	release := make(chan struct{})
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *driver.Call) (*driver.Response, error) {
			<-release
			return nil, yterrs.New(yterrs.KindResolveError, "no such node")
		})

	pending := d.ExecuteAsync(ctx, &driver.Request{Command: "get", Params: map[string]any{"path": "//tmp/x"}})
	require.NoError(t, pending.Error())
	close(release)

	_, err := pending.Wait(ctx)
	require.True(t, yterrs.ContainsKind(err, yterrs.KindResolveError))
	<-pending.Done()
	require.Error(t, pending.Error())
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	d, backend := newMockDriver(t)
	ctx, cancel := context.WithCancel(context.Background())

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *driver.Call) (*driver.Response, error) {
			cancel()
			return nil, yterrs.New(yterrs.KindRPCUnavailable, "proxy is down")
		}).
		Times(1)

	_, err := d.Get(ctx, "//tmp")
	require.Error(t, err)
}
