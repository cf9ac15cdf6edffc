package fixture_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/fixture"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytfake"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytsync"
)

type fakeCluster struct {
	fake      *ytfake.Cluster
	driver    *driver.Driver
	unhealthy error
	stopped   bool
}

func (c *fakeCluster) Driver(context.Context) (*driver.Driver, error) { return c.driver, nil }
func (c *fakeCluster) CheckHealth() error                             { return c.unhealthy }

func (c *fakeCluster) Stop(context.Context, bool) error {
	if c.stopped {
		return nil
	}
	c.stopped = true
	err := c.driver.Close()
	c.fake.Close()
	return err
}

type fakeFactory struct {
	t        *testing.T
	clusters []*fakeCluster
}

func (f *fakeFactory) start(ctx context.Context, spec environment.ClusterSpec) (fixture.Cluster, error) {
	fake := ytfake.New(ytfake.WithTransitionDelay(10 * time.Millisecond))
	fake.Start()
	config := fake.DriverConfig()
	config.Retry = yterrs.RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
	d, err := driver.New(ctx, config)
	if err != nil {
		fake.Close()
		return nil, err
	}
	c := &fakeCluster{fake: fake, driver: d}
	f.clusters = append(f.clusters, c)
	return c, nil
}

func newSession(t *testing.T) (*fixture.Session, *fakeFactory) {
	t.Helper()
	ytsync.Timeout = 10 * time.Second
	factory := &fakeFactory{t: t}
	session := fixture.NewSession(environment.DefaultClusterSpec(), factory.start, testr.New(t))
	t.Cleanup(func() {
		require.NoError(t, session.Close(context.Background(), false))
	})
	return session, factory
}

func withYP(spec *environment.ClusterSpec) {
	spec.YPMasters = 1
}

func TestSessionSharesEnvironmentsByShape(t *testing.T) {
	ctx := context.Background()
	session, factory := newSession(t)

	first, err := session.Default().Env(ctx)
	require.NoError(t, err)
	second, err := session.Class(nil).Env(ctx)
	require.NoError(t, err)
	require.Same(t, first, second)

	yp, err := session.Class(withYP).Env(ctx)
	require.NoError(t, err)
	require.NotSame(t, first, yp)
	require.True(t, yp.YP())
	require.Len(t, factory.clusters, 2)
	require.Equal(t, 2, session.Len())

	require.NoError(t, session.Close(ctx, false))
	for _, c := range factory.clusters {
		require.True(t, c.stopped)
	}
}

func TestTempPath(t *testing.T) {
	path := fixture.TempPath("TestFoo/sub case")
	require.True(t, strings.HasPrefix(path, "//tmp/TestFoo_sub_case_"), path)
	require.NotEqual(t, path, fixture.TempPath("TestFoo/sub case"))
}

func TestTeardownPurgesEverything(t *testing.T) {
	ctx := context.Background()
	session, _ := newSession(t)
	class := session.Class(withYP)

	f, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	d := f.Driver

	exists, err := d.Exists(ctx, f.TempPath)
	require.NoError(t, err)
	require.True(t, exists)

	_, err = ytsync.CreateTestTables(ctx, d, f.TempPath+"/tables", 3)
	require.NoError(t, err)
	require.NoError(t, d.Set(ctx, "//tmp/stray", "value"))
	_, err = d.CreateUser(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = d.CreateGroup(ctx, "devs", nil)
	require.NoError(t, err)
	require.NoError(t, d.AddMember(ctx, "alice", "devs"))
	require.NoError(t, ytsync.SyncCreateTabletCellBundle(ctx, d, "test_bundle", nil))
	_, err = ytsync.SyncCreateCells(ctx, d, 2, "test_bundle")
	require.NoError(t, err)

	_, err = d.StartTx(ctx, driver.TxOptions{Title: "user transaction"})
	require.NoError(t, err)
	_, err = ytsync.RunSleepingVanilla(ctx, d, 1)
	require.NoError(t, err)

	_, err = ytsync.CreateNodes(ctx, d, 1, ytsync.NodeOptions{})
	require.NoError(t, err)
	podSet, err := ytsync.CreatePodSet(ctx, d, nil)
	require.NoError(t, err)
	_, err = ytsync.CreatePod(ctx, d, podSet, nil)
	require.NoError(t, err)

	require.NoError(t, f.Teardown(ctx))

	tmp, err := d.ListNames(ctx, consts.TmpPath)
	require.NoError(t, err)
	require.Empty(t, tmp)
	users, err := d.ListNames(ctx, "//sys/users")
	require.NoError(t, err)
	require.NotContains(t, users, "alice")
	bundles, err := d.ListNames(ctx, consts.TabletCellBundlePath)
	require.NoError(t, err)
	require.NotContains(t, bundles, "test_bundle")
	txs, err := d.ListNames(ctx, consts.TransactionsPath)
	require.NoError(t, err)
	require.Empty(t, txs)
	pods, err := d.YPSelectObjects(ctx, "pod", "", []string{"/meta/id"})
	require.NoError(t, err)
	require.Empty(t, pods)

	// The environment stays usable for the next test.
	next, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	require.Same(t, f.Env, next.Env)
	require.NoError(t, next.Teardown(ctx))
}

func TestTeardownRemovesOperationsAndTransactions(t *testing.T) {
	ctx := context.Background()
	session, factory := newSession(t)
	class := session.Default()

	f, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	d := f.Driver

	finished, err := ytsync.RunTestVanilla(ctx, d, "true", ytsync.VanillaOptions{Track: true})
	require.NoError(t, err)
	_, err = ytsync.RunSleepingVanilla(ctx, d, 1)
	require.NoError(t, err)

	tracked, err := d.StartTx(ctx, driver.TxOptions{NoPing: true, Title: "tracked"})
	require.NoError(t, err)

	other, err := factory.clusters[0].fake.NewDriver(ctx)
	require.NoError(t, err)
	defer other.Close()
	untracked, err := other.StartTx(ctx, driver.TxOptions{NoPing: true, Title: "untracked"})
	require.NoError(t, err)

	require.NoError(t, f.Teardown(ctx))

	require.False(t, tracked.Active())
	require.Empty(t, d.ActiveTxs())
	txs, err := d.ListNames(ctx, consts.TransactionsPath)
	require.NoError(t, err)
	require.NotContains(t, txs, untracked.ID())
	require.Empty(t, txs)

	ops, err := d.ListOperations(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, ops.Get("operations").Len())
	exists, err := d.Exists(ctx, finished.Path())
	require.NoError(t, err)
	require.False(t, exists)

	next, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	require.Same(t, f.Env, next.Env)
	require.NoError(t, next.Teardown(ctx))
}

func TestSetupRegistersTeardown(t *testing.T) {
	session, _ := newSession(t)
	class := session.Default()

	var tempPath string
	var d *driver.Driver
	t.Run("inner", func(t *testing.T) {
		f := class.Setup(t)
		tempPath, d = f.TempPath, f.Driver
		require.NoError(t, f.Driver.Set(context.Background(), f.TempPath+"/doc", map[string]any{"k": 1}))
	})

	exists, err := d.Exists(context.Background(), tempPath)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUnhealthyEnvironmentIsReplaced(t *testing.T) {
	ctx := context.Background()
	session, factory := newSession(t)
	class := session.Default()

	f, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)

	dead := errors.New("node/0 exited")
	factory.clusters[0].unhealthy = dead
	require.ErrorIs(t, f.Teardown(ctx), dead)

	next, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	require.NotSame(t, f.Env, next.Env)
	require.Len(t, factory.clusters, 2)
	require.True(t, factory.clusters[0].stopped)
	require.NoError(t, next.Teardown(ctx))
}

func TestFailedCleanupMarksEnvironmentBad(t *testing.T) {
	ctx := context.Background()
	session, factory := newSession(t)
	class := session.Default()

	f, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	factory.clusters[0].fake.InjectError("list", yterrs.CodeGeneric, 1)
	require.Error(t, f.Teardown(ctx))

	next, err := class.NewFunction(ctx, t.Name())
	require.NoError(t, err)
	require.NotSame(t, f.Env, next.Env)
	require.NoError(t, next.Teardown(ctx))
}
