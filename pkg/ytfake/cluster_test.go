package ytfake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytfake"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func startCluster(t *testing.T, opts ...ytfake.Option) (*ytfake.Cluster, *driver.Driver) {
	t.Helper()
	opts = append([]ytfake.Option{ytfake.WithTransitionDelay(10 * time.Millisecond)}, opts...)
	cluster := ytfake.New(opts...)
	cluster.Start()
	t.Cleanup(cluster.Close)

	config := cluster.DriverConfig()
	config.Retry = yterrs.RetryPolicy{
		InitialInterval:  time.Millisecond,
		MaxInterval:      10 * time.Millisecond,
		MaxElapsedTime:   5 * time.Second,
		MaxTabletRetries: 3,
	}
	d, err := driver.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return cluster, d
}

func TestCypressBasics(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	_, err := d.Create(ctx, "map_node", "//tmp/a/b", driver.Recursive())
	require.NoError(t, err)
	require.NoError(t, d.Set(ctx, "//tmp/a/b/value", map[string]any{"x": 1, "y": []any{"p", "q"}}))

	value, err := d.Get(ctx, "//tmp/a/b/value/y/1")
	require.NoError(t, err)
	require.Equal(t, "q", value.Str())

	require.NoError(t, d.Set(ctx, "//tmp/a/b/@custom", "attr"))
	attr, err := d.Get(ctx, "//tmp/a/b/@custom")
	require.NoError(t, err)
	require.Equal(t, "attr", attr.Str())

	names, err := d.ListNames(ctx, "//tmp/a/b")
	require.NoError(t, err)
	require.Equal(t, []string{"value"}, names)

	exists, err := d.Exists(ctx, "//tmp/a/missing")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = d.Get(ctx, "//tmp/a/missing")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindResolveError))

	err = d.Remove(ctx, "//tmp/a")
	require.Error(t, err)
	require.NoError(t, d.Remove(ctx, "//tmp/a", driver.Recursive()))
	exists, err = d.Exists(ctx, "//tmp/a")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCreateAlreadyExists(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	id, err := d.Create(ctx, "map_node", "//tmp/dir")
	require.NoError(t, err)
	_, err = d.Create(ctx, "map_node", "//tmp/dir")
	require.True(t, yterrs.ContainsCode(err, yterrs.CodeAlreadyExists))

	again, err := d.Create(ctx, "map_node", "//tmp/dir", driver.IgnoreExisting())
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestLinksCopyAndMove(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	require.NoError(t, d.Set(ctx, "//tmp/doc", map[string]any{"k": "v"}))
	_, err := d.Link(ctx, "//tmp/doc", "//tmp/link")
	require.NoError(t, err)

	value, err := d.Get(ctx, "//tmp/link/k")
	require.NoError(t, err)
	require.Equal(t, "v", value.Str())

	_, err = d.Copy(ctx, "//tmp/doc", "//tmp/copy")
	require.NoError(t, err)
	_, err = d.Move(ctx, "//tmp/copy", "//tmp/moved")
	require.NoError(t, err)

	names, err := d.ListNames(ctx, "//tmp")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"doc", "link", "moved"}, names)
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	_, err := d.Create(ctx, "file", "//tmp/file")
	require.NoError(t, err)
	require.NoError(t, d.WriteFile(ctx, "//tmp/file", []byte("hello ")))
	require.NoError(t, d.WriteFile(ctx, "<append=%true>//tmp/file", []byte("world")))

	data, err := d.ReadFile(ctx, "//tmp/file")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	tx, err := d.StartTx(ctx, driver.TxOptions{NoPing: true, Title: "test"})
	require.NoError(t, err)

	_, err = d.Create(ctx, "map_node", "//tmp/locked")
	require.NoError(t, err)
	_, err = d.Lock(ctx, "//tmp/locked", "exclusive", tx.Option())
	require.NoError(t, err)

	title, err := d.Get(ctx, "//sys/transactions/"+tx.ID()+"/@title")
	require.NoError(t, err)
	require.Equal(t, "test", title.Str())

	require.NoError(t, tx.Abort(ctx))
	err = d.PingTx(ctx, tx.ID(), false)
	require.True(t, yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction))
}

func TestTransactionExpires(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	tx, err := d.StartTx(ctx, driver.TxOptions{NoPing: true, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	err = d.PingTx(ctx, tx.ID(), false)
	require.True(t, yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction))
}

func TestStaticTables(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	_, err := d.Create(ctx, "table", "//tmp/t", driver.WithAttributes(map[string]any{
		"schema": []any{
			map[string]any{"name": "key", "type": "int64", "sort_order": "ascending"},
			map[string]any{"name": "value", "type": "string"},
		},
	}))
	require.NoError(t, err)

	rows := []*ytree.Node{
		ytree.MustParse(`{key=1;value=a}`),
		ytree.MustParse(`{key=2;value=b}`),
	}
	require.NoError(t, d.WriteTable(ctx, "//tmp/t", rows))
	require.NoError(t, d.WriteTable(ctx, "<append=%true>//tmp/t", []*ytree.Node{ytree.MustParse(`{key=3;value=c}`)}))

	read, err := d.ReadTable(ctx, "//tmp/t")
	require.NoError(t, err)
	require.Len(t, read, 3)
	require.Equal(t, "c", read[2].Get("value").Str())

	count, err := d.Get(ctx, "//tmp/t/@row_count")
	require.NoError(t, err)
	require.EqualValues(t, 3, count.IntOr(0))

	err = d.WriteTable(ctx, "<append=%true>//tmp/t", []*ytree.Node{ytree.MustParse(`{key=0;value=z}`)})
	require.True(t, yterrs.ContainsCode(err, yterrs.CodeSortOrderViolation))

	err = d.WriteTable(ctx, "//tmp/t", []*ytree.Node{ytree.MustParse(`{key=x;value=z}`)})
	require.True(t, yterrs.ContainsKind(err, yterrs.KindSchemaViolation))

	columns, err := d.ReadTable(ctx, "//tmp/t{value}")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	require.False(t, columns[0].Has("key"))
}

func TestInjectedErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	cluster, d := startCluster(t)

	cluster.InjectError("get", yterrs.CodeRPCUnavailable, 2)
	_, err := d.Get(ctx, "//tmp")
	require.NoError(t, err)
	require.Equal(t, 3, cluster.CommandCount("get"))

	cluster.InjectError("get", yterrs.CodeResolveError, 1)
	_, err = d.Get(ctx, "//tmp")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindResolveError))
}

func TestObjectsAndMembership(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	_, err := d.CreateUser(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = d.CreateGroup(ctx, "devs", nil)
	require.NoError(t, err)
	require.NoError(t, d.AddMember(ctx, "alice", "devs"))

	err = d.AddMember(ctx, "alice", "devs")
	require.True(t, yterrs.ContainsCode(err, yterrs.CodeAlreadyPresentInGroup))

	members, err := d.Get(ctx, "//sys/groups/devs/@members")
	require.NoError(t, err)
	require.Equal(t, "alice", members.Index(0).Str())

	result, err := d.CheckPermission(ctx, "alice", "read", "//tmp")
	require.NoError(t, err)
	require.Equal(t, "allow", result.Action)

	require.NoError(t, d.Remove(ctx, "//sys/users/alice"))
	members, err = d.Get(ctx, "//sys/groups/devs/@members")
	require.NoError(t, err)
	require.Equal(t, 0, members.Len())
}

func TestLogicalTypeRange(t *testing.T) {
	ctx := context.Background()
	_, d := startCluster(t)

	_, err := d.Create(ctx, "table", "//tmp/t", driver.WithAttributes(map[string]any{
		"schema": []any{map[string]any{"name": "x", "type": "int8"}},
	}))
	require.NoError(t, err)

	err = d.WriteTable(ctx, "//tmp/t", []*ytree.Node{ytree.MustParse(`{x=128}`)})
	require.True(t, yterrs.ContainsKind(err, yterrs.KindSchemaViolation), "%v", err)
	require.NoError(t, d.WriteTable(ctx, "//tmp/t", []*ytree.Node{ytree.MustParse(`{x=127}`)}))
}
