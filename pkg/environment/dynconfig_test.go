package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytfake"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func TestApplyDynamicConfig(t *testing.T) {
	ctx := context.Background()
	cluster := ytfake.New()
	cluster.Start()
	t.Cleanup(cluster.Close)
	d, err := cluster.NewDriver(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Set(ctx, "//tmp/dyn", ytree.MustParse(`{a=1;b={c=2;d=[1;2]};old=x}`)))

	err = environment.ApplyDynamicConfig(ctx, d, map[string]string{
		"//tmp/dyn":   `{a=1;b={c=3;d=[2]};new=y}`,
		"//tmp/fresh": `{k=v}`,
		"//tmp/list":  `[{op=add;path="/x";value=5}]`,
	})
	require.NoError(t, err)

	value, err := d.Get(ctx, "//tmp/dyn")
	require.NoError(t, err)
	require.True(t, ytree.Equal(ytree.MustParse(`{a=1;b={c=3;d=[2]};new=y}`), value), "got %v", value)

	fresh, err := d.Get(ctx, "//tmp/fresh/k")
	require.NoError(t, err)
	require.Equal(t, "v", fresh.Str())

	x, err := d.Get(ctx, "//tmp/list/x")
	require.NoError(t, err)
	require.Equal(t, int64(5), x.IntOr(0))
}
