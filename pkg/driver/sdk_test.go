package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/yt/go/guid"
	"go.ytsaurus.tech/yt/go/yson"
	"go.ytsaurus.tech/yt/go/yt"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func TestSDKStartTxOptions(t *testing.T) {
	parent := guid.New()
	p := &sdkParams{node: ytree.MustParse(
		`{timeout=1500;transaction_id="` + parent.String() + `";ping_ancestor_transactions=%true;attributes={title=t}}`,
	)}

	opts := p.startTxOptions()
	require.NoError(t, p.err)
	require.NotNil(t, opts.Timeout)
	require.Equal(t, yson.Duration(1500*time.Millisecond), *opts.Timeout)
	require.Equal(t, map[string]any{"title": "t"}, opts.Attributes)
	require.NotNil(t, opts.TransactionOptions)
	require.Equal(t, yt.TxID(parent), opts.TransactionOptions.TransactionID)
	require.True(t, opts.TransactionOptions.PingAncestors)

	top := (&sdkParams{node: ytree.EmptyMap()}).startTxOptions()
	require.Nil(t, top.Timeout)
	require.Nil(t, top.TransactionOptions)
}
