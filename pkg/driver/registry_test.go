package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(4)

	d, err := r.Lookup("start_op")
	require.NoError(t, err)
	require.Equal(t, "start_operation", d.Name)
	require.Equal(t, "start_operation", r.WireName(d))
	require.Equal(t, "operation_id", d.ResultKey)

	d, err = r.Lookup("yp_select_objects")
	require.NoError(t, err)
	require.True(t, d.YP)

	_, err = r.Lookup("no_such_command")
	require.Error(t, err)
}

func TestRegistryWireNameV3(t *testing.T) {
	r := NewRegistry(3)
	d, err := r.Lookup("start_transaction")
	require.NoError(t, err)
	require.Equal(t, "start_tx", r.WireName(d))

	d, err = r.Lookup("get")
	require.NoError(t, err)
	require.Equal(t, "get", r.WireName(d))
}

func TestRegistryDescriptors(t *testing.T) {
	r := NewRegistry(4)
	for _, d := range r.Commands() {
		if d.Name == "write_table" {
			require.Equal(t, DataTabular, d.Input)
			require.True(t, d.Heavy)
			require.True(t, d.Mutating)
		}
		if d.Name == "exists" {
			require.False(t, d.Mutating)
			require.Equal(t, DataStructured, d.Output)
		}
	}
}

func TestNormalizeParamsAliases(t *testing.T) {
	params, err := NormalizeParams("get", map[string]any{
		"tx":                "1-2-3-4",
		"ping_ancestor_txs": true,
		"user":              "alice",
	})
	require.NoError(t, err)
	require.Equal(t, "1-2-3-4", params.Get("transaction_id").Str())
	require.True(t, params.Get("ping_ancestor_transactions").BoolOr(false))
	require.Equal(t, "alice", params.Get("authenticated_user").Str())
	require.False(t, params.Has("tx"))
}

func TestNormalizeParamsUserOfCheckPermission(t *testing.T) {
	params, err := NormalizeParams("check_permission", map[string]any{"user": "bob", "path": "//tmp"})
	require.NoError(t, err)
	require.Equal(t, "bob", params.Get("user").Str())
	require.False(t, params.Has("authenticated_user"))
}

func TestNormalizeParamsConflict(t *testing.T) {
	_, err := NormalizeParams("get", map[string]any{"tx": "1-2-3-4", "transaction_id": "5-6-7-8"})
	require.Error(t, err)
}

func TestNormalizeParamsRichPath(t *testing.T) {
	params, err := NormalizeParams("read_table", map[string]any{"path": "<append=%true>//tmp/t{a,b}"})
	require.NoError(t, err)

	path := params.Get("path")
	require.Equal(t, "//tmp/t", path.Str())
	require.True(t, path.Attr("append").BoolOr(false))
	require.True(t, ytree.Equal(ytree.List(ytree.String("a"), ytree.String("b")), path.Attr("columns")))
}

func TestNormalizeParamsPathList(t *testing.T) {
	params, err := NormalizeParams("concatenate", map[string]any{
		"source_paths": []string{"//tmp/a", "<ranges=[]>//tmp/b"},
	})
	require.NoError(t, err)
	paths, err := params.Get("source_paths").AsList()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	require.Equal(t, "//tmp/b", paths[1].Str())
	require.NotNil(t, paths[1].Attr("ranges"))
}

func TestParseRichPathErrors(t *testing.T) {
	for _, s := range []string{"", "tmp/t", "<append=%true//tmp/t", "<append=%true>"} {
		_, err := ParseRichPath(s)
		require.Error(t, err, s)
	}
	node, err := ParseRichPath("#1-2-3-4")
	require.NoError(t, err)
	require.Equal(t, "#1-2-3-4", node.Str())
}

func TestParseRichPathRanges(t *testing.T) {
	node, err := ParseRichPath("<foreign=%true;custom=x>//tmp/t{a}[#0:#10]")
	require.NoError(t, err)
	require.Equal(t, "//tmp/t", node.Str())
	require.True(t, node.Attr("foreign").BoolOr(false))
	require.Equal(t, "x", node.Attr("custom").Str())
	require.True(t, ytree.Equal(ytree.List(ytree.String("a")), node.Attr("columns")))

	ranges, err := node.Attr("ranges").AsList()
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	require.Equal(t, int64(0), ranges[0].Get("lower_limit").Get("row_index").IntOr(-1))
	require.Equal(t, int64(10), ranges[0].Get("upper_limit").Get("row_index").IntOr(-1))
}

func TestRedactParams(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	params := ytree.EmptyMap()
	params.Set("path", ytree.String("//tmp/t").SetAttr("append", ytree.Bool(true)))
	params.Set("input_format", ytree.String("yson"))
	params.Set("query", ytree.String(string(long)))

	text := RedactParams(params)
	require.NotContains(t, text, "append")
	require.Contains(t, text, "<format>")
	require.Contains(t, text, "1000 bytes")
	require.Less(t, len(text), 400)
}
