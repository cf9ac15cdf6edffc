package ytree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/yt/go/yson"
)

func TestParseText(t *testing.T) {
	n, err := ParseString(`<type=table; "row count"=10u>{a=1; b="x\ny"; c=[%true; #; 1.5; -3]; d={}}`)
	require.NoError(t, err)

	require.Equal(t, "table", n.Attr("type").Str())
	rowCount, err := n.Attr("row count").AsUint()
	require.NoError(t, err)
	require.Equal(t, uint64(10), rowCount)

	a, err := n.Get("a").AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(1), a)
	require.Equal(t, "x\ny", n.Get("b").Str())

	c, err := n.Get("c").AsList()
	require.NoError(t, err)
	require.Len(t, c, 4)
	require.True(t, c[0].BoolOr(false))
	require.True(t, c[1].IsEntity())
	d, err := c[2].AsDouble()
	require.NoError(t, err)
	require.Equal(t, 1.5, d)
	require.Equal(t, int64(-3), c[3].IntOr(0))
	require.Equal(t, 0, n.Get("d").Len())
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"{a=1", "[1;2", "<a=1>", "%maybe", `"abc`, "{a 1}", "1 2"} {
		_, err := ParseString(input)
		require.Error(t, err, input)
	}

	_, err := ParseListFragment([]byte("{a=1};{b="))
	require.Error(t, err)
}

func TestRoundTripFormats(t *testing.T) {
	n := Map(map[string]*Node{
		"s":     String("hello world"),
		"i":     Int(-42),
		"u":     Uint(math.MaxUint64),
		"d":     Double(0.25),
		"b":     Bool(false),
		"e":     Entity(),
		"l":     List(Int(1), String("two")),
		"bytes": String("\x00\x01\xff"),
	})
	n.Get("l").SetAttr("sorted", Bool(true))
	n.SetAttr("schema", List(Map(map[string]*Node{"name": String("key")})))

	for _, format := range []Format{FormatText, FormatPretty, FormatBinary} {
		data, err := Marshal(n, format)
		require.NoError(t, err)
		parsed, err := Parse(data)
		require.NoError(t, err, string(data))
		require.True(t, Equal(n, parsed), "format %d: %s", format, data)
	}
}

func TestTextOutput(t *testing.T) {
	n := MustParse(`<append=%true>"//tmp/t"`)
	require.Equal(t, `<append=%true;>"//tmp/t"`, n.String())
	require.Equal(t, `{a=1;b=[x;"y z";];}`, MustParse(`{ b = [x; "y z"]; a = 1 }`).String())
	require.Equal(t, "1.000000", Double(1).String())
	require.Equal(t, "%-inf", Double(math.Inf(-1)).String())
}

func TestListFragment(t *testing.T) {
	rows, err := ParseListFragment([]byte("{key=1;value=a};\n{key=2;value=b};\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "b", rows[1].Get("value").Str())

	data := MarshalListFragment(rows, FormatText)
	require.Equal(t, "{key=1;value=a;};{key=2;value=b;};", string(data))
	again, err := ParseListFragment(data)
	require.NoError(t, err)
	require.True(t, Equal(List(rows...), List(again...)))

	empty, err := ParseListFragment(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAccessorErrors(t *testing.T) {
	_, err := String("x").AsInt()
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	require.Equal(t, KindInt64, typeErr.Expected)
	require.Equal(t, KindString, typeErr.Actual)

	_, err = Int(-1).AsUint()
	require.Error(t, err)

	var nilNode *Node
	require.True(t, nilNode.IsEntity())
	require.Nil(t, nilNode.Get("x"))
}

func TestFromGoAndDecode(t *testing.T) {
	type row struct {
		Key   int64  `yson:"key"`
		Value string `yson:"value,omitempty"`
	}
	n, err := FromGo(row{Key: 1, Value: "2"})
	require.NoError(t, err)
	require.True(t, Equal(MustParse(`{key=1;value="2"}`), n))

	var decoded row
	require.NoError(t, MustParse(`{key=5;value=x}`).Decode(&decoded))
	require.Equal(t, row{Key: 5, Value: "x"}, decoded)

	raw, err := yson.Marshal(MustParse(`<a=b>[1;2]`))
	require.NoError(t, err)
	back, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "b", back.Attr("a").Str())

	n, err = FromGo(map[string]any{"x": []any{1, "a", nil}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": []any{int64(1), "a", nil}}, n.ToGo())
}

func TestJSON(t *testing.T) {
	data, err := MustParse(`<a=1>{x=[%true]}`).MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"$attributes":{"a":1},"$value":{"x":[true]}}`, string(data))
}

func TestCompare(t *testing.T) {
	rows := []*Node{
		MustParse(`{key=3}`),
		MustParse(`{key=#}`),
		MustParse(`{key=1}`),
		MustParse(`{key=2u}`),
	}
	sorted := SortedBy(rows, []string{"key"})
	require.True(t, sorted[0].Get("key").IsEntity())
	require.Equal(t, int64(1), sorted[1].Get("key").IntOr(0))
	require.Equal(t, int64(2), sorted[2].Get("key").IntOr(0))
	require.Equal(t, int64(3), sorted[3].Get("key").IntOr(0))
}

func TestMerge(t *testing.T) {
	base := MustParse(`<a=1>{rpc_port=1; logging={writers={info={type=file}}; rules=[x]}; keep=%true}`)
	patch := MustParse(`<b=2>{rpc_port=2; logging={writers={debug={type=stderr}}; rules=[y;z]}}`)

	merged := Merge(base, patch)
	require.True(t, Equal(MustParse(`<a=1;b=2>{
		rpc_port=2;
		logging={writers={info={type=file}; debug={type=stderr}}; rules=[y;z]};
		keep=%true
	}`), merged), merged.String())

	// Inputs are left untouched.
	require.Equal(t, int64(1), base.Get("rpc_port").IntOr(0))
	require.False(t, base.Get("logging").Get("writers").Has("debug"))

	require.True(t, Equal(base, Merge(base, nil)))
	require.Equal(t, "x", Merge(base, String("x")).Str())
}
