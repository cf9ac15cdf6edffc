package ytree

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.ytsaurus.tech/yt/go/yson"
)

// FromGo converts a Go value into a Node. Plain maps, slices and scalars are
// converted directly; anything else goes through the yson encoder so struct
// tags are honoured.
func FromGo(v any) (*Node, error) {
	switch x := v.(type) {
	case nil:
		return Entity(), nil
	case *Node:
		if x == nil {
			return Entity(), nil
		}
		return x, nil
	case yson.RawValue:
		return Parse(x)
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Uint(uint64(x)), nil
	case uint8:
		return Uint(uint64(x)), nil
	case uint16:
		return Uint(uint64(x)), nil
	case uint32:
		return Uint(uint64(x)), nil
	case uint64:
		return Uint(x), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case []*Node:
		return List(x...), nil
	case map[string]*Node:
		return Map(x), nil
	case []any:
		items := make([]*Node, 0, len(x))
		for _, item := range x {
			n, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]*Node, len(x))
		for k, item := range x {
			n, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return Map(m), nil
	case []string:
		items := make([]*Node, 0, len(x))
		for _, item := range x {
			items = append(items, String(item))
		}
		return List(items...), nil
	case fmt.Stringer:
		if _, ok := v.(encoding.TextMarshaler); ok {
			return String(x.String()), nil
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	}

	data, err := yson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ytree: cannot convert %T: %w", v, err)
	}
	return Parse(data)
}

// MustFromGo panics if v cannot be converted.
func MustFromGo(v any) *Node {
	n, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return n
}

// ToGo converts the node into plain Go values. Attributes are dropped.
func (n *Node) ToGo() any {
	switch n.Kind() {
	case KindEntity:
		return nil
	case KindBool:
		return n.b
	case KindInt64:
		return n.i
	case KindUint64:
		return n.u
	case KindDouble:
		return n.d
	case KindString:
		return n.s
	case KindList:
		out := make([]any, 0, len(n.list))
		for _, item := range n.list {
			out = append(out, item.ToGo())
		}
		return out
	case KindMap:
		out := make(map[string]any, len(n.m))
		for k, v := range n.m {
			out[k] = v.ToGo()
		}
		return out
	}
	return nil
}

// Decode unmarshals the node into v with the yson decoder.
func (n *Node) Decode(v any) error {
	data, err := MarshalBinary(n)
	if err != nil {
		return err
	}
	return yson.Unmarshal(data, v)
}

// Raw returns the binary encoding as yson.RawValue.
func (n *Node) Raw() yson.RawValue {
	data, _ := MarshalBinary(n)
	return yson.RawValue(data)
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON renders the node with the usual YT convention:
// attributed values become {"$attributes": ..., "$value": ...}.
func (n *Node) MarshalJSON() ([]byte, error) {
	return jsonAPI.Marshal(n.jsonValue())
}

func (n *Node) jsonValue() any {
	var v any
	switch n.Kind() {
	case KindList:
		items := make([]any, 0, len(n.list))
		for _, item := range n.list {
			items = append(items, item.jsonValue())
		}
		v = items
	case KindMap:
		m := make(map[string]any, len(n.m))
		for k, item := range n.m {
			m[k] = item.jsonValue()
		}
		v = m
	default:
		v = n.ToGo()
	}
	if !n.HasAttrs() {
		return v
	}
	attrs := make(map[string]any, len(n.attrs))
	for k, item := range n.attrs {
		attrs[k] = item.jsonValue()
	}
	return map[string]any{"$attributes": attrs, "$value": v}
}

// SortedBy sorts rows (map nodes) by the given columns, comparing with Compare.
func SortedBy(rows []*Node, columns []string) []*Node {
	out := append([]*Node(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return CompareRows(out[i], out[j], columns) < 0
	})
	return out
}

// CompareRows compares two rows by the given key columns.
func CompareRows(a, b *Node, columns []string) int {
	for _, c := range columns {
		if r := Compare(a.Get(c), b.Get(c)); r != 0 {
			return r
		}
	}
	return 0
}

func kindRank(k Kind) int {
	switch k {
	case KindEntity:
		return 0
	case KindInt64:
		return 1
	case KindUint64:
		return 2
	case KindDouble:
		return 3
	case KindBool:
		return 4
	case KindString:
		return 5
	}
	return 6
}

// Compare orders scalar values the way sorted tables do: null first, then by
// type, then by value.
func Compare(a, b *Node) int {
	ak, bk := a.Kind(), b.Kind()
	if ak != bk {
		if (ak == KindInt64 || ak == KindUint64) && (bk == KindInt64 || bk == KindUint64) {
			av, aerr := a.AsInt()
			bv, berr := b.AsInt()
			if aerr == nil && berr == nil {
				return cmp3(av < bv, av > bv)
			}
		}
		return cmp3(kindRank(ak) < kindRank(bk), kindRank(ak) > kindRank(bk))
	}
	switch ak {
	case KindInt64:
		return cmp3(a.i < b.i, a.i > b.i)
	case KindUint64:
		return cmp3(a.u < b.u, a.u > b.u)
	case KindDouble:
		return cmp3(a.d < b.d, a.d > b.d)
	case KindBool:
		return cmp3(!a.b && b.b, a.b && !b.b)
	case KindString:
		return cmp3(a.s < b.s, a.s > b.s)
	}
	return 0
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}
