package ytree

import (
	"bytes"
	"maps"
	"slices"

	"go.ytsaurus.tech/yt/go/yson"
)

type Format = yson.Format

const (
	FormatBinary = yson.FormatBinary
	FormatText   = yson.FormatText
	FormatPretty = yson.FormatPretty
)

func Marshal(n *Node, format Format) ([]byte, error) {
	var buf bytes.Buffer
	w := yson.NewWriterFormat(&buf, format)
	writeNode(w, n)
	if err := w.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func MarshalText(n *Node) ([]byte, error) { return Marshal(n, FormatText) }

func MarshalBinary(n *Node) ([]byte, error) { return Marshal(n, FormatBinary) }

func MustMarshalText(n *Node) []byte {
	data, err := Marshal(n, FormatText)
	if err != nil {
		panic(err)
	}
	return data
}

// MarshalListFragment writes items as a ";"-separated list fragment.
func MarshalListFragment(items []*Node, format Format) []byte {
	var buf bytes.Buffer
	w := yson.NewWriterConfig(&buf, yson.WriterConfig{Format: format, Kind: yson.StreamListFragment})
	for _, item := range items {
		writeNode(w, item)
	}
	if err := w.Finish(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// MarshalYSON implements yson.StreamMarshaler.
func (n *Node) MarshalYSON(w *yson.Writer) error {
	writeNode(w, n)
	return w.Err()
}

func writeNode(w *yson.Writer, n *Node) {
	if n.HasAttrs() {
		w.BeginAttrs()
		writeMapBody(w, n.attrs)
		w.EndAttrs()
	}
	switch n.Kind() {
	case KindEntity:
		w.Entity()
	case KindBool:
		w.Bool(n.b)
	case KindInt64:
		w.Int64(n.i)
	case KindUint64:
		w.Uint64(n.u)
	case KindDouble:
		w.Float64(n.d)
	case KindString:
		w.String(n.s)
	case KindList:
		w.BeginList()
		for _, item := range n.list {
			writeNode(w, item)
		}
		w.EndList()
	case KindMap:
		w.BeginMap()
		writeMapBody(w, n.m)
		w.EndMap()
	}
}

func writeMapBody(w *yson.Writer, m map[string]*Node) {
	for _, key := range slices.Sorted(maps.Keys(m)) {
		w.MapKeyString(key)
		writeNode(w, m[key])
	}
}
