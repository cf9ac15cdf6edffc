package ytree

import (
	"fmt"

	"go.ytsaurus.tech/yt/go/yson"
)

// Parse reads a single YSON value. Text and binary scalars may be mixed.
func Parse(data []byte) (*Node, error) {
	r := yson.NewReaderFromBytes(data)
	n, err := readNode(r)
	if err != nil {
		return nil, fmt.Errorf("ytree: invalid yson: %w", err)
	}
	if err := r.CheckFinish(); err != nil {
		return nil, fmt.Errorf("ytree: invalid yson: %w", err)
	}
	return n, nil
}

func ParseString(s string) (*Node, error) {
	return Parse([]byte(s))
}

// MustParse panics on malformed input. Intended for literals in code and tests.
func MustParse(s string) *Node {
	n, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// ParseListFragment reads a ";"-separated sequence of values such as a
// table row stream.
func ParseListFragment(data []byte) ([]*Node, error) {
	r := yson.NewReaderKindFromBytes(data, yson.StreamListFragment)
	items := []*Node{}
	for {
		ok, err := r.NextListItem()
		if err != nil {
			return nil, fmt.Errorf("ytree: invalid list fragment: %w", err)
		}
		if !ok {
			return items, nil
		}
		n, err := readNode(r)
		if err != nil {
			return nil, fmt.Errorf("ytree: invalid list fragment: %w", err)
		}
		items = append(items, n)
	}
}

// UnmarshalYSON implements yson.StreamUnmarshaler.
func (n *Node) UnmarshalYSON(r *yson.Reader) error {
	parsed, err := readNode(r)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func readNode(r *yson.Reader) (*Node, error) {
	event, err := r.Next(false)
	if err != nil {
		return nil, err
	}

	var attrs map[string]*Node
	if event == yson.EventBeginAttrs {
		if attrs, err = readMapBody(r, yson.EventEndAttrs); err != nil {
			return nil, err
		}
		if event, err = r.Next(false); err != nil {
			return nil, err
		}
	}

	var n *Node
	switch event {
	case yson.EventLiteral:
		n = readLiteral(r)
	case yson.EventBeginMap:
		m, err := readMapBody(r, yson.EventEndMap)
		if err != nil {
			return nil, err
		}
		n = Map(m)
	case yson.EventBeginList:
		n = List()
		for {
			ok, err := r.NextListItem()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			item, err := readNode(r)
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, item)
		}
		if err := expectEvent(r, yson.EventEndList); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected yson event %d", event)
	}

	if attrs != nil {
		n.attrs = attrs
	}
	return n, nil
}

func readMapBody(r *yson.Reader, end yson.Event) (map[string]*Node, error) {
	m := map[string]*Node{}
	for {
		ok, err := r.NextKey()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key := r.String()
		value, err := readNode(r)
		if err != nil {
			return nil, err
		}
		m[key] = value
	}
	return m, expectEvent(r, end)
}

func expectEvent(r *yson.Reader, expected yson.Event) error {
	event, err := r.Next(false)
	if err != nil {
		return err
	}
	if event != expected {
		return fmt.Errorf("unexpected yson event %d, expected %d", event, expected)
	}
	return nil
}

func readLiteral(r *yson.Reader) *Node {
	switch r.Type() {
	case yson.TypeBool:
		return Bool(r.Bool())
	case yson.TypeInt64:
		return Int(r.Int64())
	case yson.TypeUint64:
		return Uint(r.Uint64())
	case yson.TypeFloat64:
		return Double(r.Float64())
	case yson.TypeString:
		return String(r.String())
	}
	return Entity()
}
