package ytree

import (
	"fmt"
	"maps"
	"slices"
)

type Kind int

const (
	KindEntity Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindBool:
		return "boolean"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is a YSON value together with its attributes.
// A nil *Node is treated as an entity without attributes.
type Node struct {
	kind  Kind
	b     bool
	i     int64
	u     uint64
	d     float64
	s     string
	list  []*Node
	m     map[string]*Node
	attrs map[string]*Node
}

func Entity() *Node          { return &Node{kind: KindEntity} }
func Bool(v bool) *Node      { return &Node{kind: KindBool, b: v} }
func Int(v int64) *Node      { return &Node{kind: KindInt64, i: v} }
func Uint(v uint64) *Node    { return &Node{kind: KindUint64, u: v} }
func Double(v float64) *Node { return &Node{kind: KindDouble, d: v} }
func String(v string) *Node  { return &Node{kind: KindString, s: v} }
func List(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{kind: KindList, list: items}
}

func Map(items map[string]*Node) *Node {
	if items == nil {
		items = map[string]*Node{}
	}
	return &Node{kind: KindMap, m: items}
}

// EmptyMap is a shortcut for Map(nil).
func EmptyMap() *Node { return Map(nil) }

func (n *Node) Kind() Kind {
	if n == nil {
		return KindEntity
	}
	return n.kind
}

func (n *Node) IsEntity() bool { return n.Kind() == KindEntity }

type TypeError struct {
	Expected Kind
	Actual   Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("ytree: expected %s node, got %s", e.Expected, e.Actual)
}

func (n *Node) AsBool() (bool, error) {
	if n.Kind() != KindBool {
		return false, &TypeError{Expected: KindBool, Actual: n.Kind()}
	}
	return n.b, nil
}

// AsInt accepts both signed and unsigned integers that fit into int64.
func (n *Node) AsInt() (int64, error) {
	switch n.Kind() {
	case KindInt64:
		return n.i, nil
	case KindUint64:
		if n.u > 1<<63-1 {
			return 0, fmt.Errorf("ytree: uint64 value %d overflows int64", n.u)
		}
		return int64(n.u), nil
	}
	return 0, &TypeError{Expected: KindInt64, Actual: n.Kind()}
}

func (n *Node) AsUint() (uint64, error) {
	switch n.Kind() {
	case KindUint64:
		return n.u, nil
	case KindInt64:
		if n.i < 0 {
			return 0, fmt.Errorf("ytree: negative value %d cannot be converted to uint64", n.i)
		}
		return uint64(n.i), nil
	}
	return 0, &TypeError{Expected: KindUint64, Actual: n.Kind()}
}

func (n *Node) AsDouble() (float64, error) {
	switch n.Kind() {
	case KindDouble:
		return n.d, nil
	case KindInt64:
		return float64(n.i), nil
	case KindUint64:
		return float64(n.u), nil
	}
	return 0, &TypeError{Expected: KindDouble, Actual: n.Kind()}
}

func (n *Node) AsString() (string, error) {
	if n.Kind() != KindString {
		return "", &TypeError{Expected: KindString, Actual: n.Kind()}
	}
	return n.s, nil
}

func (n *Node) AsList() ([]*Node, error) {
	if n.Kind() != KindList {
		return nil, &TypeError{Expected: KindList, Actual: n.Kind()}
	}
	return n.list, nil
}

func (n *Node) AsMap() (map[string]*Node, error) {
	if n.Kind() != KindMap {
		return nil, &TypeError{Expected: KindMap, Actual: n.Kind()}
	}
	return n.m, nil
}

// Str returns the string value or an empty string for non-string nodes.
func (n *Node) Str() string {
	s, _ := n.AsString()
	return s
}

// IntOr returns the integer value or def if the node is not an integer.
func (n *Node) IntOr(def int64) int64 {
	v, err := n.AsInt()
	if err != nil {
		return def
	}
	return v
}

// BoolOr returns the boolean value or def if the node is not a boolean.
func (n *Node) BoolOr(def bool) bool {
	v, err := n.AsBool()
	if err != nil {
		return def
	}
	return v
}

func (n *Node) Len() int {
	switch n.Kind() {
	case KindList:
		return len(n.list)
	case KindMap:
		return len(n.m)
	case KindString:
		return len(n.s)
	}
	return 0
}

// Get returns the map child with the given key or nil.
func (n *Node) Get(key string) *Node {
	if n.Kind() != KindMap {
		return nil
	}
	return n.m[key]
}

// Has reports whether a map node has the key.
func (n *Node) Has(key string) bool {
	if n.Kind() != KindMap {
		return false
	}
	_, ok := n.m[key]
	return ok
}

// Index returns the list item at i or nil.
func (n *Node) Index(i int) *Node {
	if n.Kind() != KindList || i < 0 || i >= len(n.list) {
		return nil
	}
	return n.list[i]
}

// Set stores a child of a map node.
func (n *Node) Set(key string, value *Node) *Node {
	if n.kind != KindMap {
		panic("ytree: Set on non-map node")
	}
	n.m[key] = value
	return n
}

// Delete removes a child of a map node.
func (n *Node) Delete(key string) {
	if n.Kind() == KindMap {
		delete(n.m, key)
	}
}

// Append adds items to a list node.
func (n *Node) Append(items ...*Node) *Node {
	if n.kind != KindList {
		panic("ytree: Append on non-list node")
	}
	n.list = append(n.list, items...)
	return n
}

// SetIndex replaces the i-th item of a list node.
func (n *Node) SetIndex(i int, value *Node) error {
	if n.Kind() != KindList {
		return &TypeError{Expected: KindList, Actual: n.Kind()}
	}
	if i < 0 || i >= len(n.list) {
		return fmt.Errorf("ytree: list index %d out of range [0, %d)", i, len(n.list))
	}
	n.list[i] = value
	return nil
}

// InsertAt inserts an item before position i; i equal to the length appends.
func (n *Node) InsertAt(i int, value *Node) error {
	if n.Kind() != KindList {
		return &TypeError{Expected: KindList, Actual: n.Kind()}
	}
	if i < 0 || i > len(n.list) {
		return fmt.Errorf("ytree: list index %d out of range [0, %d]", i, len(n.list))
	}
	n.list = slices.Insert(n.list, i, value)
	return nil
}

// RemoveAt deletes the i-th item of a list node.
func (n *Node) RemoveAt(i int) error {
	if n.Kind() != KindList {
		return &TypeError{Expected: KindList, Actual: n.Kind()}
	}
	if i < 0 || i >= len(n.list) {
		return fmt.Errorf("ytree: list index %d out of range [0, %d)", i, len(n.list))
	}
	n.list = slices.Delete(n.list, i, i+1)
	return nil
}

// Keys returns the sorted keys of a map node.
func (n *Node) Keys() []string {
	if n.Kind() != KindMap {
		return nil
	}
	return slices.Sorted(maps.Keys(n.m))
}

func (n *Node) Attrs() map[string]*Node {
	if n == nil {
		return nil
	}
	return n.attrs
}

func (n *Node) HasAttrs() bool {
	return n != nil && len(n.attrs) > 0
}

// Attr returns the attribute with the given name or nil.
func (n *Node) Attr(name string) *Node {
	if n == nil {
		return nil
	}
	return n.attrs[name]
}

func (n *Node) SetAttr(name string, value *Node) *Node {
	if n.attrs == nil {
		n.attrs = make(map[string]*Node)
	}
	n.attrs[name] = value
	return n
}

func (n *Node) DeleteAttr(name string) {
	if n != nil {
		delete(n.attrs, name)
	}
}

// WithAttrs replaces all attributes of the node and returns it.
func (n *Node) WithAttrs(attrs map[string]*Node) *Node {
	if len(attrs) == 0 {
		n.attrs = nil
	} else {
		n.attrs = attrs
	}
	return n
}

// WithoutAttrs returns a shallow copy of the node with attributes dropped.
func (n *Node) WithoutAttrs() *Node {
	if n == nil {
		return Entity()
	}
	c := *n
	c.attrs = nil
	return &c
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{kind: n.kind, b: n.b, i: n.i, u: n.u, d: n.d, s: n.s}
	if n.list != nil {
		c.list = make([]*Node, len(n.list))
		for i, item := range n.list {
			c.list[i] = item.Clone()
		}
	}
	if n.m != nil {
		c.m = make(map[string]*Node, len(n.m))
		for k, v := range n.m {
			c.m[k] = v.Clone()
		}
	}
	if n.attrs != nil {
		c.attrs = make(map[string]*Node, len(n.attrs))
		for k, v := range n.attrs {
			c.attrs[k] = v.Clone()
		}
	}
	return c
}

// Merge returns a deep copy of base with patch merged in. Maps are merged
// recursively, any other patch value replaces the base value. Attributes of
// the patch are merged the same way.
func Merge(base, patch *Node) *Node {
	if patch == nil {
		return base.Clone()
	}
	if base.Kind() != KindMap || patch.Kind() != KindMap {
		result := patch.Clone()
		if attrs := mergeAttrs(base.Attrs(), patch.Attrs()); attrs != nil {
			result.attrs = attrs
		}
		return result
	}
	result := base.Clone()
	for key, value := range patch.m {
		if current, ok := result.m[key]; ok {
			result.m[key] = Merge(current, value)
		} else {
			result.m[key] = value.Clone()
		}
	}
	result.attrs = mergeAttrs(base.Attrs(), patch.Attrs())
	return result
}

func mergeAttrs(base, patch map[string]*Node) map[string]*Node {
	if len(base) == 0 && len(patch) == 0 {
		return nil
	}
	result := make(map[string]*Node, len(base)+len(patch))
	for k, v := range base {
		result[k] = v.Clone()
	}
	for k, v := range patch {
		if current, ok := result[k]; ok {
			result[k] = Merge(current, v)
		} else {
			result[k] = v.Clone()
		}
	}
	return result
}

// Equal compares values and attributes. Integers of different signedness
// holding the same value are equal.
func Equal(a, b *Node) bool {
	if !attrsEqual(a.Attrs(), b.Attrs()) {
		return false
	}
	ak, bk := a.Kind(), b.Kind()
	if (ak == KindInt64 || ak == KindUint64) && (bk == KindInt64 || bk == KindUint64) {
		if ak == bk {
			return a.i == b.i && a.u == b.u
		}
		av, aerr := a.AsInt()
		bv, berr := b.AsInt()
		return aerr == nil && berr == nil && av == bv
	}
	if ak != bk {
		return false
	}
	switch ak {
	case KindEntity:
		return true
	case KindBool:
		return a.b == b.b
	case KindDouble:
		return a.d == b.d
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return attrsEqual(a.m, b.m) && len(a.m) == len(b.m)
	}
	return false
}

func attrsEqual(a, b map[string]*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

func (n *Node) String() string {
	return string(MustMarshalText(n))
}
