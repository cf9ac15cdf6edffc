package ytfake

import (
	"maps"
	"slices"
	"strings"
	"time"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	typeMapNode     = "map_node"
	typeDocument    = "document"
	typeTable       = "table"
	typeFile        = "file"
	typeLink        = "link"
	typeClusterNode = "cluster_node"
	typeTransaction = "transaction"
	typeOperation   = "operation"
)

// node is a cypress node or a master object registered under a system map.
type node struct {
	id       string
	typ      string
	name     string
	parent   *node
	created  time.Time
	attrs    map[string]*ytree.Node
	children map[string]*node
	// value holds documents and scalar nodes.
	value  *ytree.Node
	table  *table
	data   []byte
	target string
}

func (c *Cluster) newNode(typ string) *node {
	n := &node{
		id:      newID(),
		typ:     typ,
		created: c.now(),
		attrs:   map[string]*ytree.Node{},
	}
	if typ == typeMapNode {
		n.children = map[string]*node{}
	}
	c.byID[n.id] = n
	return n
}

func (n *node) isMap() bool { return n.children != nil }

func (n *node) addChild(name string, child *node) {
	child.parent = n
	child.name = name
	n.children[name] = child
}

func (c *Cluster) unregister(n *node) {
	delete(c.byID, n.id)
	for _, child := range n.children {
		c.unregister(child)
	}
}

func (c *Cluster) detach(n *node) {
	if n.parent != nil {
		delete(n.parent.children, n.name)
		n.parent = nil
	}
}

// splitTokens splits a path such as "//a/b/@c" into its tokens. A backslash
// escapes the next character.
func splitTokens(path string) []string {
	s := strings.TrimPrefix(path, "/")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return nil
	}
	var tokens []string
	var current strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				current.WriteByte(s[i])
			}
		case '/':
			tokens = append(tokens, current.String())
			current.Reset()
		default:
			current.WriteByte(s[i])
		}
	}
	return append(tokens, current.String())
}

func (c *Cluster) mkdirs(tokens []string) *node {
	n := c.root
	for _, token := range tokens {
		child, ok := n.children[token]
		if !ok {
			child = c.newNode(typeMapNode)
			n.addChild(token, child)
		}
		n = child
	}
	return n
}

func (c *Cluster) mustResolve(path string) *node {
	n, rest, err := c.resolve(path)
	if err != nil || len(rest) != 0 {
		panic("ytfake: cannot resolve " + path)
	}
	return n
}

// resolve walks path through cypress nodes. The remaining tokens address
// attributes or the inside of a document.
func (c *Cluster) resolve(path string) (*node, []string, *yterrors.Error) {
	return c.resolvePath(path, true)
}

// resolvePath leaves a trailing link unresolved unless follow is set.
func (c *Cluster) resolvePath(path string, follow bool) (*node, []string, *yterrors.Error) {
	var n *node
	var tokens []string
	if id, ok := strings.CutPrefix(path, "#"); ok {
		var rest string
		id, rest, _ = strings.Cut(id, "/")
		if n = c.byID[id]; n == nil {
			return nil, nil, resolveError(path)
		}
		if rest != "" {
			tokens = splitTokens("/" + rest)
		}
	} else {
		if !strings.HasPrefix(path, "/") {
			return nil, nil, badParam("Path %q is not absolute", path)
		}
		n = c.root
		tokens = splitTokens(path)
	}
	for i, token := range tokens {
		if n.typ == typeLink {
			target, err := c.followLink(n, path)
			if err != nil {
				return nil, nil, err
			}
			n = target
		}
		if strings.HasPrefix(token, "@") || !n.isMap() {
			return n, tokens[i:], nil
		}
		child, ok := n.children[token]
		if !ok {
			return nil, nil, resolveError(path)
		}
		n = child
	}
	if follow && n.typ == typeLink {
		target, err := c.followLink(n, path)
		if err != nil {
			return nil, nil, err
		}
		n = target
	}
	return n, nil, nil
}

func (c *Cluster) followLink(n *node, path string) (*node, *yterrors.Error) {
	for hops := 0; n.typ == typeLink; hops++ {
		target, rest, err := c.resolvePath(n.target, false)
		if err != nil || len(rest) > 0 || hops > 32 {
			return nil, resolveError(path)
		}
		n = target
	}
	return n, nil
}

// navigate descends into a document value.
func navigate(v *ytree.Node, tokens []string) (*ytree.Node, bool) {
	for _, token := range tokens {
		if name, ok := strings.CutPrefix(token, "@"); ok {
			if v = v.Attr(name); v == nil {
				return nil, false
			}
			continue
		}
		switch v.Kind() {
		case ytree.KindMap:
			if !v.Has(token) {
				return nil, false
			}
			v = v.Get(token)
		case ytree.KindList:
			i, ok := listIndex(v, token)
			if !ok {
				return nil, false
			}
			v = v.Index(i)
		default:
			return nil, false
		}
	}
	return v, true
}

func listIndex(v *ytree.Node, token string) (int, bool) {
	var i int
	for _, r := range token {
		if r < '0' || r > '9' {
			return 0, false
		}
		i = i*10 + int(r-'0')
	}
	return i, token != "" && i < v.Len()
}

// setIn returns a copy of v with value stored at tokens. Missing map keys
// are created.
func setIn(v *ytree.Node, tokens []string, value *ytree.Node) (*ytree.Node, bool) {
	if len(tokens) == 0 {
		return value, true
	}
	if v.Kind() != ytree.KindMap {
		return nil, false
	}
	result := v.Clone()
	child, ok := setIn(result.Get(tokens[0]), tokens[1:], value)
	if !ok {
		if result.Has(tokens[0]) || len(tokens) == 1 {
			return nil, false
		}
		if child, ok = setIn(ytree.EmptyMap(), tokens[1:], value); !ok {
			return nil, false
		}
	}
	result.Set(tokens[0], child)
	return result, true
}

func removeIn(v *ytree.Node, tokens []string) (*ytree.Node, bool) {
	if len(tokens) == 0 || v.Kind() != ytree.KindMap {
		return nil, false
	}
	result := v.Clone()
	if len(tokens) == 1 {
		if !result.Has(tokens[0]) {
			return nil, false
		}
		result.Delete(tokens[0])
		return result, true
	}
	child, ok := removeIn(result.Get(tokens[0]), tokens[1:])
	if !ok {
		return nil, false
	}
	result.Set(tokens[0], child)
	return result, true
}

func scalarNodeType(v *ytree.Node) string {
	switch v.Kind() {
	case ytree.KindString:
		return "string_node"
	case ytree.KindInt64:
		return "int64_node"
	case ytree.KindUint64:
		return "uint64_node"
	case ytree.KindDouble:
		return "double_node"
	case ytree.KindBool:
		return "boolean_node"
	case ytree.KindList:
		return "list_node"
	}
	return typeDocument
}

// builtinAttr computes system attributes. ok is false for user attributes.
func (c *Cluster) builtinAttr(n *node, name string) (*ytree.Node, bool) {
	switch name {
	case "id":
		return ytree.String(n.id), true
	case "type":
		return ytree.String(n.typ), true
	case "key":
		if n.parent != nil {
			return ytree.String(n.name), true
		}
	case "creation_time":
		return ytree.String(n.created.UTC().Format(time.RFC3339Nano)), true
	case "count":
		if n.isMap() {
			return ytree.Int(int64(len(n.children))), true
		}
	case "target_path":
		if n.typ == typeLink {
			return ytree.String(n.target), true
		}
	}
	switch n.typ {
	case typeTable:
		return c.tableAttr(n, name)
	case typeFile:
		if name == "uncompressed_data_size" {
			return ytree.Int(int64(len(n.data))), true
		}
	case "tablet_cell":
		if name == "health" {
			health := "initializing"
			if c.now().Sub(n.created) >= c.transitionDelay {
				health = "good"
			}
			return ytree.String(health), true
		}
	case "tablet_cell_bundle":
		switch name {
		case "health":
			return ytree.String("good"), true
		case "tablet_cell_count", "tablet_cell_ids":
			ids := ytree.List()
			for _, cell := range c.objectsOf("tablet_cell") {
				if cell.attrs["tablet_cell_bundle"].Str() == n.name {
					ids.Append(ytree.String(cell.id))
				}
			}
			if name == "tablet_cell_ids" {
				return ids, true
			}
			return ytree.Int(int64(ids.Len())), true
		}
	case typeClusterNode:
		switch name {
		case "state":
			state := "online"
			if n.attrs["banned"].BoolOr(false) {
				state = "offline"
			}
			return ytree.String(state), true
		case "banned":
			return ytree.Bool(n.attrs["banned"].BoolOr(false)), true
		}
	case typeTransaction:
		if tx := c.txs[n.name]; tx != nil {
			return tx.attr(name)
		}
	}
	return nil, false
}

var listedBuiltinAttrs = []string{"id", "type", "creation_time"}

func (c *Cluster) attr(n *node, name string) (*ytree.Node, bool) {
	if v, ok := c.builtinAttr(n, name); ok {
		return v, true
	}
	v, ok := n.attrs[name]
	return v, ok
}

func (c *Cluster) allAttrs(n *node) *ytree.Node {
	result := ytree.EmptyMap()
	for _, name := range listedBuiltinAttrs {
		v, _ := c.attr(n, name)
		result.Set(name, v)
	}
	for name, v := range n.attrs {
		result.Set(name, v.Clone())
	}
	return result
}

// orchid serves the introspection tree of a cluster node.
func (c *Cluster) orchid(n *node) *ytree.Node {
	applied := ytree.EmptyMap()
	if config := c.mustResolve("//sys/cluster_nodes").attrs["config"]; config != nil {
		for _, filter := range config.Keys() {
			if filter == "%true" {
				applied = config.Get(filter).Clone()
			}
		}
	}
	return ytree.Map(map[string]*ytree.Node{
		"dynamic_config_manager": ytree.Map(map[string]*ytree.Node{
			"applied_config": applied,
		}),
	})
}

// render turns a subtree into its value with the requested attributes.
func (c *Cluster) render(n *node, attrKeys []string) *ytree.Node {
	var result *ytree.Node
	switch {
	case n.isMap():
		children := make(map[string]*ytree.Node, len(n.children))
		for name, child := range n.children {
			children[name] = c.render(child, attrKeys)
		}
		result = ytree.Map(children)
	case n.value != nil:
		result = n.value.Clone()
	default:
		result = ytree.Entity()
	}
	for _, key := range attrKeys {
		if v, ok := c.attr(n, key); ok {
			result.SetAttr(key, v.Clone())
		}
	}
	return result
}

// lookup resolves path to a value, following attributes and documents.
func (c *Cluster) lookup(path string, attrKeys []string) (*ytree.Node, *yterrors.Error) {
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		return c.render(n, attrKeys), nil
	}
	var base *ytree.Node
	switch {
	case rest[0] == "@":
		base, rest = c.allAttrs(n), rest[1:]
	case strings.HasPrefix(rest[0], "@"):
		v, ok := c.attr(n, rest[0][1:])
		if !ok {
			return nil, resolveError(path)
		}
		base, rest = v, rest[1:]
	case n.typ == typeClusterNode && rest[0] == "orchid":
		base, rest = c.orchid(n), rest[1:]
	case n.value != nil:
		base = n.value
	default:
		return nil, resolveError(path)
	}
	v, ok := navigate(base, rest)
	if !ok {
		return nil, resolveError(path)
	}
	return v.Clone(), nil
}

func (c *Cluster) get(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	return c.lookup(path, p.strings("attributes"))
}

func (c *Cluster) exists(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	_, lookupErr := c.lookup(path, nil)
	return ytree.Bool(lookupErr == nil), nil
}

func (c *Cluster) list(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		v, err := c.lookup(path, nil)
		if err != nil {
			return nil, err
		}
		if v.Kind() != ytree.KindMap {
			return nil, badParam("Cannot list %s node %s", v.Kind(), path)
		}
		items := ytree.List()
		for _, key := range v.Keys() {
			items.Append(ytree.String(key))
		}
		return items, nil
	}
	if !n.isMap() {
		return nil, badParam("Cannot list node %s of type %s", path, n.typ)
	}
	keys := p.strings("attributes")
	items := ytree.List()
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		item := ytree.String(name)
		for _, key := range keys {
			if v, ok := c.attr(n.children[name], key); ok {
				item.SetAttr(key, v.Clone())
			}
		}
		items.Append(item)
	}
	return items, nil
}

// buildNode materializes a value as cypress nodes the way "set" does.
func (c *Cluster) buildNode(v *ytree.Node) *node {
	if v.Kind() == ytree.KindMap {
		n := c.newNode(typeMapNode)
		for _, key := range v.Keys() {
			n.addChild(key, c.buildNode(v.Get(key)))
		}
		return n
	}
	n := c.newNode(scalarNodeType(v))
	n.value = v.WithoutAttrs()
	return n
}

func (c *Cluster) setAttr(n *node, name string, rest []string, value *ytree.Node) *yterrors.Error {
	if len(rest) > 0 {
		current, ok := c.attr(n, name)
		if !ok {
			return resolveError("@" + name)
		}
		updated, ok := setIn(current, rest, value)
		if !ok {
			return resolveError("@" + name + "/" + strings.Join(rest, "/"))
		}
		value = updated
	}
	switch name {
	case "id", "type", "key", "count", "creation_time":
		return badParam("Builtin attribute %q cannot be set", name)
	}
	if n.typ == typeTable {
		return c.setTableAttr(n, name, value)
	}
	n.attrs[name] = value.Clone()
	return nil
}

func (c *Cluster) set(p *params, input *ytree.Node) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = ytree.Entity()
	}
	n, rest, resolveErr := c.resolve(path)
	if resolveErr != nil {
		parent, name, err := c.parentFor(path, p.flag("recursive"))
		if err != nil {
			return nil, err
		}
		parent.addChild(name, c.buildNode(input))
		return nil, nil
	}
	switch {
	case len(rest) > 0 && strings.HasPrefix(rest[0], "@"):
		return nil, c.setAttr(n, rest[0][1:], rest[1:], input)
	case len(rest) > 0 && n.value != nil:
		updated, ok := setIn(n.value, rest, input)
		if !ok {
			return nil, resolveError(path)
		}
		n.value = updated
	case len(rest) > 0 && n.isMap() && len(rest) == 1:
		n.addChild(rest[0], c.buildNode(input))
	case len(rest) > 0:
		return nil, resolveError(path)
	case n.isMap() && input.Kind() == ytree.KindMap:
		for _, child := range n.children {
			c.unregister(child)
		}
		n.children = map[string]*node{}
		for _, key := range input.Keys() {
			n.addChild(key, c.buildNode(input.Get(key)))
		}
	case n.value != nil || n.typ == typeDocument:
		n.value = input.WithoutAttrs()
	default:
		if !p.flag("force") {
			return nil, badParam("Cannot set value of %s node %s", n.typ, path)
		}
		replacement := c.buildNode(input)
		parent, name := n.parent, n.name
		c.detach(n)
		c.unregister(n)
		parent.addChild(name, replacement)
	}
	return nil, nil
}

// parentFor returns the map node that will hold the last token of path.
func (c *Cluster) parentFor(path string, recursive bool) (*node, string, *yterrors.Error) {
	if strings.HasPrefix(path, "#") {
		return nil, "", resolveError(path)
	}
	tokens := splitTokens(path)
	if len(tokens) == 0 {
		return nil, "", badParam("Node %s already exists", path)
	}
	name := tokens[len(tokens)-1]
	if strings.HasPrefix(name, "@") {
		return nil, "", resolveError(path)
	}
	n := c.root
	for _, token := range tokens[:len(tokens)-1] {
		child, ok := n.children[token]
		if !ok {
			if !recursive {
				return nil, "", resolveError(path)
			}
			child = c.newNode(typeMapNode)
			n.addChild(token, child)
		}
		if !child.isMap() {
			return nil, "", resolveError(path)
		}
		n = child
	}
	return n, name, nil
}

func (c *Cluster) create(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	nodeType := p.str("type")
	if nodeType == "" {
		return nil, badParam("Missing parameter \"type\"")
	}
	if existing, rest, err := c.resolvePath(path, false); err == nil && len(rest) == 0 {
		switch {
		case p.flag("ignore_existing") && existing.typ == nodeType:
			return ytree.String(existing.id), nil
		case p.flag("force"):
			c.detach(existing)
			c.unregister(existing)
		default:
			return nil, newError(yterrs.CodeAlreadyExists, "Node %s already exists", path)
		}
	}
	parent, name, err := c.parentFor(path, p.flag("recursive"))
	if err != nil {
		return nil, err
	}
	n, err := c.newTypedNode(nodeType, p.node("attributes"))
	if err != nil {
		return nil, err
	}
	parent.addChild(name, n)
	return ytree.String(n.id), nil
}

func (c *Cluster) newTypedNode(nodeType string, attrs *ytree.Node) (*node, *yterrors.Error) {
	var n *node
	switch nodeType {
	case typeMapNode:
		n = c.newNode(typeMapNode)
	case typeTable:
		n = c.newNode(typeTable)
		t, err := newTable(attrs)
		if err != nil {
			delete(c.byID, n.id)
			return nil, err
		}
		n.table = t
	case typeFile:
		n = c.newNode(typeFile)
	case typeDocument:
		n = c.newNode(typeDocument)
		n.value = ytree.EmptyMap()
		if v := attrs.Get("value"); v != nil {
			n.value = v.Clone()
		}
	case "string_node", "int64_node", "uint64_node", "double_node", "boolean_node", "list_node":
		n = c.newNode(nodeType)
		n.value = map[string]*ytree.Node{
			"string_node":  ytree.String(""),
			"int64_node":   ytree.Int(0),
			"uint64_node":  ytree.Uint(0),
			"double_node":  ytree.Double(0),
			"boolean_node": ytree.Bool(false),
			"list_node":    ytree.List(),
		}[nodeType]
	case typeLink:
		n = c.newNode(typeLink)
		n.target = attrs.Get("target_path").Str()
	default:
		return nil, badParam("Unsupported node type %q", nodeType)
	}
	for _, key := range attrs.Keys() {
		switch key {
		case "schema", "dynamic", "value", "target_path":
			continue
		}
		n.attrs[key] = attrs.Get(key).Clone()
	}
	return n, nil
}

func (c *Cluster) remove(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolvePath(path, false)
	if err != nil {
		if p.flag("force") {
			return nil, nil
		}
		return nil, err
	}
	switch {
	case len(rest) > 0 && strings.HasPrefix(rest[0], "@"):
		name := rest[0][1:]
		if len(rest) == 1 {
			if _, ok := n.attrs[name]; !ok && !p.flag("force") {
				return nil, resolveError(path)
			}
			delete(n.attrs, name)
			return nil, nil
		}
		updated, ok := removeIn(n.attrs[name], rest[1:])
		if !ok {
			return nil, resolveError(path)
		}
		n.attrs[name] = updated
		return nil, nil
	case len(rest) > 0 && n.value != nil:
		updated, ok := removeIn(n.value, rest)
		if !ok {
			if p.flag("force") {
				return nil, nil
			}
			return nil, resolveError(path)
		}
		n.value = updated
		return nil, nil
	case len(rest) > 0:
		return nil, resolveError(path)
	}
	if n == c.root {
		return nil, badParam("Cannot remove the root")
	}
	if n.isMap() && len(n.children) > 0 && !p.flag("recursive") {
		return nil, badParam("Cannot remove non-empty composite node %s without \"recursive\"", path)
	}
	return nil, c.removeNode(n)
}

func (c *Cluster) removeNode(n *node) *yterrors.Error {
	switch n.typ {
	case "tablet_cell_bundle":
		if count, _ := c.builtinAttr(n, "tablet_cell_count"); count.IntOr(0) > 0 {
			return badParam("Cannot remove tablet cell bundle %q since it has %d active tablet cell(s)", n.name, count.IntOr(0))
		}
	case typeTransaction:
		if tx := c.txs[n.name]; tx != nil {
			c.finishTx(tx, false)
			return nil
		}
	case "user", "group":
		c.dropMemberships(n)
	}
	c.detach(n)
	c.unregister(n)
	return nil
}

func (c *Cluster) cloneNode(n *node) *node {
	clone := c.newNode(n.typ)
	for k, v := range n.attrs {
		clone.attrs[k] = v.Clone()
	}
	clone.value = n.value.Clone()
	clone.data = slices.Clone(n.data)
	clone.target = n.target
	if n.table != nil {
		clone.table = n.table.clone()
	}
	for name, child := range n.children {
		clone.addChild(name, c.cloneNode(child))
	}
	return clone
}

func (c *Cluster) copyOrMove(p *params, move bool) (*ytree.Node, *yterrors.Error) {
	src, err := p.path("source_path")
	if err != nil {
		return nil, err
	}
	dst, err := p.path("destination_path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolve(src)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, resolveError(src)
	}
	if existing, rest, err := c.resolvePath(dst, false); err == nil && len(rest) == 0 {
		if !p.flag("force") {
			return nil, newError(yterrs.CodeAlreadyExists, "Node %s already exists", dst)
		}
		c.detach(existing)
		c.unregister(existing)
	}
	parent, name, err := c.parentFor(dst, p.flag("recursive"))
	if err != nil {
		return nil, err
	}
	result := n
	if move {
		c.detach(n)
	} else {
		result = c.cloneNode(n)
	}
	parent.addChild(name, result)
	return ytree.String(result.id), nil
}

func (c *Cluster) link(p *params) (*ytree.Node, *yterrors.Error) {
	target, err := p.path("target_path")
	if err != nil {
		return nil, err
	}
	linkPath, err := p.path("link_path")
	if err != nil {
		return nil, err
	}
	if _, _, err := c.resolve(target); err != nil {
		return nil, err
	}
	if existing, rest, err := c.resolvePath(linkPath, false); err == nil && len(rest) == 0 {
		if !p.flag("force") {
			return nil, newError(yterrs.CodeAlreadyExists, "Node %s already exists", linkPath)
		}
		c.detach(existing)
		c.unregister(existing)
	}
	parent, name, err := c.parentFor(linkPath, p.flag("recursive"))
	if err != nil {
		return nil, err
	}
	n := c.newNode(typeLink)
	n.target = target
	parent.addChild(name, n)
	return ytree.String(n.id), nil
}

func (c *Cluster) lock(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, _, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	txID := p.str("transaction_id")
	if _, err := c.liveTx(txID); err != nil {
		return nil, err
	}
	return ytree.Map(map[string]*ytree.Node{
		"lock_id": ytree.String(newID()),
		"node_id": ytree.String(n.id),
	}), nil
}

func (c *Cluster) unlock(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	if _, _, err := c.resolve(path); err != nil {
		return nil, err
	}
	_, err = c.liveTx(p.str("transaction_id"))
	return nil, err
}

func (c *Cluster) multisetAttributes(p *params, input *ytree.Node) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 && rest[0] != "@" {
		return nil, resolveError(path)
	}
	for _, key := range input.Keys() {
		if err := c.setAttr(n, key, nil, input.Get(key)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *Cluster) writeFile(p *params, data []byte) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 || n.typ != typeFile {
		return nil, badParam("Node %s is not a file", path)
	}
	if p.pathAttr("path", "append").BoolOr(false) {
		n.data = append(n.data, data...)
	} else {
		n.data = slices.Clone(data)
	}
	return nil, nil
}

func (c *Cluster) readFile(p *params) ([]byte, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 || n.typ != typeFile {
		return nil, badParam("Node %s is not a file", path)
	}
	return slices.Clone(n.data), nil
}
