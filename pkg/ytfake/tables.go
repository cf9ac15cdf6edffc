package ytfake

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	tabletUnmounted = "unmounted"
	tabletMounted   = "mounted"
	tabletFrozen    = "frozen"
	tabletTransient = "transient"
)

type column struct {
	name      string
	typ       string
	sortOrder string
	required  bool
}

type tableSchema struct {
	columns    []column
	strict     bool
	uniqueKeys bool
}

func (s *tableSchema) keyColumns() []string {
	var keys []string
	for _, col := range s.columns {
		if col.sortOrder != "" {
			keys = append(keys, col.name)
		}
	}
	return keys
}

func (s *tableSchema) column(name string) (column, bool) {
	for _, col := range s.columns {
		if col.name == name {
			return col, true
		}
	}
	return column{}, false
}

func (s *tableSchema) node() *ytree.Node {
	items := ytree.List()
	for _, col := range s.columns {
		item := ytree.Map(map[string]*ytree.Node{
			"name":     ytree.String(col.name),
			"type":     ytree.String(col.typ),
			"required": ytree.Bool(col.required),
		})
		if col.sortOrder != "" {
			item.Set("sort_order", ytree.String(col.sortOrder))
		}
		items.Append(item)
	}
	items.SetAttr("strict", ytree.Bool(s.strict))
	items.SetAttr("unique_keys", ytree.Bool(s.uniqueKeys))
	return items
}

func columnType(item *ytree.Node) (string, bool) {
	if typ := item.Get("type"); typ != nil {
		return typ.Str(), item.Get("required").BoolOr(false)
	}
	typeV3 := item.Get("type_v3")
	if typeV3.Kind() == ytree.KindString {
		return typeV3.Str(), true
	}
	if typeV3.Get("type_name").Str() == "optional" {
		return typeV3.Get("item").Str(), false
	}
	return "any", false
}

func parseSchema(n *ytree.Node) (*tableSchema, *yterrors.Error) {
	s := &tableSchema{strict: n.Attr("strict").BoolOr(true), uniqueKeys: n.Attr("unique_keys").BoolOr(false)}
	items, err := n.AsList()
	if err != nil {
		return nil, badParam("Table schema must be a list, got %s", n.Kind())
	}
	seen := map[string]bool{}
	keysEnded := false
	for _, item := range items {
		col := column{name: item.Get("name").Str(), sortOrder: item.Get("sort_order").Str()}
		if col.name == "" {
			return nil, badParam("Column name cannot be empty")
		}
		if seen[col.name] {
			return nil, badParam("Duplicate column name %q in table schema", col.name)
		}
		seen[col.name] = true
		col.typ, col.required = columnType(item)
		if required := item.Get("required"); required != nil {
			col.required = required.BoolOr(false)
		}
		if col.sortOrder != "" && keysEnded {
			return nil, badParam("Key column %q must form a prefix of the schema", col.name)
		}
		if col.sortOrder == "" {
			keysEnded = true
		}
		s.columns = append(s.columns, col)
	}
	return s, nil
}

var intRanges = map[string][2]int64{
	"int8":  {math.MinInt8, math.MaxInt8},
	"int16": {math.MinInt16, math.MaxInt16},
	"int32": {math.MinInt32, math.MaxInt32},
	"int64": {math.MinInt64, math.MaxInt64},
}

var uintRanges = map[string]uint64{
	"uint8":  math.MaxUint8,
	"uint16": math.MaxUint16,
	"uint32": math.MaxUint32,
	"uint64": math.MaxUint64,
}

func valueFits(typ string, v *ytree.Node) bool {
	if r, ok := intRanges[typ]; ok {
		i, err := v.AsInt()
		return err == nil && i >= r[0] && i <= r[1]
	}
	if limit, ok := uintRanges[typ]; ok {
		u, err := v.AsUint()
		return err == nil && u <= limit
	}
	switch typ {
	case "string", "utf8":
		return v.Kind() == ytree.KindString
	case "boolean", "bool":
		return v.Kind() == ytree.KindBool
	case "double", "float":
		k := v.Kind()
		return k == ytree.KindDouble || k == ytree.KindInt64 || k == ytree.KindUint64
	}
	return true
}

func schemaViolation(format string, args ...any) *yterrors.Error {
	return newError(yterrs.CodeSchemaViolation, format, args...)
}

func (s *tableSchema) validateRow(row *ytree.Node) *yterrors.Error {
	if row.Kind() != ytree.KindMap {
		return schemaViolation("Row must be a map, got %s", row.Kind())
	}
	for _, col := range s.columns {
		v := row.Get(col.name)
		if v.IsEntity() {
			if col.required {
				return schemaViolation("Required column %q cannot have %q value", col.name, "null")
			}
			continue
		}
		if !valueFits(col.typ, v) {
			return schemaViolation("Invalid type of column %q: expected %q, got %s value %s", col.name, col.typ, v.Kind(), v.String())
		}
	}
	if s.strict {
		for _, key := range row.Keys() {
			if _, ok := s.column(key); !ok {
				return schemaViolation("Unknown column %q in strict schema", key)
			}
		}
	}
	return nil
}

type chunk struct {
	id   string
	rows []*ytree.Node
}

func newChunk(rows []*ytree.Node) *chunk {
	return &chunk{id: newID(), rows: rows}
}

type table struct {
	schema  *tableSchema
	dynamic bool
	chunks  []*chunk

	// Sorted dynamic table state.
	rows        map[string]*ytree.Node
	dirty       bool
	state       string
	target      string
	settleAt    time.Time
	tabletIDs   []string
	compactedAt int64
}

func newTable(attrs *ytree.Node) (*table, *yterrors.Error) {
	t := &table{
		schema:    &tableSchema{},
		state:     tabletUnmounted,
		tabletIDs: []string{newID()},
	}
	if schemaNode := attrs.Get("schema"); schemaNode != nil {
		s, err := parseSchema(schemaNode)
		if err != nil {
			return nil, err
		}
		t.schema = s
	}
	if attrs.Get("dynamic").BoolOr(false) {
		if err := t.makeDynamic(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *table) clone() *table {
	clone := *t
	clone.chunks = slices.Clone(t.chunks)
	clone.tabletIDs = slices.Clone(t.tabletIDs)
	if t.rows != nil {
		clone.rows = make(map[string]*ytree.Node, len(t.rows))
		for k, v := range t.rows {
			clone.rows[k] = v.Clone()
		}
	}
	clone.state, clone.target = tabletUnmounted, ""
	return &clone
}

func (t *table) makeDynamic() *yterrors.Error {
	keys := t.schema.keyColumns()
	if len(keys) == 0 {
		return badParam("Dynamic tables must have a sorted schema")
	}
	if !t.schema.uniqueKeys {
		return badParam("Dynamic sorted tables must have \"unique_keys\" set")
	}
	t.dynamic = true
	t.rows = map[string]*ytree.Node{}
	for _, c := range t.chunks {
		for _, row := range c.rows {
			t.rows[t.rowKey(row)] = row
		}
	}
	return nil
}

func (t *table) rowKey(row *ytree.Node) string {
	key := ytree.List()
	for _, col := range t.schema.columns {
		if col.sortOrder == "" {
			break
		}
		key.Append(canonicalKey(col.typ, row.Get(col.name)))
	}
	return key.String()
}

// canonicalKey makes signed and unsigned spellings of a key value equal.
func canonicalKey(typ string, v *ytree.Node) *ytree.Node {
	switch v.Kind() {
	case ytree.KindInt64, ytree.KindUint64:
		if _, unsigned := uintRanges[typ]; unsigned {
			if u, err := v.AsUint(); err == nil {
				return ytree.Uint(u)
			}
		} else if i, err := v.AsInt(); err == nil {
			return ytree.Int(i)
		}
	}
	return v.WithoutAttrs()
}

func (t *table) allRows() []*ytree.Node {
	if t.dynamic {
		rows := make([]*ytree.Node, 0, len(t.rows))
		for _, row := range t.rows {
			rows = append(rows, row)
		}
		return ytree.SortedBy(rows, t.schema.keyColumns())
	}
	var rows []*ytree.Node
	for _, c := range t.chunks {
		rows = append(rows, c.rows...)
	}
	return rows
}

func (t *table) rowCount() int {
	if t.dynamic {
		return len(t.rows)
	}
	count := 0
	for _, c := range t.chunks {
		count += len(c.rows)
	}
	return count
}

// tabletState completes a pending transition once its time has come.
func (t *table) tabletState(now time.Time) string {
	if t.target != "" {
		if now.Before(t.settleAt) {
			return tabletTransient
		}
		t.state, t.target = t.target, ""
	}
	return t.state
}

func (t *table) startTransition(target string, now time.Time, delay time.Duration) {
	t.target = target
	t.settleAt = now.Add(delay)
}

// flush turns unflushed dynamic rows into a chunk.
func (t *table) flush() {
	if !t.dirty {
		return
	}
	t.dirty = false
	t.chunks = append(t.chunks, newChunk(t.allRows()))
}

func (t *table) compact() {
	t.dirty = false
	t.chunks = nil
	if rows := t.allRows(); len(rows) > 0 {
		t.chunks = []*chunk{newChunk(rows)}
	}
}

func (c *Cluster) tableAttr(n *node, name string) (*ytree.Node, bool) {
	t := n.table
	switch name {
	case "row_count":
		return ytree.Int(int64(t.rowCount())), true
	case "chunk_count":
		return ytree.Int(int64(len(t.chunks))), true
	case "chunk_ids":
		ids := ytree.List()
		for _, c := range t.chunks {
			ids.Append(ytree.String(c.id))
		}
		return ids, true
	case "schema":
		return t.schema.node(), true
	case "sorted":
		return ytree.Bool(len(t.schema.keyColumns()) > 0), true
	case "sorted_by", "key_columns":
		keys := ytree.List()
		for _, key := range t.schema.keyColumns() {
			keys.Append(ytree.String(key))
		}
		return keys, true
	case "dynamic":
		return ytree.Bool(t.dynamic), true
	case "tablet_cell_bundle":
		if bundle := n.attrs["tablet_cell_bundle"]; bundle != nil {
			return bundle, true
		}
		return ytree.String(consts.DefaultName), true
	}
	if !t.dynamic {
		return nil, false
	}
	switch name {
	case "tablet_state":
		return ytree.String(t.tabletState(c.now())), true
	case "tablet_count":
		return ytree.Int(int64(len(t.tabletIDs))), true
	case "tablets":
		state := t.tabletState(c.now())
		tablets := ytree.List()
		for i, id := range t.tabletIDs {
			tablets.Append(ytree.Map(map[string]*ytree.Node{
				"index":     ytree.Int(int64(i)),
				"tablet_id": ytree.String(id),
				"state":     ytree.String(state),
			}))
		}
		return tablets, true
	}
	return nil, false
}

func (c *Cluster) setTableAttr(n *node, name string, value *ytree.Node) *yterrors.Error {
	switch name {
	case "schema", "dynamic", "row_count", "chunk_count", "chunk_ids", "sorted", "sorted_by",
		"key_columns", "tablet_state", "tablet_count", "tablets":
		return badParam("Builtin attribute %q cannot be set", name)
	}
	n.attrs[name] = value.Clone()
	return nil
}

// tableAt resolves path to a table node.
func (c *Cluster) tableAt(path string) (*node, *yterrors.Error) {
	n, rest, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 || n.typ != typeTable {
		return nil, badParam("Node %s is not a table", path)
	}
	return n, nil
}

func (c *Cluster) dynamicTableAt(path string) (*node, *yterrors.Error) {
	n, err := c.tableAt(path)
	if err != nil {
		return nil, err
	}
	if !n.table.dynamic {
		return nil, badParam("Table %s is not dynamic", path)
	}
	return n, nil
}

func checkSorted(s *tableSchema, prev *ytree.Node, rows []*ytree.Node) *yterrors.Error {
	keys := s.keyColumns()
	if len(keys) == 0 {
		return nil
	}
	for _, row := range rows {
		if prev != nil {
			switch cmp := ytree.CompareRows(prev, row, keys); {
			case cmp > 0:
				return newError(yterrs.CodeSortOrderViolation, "Sort order violation: %s > %s", prev.String(), row.String())
			case cmp == 0 && s.uniqueKeys:
				return newError(yterrs.CodeSortOrderViolation, "Duplicate key %s", row.String())
			}
		}
		prev = row
	}
	return nil
}

func (c *Cluster) writeTable(p *params, rows []*ytree.Node) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.tableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	if t.dynamic {
		return nil, badParam("Cannot write into dynamic table %s with write_table", path)
	}
	for _, row := range rows {
		if err := t.schema.validateRow(row); err != nil {
			return nil, err
		}
	}
	appendRows := p.pathAttr("path", "append").BoolOr(false)
	var prev *ytree.Node
	if appendRows && len(t.chunks) > 0 {
		last := t.chunks[len(t.chunks)-1].rows
		if len(last) > 0 {
			prev = last[len(last)-1]
		}
	}
	if err := checkSorted(t.schema, prev, rows); err != nil {
		return nil, err
	}
	if !appendRows {
		t.chunks = nil
	}
	if len(rows) > 0 {
		t.chunks = append(t.chunks, newChunk(rows))
	}
	return nil, nil
}

// concatenate appends the chunks of static source tables to the destination.
func (c *Cluster) concatenate(p *params) (*ytree.Node, *yterrors.Error) {
	dstPath, err := p.path("destination_path")
	if err != nil {
		return nil, err
	}
	dst, err := c.tableAt(dstPath)
	if err != nil {
		return nil, err
	}
	if dst.table.dynamic {
		return nil, badParam("Cannot concatenate into dynamic table %s", dstPath)
	}
	var chunks []*chunk
	for _, srcPath := range p.strings("source_paths") {
		src, err := c.tableAt(srcPath)
		if err != nil {
			return nil, err
		}
		if src.table.dynamic {
			return nil, badParam("Cannot concatenate dynamic table %s", srcPath)
		}
		for _, ch := range src.table.chunks {
			for _, row := range ch.rows {
				if err := dst.table.schema.validateRow(row); err != nil {
					return nil, err
				}
			}
		}
		chunks = append(chunks, src.table.chunks...)
	}
	if !p.pathAttr("destination_path", "append").BoolOr(false) {
		dst.table.chunks = nil
	}
	dst.table.chunks = append(dst.table.chunks, chunks...)
	return nil, nil
}

func project(rows []*ytree.Node, columns []string) []*ytree.Node {
	if columns == nil {
		return rows
	}
	result := make([]*ytree.Node, 0, len(rows))
	for _, row := range rows {
		projected := ytree.EmptyMap()
		for _, col := range columns {
			if row.Has(col) {
				projected.Set(col, row.Get(col))
			}
		}
		result = append(result, projected)
	}
	return result
}

func (c *Cluster) readTable(p *params) ([]*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.tableAt(path)
	if err != nil {
		return nil, err
	}
	var columns []string
	if cols := p.pathAttr("path", "columns"); cols != nil {
		items, _ := cols.AsList()
		columns = []string{}
		for _, item := range items {
			columns = append(columns, item.Str())
		}
	}
	return project(n.table.allRows(), columns), nil
}

func schemaCompatible(old, updated *tableSchema) bool {
	for _, col := range old.columns {
		next, ok := updated.column(col.name)
		if !ok || next.typ != col.typ || next.sortOrder != col.sortOrder {
			return false
		}
	}
	return true
}

func (c *Cluster) alterTable(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.tableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	if t.dynamic && t.tabletState(c.now()) != tabletUnmounted {
		return nil, newError(yterrs.CodeInvalidTabletState, "Cannot alter table %s since it is not unmounted", path)
	}
	if schemaNode := p.node("schema"); schemaNode != nil {
		s, err := parseSchema(schemaNode)
		if err != nil {
			return nil, err
		}
		if t.rowCount() > 0 && !schemaCompatible(t.schema, s) {
			return nil, newError(yterrs.CodeIncompatibleSchemas, "New table schema is not compatible with the old one")
		}
		t.schema = s
	}
	if dynamic := p.node("dynamic"); dynamic != nil {
		switch {
		case dynamic.BoolOr(false) && !t.dynamic:
			return nil, t.makeDynamic()
		case !dynamic.BoolOr(false) && t.dynamic:
			rows := t.allRows()
			t.dynamic, t.rows, t.dirty = false, nil, false
			t.chunks = nil
			if len(rows) > 0 {
				t.chunks = []*chunk{newChunk(rows)}
			}
		}
	}
	return nil, nil
}

func (c *Cluster) bundleHasCells(bundle string) bool {
	for _, cell := range c.objectsOf("tablet_cell") {
		if cell.attrs["tablet_cell_bundle"].Str() == bundle {
			return true
		}
	}
	return false
}

func (c *Cluster) mountTable(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	bundle, _ := c.tableAttr(n, "tablet_cell_bundle")
	if !c.bundleHasCells(bundle.Str()) {
		return nil, badParam("No healthy tablet cells in bundle %q", bundle.Str())
	}
	target := tabletMounted
	if p.flag("freeze") {
		target = tabletFrozen
	}
	switch t.tabletState(c.now()) {
	case target:
		return nil, nil
	case tabletUnmounted:
		t.startTransition(target, c.now(), c.transitionDelay)
		return nil, nil
	}
	return nil, newError(yterrs.CodeInvalidTabletState, "Cannot mount table %s in state %q", path, t.tabletState(c.now()))
}

func (c *Cluster) unmountTable(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	switch t.tabletState(c.now()) {
	case tabletUnmounted:
		return nil, nil
	case tabletTransient:
		if !p.flag("force") {
			return nil, newError(yterrs.CodeInvalidTabletState, "Cannot unmount table %s in transient state", path)
		}
	}
	t.flush()
	t.startTransition(tabletUnmounted, c.now(), c.transitionDelay)
	return nil, nil
}

func (c *Cluster) remountTable(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	if state := t.tabletState(c.now()); state != tabletMounted && state != tabletFrozen {
		return nil, newError(yterrs.CodeInvalidTabletState, "Cannot remount table %s in state %q", path, state)
	}
	if revision := n.attrs["forced_compaction_revision"].IntOr(0); revision > t.compactedAt {
		t.compactedAt = revision
		t.compact()
	}
	return nil, nil
}

func (c *Cluster) freezeTable(p *params, freeze bool) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	from, to := tabletMounted, tabletFrozen
	if !freeze {
		from, to = tabletFrozen, tabletMounted
	}
	switch state := t.tabletState(c.now()); state {
	case to:
		return nil, nil
	case from:
		if freeze {
			t.flush()
		}
		t.startTransition(to, c.now(), c.transitionDelay)
		return nil, nil
	default:
		return nil, newError(yterrs.CodeInvalidTabletState, "Cannot change freeze state of table %s in state %q", path, state)
	}
}

func (c *Cluster) reshardTable(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	if state := t.tabletState(c.now()); state != tabletUnmounted {
		return nil, newError(yterrs.CodeInvalidTabletState, "Cannot reshard table %s in state %q", path, state)
	}
	count := int(p.node("tablet_count").IntOr(0))
	if pivots := p.node("pivot_keys"); pivots != nil {
		count = pivots.Len()
		if count == 0 || pivots.Index(0).Len() != 0 {
			return nil, badParam("First pivot key must be empty")
		}
	}
	if count <= 0 {
		return nil, badParam("Tablet count must be positive")
	}
	t.tabletIDs = make([]string, count)
	for i := range t.tabletIDs {
		t.tabletIDs[i] = newID()
	}
	return nil, nil
}

// writableTable checks that rows can be written to the table right now.
func (c *Cluster) writableTable(path string) (*table, *yterrors.Error) {
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	switch state := t.tabletState(c.now()); state {
	case tabletMounted:
		return t, nil
	case tabletFrozen:
		return nil, newError(yterrs.CodeInvalidTabletState, "Tablet of table %s is frozen", path)
	default:
		return nil, newError(yterrs.CodeTabletNotMounted, "Table %s is not mounted", path)
	}
}

func (c *Cluster) readableTable(path string) (*table, *yterrors.Error) {
	n, err := c.dynamicTableAt(path)
	if err != nil {
		return nil, err
	}
	t := n.table
	if state := t.tabletState(c.now()); state != tabletMounted && state != tabletFrozen {
		return nil, newError(yterrs.CodeTabletNotMounted, "Table %s is not mounted", path)
	}
	return t, nil
}

func (c *Cluster) checkKey(t *table, row *ytree.Node) *yterrors.Error {
	for _, key := range t.schema.keyColumns() {
		if !row.Has(key) {
			return schemaViolation("Missing key column %q", key)
		}
	}
	return nil
}

func (c *Cluster) insertRows(p *params, rows []*ytree.Node) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	t, err := c.writableTable(path)
	if err != nil {
		return nil, err
	}
	if err := c.checkTxParam(p); err != nil {
		return nil, err
	}
	update := p.flag("update")
	prepared := make(map[string]*ytree.Node, len(rows))
	for _, row := range rows {
		if err := c.checkKey(t, row); err != nil {
			return nil, err
		}
		key := t.rowKey(row)
		if update {
			if current, ok := t.rows[key]; ok {
				row = ytree.Merge(current, row)
			}
		}
		if err := t.schema.validateRow(row); err != nil {
			return nil, err
		}
		prepared[key] = row.Clone()
	}
	for key, row := range prepared {
		t.rows[key] = row
	}
	t.dirty = t.dirty || len(prepared) > 0
	return nil, nil
}

func (c *Cluster) deleteRows(p *params, keys []*ytree.Node) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	t, err := c.writableTable(path)
	if err != nil {
		return nil, err
	}
	if err := c.checkTxParam(p); err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := c.checkKey(t, key); err != nil {
			return nil, err
		}
	}
	for _, key := range keys {
		if _, ok := t.rows[t.rowKey(key)]; ok {
			delete(t.rows, t.rowKey(key))
			t.dirty = true
		}
	}
	return nil, nil
}

func (c *Cluster) lookupRows(p *params, keys []*ytree.Node) ([]*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	t, err := c.readableTable(path)
	if err != nil {
		return nil, err
	}
	var result []*ytree.Node
	keepMissing := p.flag("keep_missing_rows")
	for _, key := range keys {
		if err := c.checkKey(t, key); err != nil {
			return nil, err
		}
		row, ok := t.rows[t.rowKey(key)]
		switch {
		case ok:
			result = append(result, row)
		case keepMissing:
			result = append(result, ytree.Entity())
		}
	}
	if names := p.strings("column_names"); names != nil {
		result = project(result, names)
	}
	return result, nil
}

type predicate struct {
	column string
	op     string
	value  *ytree.Node
}

func (pr predicate) match(row *ytree.Node) bool {
	cmp := ytree.Compare(row.Get(pr.column), pr.value)
	switch pr.op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

type query struct {
	columns    []string
	path       string
	predicates []predicate
	limit      int
}

// parseQuery understands "cols FROM [path] WHERE a = 1 AND b > 2 LIMIT n".
func parseQuery(s string) (*query, *yterrors.Error) {
	q := &query{limit: -1}
	upper := strings.ToUpper(s)
	from := strings.Index(upper, " FROM ")
	if from < 0 {
		return nil, badParam("Query %q has no FROM clause", s)
	}
	if cols := strings.TrimSpace(s[:from]); cols != "*" {
		for _, col := range strings.Split(cols, ",") {
			q.columns = append(q.columns, strings.TrimSpace(col))
		}
	}
	rest := strings.TrimSpace(s[from+len(" FROM "):])
	if !strings.HasPrefix(rest, "[") {
		return nil, badParam("Table path must be enclosed in brackets in query %q", s)
	}
	end := strings.Index(rest, "]")
	if end < 0 {
		return nil, badParam("Unterminated table path in query %q", s)
	}
	q.path = rest[1:end]
	rest = strings.TrimSpace(rest[end+1:])

	upper = strings.ToUpper(rest)
	if i := strings.LastIndex(upper, "LIMIT "); i >= 0 {
		limit, err := strconv.Atoi(strings.TrimSpace(rest[i+len("LIMIT "):]))
		if err != nil {
			return nil, badParam("Invalid LIMIT in query %q", s)
		}
		q.limit = limit
		rest = strings.TrimSpace(rest[:i])
		upper = upper[:len(rest)]
	}
	if rest == "" {
		return q, nil
	}
	if !strings.HasPrefix(upper, "WHERE ") {
		return nil, badParam("Unexpected %q in query %q", rest, s)
	}
	for _, cond := range splitAnd(rest[len("WHERE "):]) {
		pr, err := parsePredicate(cond)
		if err != nil {
			return nil, err
		}
		q.predicates = append(q.predicates, pr)
	}
	return q, nil
}

func splitAnd(s string) []string {
	var parts []string
	for {
		i := strings.Index(strings.ToUpper(s), " AND ")
		if i < 0 {
			return append(parts, strings.TrimSpace(s))
		}
		parts = append(parts, strings.TrimSpace(s[:i]))
		s = s[i+len(" AND "):]
	}
}

func parsePredicate(s string) (predicate, *yterrors.Error) {
	for _, op := range []string{"!=", "<=", ">=", "=", "<", ">"} {
		if i := strings.Index(s, op); i > 0 {
			value, err := ytree.ParseString(strings.TrimSpace(s[i+len(op):]))
			if err != nil {
				return predicate{}, badParam("Invalid literal in condition %q: %v", s, err)
			}
			return predicate{column: strings.TrimSpace(s[:i]), op: op, value: value}, nil
		}
	}
	return predicate{}, badParam("Unsupported condition %q", s)
}

func (c *Cluster) selectRows(p *params) ([]*ytree.Node, *yterrors.Error) {
	q, err := parseQuery(p.str("query"))
	if err != nil {
		return nil, err
	}
	t, err := c.readableTable(q.path)
	if err != nil {
		return nil, err
	}
	var result []*ytree.Node
	for _, row := range t.allRows() {
		if q.limit >= 0 && len(result) >= q.limit {
			break
		}
		if !slices.ContainsFunc(q.predicates, func(pr predicate) bool { return !pr.match(row) }) {
			result = append(result, row)
		}
	}
	return project(result, q.columns), nil
}
