package ypatch

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.ytsaurus.tech/yt/go/ypath"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

type PatchTarget interface {
	ApplyPatch(ctx context.Context, path ypath.Path, patch Patch) error
	ApplyPatchSet(ctx context.Context, path ypath.Path, patchSet PatchSet) error
}

func ypathIsAbsolute(path ypath.Path) bool {
	return path == ypath.Root || strings.HasPrefix(string(path), string(ypath.Root+"/"))
}

func applyPatchSet(ctx context.Context, t PatchTarget, path ypath.Path, patchSet PatchSet) error {
	// NOTE: "<>//..." will be applied last.
	for _, patchPath := range slices.Sorted(maps.Keys(patchSet)) {
		if err := t.ApplyPatch(ctx, path+patchPath.YPath(), patchSet[patchPath]); err != nil {
			return err
		}
	}
	return nil
}

// DriverPatchTarget applies patches to cypress documents and attributes,
// e.g. dynamic configs such as //sys/cluster_nodes/@config.
type DriverPatchTarget struct {
	Driver *driver.Driver
	DryRun bool
}

func (t *DriverPatchTarget) ApplyPatch(ctx context.Context, path ypath.Path, patch Patch) error {
	for i, op := range patch {
		var err error
		dst := string(path + op.Path)
		switch op.Op {
		case PatchOpAdd, PatchOpReplace:
			if !t.DryRun {
				err = t.Driver.Set(ctx, dst, op.Value, driver.Recursive())
			}
		case PatchOpCopy, PatchOpMove:
			src := op.From
			if !ypathIsAbsolute(src) {
				src = path + src
			}
			var value *ytree.Node
			if value, err = t.Driver.Get(ctx, string(src)); err != nil {
				break
			}
			if !t.DryRun {
				if err = t.Driver.Set(ctx, dst, value, driver.Recursive()); err != nil {
					break
				}
				if op.Op == PatchOpMove {
					err = t.Driver.Remove(ctx, string(src), driver.Recursive(), driver.Force())
				}
			}
		case PatchOpRemove:
			if !t.DryRun {
				err = t.Driver.Remove(ctx, dst, driver.Recursive(), driver.Force())
			}
		case PatchOpTest:
			var value *ytree.Node
			if value, err = t.Driver.Get(ctx, dst); err != nil {
				break
			}
			err = testValue(value, op.Value)
		default:
			err = fmt.Errorf("unknown patch operation: %v", op.Op)
		}
		if err != nil {
			return fmt.Errorf("patch step %d failed for path %v: %w", i, dst, err)
		}
	}
	return nil
}

func (t *DriverPatchTarget) ApplyPatchSet(ctx context.Context, path ypath.Path, patchSet PatchSet) error {
	return applyPatchSet(ctx, t, path, patchSet)
}

// NodePatchTarget applies patches to an in-memory document. Paths are
// relative to Root; the absolute prefix "/" addresses Root itself.
type NodePatchTarget struct {
	Root *ytree.Node
}

func (t *NodePatchTarget) ApplyPatch(_ context.Context, path ypath.Path, patch Patch) error {
	result, err := applyAt(t.Root, path, patch)
	if err != nil {
		return err
	}
	t.Root = result
	return nil
}

func (t *NodePatchTarget) ApplyPatchSet(ctx context.Context, path ypath.Path, patchSet PatchSet) error {
	return applyPatchSet(ctx, t, path, patchSet)
}

// Apply returns a patched copy of root.
func Apply(root *ytree.Node, patch Patch) (*ytree.Node, error) {
	return applyAt(root, "", patch)
}

func applyAt(root *ytree.Node, prefix ypath.Path, patch Patch) (*ytree.Node, error) {
	result := root.Clone()
	if result == nil {
		result = ytree.EmptyMap()
	}
	for i, op := range patch {
		dst := prefix + op.Path
		var err error
		result, err = applyOperation(result, prefix, op)
		if err != nil {
			return nil, fmt.Errorf("patch step %d failed for path %v: %w", i, dst, err)
		}
	}
	return result, nil
}

func applyOperation(root *ytree.Node, prefix ypath.Path, op PatchOperation) (*ytree.Node, error) {
	dst, err := splitPath(prefix + op.Path)
	if err != nil {
		return nil, err
	}
	switch op.Op {
	case PatchOpAdd, PatchOpReplace:
		value, err := ytree.FromGo(op.Value)
		if err != nil {
			return nil, err
		}
		return setAt(root, dst, value.Clone(), op.Op == PatchOpAdd)
	case PatchOpCopy, PatchOpMove:
		from := op.From
		if !ypathIsAbsolute(from) {
			from = prefix + from
		}
		src, err := splitPath(from)
		if err != nil {
			return nil, err
		}
		value, err := getAt(root, src)
		if err != nil {
			return nil, err
		}
		if op.Op == PatchOpMove {
			if root, err = removeAt(root, src); err != nil {
				return nil, err
			}
		}
		return setAt(root, dst, value.Clone(), true)
	case PatchOpRemove:
		return removeAt(root, dst)
	case PatchOpTest:
		value, err := getAt(root, dst)
		if err != nil {
			return nil, err
		}
		return root, testValue(value, op.Value)
	}
	return nil, fmt.Errorf("unknown patch operation: %v", op.Op)
}

func testValue(actual *ytree.Node, expected any) error {
	want, err := ytree.FromGo(expected)
	if err != nil {
		return err
	}
	if !ytree.Equal(actual, want) {
		return fmt.Errorf("test failed: expected %v, actual %v", want, actual)
	}
	return nil
}

// splitPath splits "/a/b/@c/0" into tokens; "//a" is the same as "/a"
// and "/" is the root. "\" escapes the next character.
func splitPath(path ypath.Path) ([]string, error) {
	s := string(path)
	if ypathIsAbsolute(path) {
		s = s[1:]
	}
	if s == "" {
		return nil, nil
	}
	if s[0] != '/' {
		return nil, fmt.Errorf("malformed patch path %q", path)
	}
	var tokens []string
	var current strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 == len(s) {
				return nil, fmt.Errorf("malformed patch path %q: trailing escape", path)
			}
			i++
			current.WriteByte(s[i])
		case '/':
			tokens = append(tokens, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(tokens, current.String()), nil
}

func child(n *ytree.Node, token string) (*ytree.Node, error) {
	if name, ok := strings.CutPrefix(token, "@"); ok {
		if v := n.Attr(name); v != nil {
			return v, nil
		}
		return nil, fmt.Errorf("attribute %q not found", name)
	}
	switch n.Kind() {
	case ytree.KindMap:
		if v := n.Get(token); v != nil {
			return v, nil
		}
		return nil, fmt.Errorf("key %q not found", token)
	case ytree.KindList:
		i, err := listIndex(n, token, false)
		if err != nil {
			return nil, err
		}
		return n.Index(i), nil
	}
	return nil, fmt.Errorf("cannot resolve %q in %s node", token, n.Kind())
}

func listIndex(n *ytree.Node, token string, insert bool) (int, error) {
	if token == "-" || token == "end" {
		if insert {
			return n.Len(), nil
		}
		return n.Len() - 1, nil
	}
	i, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid list index %q", token)
	}
	if i < 0 {
		i += n.Len()
	}
	return i, nil
}

func getAt(root *ytree.Node, tokens []string) (*ytree.Node, error) {
	n := root
	for _, token := range tokens {
		var err error
		if n, err = child(n, token); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func parentOf(root *ytree.Node, tokens []string) (*ytree.Node, string, error) {
	parent, err := getAt(root, tokens[:len(tokens)-1])
	if err != nil {
		return nil, "", err
	}
	return parent, tokens[len(tokens)-1], nil
}

// setAt stores value at tokens. Missing map parents are created.
func setAt(root *ytree.Node, tokens []string, value *ytree.Node, insert bool) (*ytree.Node, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	n := root
	for _, token := range tokens[:len(tokens)-1] {
		next, err := child(n, token)
		if err != nil {
			if n.Kind() != ytree.KindMap || strings.HasPrefix(token, "@") {
				return nil, err
			}
			next = ytree.EmptyMap()
			n.Set(token, next)
		}
		n = next
	}
	last := tokens[len(tokens)-1]
	if name, ok := strings.CutPrefix(last, "@"); ok {
		n.SetAttr(name, value)
		return root, nil
	}
	switch n.Kind() {
	case ytree.KindMap:
		n.Set(last, value)
	case ytree.KindList:
		i, err := listIndex(n, last, insert)
		if err != nil {
			return nil, err
		}
		if insert {
			err = n.InsertAt(i, value)
		} else {
			err = n.SetIndex(i, value)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot set %q in %s node", last, n.Kind())
	}
	return root, nil
}

func removeAt(root *ytree.Node, tokens []string) (*ytree.Node, error) {
	if len(tokens) == 0 {
		return ytree.Entity(), nil
	}
	parent, last, err := parentOf(root, tokens)
	if err != nil {
		return nil, err
	}
	if name, ok := strings.CutPrefix(last, "@"); ok {
		parent.DeleteAttr(name)
		return root, nil
	}
	switch parent.Kind() {
	case ytree.KindMap:
		parent.Delete(last)
	case ytree.KindList:
		i, err := listIndex(parent, last, false)
		if err != nil {
			return nil, err
		}
		if err := parent.RemoveAt(i); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot remove %q from %s node", last, parent.Kind())
	}
	return root, nil
}
