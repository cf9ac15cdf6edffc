package driver

import (
	"fmt"
	"strings"

	"go.ytsaurus.tech/yt/go/ypath"
	"go.ytsaurus.tech/yt/go/yson"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// paramAliases rewrites short parameter names accepted from callers.
var paramAliases = map[string]string{
	"tx":                "transaction_id",
	"ping_ancestor_txs": "ping_ancestor_transactions",
	"op":                "operation_id",
	"user":              "authenticated_user",
}

// userParamCommands take "user" as a parameter of their own.
var userParamCommands = map[string]bool{
	"check_permission":                 true,
	"yp_check_object_permissions":      true,
	"yp_get_user_access_allowed_to":    true,
	"yp_get_object_access_allowed_for": true,
}

// pathParams hold rich YPaths.
var pathParams = map[string]bool{
	"path":             true,
	"source_path":      true,
	"destination_path": true,
	"target_path":      true,
	"link_path":        true,
	"table_path":       true,
}

// pathListParams hold lists of rich YPaths.
var pathListParams = map[string]bool{
	"paths":              true,
	"source_paths":       true,
	"input_table_paths":  true,
	"output_table_paths": true,
}

// NormalizeParams converts caller parameters to the map sent to the server:
// aliases are rewritten and path parameters are parsed as rich YPaths.
func NormalizeParams(command string, params map[string]any) (*ytree.Node, error) {
	result := ytree.EmptyMap()
	for key, value := range params {
		if canonical, ok := paramAliases[key]; ok && !(key == "user" && userParamCommands[command]) {
			if _, dup := params[canonical]; dup {
				return nil, fmt.Errorf("parameter %q conflicts with its alias %q", canonical, key)
			}
			key = canonical
		}
		node, err := ytree.FromGo(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert parameter %q: %w", key, err)
		}
		switch {
		case pathParams[key]:
			node, err = normalizePath(node)
		case pathListParams[key]:
			node, err = normalizePathList(node)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", key, err)
		}
		result.Set(key, node)
	}
	return result, nil
}

func normalizePath(node *ytree.Node) (*ytree.Node, error) {
	s, err := node.AsString()
	if err != nil {
		return nil, err
	}
	rich, err := ParseRichPath(s)
	if err != nil {
		return nil, err
	}
	// Attributes given next to the string win over the ones embedded in it.
	for k, v := range node.Attrs() {
		rich.SetAttr(k, v)
	}
	return rich, nil
}

func normalizePathList(node *ytree.Node) (*ytree.Node, error) {
	items, err := node.AsList()
	if err != nil {
		return nil, err
	}
	result := ytree.List()
	for _, item := range items {
		p, err := normalizePath(item)
		if err != nil {
			return nil, err
		}
		result.Append(p)
	}
	return result, nil
}

// ParseRichPath parses `<attrs>path{columns}[ranges]` into a string node
// carrying the attributes. Column and range selectors become the "columns"
// and "ranges" attributes.
func ParseRichPath(s string) (*ytree.Node, error) {
	s = strings.TrimSpace(s)
	rich, err := ypath.Parse(s)
	if err != nil {
		return nil, err
	}
	path := string(rich.Path)
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "#") {
		return nil, fmt.Errorf("path %q is not absolute", path)
	}

	node := ytree.String(path)
	n, err := yson.SliceYPathAttrs([]byte(s))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		attrs, err := ytree.ParseString(s[:n] + "#")
		if err != nil {
			return nil, fmt.Errorf("invalid path attributes in %q: %w", s, err)
		}
		for k, v := range attrs.Attrs() {
			node.SetAttr(k, v)
		}
	}
	if rich.Columns != nil {
		if err := setEncodedAttr(node, "columns", rich.Columns); err != nil {
			return nil, err
		}
	}
	if rich.Ranges != nil {
		if err := setEncodedAttr(node, "ranges", rich.Ranges); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func setEncodedAttr(node *ytree.Node, key string, value any) error {
	data, err := yson.Marshal(value)
	if err != nil {
		return err
	}
	attr, err := ytree.Parse(data)
	if err != nil {
		return err
	}
	node.SetAttr(key, attr)
	return nil
}
