package driver

import (
	"context"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func (d *Driver) structured(ctx context.Context, command string, params map[string]any, opts []Option) (*ytree.Node, error) {
	rsp, err := d.Execute(ctx, newRequest(command, params, opts))
	if err != nil {
		return nil, err
	}
	if rsp.Value == nil {
		return ytree.Entity(), nil
	}
	return rsp.Value, nil
}

func (d *Driver) void(ctx context.Context, command string, params map[string]any, opts []Option) error {
	_, err := d.Execute(ctx, newRequest(command, params, opts))
	return err
}

func (d *Driver) id(ctx context.Context, command string, params map[string]any, opts []Option) (string, error) {
	value, err := d.structured(ctx, command, params, opts)
	if err != nil {
		return "", err
	}
	return value.AsString()
}

func (d *Driver) Get(ctx context.Context, path string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "get", map[string]any{"path": path}, opts)
}

// GetDefault returns def when the path does not resolve.
func (d *Driver) GetDefault(ctx context.Context, path string, def *ytree.Node, opts ...Option) (*ytree.Node, error) {
	value, err := d.Get(ctx, path, opts...)
	if err != nil {
		if yterrs.ContainsKind(err, yterrs.KindResolveError) {
			return def, nil
		}
		return nil, err
	}
	return value, nil
}

// GetInto decodes the node at path into v.
func (d *Driver) GetInto(ctx context.Context, path string, v any, opts ...Option) error {
	value, err := d.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	return value.Decode(v)
}

func (d *Driver) Set(ctx context.Context, path string, value any, opts ...Option) error {
	node, err := ytree.FromGo(value)
	if err != nil {
		return err
	}
	opts = append(opts, WithInput(node))
	return d.void(ctx, "set", map[string]any{"path": path}, opts)
}

func (d *Driver) Exists(ctx context.Context, path string, opts ...Option) (bool, error) {
	value, err := d.structured(ctx, "exists", map[string]any{"path": path}, opts)
	if err != nil {
		return false, err
	}
	return value.AsBool()
}

func (d *Driver) List(ctx context.Context, path string, opts ...Option) ([]*ytree.Node, error) {
	value, err := d.structured(ctx, "list", map[string]any{"path": path}, opts)
	if err != nil {
		return nil, err
	}
	return value.AsList()
}

// ListNames returns the names of the children of path.
func (d *Driver) ListNames(ctx context.Context, path string, opts ...Option) ([]string, error) {
	items, err := d.List(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Str())
	}
	return names, nil
}

// Create creates a cypress node and returns its id.
func (d *Driver) Create(ctx context.Context, nodeType, path string, opts ...Option) (string, error) {
	return d.id(ctx, "create", map[string]any{"type": nodeType, "path": path}, opts)
}

func (d *Driver) Remove(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "remove", map[string]any{"path": path}, opts)
}

func (d *Driver) Copy(ctx context.Context, src, dst string, opts ...Option) (string, error) {
	return d.id(ctx, "copy", map[string]any{"source_path": src, "destination_path": dst}, opts)
}

func (d *Driver) Move(ctx context.Context, src, dst string, opts ...Option) (string, error) {
	return d.id(ctx, "move", map[string]any{"source_path": src, "destination_path": dst}, opts)
}

func (d *Driver) Link(ctx context.Context, target, link string, opts ...Option) (string, error) {
	return d.id(ctx, "link", map[string]any{"target_path": target, "link_path": link}, opts)
}

// Lock takes a lock of the given mode under the transaction set in opts.
func (d *Driver) Lock(ctx context.Context, path, mode string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "lock", map[string]any{"path": path, "mode": mode}, opts)
}

func (d *Driver) Concatenate(ctx context.Context, src []string, dst string, opts ...Option) error {
	return d.void(ctx, "concatenate", map[string]any{"source_paths": src, "destination_path": dst}, opts)
}

func (d *Driver) MultisetAttributes(ctx context.Context, path string, attrs map[string]any, opts ...Option) error {
	node, err := ytree.FromGo(attrs)
	if err != nil {
		return err
	}
	opts = append(opts, WithInput(node))
	return d.void(ctx, "multiset_attributes", map[string]any{"path": path}, opts)
}

// CreateObject creates a master object without a cypress path and returns its id.
func (d *Driver) CreateObject(ctx context.Context, objectType string, attrs map[string]any, opts ...Option) (string, error) {
	params := map[string]any{"type": objectType}
	if attrs != nil {
		params["attributes"] = attrs
	}
	return d.id(ctx, "create_object", params, opts)
}

func (d *Driver) CreateAccount(ctx context.Context, name string, attrs map[string]any, opts ...Option) (string, error) {
	return d.CreateObject(ctx, "account", withName(name, attrs), opts...)
}

func (d *Driver) CreateUser(ctx context.Context, name string, attrs map[string]any, opts ...Option) (string, error) {
	return d.CreateObject(ctx, "user", withName(name, attrs), opts...)
}

func (d *Driver) CreateGroup(ctx context.Context, name string, attrs map[string]any, opts ...Option) (string, error) {
	return d.CreateObject(ctx, "group", withName(name, attrs), opts...)
}

func withName(name string, attrs map[string]any) map[string]any {
	result := map[string]any{"name": name}
	for k, v := range attrs {
		result[k] = v
	}
	return result
}

func (d *Driver) AddMember(ctx context.Context, member, group string, opts ...Option) error {
	return d.void(ctx, "add_member", map[string]any{"member": member, "group": group}, opts)
}

func (d *Driver) RemoveMember(ctx context.Context, member, group string, opts ...Option) error {
	return d.void(ctx, "remove_member", map[string]any{"member": member, "group": group}, opts)
}

// PermissionResult is the reply of check_permission.
type PermissionResult struct {
	Action      string `yson:"action"`
	ObjectID    string `yson:"object_id,omitempty"`
	ObjectName  string `yson:"object_name,omitempty"`
	SubjectID   string `yson:"subject_id,omitempty"`
	SubjectName string `yson:"subject_name,omitempty"`
}

func (d *Driver) CheckPermission(ctx context.Context, user, permission, path string, opts ...Option) (*PermissionResult, error) {
	value, err := d.structured(ctx, "check_permission", map[string]any{
		"user":       user,
		"permission": permission,
		"path":       path,
	}, opts)
	if err != nil {
		return nil, err
	}
	var result PermissionResult
	if err := value.Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
