package driver

import (
	"context"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// YPCreateObject creates an object of objectType with the given attributes and returns its id.
func (d *Driver) YPCreateObject(ctx context.Context, objectType string, attrs map[string]any, opts ...Option) (string, error) {
	params := map[string]any{"object_type": objectType}
	if attrs != nil {
		params["attributes"] = attrs
	}
	value, err := d.structured(ctx, "yp_create_object", params, opts)
	if err != nil {
		return "", err
	}
	if id := value.Get("object_id"); id != nil {
		return id.AsString()
	}
	return value.AsString()
}

// YPGetObject returns the selected attribute values of one object.
func (d *Driver) YPGetObject(ctx context.Context, objectType, objectID string, selectors []string, opts ...Option) ([]*ytree.Node, error) {
	value, err := d.structured(ctx, "yp_get_object", map[string]any{
		"object_type": objectType,
		"object_id":   objectID,
		"selectors":   selectors,
	}, opts)
	if err != nil {
		return nil, err
	}
	return value.AsList()
}

// YPSelectObjects returns one list of selected values per matching object.
func (d *Driver) YPSelectObjects(ctx context.Context, objectType string, filter string, selectors []string, opts ...Option) ([][]*ytree.Node, error) {
	params := map[string]any{"object_type": objectType, "selectors": selectors}
	if filter != "" {
		params["filter"] = filter
	}
	value, err := d.structured(ctx, "yp_select_objects", params, opts)
	if err != nil {
		return nil, err
	}
	items, err := value.AsList()
	if err != nil {
		return nil, err
	}
	result := make([][]*ytree.Node, 0, len(items))
	for _, item := range items {
		row, err := item.AsList()
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, nil
}

// YPSetUpdate is one set request of update_object.
type YPSetUpdate struct {
	Path  string `yson:"path"`
	Value any    `yson:"value"`
}

func (d *Driver) YPUpdateObject(ctx context.Context, objectType, objectID string, set []YPSetUpdate, remove []string, opts ...Option) error {
	sets := make([]any, 0, len(set))
	for _, s := range set {
		sets = append(sets, map[string]any{"path": s.Path, "value": s.Value})
	}
	removes := make([]any, 0, len(remove))
	for _, path := range remove {
		removes = append(removes, map[string]any{"path": path})
	}
	return d.void(ctx, "yp_update_object", map[string]any{
		"object_type":    objectType,
		"object_id":      objectID,
		"set_updates":    sets,
		"remove_updates": removes,
	}, opts)
}

func (d *Driver) YPRemoveObject(ctx context.Context, objectType, objectID string, opts ...Option) error {
	return d.void(ctx, "yp_remove_object", map[string]any{"object_type": objectType, "object_id": objectID}, opts)
}

// YPCheckObjectPermissions checks permission of subjectID on one object.
func (d *Driver) YPCheckObjectPermissions(ctx context.Context, objectType, objectID, subjectID, permission string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "yp_check_object_permissions", map[string]any{
		"object_type": objectType,
		"object_id":   objectID,
		"subject_id":  subjectID,
		"permission":  permission,
	}, opts)
}

func (d *Driver) YPGetObjectAccessAllowedFor(ctx context.Context, objectType, objectID, permission string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "yp_get_object_access_allowed_for", map[string]any{
		"object_type": objectType,
		"object_id":   objectID,
		"permission":  permission,
	}, opts)
}

func (d *Driver) YPGetUserAccessAllowedTo(ctx context.Context, user, objectType, permission string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "yp_get_user_access_allowed_to", map[string]any{
		"user":        user,
		"object_type": objectType,
		"permission":  permission,
	}, opts)
}

func (d *Driver) YPUpdateHfsmState(ctx context.Context, nodeID, state, message string, opts ...Option) error {
	return d.void(ctx, "yp_update_hfsm_state", map[string]any{"node_id": nodeID, "state": state, "message": message}, opts)
}

func (d *Driver) YPRequestEviction(ctx context.Context, podID, message string, opts ...Option) error {
	return d.void(ctx, "yp_request_eviction", map[string]any{"pod_id": podID, "message": message}, opts)
}

func (d *Driver) YPAbortEviction(ctx context.Context, podID, message string, opts ...Option) error {
	return d.void(ctx, "yp_abort_eviction", map[string]any{"pod_id": podID, "message": message}, opts)
}

func (d *Driver) YPAcknowledgeEviction(ctx context.Context, podID, message string, opts ...Option) error {
	return d.void(ctx, "yp_acknowledge_eviction", map[string]any{"pod_id": podID, "message": message}, opts)
}
