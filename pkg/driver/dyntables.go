package driver

import (
	"context"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func (d *Driver) MountTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "mount_table", map[string]any{"path": path}, opts)
}

func (d *Driver) UnmountTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "unmount_table", map[string]any{"path": path}, opts)
}

func (d *Driver) RemountTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "remount_table", map[string]any{"path": path}, opts)
}

func (d *Driver) FreezeTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "freeze_table", map[string]any{"path": path}, opts)
}

func (d *Driver) UnfreezeTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "unfreeze_table", map[string]any{"path": path}, opts)
}

// ReshardTable reshards into tabletCount tablets, or by pivotKeys when given.
func (d *Driver) ReshardTable(ctx context.Context, path string, tabletCount int, pivotKeys [][]any, opts ...Option) error {
	params := map[string]any{"path": path}
	if pivotKeys != nil {
		keys := make([]any, 0, len(pivotKeys))
		for _, k := range pivotKeys {
			keys = append(keys, k)
		}
		params["pivot_keys"] = keys
	} else {
		params["tablet_count"] = tabletCount
	}
	return d.void(ctx, "reshard_table", params, opts)
}

// AlterTableReplica enables, disables or switches the mode of a replica.
func (d *Driver) AlterTableReplica(ctx context.Context, replicaID string, opts ...Option) error {
	return d.void(ctx, "alter_table_replica", map[string]any{"replica_id": replicaID}, opts)
}

func (d *Driver) InsertRows(ctx context.Context, path string, rows []*ytree.Node, opts ...Option) error {
	_, err := d.tabular(ctx, "insert_rows", map[string]any{"path": path}, rows, opts)
	return err
}

func (d *Driver) DeleteRows(ctx context.Context, path string, keys []*ytree.Node, opts ...Option) error {
	_, err := d.tabular(ctx, "delete_rows", map[string]any{"path": path}, keys, opts)
	return err
}

// LookupRows returns rows for keys; missing keys are skipped unless keep_missing_rows is set.
func (d *Driver) LookupRows(ctx context.Context, path string, keys []*ytree.Node, opts ...Option) ([]*ytree.Node, error) {
	if keys == nil {
		keys = []*ytree.Node{}
	}
	return d.tabular(ctx, "lookup_rows", map[string]any{"path": path}, keys, opts)
}

func (d *Driver) SelectRows(ctx context.Context, query string, opts ...Option) ([]*ytree.Node, error) {
	return d.tabular(ctx, "select_rows", map[string]any{"query": query}, nil, opts)
}

func (d *Driver) GenerateTimestamp(ctx context.Context, opts ...Option) (uint64, error) {
	value, err := d.structured(ctx, "generate_timestamp", nil, opts)
	if err != nil {
		return 0, err
	}
	return value.AsUint()
}
