package ytsync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.ytsaurus.tech/yt/go/schema"
	"go.ytsaurus.tech/yt/go/yt"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// Timeout bounds every wait of the sync helpers.
var Timeout = 2 * time.Minute

const (
	TabletCellHealthGood = "good"

	ReplicaStateEnabled  = "enabled"
	ReplicaStateDisabled = "disabled"

	TabletStateMounted   = yt.TabletMounted
	TabletStateUnmounted = "unmounted"
	TabletStateFrozen    = "frozen"
	TabletStateTransient = "transient"
)

func waitFor(ctx context.Context, predicate func(ctx context.Context) (bool, error), format string, args ...any) error {
	return wait.Wait(ctx, predicate,
		wait.WithTimeout(Timeout),
		wait.WithDescription(format, args...),
	)
}

func getString(ctx context.Context, d *driver.Driver, path string) (string, error) {
	value, err := d.Get(ctx, path)
	if err != nil {
		return "", err
	}
	return value.AsString()
}

// SyncCreateTabletCellBundle creates a bundle and waits until it is visible.
func SyncCreateTabletCellBundle(ctx context.Context, d *driver.Driver, name string, attrs map[string]any) error {
	merged := map[string]any{"name": name}
	for k, v := range attrs {
		merged[k] = v
	}
	if _, err := d.CreateObject(ctx, "tablet_cell_bundle", merged); err != nil {
		return fmt.Errorf("failed to create tablet cell bundle %q: %w", name, err)
	}
	path := consts.TabletCellBundlePath + "/" + name
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		return d.Exists(ctx, path)
	}, "tablet cell bundle %s exists", name)
}

// SyncCreateCells creates count tablet cells in bundle ("default" when
// empty) and waits until each of them reports good health.
func SyncCreateCells(ctx context.Context, d *driver.Driver, count int, bundle string) ([]string, error) {
	if bundle == "" {
		bundle = consts.DefaultName
	}
	ids := make([]string, 0, count)
	for range count {
		id, err := d.CreateObject(ctx, "tablet_cell", map[string]any{"tablet_cell_bundle": bundle})
		if err != nil {
			return ids, fmt.Errorf("failed to create tablet cell in bundle %q: %w", bundle, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		err := waitFor(ctx, func(ctx context.Context) (bool, error) {
			health, err := getString(ctx, d, consts.TabletCellsPath+"/"+id+"/@health")
			if err != nil {
				return false, err
			}
			return health == TabletCellHealthGood, nil
		}, "tablet cell %s is healthy", id)
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// SyncRemoveTabletCells removes cells and waits until they are gone.
func SyncRemoveTabletCells(ctx context.Context, d *driver.Driver, ids []string) error {
	for _, id := range ids {
		if err := d.Remove(ctx, consts.TabletCellsPath+"/"+id); err != nil {
			return fmt.Errorf("failed to remove tablet cell %s: %w", id, err)
		}
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		for _, id := range ids {
			exists, err := d.Exists(ctx, consts.TabletCellsPath+"/"+id)
			if err != nil || exists {
				return false, err
			}
		}
		return true, nil
	}, "tablet cells %v are removed", ids)
}

// WaitTabletState waits until every tablet of the table is in state.
func WaitTabletState(ctx context.Context, d *driver.Driver, path, state string) error {
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		return tabletsInState(ctx, d, path, state)
	}, "tablets of %s are %s", path, state)
}

func tabletsInState(ctx context.Context, d *driver.Driver, path, state string) (bool, error) {
	current, err := getString(ctx, d, path+"/@tablet_state")
	if err != nil {
		return false, err
	}
	if current != state {
		return false, nil
	}
	tablets, err := d.GetDefault(ctx, path+"/@tablets", ytree.List())
	if err != nil {
		return false, err
	}
	for i := range tablets.Len() {
		if tablets.Index(i).Get("state").Str() != state {
			return false, nil
		}
	}
	return true, nil
}

func SyncMountTable(ctx context.Context, d *driver.Driver, path string, opts ...driver.Option) error {
	if err := d.MountTable(ctx, path, opts...); err != nil {
		return err
	}
	return WaitTabletState(ctx, d, path, TabletStateMounted)
}

// SyncMountTableFrozen mounts the table in frozen state.
func SyncMountTableFrozen(ctx context.Context, d *driver.Driver, path string, opts ...driver.Option) error {
	opts = append(opts, driver.WithParam("freeze", true))
	if err := d.MountTable(ctx, path, opts...); err != nil {
		return err
	}
	return WaitTabletState(ctx, d, path, TabletStateFrozen)
}

func SyncUnmountTable(ctx context.Context, d *driver.Driver, path string, opts ...driver.Option) error {
	if err := d.UnmountTable(ctx, path, opts...); err != nil {
		return err
	}
	return WaitTabletState(ctx, d, path, TabletStateUnmounted)
}

func SyncFreezeTable(ctx context.Context, d *driver.Driver, path string, opts ...driver.Option) error {
	if err := d.FreezeTable(ctx, path, opts...); err != nil {
		return err
	}
	return WaitTabletState(ctx, d, path, TabletStateFrozen)
}

func SyncUnfreezeTable(ctx context.Context, d *driver.Driver, path string, opts ...driver.Option) error {
	if err := d.UnfreezeTable(ctx, path, opts...); err != nil {
		return err
	}
	return WaitTabletState(ctx, d, path, TabletStateMounted)
}

// SyncFlushTable flushes dynamic stores to chunks by freezing and unfreezing.
func SyncFlushTable(ctx context.Context, d *driver.Driver, path string) error {
	if err := SyncFreezeTable(ctx, d, path); err != nil {
		return err
	}
	return SyncUnfreezeTable(ctx, d, path)
}

// SyncReshardTable reshards and waits until the tablet count matches.
func SyncReshardTable(ctx context.Context, d *driver.Driver, path string, tabletCount int, pivotKeys [][]any, opts ...driver.Option) error {
	if err := d.ReshardTable(ctx, path, tabletCount, pivotKeys, opts...); err != nil {
		return err
	}
	expected := int64(tabletCount)
	if pivotKeys != nil {
		expected = int64(len(pivotKeys))
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		count, err := d.Get(ctx, path+"/@tablet_count")
		if err != nil {
			return false, err
		}
		if count.IntOr(-1) != expected {
			return false, nil
		}
		state, err := getString(ctx, d, path+"/@tablet_state")
		return state != TabletStateTransient, err
	}, "table %s has %d tablets", path, expected)
}

// SyncCompactTable forces compaction and waits until all chunks present
// before the call have been rewritten.
func SyncCompactTable(ctx context.Context, d *driver.Driver, path string) error {
	var before []string
	if err := d.GetInto(ctx, path+"/@chunk_ids", &before); err != nil {
		return err
	}
	if err := d.Set(ctx, path+"/@forced_compaction_revision", 1); err != nil {
		return err
	}
	if err := d.RemountTable(ctx, path); err != nil {
		return err
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		var current []string
		if err := d.GetInto(ctx, path+"/@chunk_ids", &current); err != nil {
			return false, err
		}
		for _, id := range current {
			if slices.Contains(before, id) {
				return false, nil
			}
		}
		return true, nil
	}, "chunks of %s are compacted", path)
}

func replicaAttr(replicaID, attr string) string {
	return "//sys/table_replicas/" + replicaID + "/@" + attr
}

func alterReplica(ctx context.Context, d *driver.Driver, replicaID, attr, expected string, opts ...driver.Option) error {
	if err := d.AlterTableReplica(ctx, replicaID, opts...); err != nil {
		return err
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		value, err := getString(ctx, d, replicaAttr(replicaID, attr))
		return value == expected, err
	}, "replica %s has %s %s", replicaID, attr, expected)
}

func SyncEnableTableReplica(ctx context.Context, d *driver.Driver, replicaID string) error {
	return alterReplica(ctx, d, replicaID, "state", ReplicaStateEnabled, driver.WithParam("enabled", true))
}

func SyncDisableTableReplica(ctx context.Context, d *driver.Driver, replicaID string) error {
	return alterReplica(ctx, d, replicaID, "state", ReplicaStateDisabled, driver.WithParam("enabled", false))
}

// SyncAlterReplicaMode switches a replica between "sync" and "async".
func SyncAlterReplicaMode(ctx context.Context, d *driver.Driver, replicaID, mode string) error {
	return alterReplica(ctx, d, replicaID, "mode", mode, driver.WithParam("mode", mode))
}

// CreateDynamicTable creates a dynamic table with the given schema. Extra
// attributes are merged over the defaults.
func CreateDynamicTable(ctx context.Context, d *driver.Driver, path string, s schema.Schema, attrs map[string]any) error {
	merged := map[string]any{
		"dynamic": true,
		"schema":  s,
	}
	for k, v := range attrs {
		merged[k] = v
	}
	_, err := d.Create(ctx, "table", path, driver.WithAttributes(merged), driver.Recursive())
	return err
}
