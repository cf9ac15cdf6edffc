package environment

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.ytsaurus.tech/yt/go/ypath"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ypatch"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// ApplyDynamicConfig sets every path to its value. A list value is read as a
// patch applied relative to the path, so a single key of a dynamic config can
// be changed without rewriting the rest. A map value replacing an existing
// map is written as a patch of the keys that differ.
func ApplyDynamicConfig(ctx context.Context, d *driver.Driver, configs map[string]string) error {
	target := &ypatch.DriverPatchTarget{Driver: d}
	for _, path := range slices.Sorted(maps.Keys(configs)) {
		value, err := ytree.ParseString(configs[path])
		if err != nil {
			return fmt.Errorf("bad dynamic config for %s: %w", path, err)
		}
		if value.Kind() == ytree.KindList {
			patch, err := ypatch.ParsePatch(value)
			if err != nil {
				return err
			}
			err = target.ApplyPatch(ctx, ypath.Path(path), patch)
			if err != nil {
				return fmt.Errorf("failed to patch %s: %w", path, err)
			}
			continue
		}
		if value.Kind() == ytree.KindMap {
			current, err := d.GetDefault(ctx, path, nil)
			if err != nil {
				return fmt.Errorf("failed to get %s: %w", path, err)
			}
			if current.Kind() == ytree.KindMap {
				patch := ypatch.BuildPatch(current, value, &ypatch.PatchOptions{WithTest: true})
				if err := target.ApplyPatch(ctx, ypath.Path(path), patch); err != nil {
					return fmt.Errorf("failed to update %s: %w", path, err)
				}
				continue
			}
		}
		if err := d.Set(ctx, path, value, driver.Recursive()); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
