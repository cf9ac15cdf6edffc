package ytconfig

import (
	"fmt"
	"strings"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ypatch"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// ApplyOverrides applies a per-role override to a rendered config.
//
// A map override is merged recursively into the config. A list override is
// read as a patch: [{op=replace; path="/rpc_port"; value=...}; ...].
func ApplyOverrides(data []byte, override string) ([]byte, error) {
	if strings.TrimSpace(override) == "" {
		return data, nil
	}
	config, err := ytree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated config: %w", err)
	}
	delta, err := ytree.ParseString(override)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config override: %w", err)
	}

	var result *ytree.Node
	switch delta.Kind() {
	case ytree.KindMap:
		result = ytree.Merge(config, delta)
	case ytree.KindList:
		patch, err := ypatch.ParsePatch(delta)
		if err != nil {
			return nil, err
		}
		if result, err = ypatch.Apply(config, patch); err != nil {
			return nil, fmt.Errorf("failed to apply config override: %w", err)
		}
	default:
		return nil, fmt.Errorf("config override must be a map or a patch list, got %s", delta.Kind())
	}
	return ytree.MarshalText(result)
}
