package ytsync

import (
	"context"
	"fmt"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	NodeStateOnline  = "online"
	NodeStateOffline = "offline"
)

// NodeStates maps cluster node addresses to their states.
func NodeStates(ctx context.Context, d *driver.Driver) (map[string]string, error) {
	nodes, err := d.List(ctx, consts.ClusterNodesPath, driver.WithAttributeKeys("state"))
	if err != nil {
		return nil, err
	}
	states := make(map[string]string, len(nodes))
	for _, node := range nodes {
		states[node.Str()] = node.Attr("state").Str()
	}
	return states, nil
}

// WaitForNodes waits until at least count nodes are online and returns
// their addresses.
func WaitForNodes(ctx context.Context, d *driver.Driver, count int) ([]string, error) {
	var online []string
	err := wait.WaitObserved(ctx, func(ctx context.Context, obs *wait.Observer) (bool, error) {
		states, err := NodeStates(ctx, d)
		if err != nil {
			return false, err
		}
		obs.Observe(states)
		online = online[:0]
		for address, state := range states {
			if state == NodeStateOnline {
				online = append(online, address)
			}
		}
		return len(online) >= count, nil
	}, wait.WithTimeout(Timeout), wait.IgnoreErrors(), wait.WithDescription("%d nodes are online", count))
	return online, err
}

// SetNodesDynamicConfig installs config for all nodes and waits until every
// node reports it as applied.
func SetNodesDynamicConfig(ctx context.Context, d *driver.Driver, config any) error {
	expected, err := ytree.FromGo(config)
	if err != nil {
		return err
	}
	if err := d.Set(ctx, consts.NodesDynamicConfig, map[string]any{"%true": expected}); err != nil {
		return fmt.Errorf("failed to set nodes dynamic config: %w", err)
	}
	addresses, err := d.ListNames(ctx, consts.ClusterNodesPath)
	if err != nil {
		return err
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		for _, address := range addresses {
			applied, err := d.GetDefault(ctx,
				consts.ClusterNodesPath+"/"+address+"/orchid/dynamic_config_manager/applied_config", nil)
			if err != nil {
				return false, err
			}
			if !ytree.Equal(applied, expected) {
				return false, nil
			}
		}
		return true, nil
	}, "dynamic config is applied on nodes %v", addresses)
}

// SetBanForNodes bans or unbans nodes and waits until they go offline or
// back online.
func SetBanForNodes(ctx context.Context, d *driver.Driver, addresses []string, banned bool) error {
	for _, address := range addresses {
		if err := d.Set(ctx, consts.ClusterNodesPath+"/"+address+"/@banned", banned); err != nil {
			return fmt.Errorf("failed to set ban for node %s: %w", address, err)
		}
	}
	expected := NodeStateOnline
	if banned {
		expected = NodeStateOffline
	}
	return waitFor(ctx, func(ctx context.Context) (bool, error) {
		states, err := NodeStates(ctx, d)
		if err != nil {
			return false, err
		}
		for _, address := range addresses {
			if states[address] != expected {
				return false, nil
			}
		}
		return true, nil
	}, "nodes %v are %s", addresses, expected)
}
