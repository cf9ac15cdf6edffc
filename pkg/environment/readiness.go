package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytconfig"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// Readiness reports whether a part of the cluster is ready to serve.
type Readiness func(ctx context.Context) (bool, error)

// And is ready when every predicate is; evaluation stops at the first one
// that is not.
func And(predicates ...Readiness) Readiness {
	return func(ctx context.Context) (bool, error) {
		for _, p := range predicates {
			ok, err := p(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Prober performs the introspection behind readiness predicates.
//
//go:generate mockgen -destination=../mock/mock_prober.go -package=mock_yt . Prober
type Prober interface {
	// Orchid reads an orchid subtree through the monitoring port of a process.
	Orchid(ctx context.Context, monitoringAddress, path string) (*ytree.Node, error)
	// ProxyAlive issues a no-op request through the SDK client of a proxy.
	ProxyAlive(ctx context.Context, proxy string) error
	// OnlineNodes counts nodes in state online.
	OnlineNodes(ctx context.Context, d *driver.Driver) (int, error)
}

const (
	hydraActiveLeader   = "active_leader"
	hydraActiveFollower = "active_follower"
)

// MasterReady waits for every peer of a cell to become an active leader or
// follower with exactly one leader.
func MasterReady(p Prober, cell *ytconfig.MasterCellTopology) Readiness {
	return func(ctx context.Context) (bool, error) {
		leaders := 0
		for i := range cell.Peers {
			hydra, err := p.Orchid(ctx, cell.Peers[i].MonitoringAddress(), "/monitoring/hydra")
			if err != nil {
				return false, nil
			}
			switch hydra.Get("state").Str() {
			case hydraActiveLeader:
				leaders++
			case hydraActiveFollower:
			default:
				return false, nil
			}
			if !hydra.Get("active").BoolOr(true) {
				return false, nil
			}
		}
		return leaders == 1, nil
	}
}

// SchedulerReady waits for a scheduler connected to the masters after since,
// so a connection left over from before a restart does not count.
func SchedulerReady(p Prober, instance *ytconfig.Instance, since time.Time) Readiness {
	return func(ctx context.Context) (bool, error) {
		service, err := p.Orchid(ctx, instance.MonitoringAddress(), "/scheduler/service")
		if err != nil {
			return false, nil
		}
		if !service.Get("connected").BoolOr(false) {
			return false, nil
		}
		connectedAt, err := time.Parse(time.RFC3339Nano, service.Get("last_connection_time").Str())
		if err != nil {
			return false, fmt.Errorf("scheduler reports bad connection time: %w", err)
		}
		return !connectedAt.Before(since.Truncate(time.Second)), nil
	}
}

// ServiceReady waits for the monitoring server of a process to answer.
func ServiceReady(p Prober, instance *ytconfig.Instance) Readiness {
	return func(ctx context.Context) (bool, error) {
		_, err := p.Orchid(ctx, instance.MonitoringAddress(), "/")
		return err == nil, nil
	}
}

func ProxyReady(p Prober, proxy string) Readiness {
	return func(ctx context.Context) (bool, error) {
		return p.ProxyAlive(ctx, proxy) == nil, nil
	}
}

// NodesOnline waits until count nodes are registered and online.
func NodesOnline(p Prober, d *driver.Driver, count int) Readiness {
	return func(ctx context.Context) (bool, error) {
		online, err := p.OnlineNodes(ctx, d)
		if err != nil {
			return false, nil
		}
		return online >= count, nil
	}
}

// roleReadiness is checked right after the processes of a role are launched.
func roleReadiness(p Prober, topology *ytconfig.Topology, component consts.ComponentType, indices []int, since time.Time) Readiness {
	var predicates []Readiness
	switch component {
	case consts.MasterType:
		predicates = append(predicates, MasterReady(p, &topology.PrimaryMaster))
		for i := range topology.SecondaryMasters {
			predicates = append(predicates, MasterReady(p, &topology.SecondaryMasters[i]))
		}
	case consts.SchedulerType:
		for _, index := range indices {
			if instance, err := topology.Instance(component, index); err == nil {
				predicates = append(predicates, SchedulerReady(p, instance, since))
			}
		}
	case consts.HttpProxyType:
		for _, index := range indices {
			if instance, err := topology.Instance(component, index); err == nil {
				predicates = append(predicates, ProxyReady(p, instance.HTTPAddress()))
			}
		}
	default:
		for _, index := range indices {
			if instance, err := topology.Instance(component, index); err == nil {
				predicates = append(predicates, ServiceReady(p, instance))
			}
		}
	}
	return And(predicates...)
}
