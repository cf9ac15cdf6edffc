package ytconfig

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
)

// Instance is one server process of the sandbox.
type Instance struct {
	Index          int
	Dir            string
	RPCPort        int
	MonitoringPort int
	// HTTPPort is set for http proxies and YP masters.
	HTTPPort int
}

func (i *Instance) Address() string {
	return net.JoinHostPort(consts.LocalHost, strconv.Itoa(i.RPCPort))
}

func (i *Instance) HTTPAddress() string {
	return net.JoinHostPort(consts.LocalHost, strconv.Itoa(i.HTTPPort))
}

func (i *Instance) MonitoringAddress() string {
	return net.JoinHostPort(consts.LocalHost, strconv.Itoa(i.MonitoringPort))
}

// MasterCellTopology lists the peers of one master cell.
type MasterCellTopology struct {
	CellTag int16
	Peers   []Instance
}

func (c *MasterCellTopology) Addresses() []string {
	addresses := make([]string, 0, len(c.Peers))
	for i := range c.Peers {
		addresses = append(addresses, c.Peers[i].Address())
	}
	return addresses
}

// Topology is the fully resolved shape of a sandbox: every process with its
// directory and ports.
type Topology struct {
	ClusterName      string
	PrimaryMaster    MasterCellTopology
	SecondaryMasters []MasterCellTopology
	Schedulers       []Instance
	ControllerAgents []Instance
	Nodes            []Instance
	HTTPProxies      []Instance
	RPCProxies       []Instance
	YPMasters        []Instance

	EnableDebugLogging bool
	DynamicTables      bool
	// JobSlots is the number of user job slots per node.
	JobSlots int
}

// Instances returns the processes of a role. Masters of secondary cells
// follow the primary cell peers.
func (t *Topology) Instances(component consts.ComponentType) []Instance {
	switch component {
	case consts.MasterType:
		result := append([]Instance{}, t.PrimaryMaster.Peers...)
		for _, cell := range t.SecondaryMasters {
			result = append(result, cell.Peers...)
		}
		return result
	case consts.SchedulerType:
		return t.Schedulers
	case consts.ControllerAgentType:
		return t.ControllerAgents
	case consts.NodeType:
		return t.Nodes
	case consts.HttpProxyType:
		return t.HTTPProxies
	case consts.RpcProxyType:
		return t.RPCProxies
	case consts.YPMasterType:
		return t.YPMasters
	}
	return nil
}

// Instance looks up one process by role and index.
func (t *Topology) Instance(component consts.ComponentType, index int) (*Instance, error) {
	instances := t.Instances(component)
	for i := range instances {
		if instances[i].Index == index {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("no %s instance with index %d", component, index)
}

func (t *Topology) Validate() error {
	if len(t.PrimaryMaster.Peers) == 0 {
		return fmt.Errorf("topology has no primary masters")
	}
	seen := map[int16]bool{t.PrimaryMaster.CellTag: true}
	for _, cell := range t.SecondaryMasters {
		if seen[cell.CellTag] {
			return fmt.Errorf("duplicate master cell tag %d", cell.CellTag)
		}
		seen[cell.CellTag] = true
		if len(cell.Peers) == 0 {
			return fmt.Errorf("secondary master cell %d has no peers", cell.CellTag)
		}
	}
	ports := map[int]string{}
	for _, component := range consts.StartOrder {
		for _, instance := range t.Instances(component) {
			for _, port := range []int{instance.RPCPort, instance.MonitoringPort, instance.HTTPPort} {
				if port == 0 {
					continue
				}
				owner := fmt.Sprintf("%s/%d", component, instance.Index)
				if other, ok := ports[port]; ok {
					return fmt.Errorf("port %d is assigned to both %s and %s", port, other, owner)
				}
				ports[port] = owner
			}
		}
	}
	return nil
}
