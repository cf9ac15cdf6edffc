package ytconfig

import (
	"fmt"

	"go.ytsaurus.tech/yt/go/yson"
	"k8s.io/utils/ptr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
)

type YsonGeneratorFunc func() ([]byte, error)

// Generator renders the config files of every process of a sandbox.
type Generator struct {
	topology *Topology
}

func NewGenerator(topology *Topology) *Generator {
	return &Generator{topology: topology}
}

func (g *Generator) Topology() *Topology {
	return g.topology
}

func (g *Generator) getMasterHydraPeers(cell *MasterCellTopology) []HydraPeer {
	peers := make([]HydraPeer, 0, len(cell.Peers))
	for _, address := range cell.Addresses() {
		peers = append(peers, HydraPeer{
			Address: address,
			Voting:  true,
		})
	}
	return peers
}

func (g *Generator) fillAddressResolver(c *AddressResolver) {
	var retries = 1000
	c.EnableIPv4 = true
	c.EnableIPv6 = false
	c.Retries = &retries
	c.LocalhostNameOverride = ptr.To(consts.LocalHost)
}

func (g *Generator) fillMasterCell(c *MasterCell, cell *MasterCellTopology) {
	c.Addresses = cell.Addresses()
	c.Peers = g.getMasterHydraPeers(cell)
	c.CellID = generateCellID(cell.CellTag)
}

func (g *Generator) fillSecondaryMasters() []MasterCell {
	cells := make([]MasterCell, 0, len(g.topology.SecondaryMasters))
	for i := range g.topology.SecondaryMasters {
		var cell MasterCell
		g.fillMasterCell(&cell, &g.topology.SecondaryMasters[i])
		cells = append(cells, cell)
	}
	return cells
}

func (g *Generator) fillClusterConnection(c *ClusterConnection) {
	g.fillMasterCell(&c.PrimaryMaster, &g.topology.PrimaryMaster)
	c.SecondaryMasters = g.fillSecondaryMasters()
	c.ClusterName = g.topology.ClusterName
	c.MasterCache.Addresses = g.topology.PrimaryMaster.Addresses()
	c.MasterCache.CellID = generateCellID(g.topology.PrimaryMaster.CellTag)
}

func (g *Generator) fillCypressAnnotations(c *map[string]any, component consts.ComponentType, instance *Instance) {
	*c = map[string]any{
		"harness_component": string(component),
		"harness_index":     instance.Index,
		"harness_directory": instance.Dir,
	}
}

func (g *Generator) fillCommonService(c *CommonServer, component consts.ComponentType, instance *Instance) {
	g.fillAddressResolver(&c.AddressResolver)
	g.fillClusterConnection(&c.ClusterConnection)
	g.fillCypressAnnotations(&c.CypressAnnotations, component, instance)
	c.TimestampProviders.Addresses = g.topology.PrimaryMaster.Addresses()
}

func (g *Generator) maxReplicationFactor() int32 {
	return int32(len(g.topology.Nodes))
}

func marshallYsonConfig(c any) ([]byte, error) {
	result, err := yson.MarshalFormat(c, yson.FormatPretty)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Generator) instance(component consts.ComponentType, index int) (*Instance, error) {
	return g.topology.Instance(component, index)
}

func (g *Generator) getMasterConfigImpl(index int) (MasterServer, error) {
	instance, err := g.instance(consts.MasterType, index)
	if err != nil {
		return MasterServer{}, err
	}
	c := getMasterServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillCommonService(&c.CommonServer, consts.MasterType, instance)
	configureMasterServerCypressManager(g.maxReplicationFactor(), &c.CypressManager)

	g.fillMasterCell(&c.PrimaryMaster, &g.topology.PrimaryMaster)
	c.SecondaryMasters = g.fillSecondaryMasters()
	return c, nil
}

func (g *Generator) GetMasterConfig(index int) ([]byte, error) {
	c, err := g.getMasterConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getSchedulerConfigImpl(index int) (SchedulerServer, error) {
	instance, err := g.instance(consts.SchedulerType, index)
	if err != nil {
		return SchedulerServer{}, err
	}
	c := getSchedulerServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillCommonService(&c.CommonServer, consts.SchedulerType, instance)
	c.Scheduler.OperationsCleaner.EnableOperationArchivation = ptr.To(false)
	return c, nil
}

func (g *Generator) GetSchedulerConfig(index int) ([]byte, error) {
	c, err := g.getSchedulerConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getControllerAgentConfigImpl(index int) (ControllerAgentServer, error) {
	instance, err := g.instance(consts.ControllerAgentType, index)
	if err != nil {
		return ControllerAgentServer{}, err
	}
	c := getControllerAgentServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillCommonService(&c.CommonServer, consts.ControllerAgentType, instance)
	c.ControllerAgent.UseColumnarStatisticsDefault = true
	return c, nil
}

func (g *Generator) GetControllerAgentConfig(index int) ([]byte, error) {
	c, err := g.getControllerAgentConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getNodeConfigImpl(index int) (NodeServer, error) {
	instance, err := g.instance(consts.NodeType, index)
	if err != nil {
		return NodeServer{}, err
	}
	c := getNodeServerCarcass(instance, g.topology)
	g.fillCommonService(&c.CommonServer, consts.NodeType, instance)
	return c, nil
}

func (g *Generator) GetNodeConfig(index int) ([]byte, error) {
	c, err := g.getNodeConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getHTTPProxyConfigImpl(index int) (HTTPProxyServer, error) {
	instance, err := g.instance(consts.HttpProxyType, index)
	if err != nil {
		return HTTPProxyServer{}, err
	}
	c := getHTTPProxyServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillCommonService(&c.CommonServer, consts.HttpProxyType, instance)
	c.Driver.APIVersion = 4
	return c, nil
}

func (g *Generator) GetHTTPProxyConfig(index int) ([]byte, error) {
	c, err := g.getHTTPProxyConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getRPCProxyConfigImpl(index int) (RPCProxyServer, error) {
	instance, err := g.instance(consts.RpcProxyType, index)
	if err != nil {
		return RPCProxyServer{}, err
	}
	c := getRPCProxyServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillCommonService(&c.CommonServer, consts.RpcProxyType, instance)
	return c, nil
}

func (g *Generator) GetRPCProxyConfig(index int) ([]byte, error) {
	c, err := g.getRPCProxyConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getYPMasterConfigImpl(index int) (YPMasterServer, error) {
	instance, err := g.instance(consts.YPMasterType, index)
	if err != nil {
		return YPMasterServer{}, err
	}
	c := getYPMasterServerCarcass(instance, g.topology.EnableDebugLogging)
	g.fillAddressResolver(&c.AddressResolver)
	g.fillClusterConnection(&c.YTConnector.Connection)
	c.YTConnector.User = consts.RootUserName
	return c, nil
}

func (g *Generator) GetYPMasterConfig(index int) ([]byte, error) {
	c, err := g.getYPMasterConfigImpl(index)
	if err != nil {
		return nil, err
	}
	return marshallYsonConfig(c)
}

func (g *Generator) getNativeClientConfigImpl(dir string) NativeClientConfig {
	c := getNativeClientCarcass(dir)
	g.fillAddressResolver(&c.AddressResolver)
	g.fillClusterConnection(&c.Driver.ClusterConnection)
	c.Driver.TimestampProviders = &TimestampProviders{
		AddressList: AddressList{Addresses: g.topology.PrimaryMaster.Addresses()},
	}
	c.Driver.APIVersion = 4
	return c
}

// GetNativeClientConfig renders the driver config used by native clients and tools.
func (g *Generator) GetNativeClientConfig(dir string) ([]byte, error) {
	return marshallYsonConfig(g.getNativeClientConfigImpl(dir))
}

func (g *Generator) GetClusterConnection() ([]byte, error) {
	var c ClusterConnection
	g.fillClusterConnection(&c)
	return marshallYsonConfig(c)
}

// ConfigGenerator returns the generator of the config file of one process.
func (g *Generator) ConfigGenerator(component consts.ComponentType, index int) (YsonGeneratorFunc, error) {
	var f func(int) ([]byte, error)
	switch component {
	case consts.MasterType:
		f = g.GetMasterConfig
	case consts.SchedulerType:
		f = g.GetSchedulerConfig
	case consts.ControllerAgentType:
		f = g.GetControllerAgentConfig
	case consts.NodeType:
		f = g.GetNodeConfig
	case consts.HttpProxyType:
		f = g.GetHTTPProxyConfig
	case consts.RpcProxyType:
		f = g.GetRPCProxyConfig
	case consts.YPMasterType:
		f = g.GetYPMasterConfig
	default:
		return nil, fmt.Errorf("no config generator for component %q", component)
	}
	return func() ([]byte, error) { return f(index) }, nil
}

// Config renders the config of one process with the per-role override applied.
func (g *Generator) Config(component consts.ComponentType, index int, override string) ([]byte, error) {
	generate, err := g.ConfigGenerator(component, index)
	if err != nil {
		return nil, err
	}
	data, err := generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s config %d: %w", component, index, err)
	}
	return ApplyOverrides(data, override)
}
