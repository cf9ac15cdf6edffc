package ytconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/canonize"
	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func testTopology() *Topology {
	port := 20000
	instance := func(index int, dir string) Instance {
		port += consts.PortsPerProcess
		return Instance{
			Index:          index,
			Dir:            "/sandbox/" + dir,
			RPCPort:        port,
			MonitoringPort: port + 1,
			HTTPPort:       port + 2,
		}
	}
	return &Topology{
		ClusterName: "local",
		PrimaryMaster: MasterCellTopology{
			CellTag: 1,
			Peers:   []Instance{instance(0, "master/0")},
		},
		SecondaryMasters: []MasterCellTopology{{
			CellTag: 2,
			Peers:   []Instance{instance(1, "master/1")},
		}},
		Schedulers:       []Instance{instance(0, "scheduler/0")},
		ControllerAgents: []Instance{instance(0, "controller_agent/0")},
		Nodes:            []Instance{instance(0, "node/0"), instance(1, "node/1"), instance(2, "node/2")},
		HTTPProxies:      []Instance{instance(0, "http_proxy/0")},
		RPCProxies:       []Instance{instance(0, "rpc_proxy/0")},
		YPMasters:        []Instance{instance(0, "yp_master/0")},
		DynamicTables:    true,
	}
}

func render(t *testing.T, g *Generator, component consts.ComponentType, index int) *ytree.Node {
	data, err := g.Config(component, index, "")
	require.NoError(t, err)
	node, err := ytree.Parse(data)
	require.NoError(t, err)
	return node
}

func TestGenerateCellID(t *testing.T) {
	first := generateCellID(1)
	require.Equal(t, first, generateCellID(1))
	require.NotEqual(t, first, generateCellID(2))

	parts := strings.Split(first, "-")
	require.Len(t, parts, 4)
	require.Equal(t, "10259", parts[2])
}

func TestMasterConfig(t *testing.T) {
	topology := testTopology()
	g := NewGenerator(topology)

	primary := render(t, g, consts.MasterType, 0)
	require.Equal(t, int64(topology.PrimaryMaster.Peers[0].RPCPort), primary.Get("rpc_port").IntOr(0))
	require.Equal(t, "/sandbox/master/0/changelogs", primary.Get("changelogs").Get("path").Str())
	require.Equal(t, "/sandbox/master/0/snapshots", primary.Get("snapshots").Get("path").Str())
	require.Equal(t, generateCellID(1), primary.Get("primary_master").Get("cell_id").Str())
	require.Equal(t, topology.PrimaryMaster.Peers[0].Address(), primary.Get("primary_master").Get("addresses").Index(0).Str())
	require.True(t, primary.Get("primary_master").Get("peers").Index(0).Get("voting").BoolOr(false))
	require.Equal(t, 1, primary.Get("secondary_masters").Len())
	require.Equal(t, generateCellID(2), primary.Get("secondary_masters").Index(0).Get("cell_id").Str())

	// Three nodes allow replication factor 3 with quorum 2.
	cypressManager := primary.Get("cypress_manager")
	require.Equal(t, int64(3), cypressManager.Get("default_table_replication_factor").IntOr(0))
	require.Equal(t, int64(2), cypressManager.Get("default_journal_write_quorum").IntOr(0))

	secondary := render(t, g, consts.MasterType, 1)
	require.Equal(t, "/sandbox/master/1/changelogs", secondary.Get("changelogs").Get("path").Str())
	require.Equal(t, generateCellID(1), secondary.Get("primary_master").Get("cell_id").Str())

	require.Equal(t, "Master", primary.Get("cypress_annotations").Get("harness_component").Str())
}

func TestLoggingConfig(t *testing.T) {
	topology := testTopology()
	topology.EnableDebugLogging = true
	g := NewGenerator(topology)

	logging := render(t, g, consts.SchedulerType, 0).Get("logging")
	writers := logging.Get("writers")
	require.Equal(t, []string{"debug", "info", "stderr"}, writers.Keys())
	require.Equal(t, "/sandbox/scheduler/0/scheduler.debug.log", writers.Get("debug").Get("file_name").Str())
	require.Equal(t, "stderr", writers.Get("stderr").Get("type").Str())
	require.False(t, writers.Get("stderr").Has("file_name"))
	require.Equal(t, 3, logging.Get("rules").Len())

	topology.EnableDebugLogging = false
	writers = render(t, g, consts.SchedulerType, 0).Get("logging").Get("writers")
	require.Equal(t, []string{"info", "stderr"}, writers.Keys())
}

func TestClusterConnection(t *testing.T) {
	topology := testTopology()
	g := NewGenerator(topology)

	for _, component := range []consts.ComponentType{
		consts.SchedulerType,
		consts.ControllerAgentType,
		consts.NodeType,
		consts.HttpProxyType,
		consts.RpcProxyType,
	} {
		config := render(t, g, component, 0)
		connection := config.Get("cluster_connection")
		require.Equal(t, "local", connection.Get("cluster_name").Str(), component)
		require.Equal(t, topology.PrimaryMaster.Addresses()[0],
			connection.Get("primary_master").Get("addresses").Index(0).Str(), component)
		require.Equal(t, topology.PrimaryMaster.Addresses()[0],
			config.Get("timestamp_provider").Get("addresses").Index(0).Str(), component)
		require.True(t, config.Get("address_resolver").Get("enable_ipv4").BoolOr(false), component)
	}

	data, err := g.GetClusterConnection()
	require.NoError(t, err)
	connection, err := ytree.Parse(data)
	require.NoError(t, err)
	require.Equal(t, generateCellID(1), connection.Get("primary_master").Get("cell_id").Str())
}

func TestClusterConnectionCanon(t *testing.T) {
	g := NewGenerator(&Topology{
		ClusterName: "local",
		PrimaryMaster: MasterCellTopology{
			CellTag: 1,
			Peers:   []Instance{{Dir: "/sandbox/master/0", RPCPort: 20001}},
		},
		SecondaryMasters: []MasterCellTopology{{
			CellTag: 2,
			Peers:   []Instance{{Index: 1, Dir: "/sandbox/master/1", RPCPort: 20004}},
		}},
	})
	data, err := g.GetClusterConnection()
	require.NoError(t, err)
	canonize.AssertYSON(t, "cluster_connection", data)
}

func TestNodeConfig(t *testing.T) {
	topology := testTopology()
	g := NewGenerator(topology)

	node := render(t, g, consts.NodeType, 2)
	require.Equal(t, int64(topology.Nodes[2].RPCPort), node.Get("rpc_port").IntOr(0))

	var flavors []string
	require.NoError(t, node.Get("flavors").Decode(&flavors))
	require.Equal(t, []string{"data", "exec", "tablet"}, flavors)

	store := node.Get("data_node").Get("store_locations").Index(0)
	require.Equal(t, "/sandbox/node/2/chunk_store", store.Get("path").Str())
	require.Greater(t, store.Get("low_watermark").IntOr(0), store.Get("high_watermark").IntOr(0))

	slotManager := node.Get("exec_node").Get("slot_manager")
	require.Equal(t, "simple", slotManager.Get("job_environment").Get("type").Str())
	require.Equal(t, int64(defaultJobSlots), node.Get("job_resource_manager").Get("resource_limits").Get("user_slots").IntOr(0))
	require.True(t, node.Get("exec_node").Get("job_proxy").Get("forward_all_environment_variables").BoolOr(false))

	topology.DynamicTables = false
	topology.JobSlots = 7
	node = render(t, g, consts.NodeType, 0)
	require.False(t, node.Has("tablet_node"))
	require.Equal(t, int64(7), node.Get("job_resource_manager").Get("resource_limits").Get("user_slots").IntOr(0))
}

func TestProxyConfigs(t *testing.T) {
	topology := testTopology()
	g := NewGenerator(topology)

	http := render(t, g, consts.HttpProxyType, 0)
	require.Equal(t, int64(topology.HTTPProxies[0].HTTPPort), http.Get("port").IntOr(0))
	require.Equal(t, int64(4), http.Get("driver").Get("api_version").IntOr(0))
	require.True(t, http.Get("coordinator").Get("enable").BoolOr(false))

	rpc := render(t, g, consts.RpcProxyType, 0)
	require.True(t, rpc.Get("cypress_token_authenticator").Get("secure").BoolOr(false))

	yp := render(t, g, consts.YPMasterType, 0)
	require.Equal(t, YPRootPath, yp.Get("yt_connector").Get("root_path").Str())
	require.Equal(t, "local", yp.Get("yt_connector").Get("connection").Get("cluster_name").Str())
	require.Equal(t, int64(topology.YPMasters[0].HTTPPort), yp.Get("client_http_server").Get("port").IntOr(0))
}

func TestNativeClientConfig(t *testing.T) {
	g := NewGenerator(testTopology())

	data, err := g.GetNativeClientConfig("/sandbox")
	require.NoError(t, err)
	config, err := ytree.Parse(data)
	require.NoError(t, err)

	driver := config.Get("driver")
	require.Equal(t, int64(4), driver.Get("api_version").IntOr(0))
	require.Equal(t, "local", driver.Get("cluster_name").Str())
	require.Equal(t, generateCellID(1), driver.Get("primary_master").Get("cell_id").Str())
	require.Equal(t, 1, driver.Get("timestamp_provider").Get("addresses").Len())
}

func TestConfigOverrides(t *testing.T) {
	g := NewGenerator(testTopology())

	data, err := g.Config(consts.SchedulerType, 0, `{scheduler={nodes_info_update_period=500; extra=%true}}`)
	require.NoError(t, err)
	config, err := ytree.Parse(data)
	require.NoError(t, err)
	require.Equal(t, int64(500), config.Get("scheduler").Get("nodes_info_update_period").IntOr(0))
	require.True(t, config.Get("scheduler").Get("extra").BoolOr(false))
	require.True(t, config.Get("scheduler").Has("operations_cleaner"))

	data, err = g.Config(consts.SchedulerType, 0, `[{op=replace; path="/rpc_port"; value=1}; {op=remove; path="/solomon_exporter"}]`)
	require.NoError(t, err)
	config, err = ytree.Parse(data)
	require.NoError(t, err)
	require.Equal(t, int64(1), config.Get("rpc_port").IntOr(0))
	require.False(t, config.Has("solomon_exporter"))

	_, err = g.Config(consts.SchedulerType, 0, `"scalar"`)
	require.Error(t, err)

	_, err = g.Config(consts.SchedulerType, 0, `{unterminated`)
	require.Error(t, err)
}

func TestUnknownInstance(t *testing.T) {
	g := NewGenerator(testTopology())

	_, err := g.Config(consts.SchedulerType, 5, "")
	require.ErrorContains(t, err, "no Scheduler instance with index 5")

	_, err = g.ConfigGenerator(consts.ComponentType("Discovery"), 0)
	require.Error(t, err)
}

func TestTopologyValidate(t *testing.T) {
	topology := testTopology()
	require.NoError(t, topology.Validate())
	require.Len(t, topology.Instances(consts.MasterType), 2)

	topology.Nodes[1].MonitoringPort = topology.Nodes[0].RPCPort
	require.ErrorContains(t, topology.Validate(), "is assigned to both")

	topology = testTopology()
	topology.SecondaryMasters[0].CellTag = 1
	require.ErrorContains(t, topology.Validate(), "duplicate master cell tag")

	require.Error(t, (&Topology{}).Validate())
}
