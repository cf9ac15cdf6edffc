package environment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
)

func TestParseClusterSpec(t *testing.T) {
	spec, err := ParseClusterSpec([]byte(`
name: tables
masters: 3
secondaryMasterCells: 1
nodes: 5
rpcProxies: 1
overrides:
  Node: "{exec_node={slot_manager={job_environment={type=simple}}}}"
dynamicConfig:
  "//sys/cluster_nodes/@config": "{enable=%true}"
features:
  dynamicTables: true
  jobSlots: 2
`))
	require.NoError(t, err)
	require.Equal(t, "tables", spec.ClusterName())
	require.Equal(t, 6, spec.Count(consts.MasterType))
	require.Equal(t, 5, spec.Count(consts.NodeType))
	require.Equal(t, 1, spec.Count(consts.SchedulerType))
	require.Equal(t, 1, spec.Count(consts.HttpProxyType))
	require.True(t, spec.Features.DynamicTables)
	require.Contains(t, spec.Overrides, consts.NodeType)
}

func TestParseClusterSpecErrors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown field":   "master: 1",
		"even masters":    "masters: 2",
		"no proxy":        "httpProxies: 0",
		"no agents":       "controllerAgents: 0",
		"unknown role":    "overrides: {Discovery: '{}'}",
		"bad override":    "overrides: {Node: '{unterminated'}",
		"bad dyn config":  "dynamicConfig: {'//sys/@x': '{a='}",
		"negative counts": "nodes: -1",
	} {
		_, err := ParseClusterSpec([]byte(data))
		require.Error(t, err, name)
	}
}

func TestClusterSpecHash(t *testing.T) {
	a := DefaultClusterSpec()
	b := DefaultClusterSpec()
	require.Equal(t, a.Hash(), b.Hash())

	b.Overrides = map[consts.ComponentType]string{consts.NodeType: "{}"}
	require.NotEqual(t, a.Hash(), b.Hash())

	b = DefaultClusterSpec()
	b.Features.DynamicTables = true
	require.NotEqual(t, a.Hash(), b.Hash())
}
