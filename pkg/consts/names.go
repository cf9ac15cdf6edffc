package consts

import (
	"fmt"
)

// ComponentBinary returns the server binary launched for the role.
func ComponentBinary(component ComponentType) string {
	switch component {
	case MasterType:
		return "ytserver-master"
	case SchedulerType:
		return "ytserver-scheduler"
	case ControllerAgentType:
		return "ytserver-controller-agent"
	case NodeType:
		return "ytserver-node"
	case HttpProxyType:
		return "ytserver-http-proxy"
	case RpcProxyType:
		return "ytserver-proxy"
	case YPMasterType:
		return "ypserver-master"
	}
	panic(fmt.Sprintf("No binary is defined for component type: %s", component))
}

// ComponentDirName names the per-role sandbox directory.
func ComponentDirName(component ComponentType) string {
	switch component {
	case MasterType:
		return "master"
	case SchedulerType:
		return "scheduler"
	case ControllerAgentType:
		return "controller_agent"
	case NodeType:
		return "node"
	case HttpProxyType:
		return "http_proxy"
	case RpcProxyType:
		return "rpc_proxy"
	case YPMasterType:
		return "yp_master"
	}
	panic(fmt.Sprintf("No directory name is defined for component type: %s", component))
}

// ObjectKind is a well-known cluster object kind purged between tests.
type ObjectKind struct {
	Type string
	Path string
}

// CleanupObjectKinds are enumerated and purged after every test.
var CleanupObjectKinds = []ObjectKind{
	{Type: "tablet_action", Path: "//sys/tablet_actions"},
	{Type: "tablet_cell", Path: "//sys/tablet_cells"},
	{Type: "tablet_cell_bundle", Path: "//sys/tablet_cell_bundles"},
	{Type: "account", Path: "//sys/accounts"},
	{Type: "user", Path: "//sys/users"},
	{Type: "group", Path: "//sys/groups"},
	{Type: "rack", Path: "//sys/racks"},
	{Type: "data_center", Path: "//sys/data_centers"},
	{Type: "medium", Path: "//sys/media"},
	{Type: "pool_tree", Path: "//sys/pool_trees"},
	{Type: "table_replica", Path: "//sys/table_replicas"},
}

// YPCleanupObjectTypes are removed from YP between tests, dependents first.
var YPCleanupObjectTypes = []string{
	"pod",
	"pod_set",
	"resource",
	"node",
	"node_segment",
	"account",
	"user",
	"group",
}

// YPBuiltinObjects are never removed.
var YPBuiltinObjects = map[string][]string{
	"account":      {"tmp"},
	"node_segment": {"default"},
	"user":         {"root"},
	"group":        {"superusers"},
}

// System transaction titles that per-test cleanup never aborts.
var SystemTransactionTitlePrefixes = []string{
	"Scheduler lock",
	"Controller agent incarnation",
	"Lease for",
	"Prerequisite for",
	"World initialization",
}
