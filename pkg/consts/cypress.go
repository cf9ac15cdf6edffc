package consts

func ComponentCypressPath(component ComponentType) string {
	switch component {
	case ControllerAgentType:
		return "//sys/controller_agents/instances"
	case HttpProxyType:
		return "//sys/http_proxies"
	case MasterType:
		return "//sys/primary_masters"
	case NodeType:
		return "//sys/cluster_nodes"
	case RpcProxyType:
		return "//sys/rpc_proxies"
	case SchedulerType:
		return "//sys/scheduler/instances"
	}
	return ""
}

const (
	TmpPath              = "//tmp"
	SysPath              = "//sys"
	ClusterNodesPath     = "//sys/cluster_nodes"
	SchedulerOrchidPath  = "//sys/scheduler/orchid/scheduler"
	TransactionsPath     = "//sys/transactions"
	TabletCellsPath      = "//sys/tablet_cells"
	TabletCellBundlePath = "//sys/tablet_cell_bundles"
	NodesDynamicConfig   = "//sys/cluster_nodes/@config"
	OperationsArchive    = "//sys/operations_archive"
)

// HydraMonitoringPath is the orchid path of a primary master's hydra state.
func HydraMonitoringPath(address string) string {
	return "//sys/primary_masters/" + address + "/orchid/monitoring/hydra"
}
