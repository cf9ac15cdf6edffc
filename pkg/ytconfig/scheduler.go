package ytconfig

type OperationsCleaner struct {
	EnableOperationArchivation *bool `yson:"enable_operation_archivation,omitempty"`
}

type Scheduler struct {
	OperationsCleaner OperationsCleaner `yson:"operations_cleaner"`
	// Milliseconds.
	NodesInfoUpdatePeriod int `yson:"nodes_info_update_period,omitempty"`
	// Milliseconds.
	LockTransactionTimeout int `yson:"lock_transaction_timeout,omitempty"`
}

type SchedulerServer struct {
	CommonServer
	Scheduler Scheduler `yson:"scheduler"`
}

type ControllerAgent struct {
	EnableTmpfs                  bool `yson:"enable_tmpfs"`
	UseColumnarStatisticsDefault bool `yson:"use_columnar_statistics_default"`
	// Milliseconds.
	SnapshotPeriod int `yson:"snapshot_period,omitempty"`
}

type ControllerAgentServer struct {
	CommonServer
	ControllerAgent ControllerAgent `yson:"controller_agent"`
}

func getSchedulerServerCarcass(instance *Instance, debug bool) SchedulerServer {
	var c SchedulerServer
	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.Scheduler.NodesInfoUpdatePeriod = 100
	c.Scheduler.LockTransactionTimeout = 3000
	c.Logging = createLogging(instance.Dir, "scheduler", debug)
	return c
}

func getControllerAgentServerCarcass(instance *Instance, debug bool) ControllerAgentServer {
	var c ControllerAgentServer
	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.ControllerAgent.SnapshotPeriod = 3000
	c.Logging = createLogging(instance.Dir, "controller-agent", debug)
	return c
}
