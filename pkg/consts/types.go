package consts

type ComponentType string

const (
	MasterType          ComponentType = "Master"
	SchedulerType       ComponentType = "Scheduler"
	ControllerAgentType ComponentType = "ControllerAgent"
	NodeType            ComponentType = "Node"
	HttpProxyType       ComponentType = "HttpProxy"
	RpcProxyType        ComponentType = "RpcProxy"
	YPMasterType        ComponentType = "YPMaster"
)

// StartOrder is the order in which roles are launched; stop goes in reverse.
var StartOrder = []ComponentType{
	MasterType,
	SchedulerType,
	ControllerAgentType,
	NodeType,
	HttpProxyType,
	RpcProxyType,
	YPMasterType,
}
