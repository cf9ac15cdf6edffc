package ytconfig

// YTConnector attaches a YP master to the YT cluster storing its objects.
type YTConnector struct {
	Connection  ClusterConnection `yson:"connection"`
	RootPath    string            `yson:"root_path"`
	User        string            `yson:"user"`
	InstanceTag int               `yson:"instance_tag"`
}

type HTTPServer struct {
	Port int `yson:"port"`
}

type YPScheduler struct {
	// Milliseconds.
	LoopPeriod int  `yson:"loop_period"`
	Disabled   bool `yson:"disabled,omitempty"`
}

type YPObjectManager struct {
	// Removed objects are kept for this many milliseconds before being swept.
	RemovedObjectsGraceTimeout int `yson:"removed_objects_grace_timeout"`
}

type YPMasterServer struct {
	BasicServer
	YTConnector      YTConnector     `yson:"yt_connector"`
	ClientHTTPServer HTTPServer      `yson:"client_http_server"`
	Scheduler        YPScheduler     `yson:"scheduler"`
	ObjectManager    YPObjectManager `yson:"object_manager"`
}

const YPRootPath = "//yp"

func getYPMasterServerCarcass(instance *Instance, debug bool) YPMasterServer {
	var c YPMasterServer
	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.ClientHTTPServer.Port = instance.HTTPPort
	c.YTConnector.RootPath = YPRootPath
	c.YTConnector.InstanceTag = instance.Index + 1
	c.Scheduler.LoopPeriod = 100
	c.Logging = createLogging(instance.Dir, "yp-master", debug)
	return c
}
