package consts

const DefaultAdminLogin = "admin"
const RootUserName = "root"

const DefaultName = "default"
const DefaultMedium = "default"
const DefaultClusterName = "local"

// SysBundleName is the bundle hosting the operations archive cells.
const SysBundleName = "sys"

const (
	ConfigFileName       = "config.yson"
	DriverConfigFileName = "driver.yson"
	StdoutFileName       = "stdout"
	StderrFileName       = "stderr"
)

const ProcessPrefix = "ytserver-"

const (
	EnvBinariesPath  = "YT_BINARIES_PATH"
	EnvSandbox       = "YTHARNESS_SANDBOX"
	EnvPortLocks     = "YTHARNESS_PORT_LOCKS"
	EnvFailedTests   = "YTHARNESS_FAILED_TESTS"
	EnvKeepSandbox   = "YTHARNESS_KEEP_SANDBOX"
	EnvConfig        = "YTHARNESS_CONFIG"
	EnvBuildTypeID   = "TEAMCITY_BUILD_TYPE_ID"
	EnvBuildNumber   = "BUILD_NUMBER"
	EnvEnableE2E     = "YTHARNESS_ENABLE_E2E"
	EnvRunID         = "YTHARNESS_RUN_ID"
	EnvYTAddress     = "YT_ADDRESS"
	EnvYPAddress     = "YP_ADDRESS"
	EnvYTProxy       = "YT_PROXY"
	EnvYTToken       = "YT_TOKEN"
	EnvJobID         = "YT_JOB_ID"
	EnvOperationID   = "YT_OPERATION_ID"
	EnvJobEventsPath = "YTHARNESS_JOB_EVENTS"
)
