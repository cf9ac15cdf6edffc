package consts

// Ports are assigned inside a locked range; each process takes this many.
const PortsPerProcess = 3

const (
	DefaultPortRangeStart = 24000
	DefaultPortRangeSize  = 200
	DefaultPortRangeCount = 150
)

const (
	LocalHost = "localhost"
)
