package ytconfig

import (
	"path"

	"k8s.io/utils/ptr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
)

type NodeFlavor string

const (
	NodeFlavorData   NodeFlavor = "data"
	NodeFlavorExec   NodeFlavor = "exec"
	NodeFlavorTablet NodeFlavor = "tablet"
)

type DiskLocation struct {
	// Root directory for the location.
	Path string `yson:"path"`

	// Minimum size the disk partition must have to make this location usable.
	MinDiskSpace int64 `yson:"min_disk_space,omitempty"`

	// Name of the medium corresponding to disk type.
	MediumName string `yson:"medium_name,omitempty"`
}

type ChunkLocation struct {
	// Maximum space chunks are allowed to occupy.
	Quota int64 `yson:"quota,omitempty"`
}

type CacheLocation struct {
	DiskLocation
	ChunkLocation
}

type StoreLocation struct {
	DiskLocation
	ChunkLocation

	HighWatermark          int64 `yson:"high_watermark,omitempty"`
	LowWatermark           int64 `yson:"low_watermark,omitempty"`
	DisableWritesWatermark int64 `yson:"disable_writes_watermark,omitempty"`
	TrashCleanupWatermark  int64 `yson:"trash_cleanup_watermark"`
}

type SlotLocation struct {
	DiskLocation

	// Maximum reported total disk capacity.
	DiskQuota *int64 `yson:"disk_quota,omitempty"`
}

type ResourceLimits struct {
	TotalMemory      int64    `yson:"total_memory,omitempty"`
	TotalCpu         *float32 `yson:"total_cpu,omitempty"`
	NodeDedicatedCpu *float32 `yson:"node_dedicated_cpu,omitempty"`
}

type Cache struct {
	Capacity int64 `yson:"capacity"`
}

type BlockCache struct {
	Compressed   Cache `yson:"compressed_data"`
	Uncompressed Cache `yson:"uncompressed_data"`
}

type DataNode struct {
	StoreLocations []StoreLocation `yson:"store_locations"`
	CacheLocations []CacheLocation `yson:"cache_locations"`
	BlockCache     BlockCache      `yson:"block_cache"`
}

type JobEnvironmentType string

const (
	JobEnvironmentTypeSimple JobEnvironmentType = "simple"
	JobEnvironmentTypePorto  JobEnvironmentType = "porto"
)

type JobEnvironment struct {
	Type     JobEnvironmentType `yson:"type,omitempty"`
	StartUID int                `yson:"start_uid,omitempty"`
}

type SlotManager struct {
	Locations      []SlotLocation `yson:"locations"`
	JobEnvironment JobEnvironment `yson:"job_environment"`

	DoNotSetUserId *bool `yson:"do_not_set_user_id,omitempty"`
	EnableTmpfs    *bool `yson:"enable_tmpfs,omitempty"`
}

type JobResourceLimits struct {
	UserSlots *int `yson:"user_slots,omitempty"`
}

type JobResourceManager struct {
	ResourceLimits JobResourceLimits `yson:"resource_limits"`
}

type EnvironmentVariable struct {
	Name  string  `yson:"name"`
	Value *string `yson:"value,omitempty"`
}

type JobProxy struct {
	JobProxyLogging                Logging               `yson:"job_proxy_logging"`
	EnvironmentVariables           []EnvironmentVariable `yson:"environment_variables,omitempty"`
	ForwardAllEnvironmentVariables *bool                 `yson:"forward_all_environment_variables,omitempty"`
}

type ExecNode struct {
	SlotManager SlotManager `yson:"slot_manager"`
	JobProxy    JobProxy    `yson:"job_proxy"`
}

type TabletNode struct {
	VersionedChunkMetaCache Cache `yson:"versioned_chunk_meta_cache"`
	ResourceLimits          struct {
		Slots int `yson:"slots"`
	} `yson:"resource_limits"`
}

// NodeServer is a cluster node running data, exec and (optionally) tablet flavors at once.
type NodeServer struct {
	CommonServer
	Flavors            []NodeFlavor       `yson:"flavors"`
	ResourceLimits     ResourceLimits     `yson:"resource_limits,omitempty"`
	Tags               []string           `yson:"tags,omitempty"`
	Rack               string             `yson:"rack,omitempty"`
	SkynetHttpPort     int32              `yson:"skynet_http_port"`
	DataNode           DataNode           `yson:"data_node"`
	ExecNode           ExecNode           `yson:"exec_node"`
	JobResourceManager JobResourceManager `yson:"job_resource_manager"`
	TabletNode         *TabletNode        `yson:"tablet_node,omitempty"`
}

const (
	gib = int64(1024 * 1024 * 1024)

	defaultNodeMemory   = 8 * gib
	defaultLocationSize = 10 * gib
	defaultJobSlots     = 4
	tabletSlotsPerNode  = 2
)

func getNodeServerCarcass(instance *Instance, topology *Topology) NodeServer {
	var c NodeServer
	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.SkynetHttpPort = int32(instance.HTTPPort)

	c.Flavors = []NodeFlavor{NodeFlavorData, NodeFlavorExec}
	c.ResourceLimits = ResourceLimits{
		TotalMemory:      defaultNodeMemory,
		NodeDedicatedCpu: ptr.To(float32(0)),
	}

	storeLocation := StoreLocation{
		DiskLocation: DiskLocation{
			Path:       path.Join(instance.Dir, "chunk_store"),
			MediumName: consts.DefaultMedium,
		},
		ChunkLocation: ChunkLocation{Quota: defaultLocationSize},
	}
	storeLocation.LowWatermark = storeLocation.Quota / 10
	storeLocation.HighWatermark = storeLocation.LowWatermark / 2
	storeLocation.DisableWritesWatermark = storeLocation.HighWatermark / 2
	storeLocation.TrashCleanupWatermark = storeLocation.LowWatermark
	c.DataNode.StoreLocations = []StoreLocation{storeLocation}
	c.DataNode.CacheLocations = []CacheLocation{{
		DiskLocation: DiskLocation{Path: path.Join(instance.Dir, "chunk_cache")},
	}}
	c.DataNode.BlockCache = BlockCache{
		Compressed:   Cache{Capacity: 64 * 1024 * 1024},
		Uncompressed: Cache{Capacity: 64 * 1024 * 1024},
	}

	slots := topology.JobSlots
	if slots == 0 {
		slots = defaultJobSlots
	}
	c.JobResourceManager.ResourceLimits.UserSlots = ptr.To(slots)
	c.ExecNode.SlotManager = SlotManager{
		Locations: []SlotLocation{{
			DiskLocation: DiskLocation{Path: path.Join(instance.Dir, "slots")},
		}},
		JobEnvironment: JobEnvironment{Type: JobEnvironmentTypeSimple},
		DoNotSetUserId: ptr.To(true),
		EnableTmpfs:    ptr.To(false),
	}
	c.ExecNode.JobProxy.ForwardAllEnvironmentVariables = ptr.To(true)
	jobProxyLogging := newLoggingBuilder(path.Join(instance.Dir, "job_proxy"), "job-proxy")
	c.ExecNode.JobProxy.JobProxyLogging = jobProxyLogging.addDefaultInfo().addDefaultStderr().logging

	if topology.DynamicTables {
		c.Flavors = append(c.Flavors, NodeFlavorTablet)
		c.TabletNode = &TabletNode{VersionedChunkMetaCache: Cache{Capacity: 16 * 1024 * 1024}}
		c.TabletNode.ResourceLimits.Slots = tabletSlotsPerNode
	}

	c.Logging = createLogging(instance.Dir, "node", topology.EnableDebugLogging)
	return c
}
