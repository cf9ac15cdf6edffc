package ytconfig

import (
	"go.ytsaurus.tech/yt/go/yson"
)

type AddressList struct {
	Addresses []string `yson:"addresses"`
}

type HydraPeer struct {
	Address string `yson:"address"`
	Voting  bool   `yson:"voting"`
}

type MasterCell struct {
	AddressList
	Peers  []HydraPeer `yson:"peers"`
	CellID string      `yson:"cell_id"`
}

type TimestampProviders struct {
	AddressList
}

type MasterCache struct {
	AddressList
	CellID                    string `yson:"cell_id"`
	EnableMasterCacheDiscover bool   `yson:"enable_master_cache_discovery"`
}

type AddressType string

const (
	AddressTypeHTTP        AddressType = "http"
	AddressTypeInternalRPC AddressType = "internal_rpc"
	AddressTypePublicRPC   AddressType = "public_rpc"
)

// NYT::NDriver::TDriverConfig
type Driver struct {
	APIVersion int `yson:"api_version,omitempty"`

	DefaultRpcProxyAddressType *AddressType `yson:"default_rpc_proxy_address_type,omitempty"`
}

// NYT::NDriver::TNativeDriverConfig
type NativeDriver struct {
	Driver
	ClusterConnection
}

// Native driver config consumed by clients and by ytserver-* tools.
type NativeClientConfig struct {
	AddressResolver AddressResolver `yson:"address_resolver"`
	Logging         Logging         `yson:"logging"`
	Driver          NativeDriver    `yson:"driver"`
}

// NYT::NApi::NNative::TConnectionStaticConfig
type ClusterConnection struct {
	ClusterName        string              `yson:"cluster_name"`
	PrimaryMaster      MasterCell          `yson:"primary_master"`
	SecondaryMasters   []MasterCell        `yson:"secondary_masters,omitempty"`
	MasterCache        MasterCache         `yson:"master_cache,omitempty"`
	TimestampProviders *TimestampProviders `yson:"timestamp_provider,omitempty"`
}

type AddressResolver struct {
	EnableIPv4 bool  `yson:"enable_ipv4"`
	EnableIPv6 bool  `yson:"enable_ipv6"`
	KeepSocket *bool `yson:"keep_socket,omitempty"`
	ForceTCP   *bool `yson:"force_tcp,omitempty"`
	Retries    *int  `yson:"retries,omitempty"`

	LocalhostNameOverride *string `yson:"localhost_name_override,omitempty"`
}

type SolomonExporter struct {
	Host         *string           `yson:"host,omitempty"`
	InstanceTags map[string]string `yson:"instance_tags,omitempty"`
}

// BasicServer holds the fields every server binary understands.
type BasicServer struct {
	AddressResolver AddressResolver `yson:"address_resolver"`
	SolomonExporter SolomonExporter `yson:"solomon_exporter"`
	Logging         Logging         `yson:"logging"`
	MonitoringPort  int32           `yson:"monitoring_port"`
	RPCPort         int32           `yson:"rpc_port"`
}

type CommonServer struct {
	BasicServer
	TimestampProviders TimestampProviders `yson:"timestamp_provider"`
	ClusterConnection  ClusterConnection  `yson:"cluster_connection"`
	CypressAnnotations map[string]any     `yson:"cypress_annotations,omitempty"`
}

type RetryingChannel struct {
	RetryBackoffTime yson.Duration `yson:"retry_backoff_time,omitempty"`
	RetryAttempts    int32         `yson:"retry_attempts,omitempty"`
	RetryTimeout     yson.Duration `yson:"retry_timeout,omitempty"`
}

type IOEngine struct {
	EnableSync *bool `yson:"enable_sync,omitempty"`
}
