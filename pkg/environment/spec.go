package environment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"

	"sigs.k8s.io/yaml"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

type Features struct {
	DynamicTables      bool `json:"dynamicTables,omitempty"`
	EnableDebugLogging bool `json:"enableDebugLogging,omitempty"`
	// JobSlots is the number of user job slots per node.
	JobSlots int `json:"jobSlots,omitempty"`
}

// ClusterSpec is the desired shape of a sandbox.
type ClusterSpec struct {
	Name string `json:"name,omitempty"`
	// Masters is the number of peers in every master cell.
	Masters              int `json:"masters"`
	SecondaryMasterCells int `json:"secondaryMasterCells,omitempty"`
	Nodes                int `json:"nodes"`
	Schedulers           int `json:"schedulers"`
	ControllerAgents     int `json:"controllerAgents"`
	HTTPProxies          int `json:"httpProxies"`
	RPCProxies           int `json:"rpcProxies,omitempty"`
	YPMasters            int `json:"ypMasters,omitempty"`

	// Overrides are YSON deltas applied to the generated config of a role:
	// either a map merged into the config or a patch list.
	Overrides map[consts.ComponentType]string `json:"overrides,omitempty"`
	// DynamicConfig maps a cypress path (e.g. //sys/cluster_nodes/@config)
	// to a YSON value or patch list applied once the cluster is up.
	DynamicConfig map[string]string `json:"dynamicConfig,omitempty"`

	Features Features `json:"features,omitempty"`
	// WorkingDir replaces the run directory of the run context.
	WorkingDir string `json:"workingDir,omitempty"`
}

func DefaultClusterSpec() ClusterSpec {
	return ClusterSpec{
		Name:             consts.DefaultClusterName,
		Masters:          1,
		Nodes:            3,
		Schedulers:       1,
		ControllerAgents: 1,
		HTTPProxies:      1,
	}
}

// LoadClusterSpec reads a YAML spec; missing fields keep their defaults.
func LoadClusterSpec(path string) (ClusterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClusterSpec{}, err
	}
	return ParseClusterSpec(data)
}

func ParseClusterSpec(data []byte) (ClusterSpec, error) {
	spec := DefaultClusterSpec()
	if err := yaml.UnmarshalStrict(data, &spec); err != nil {
		return ClusterSpec{}, fmt.Errorf("failed to parse cluster spec: %w", err)
	}
	return spec, spec.Validate()
}

func (s *ClusterSpec) Count(component consts.ComponentType) int {
	switch component {
	case consts.MasterType:
		return s.Masters * (1 + s.SecondaryMasterCells)
	case consts.SchedulerType:
		return s.Schedulers
	case consts.ControllerAgentType:
		return s.ControllerAgents
	case consts.NodeType:
		return s.Nodes
	case consts.HttpProxyType:
		return s.HTTPProxies
	case consts.RpcProxyType:
		return s.RPCProxies
	case consts.YPMasterType:
		return s.YPMasters
	}
	return 0
}

func (s *ClusterSpec) Validate() error {
	if s.Masters < 1 {
		return fmt.Errorf("cluster spec: at least one master is required")
	}
	if s.Masters%2 == 0 {
		return fmt.Errorf("cluster spec: master cell size must be odd, got %d", s.Masters)
	}
	for _, component := range consts.StartOrder {
		if s.Count(component) < 0 {
			return fmt.Errorf("cluster spec: negative %s count", component)
		}
	}
	if s.HTTPProxies < 1 {
		return fmt.Errorf("cluster spec: at least one http proxy is required")
	}
	if s.Schedulers > 0 && s.ControllerAgents == 0 {
		return fmt.Errorf("cluster spec: schedulers require controller agents")
	}
	if s.Features.JobSlots < 0 {
		return fmt.Errorf("cluster spec: negative job slots")
	}
	for component, override := range s.Overrides {
		if !slices.Contains(consts.StartOrder, component) {
			return fmt.Errorf("cluster spec: override for unknown role %q", component)
		}
		if _, err := ytree.ParseString(override); err != nil {
			return fmt.Errorf("cluster spec: bad %s override: %w", component, err)
		}
	}
	for path, value := range s.DynamicConfig {
		if _, err := ytree.ParseString(value); err != nil {
			return fmt.Errorf("cluster spec: bad dynamic config for %s: %w", path, err)
		}
	}
	return nil
}

// Hash identifies the shape of the cluster; equal specs share an environment.
func (s *ClusterSpec) Hash() string {
	data, err := yaml.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("cluster spec is not serializable: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (s *ClusterSpec) ClusterName() string {
	if s.Name == "" {
		return consts.DefaultClusterName
	}
	return s.Name
}
