package operation

import (
	"maps"

	"go.ytsaurus.tech/yt/go/yson"
)

// Spec is an operation specification with its operation type.
type Spec interface {
	OperationType() string
}

// CommonSpec holds fields shared by all operation types.
type CommonSpec struct {
	Title             string         `yson:"title,omitempty"`
	Pool              string         `yson:"pool,omitempty"`
	MaxFailedJobCount *int           `yson:"max_failed_job_count,omitempty"`
	TimeLimit         *int64         `yson:"time_limit,omitempty"`
	Annotations       map[string]any `yson:"annotations,omitempty"`
	// Extra is merged into the spec verbatim.
	Extra map[string]any `yson:"-"`
}

func (c *CommonSpec) Common() *CommonSpec { return c }

// UserJobSpec describes a user command run by jobs.
type UserJobSpec struct {
	Command      string            `yson:"command"`
	Environment  map[string]string `yson:"environment,omitempty"`
	FilePaths    []string          `yson:"file_paths,omitempty"`
	MemoryLimit  int64             `yson:"memory_limit,omitempty"`
	CPULimit     float64           `yson:"cpu_limit,omitempty"`
	InputFormat  string            `yson:"input_format,omitempty"`
	OutputFormat string            `yson:"output_format,omitempty"`
	// JobCount is used by vanilla tasks only.
	JobCount int `yson:"job_count,omitempty"`
}

// WithEnv returns a copy of the job spec with extra environment variables.
func (s UserJobSpec) WithEnv(env map[string]string) *UserJobSpec {
	merged := maps.Clone(s.Environment)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, env)
	s.Environment = merged
	return &s
}

type MapSpec struct {
	CommonSpec
	InputTablePaths  []string     `yson:"input_table_paths"`
	OutputTablePaths []string     `yson:"output_table_paths"`
	Mapper           *UserJobSpec `yson:"mapper"`
	JobCount         int          `yson:"job_count,omitempty"`
	Ordered          bool         `yson:"ordered,omitempty"`
}

func (*MapSpec) OperationType() string { return "map" }

type ReduceSpec struct {
	CommonSpec
	InputTablePaths  []string     `yson:"input_table_paths"`
	OutputTablePaths []string     `yson:"output_table_paths"`
	Reducer          *UserJobSpec `yson:"reducer"`
	ReduceBy         []string     `yson:"reduce_by,omitempty"`
	SortBy           []string     `yson:"sort_by,omitempty"`
	JoinBy           []string     `yson:"join_by,omitempty"`
}

func (*ReduceSpec) OperationType() string { return "reduce" }

type MapReduceSpec struct {
	CommonSpec
	InputTablePaths  []string     `yson:"input_table_paths"`
	OutputTablePaths []string     `yson:"output_table_paths"`
	Mapper           *UserJobSpec `yson:"mapper,omitempty"`
	ReduceCombiner   *UserJobSpec `yson:"reduce_combiner,omitempty"`
	Reducer          *UserJobSpec `yson:"reducer"`
	ReduceBy         []string     `yson:"reduce_by"`
	SortBy           []string     `yson:"sort_by,omitempty"`
}

func (*MapReduceSpec) OperationType() string { return "map_reduce" }

// MergeSpec modes are "unordered", "ordered" and "sorted".
type MergeSpec struct {
	CommonSpec
	InputTablePaths []string `yson:"input_table_paths"`
	OutputTablePath string   `yson:"output_table_path"`
	Mode            string   `yson:"mode,omitempty"`
	MergeBy         []string `yson:"merge_by,omitempty"`
	CombineChunks   bool     `yson:"combine_chunks,omitempty"`
	// ForceTransform disables chunk teleportation.
	ForceTransform bool `yson:"force_transform,omitempty"`
}

func (*MergeSpec) OperationType() string { return "merge" }

type SortSpec struct {
	CommonSpec
	InputTablePaths []string `yson:"input_table_paths"`
	OutputTablePath string   `yson:"output_table_path"`
	SortBy          []string `yson:"sort_by"`
}

func (*SortSpec) OperationType() string { return "sort" }

type EraseSpec struct {
	CommonSpec
	TablePath     string `yson:"table_path"`
	CombineChunks bool   `yson:"combine_chunks,omitempty"`
}

func (*EraseSpec) OperationType() string { return "erase" }

// VanillaSpec runs jobs without input tables.
type VanillaSpec struct {
	CommonSpec
	Tasks map[string]*UserJobSpec `yson:"tasks"`
}

func (*VanillaSpec) OperationType() string { return "vanilla" }

type RemoteCopySpec struct {
	CommonSpec
	ClusterName     string   `yson:"cluster_name"`
	InputTablePaths []string `yson:"input_table_paths"`
	OutputTablePath string   `yson:"output_table_path"`
}

func (*RemoteCopySpec) OperationType() string { return "remote_copy" }

// RawSpec carries a spec built elsewhere.
type RawSpec struct {
	Type string
	Spec map[string]any
}

func (s *RawSpec) OperationType() string { return s.Type }

func (s *RawSpec) MarshalYSON() ([]byte, error) {
	return yson.Marshal(s.Spec)
}
