package ytsync

import (
	"context"
	"fmt"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
)

const (
	PodSchedulingAssigned = "assigned"
	PodSchedulingPending  = "pending"
)

// NodeOptions describe the resources of nodes made by CreateNodes.
type NodeOptions struct {
	// CPU is the cpu capacity in vcpu; zero means 100.
	CPU int64
	// Memory is the memory capacity in bytes; zero means 16 GiB.
	Memory int64
	// Segment is the node segment; empty means "default".
	Segment string
	Labels  map[string]any
}

// CreateNodes creates count YP nodes in state "up" with cpu and memory
// resources and returns their ids.
func CreateNodes(ctx context.Context, d *driver.Driver, count int, options NodeOptions) ([]string, error) {
	if options.CPU == 0 {
		options.CPU = 100
	}
	if options.Memory == 0 {
		options.Memory = 16 << 30
	}
	labels := map[string]any{}
	for k, v := range options.Labels {
		labels[k] = v
	}
	if options.Segment != "" {
		labels["segment"] = options.Segment
	}

	ids := make([]string, 0, count)
	for range count {
		id, err := d.YPCreateObject(ctx, "node", map[string]any{"labels": labels})
		if err != nil {
			return ids, fmt.Errorf("failed to create node: %w", err)
		}
		ids = append(ids, id)
		if err := d.YPUpdateHfsmState(ctx, id, "up", "Test"); err != nil {
			return ids, err
		}
		resources := []map[string]any{
			{"cpu": map[string]any{"total_capacity": options.CPU}},
			{"memory": map[string]any{"total_capacity": options.Memory}},
		}
		for _, spec := range resources {
			_, err := d.YPCreateObject(ctx, "resource", map[string]any{
				"meta": map[string]any{"node_id": id},
				"spec": spec,
			})
			if err != nil {
				return ids, fmt.Errorf("failed to create resource of node %s: %w", id, err)
			}
		}
	}
	return ids, nil
}

// CreatePodSet creates an empty pod set.
func CreatePodSet(ctx context.Context, d *driver.Driver, attrs map[string]any) (string, error) {
	return d.YPCreateObject(ctx, "pod_set", attrs)
}

// CreatePod creates a pod with spec in podSetID.
func CreatePod(ctx context.Context, d *driver.Driver, podSetID string, spec map[string]any) (string, error) {
	if spec == nil {
		spec = map[string]any{}
	}
	return d.YPCreateObject(ctx, "pod", map[string]any{
		"meta": map[string]any{"pod_set_id": podSetID},
		"spec": spec,
	})
}

// PodScheduling is the scheduling status of a pod.
type PodScheduling struct {
	State  string
	NodeID string
	Error  string
}

func GetPodScheduling(ctx context.Context, d *driver.Driver, podID string) (*PodScheduling, error) {
	values, err := d.YPGetObject(ctx, "pod", podID, []string{
		"/status/scheduling/state",
		"/status/scheduling/node_id",
		"/status/scheduling/error",
	})
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected selector result for pod %s: %d values", podID, len(values))
	}
	s := &PodScheduling{
		State:  values[0].Str(),
		NodeID: values[1].Str(),
	}
	if !values[2].IsEntity() {
		s.Error = values[2].String()
	}
	return s, nil
}

func waitPod(ctx context.Context, d *driver.Driver, podID, state string) (*PodScheduling, error) {
	return wait.WaitValue(ctx, func(ctx context.Context) (*PodScheduling, error) {
		return GetPodScheduling(ctx, d, podID)
	}, func(s *PodScheduling) bool {
		return s.State == state
	}, wait.WithTimeout(Timeout), wait.WithDescription("pod %s is %s", podID, state))
}

// WaitPodScheduled waits until the pod is assigned and returns its node.
func WaitPodScheduled(ctx context.Context, d *driver.Driver, podID string) (string, error) {
	s, err := waitPod(ctx, d, podID, PodSchedulingAssigned)
	if err != nil {
		return "", err
	}
	return s.NodeID, nil
}

// WaitPodPending waits until the scheduler gave up on the pod and returns
// the scheduling error.
func WaitPodPending(ctx context.Context, d *driver.Driver, podID string) (string, error) {
	s, err := waitPod(ctx, d, podID, PodSchedulingPending)
	if err != nil {
		return "", err
	}
	return s.Error, nil
}
