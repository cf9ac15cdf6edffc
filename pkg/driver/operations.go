package driver

import (
	"context"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// StartOp starts an operation of the given type and returns its id.
func (d *Driver) StartOp(ctx context.Context, opType string, spec any, opts ...Option) (string, error) {
	specNode, err := ytree.FromGo(spec)
	if err != nil {
		return "", err
	}
	return d.id(ctx, "start_operation", map[string]any{"operation_type": opType, "spec": specNode}, opts)
}

func (d *Driver) GetOperation(ctx context.Context, opID string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "get_operation", map[string]any{"operation_id": opID}, opts)
}

func (d *Driver) ListOperations(ctx context.Context, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "list_operations", nil, opts)
}

func (d *Driver) AbortOp(ctx context.Context, opID string, opts ...Option) error {
	return d.void(ctx, "abort_operation", map[string]any{"operation_id": opID}, opts)
}

func (d *Driver) CompleteOp(ctx context.Context, opID string, opts ...Option) error {
	return d.void(ctx, "complete_operation", map[string]any{"operation_id": opID}, opts)
}

func (d *Driver) SuspendOp(ctx context.Context, opID string, abortRunningJobs bool, opts ...Option) error {
	return d.void(ctx, "suspend_operation", map[string]any{
		"operation_id":       opID,
		"abort_running_jobs": abortRunningJobs,
	}, opts)
}

func (d *Driver) ResumeOp(ctx context.Context, opID string, opts ...Option) error {
	return d.void(ctx, "resume_operation", map[string]any{"operation_id": opID}, opts)
}

func (d *Driver) UpdateOpParameters(ctx context.Context, opID string, parameters map[string]any, opts ...Option) error {
	return d.void(ctx, "update_operation_parameters", map[string]any{
		"operation_id": opID,
		"parameters":   parameters,
	}, opts)
}

// ListJobs returns the "jobs" list of the list_jobs reply.
func (d *Driver) ListJobs(ctx context.Context, opID string, opts ...Option) ([]*ytree.Node, error) {
	value, err := d.structured(ctx, "list_jobs", map[string]any{"operation_id": opID}, opts)
	if err != nil {
		return nil, err
	}
	jobs := value.Get("jobs")
	if jobs == nil {
		return nil, nil
	}
	return jobs.AsList()
}

func (d *Driver) GetJob(ctx context.Context, opID, jobID string, opts ...Option) (*ytree.Node, error) {
	return d.structured(ctx, "get_job", map[string]any{"operation_id": opID, "job_id": jobID}, opts)
}

func (d *Driver) GetJobStderr(ctx context.Context, opID, jobID string, opts ...Option) ([]byte, error) {
	rsp, err := d.Execute(ctx, newRequest("get_job_stderr", map[string]any{"operation_id": opID, "job_id": jobID}, opts))
	if err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

func (d *Driver) AbortJob(ctx context.Context, jobID string, opts ...Option) error {
	return d.void(ctx, "abort_job", map[string]any{"job_id": jobID}, opts)
}
