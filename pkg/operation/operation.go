// Package operation starts scheduler operations and tracks them to completion.
package operation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTrackTimeout = 10 * time.Minute
	// maxStderrs bounds the job stderrs attached to OperationFailed.
	maxStderrs = 5
)

// State is an operation state as reported by the scheduler.
type State string

const (
	StateStarting      State = "starting"
	StateInitializing  State = "initializing"
	StatePreparing     State = "preparing"
	StateMaterializing State = "materializing"
	StatePending       State = "pending"
	StateRunning       State = "running"
	StateReviving      State = "reviving"
	StateCompleting    State = "completing"
	StateFailing       State = "failing"
	StateAborting      State = "aborting"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateAborted       State = "aborted"
)

func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// stateRank orders states so that transitions only move forward.
var stateRank = map[State]int{
	StateStarting:      0,
	StateInitializing:  1,
	StatePreparing:     2,
	StateMaterializing: 3,
	StatePending:       4,
	StateRunning:       5,
	StateReviving:      5,
	StateCompleting:    6,
	StateFailing:       6,
	StateAborting:      6,
	StateCompleted:     7,
	StateFailed:        7,
	StateAborted:       7,
}

// Operation is a handle to a scheduler operation.
type Operation struct {
	ID   string
	Type string
	Spec *ytree.Node

	PollInterval time.Duration
	TrackTimeout time.Duration

	d      *driver.Driver
	logger logr.Logger

	mu        sync.Mutex
	lastState State
	// final is set once a terminal state has been observed.
	final State
	// result is the operation error of a failed or aborted operation.
	result *yterrors.Error
}

// Attach returns a handle for an operation started elsewhere.
func Attach(d *driver.Driver, id string) *Operation {
	return &Operation{
		ID:           id,
		PollInterval: DefaultPollInterval,
		TrackTimeout: DefaultTrackTimeout,
		d:            d,
		logger:       d.Logger().WithValues("operation_id", id),
	}
}

// Start starts an operation and returns without waiting for it.
func Start(ctx context.Context, d *driver.Driver, spec Spec, opts ...driver.Option) (*Operation, error) {
	node, err := ytree.FromGo(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s spec: %w", spec.OperationType(), err)
	}
	if c, ok := spec.(interface{ Common() *CommonSpec }); ok {
		for k, v := range c.Common().Extra {
			extra, err := ytree.FromGo(v)
			if err != nil {
				return nil, fmt.Errorf("failed to convert spec field %q: %w", k, err)
			}
			node.Set(k, extra)
		}
	}
	id, err := d.StartOp(ctx, spec.OperationType(), node, opts...)
	if err != nil {
		return nil, err
	}
	op := Attach(d, id)
	op.Type = spec.OperationType()
	op.Spec = node
	op.logger.V(1).Info("Operation started", "type", op.Type)
	return op, nil
}

// Run starts an operation and tracks it to completion.
func Run(ctx context.Context, d *driver.Driver, spec Spec, opts ...driver.Option) (*Operation, error) {
	op, err := Start(ctx, d, spec, opts...)
	if err != nil {
		return nil, err
	}
	return op, op.Track(ctx)
}

// Path is the cypress node of the operation.
func (op *Operation) Path() string {
	return OperationPath(op.ID)
}

// OperationPath returns //sys/operations/<hash>/<id>.
func OperationPath(id string) string {
	parts := strings.Split(id, "-")
	hash := "00"
	if len(parts) == 4 {
		if v, err := strconv.ParseUint(parts[3], 16, 64); err == nil {
			hash = fmt.Sprintf("%02x", v%256)
		}
	}
	return "//sys/operations/" + hash + "/" + id
}

func (op *Operation) get(ctx context.Context, attrs ...string) (*ytree.Node, error) {
	return op.d.GetOperation(ctx, op.ID, driver.WithAttributeKeys(attrs...))
}

// State returns the current state. Once a terminal state has been seen it
// is returned without contacting the cluster.
func (op *Operation) State(ctx context.Context) (State, error) {
	op.mu.Lock()
	if op.final != "" {
		defer op.mu.Unlock()
		return op.final, nil
	}
	op.mu.Unlock()

	info, err := op.get(ctx, "state", "result")
	if err != nil {
		return "", err
	}
	state := State(info.Get("state").Str())
	return op.observe(state, info.Get("result")), nil
}

func (op *Operation) observe(state State, result *ytree.Node) State {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.final != "" {
		return op.final
	}
	if op.lastState != "" && stateRank[state] < stateRank[op.lastState] {
		// Stale read from a lagging replica.
		return op.lastState
	}
	if state != op.lastState {
		op.logger.V(1).Info("Operation state changed", "from", op.lastState, "to", state)
	}
	op.lastState = state
	if state.IsFinished() {
		op.final = state
		if result != nil && result.Has("error") {
			op.result = decodeError(result.Get("error"))
		}
	}
	return state
}

func decodeError(n *ytree.Node) *yterrors.Error {
	if n == nil {
		return nil
	}
	data, err := ytree.MarshalBinary(n)
	if err != nil {
		return nil
	}
	ytErr, err := driver.DecodeErrorYSON(data)
	if err != nil {
		return nil
	}
	return ytErr
}

// WaitForState waits until the operation reaches state. It fails early when
// the operation finishes in another state.
func (op *Operation) WaitForState(ctx context.Context, state State, opts ...wait.Option) error {
	opts = append([]wait.Option{
		wait.WithInterval(op.PollInterval),
		wait.WithDescription("operation %s to reach state %s", op.ID, state),
	}, opts...)
	return wait.WaitObserved(ctx, func(ctx context.Context, obs *wait.Observer) (bool, error) {
		current, err := op.State(ctx)
		if err != nil {
			return false, err
		}
		obs.Observe(current)
		if current == state {
			return true, nil
		}
		if current.IsFinished() {
			return false, wait.Stop(fmt.Errorf("operation %s finished in state %s while waiting for %s", op.ID, current, state))
		}
		return false, nil
	}, opts...)
}

// Track waits for the operation to finish. It returns OperationFailed or
// OperationAborted for unsuccessful outcomes.
func (op *Operation) Track(ctx context.Context) error {
	err := wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		state, err := op.State(ctx)
		if err != nil {
			return false, err
		}
		return state.IsFinished(), nil
	}, wait.WithInterval(op.PollInterval), wait.WithTimeout(op.TrackTimeout),
		wait.WithDescription("operation %s to finish", op.ID))
	if err != nil {
		return err
	}
	return op.outcome(ctx)
}

func (op *Operation) outcome(ctx context.Context) error {
	op.mu.Lock()
	final, result := op.final, op.result
	op.mu.Unlock()

	switch final {
	case StateCompleted:
		return nil
	case StateAborted:
		return &OperationAborted{ID: op.ID, Err: result}
	}
	failed := &OperationFailed{ID: op.ID, State: final, Err: result, Stderrs: map[string]string{}}
	jobs, err := op.d.ListJobs(ctx, op.ID, driver.WithParam("job_state", "failed"))
	if err != nil {
		op.logger.Info("Failed to list failed jobs", "error", err)
		return failed
	}
	for _, job := range jobs {
		jobID := job.Get("id").Str()
		if jobErr := decodeError(job.Get("error")); jobErr != nil {
			failed.JobErrors = append(failed.JobErrors, jobErr)
		}
		if len(failed.Stderrs) >= maxStderrs {
			continue
		}
		stderr, err := op.JobStderr(ctx, jobID)
		if err == nil && len(stderr) > 0 {
			failed.Stderrs[jobID] = string(stderr)
		}
	}
	return failed
}

// Jobs lists all jobs of the operation.
func (op *Operation) Jobs(ctx context.Context, opts ...driver.Option) ([]*ytree.Node, error) {
	return op.d.ListJobs(ctx, op.ID, opts...)
}

// RunningJobs returns running jobs keyed by job id.
func (op *Operation) RunningJobs(ctx context.Context) (map[string]*ytree.Node, error) {
	jobs, err := op.Jobs(ctx, driver.WithParam("job_state", "running"))
	if err != nil {
		return nil, err
	}
	result := map[string]*ytree.Node{}
	for _, job := range jobs {
		if state := job.Get("state"); state != nil && state.Str() != "running" {
			continue
		}
		result[job.Get("id").Str()] = job
	}
	return result, nil
}

func (op *Operation) JobStderr(ctx context.Context, jobID string) ([]byte, error) {
	return op.d.GetJobStderr(ctx, op.ID, jobID)
}

// Progress returns the progress attribute, or an entity while none is reported.
func (op *Operation) Progress(ctx context.Context) (*ytree.Node, error) {
	info, err := op.get(ctx, "progress")
	if err != nil {
		return nil, err
	}
	if progress := info.Get("progress"); progress != nil {
		return progress, nil
	}
	return ytree.Entity(), nil
}

// BriefProgress returns the job counters of the operation.
func (op *Operation) BriefProgress(ctx context.Context) (*ytree.Node, error) {
	info, err := op.get(ctx, "brief_progress")
	if err != nil {
		return nil, err
	}
	if jobs := info.Get("brief_progress").Get("jobs"); jobs != nil {
		return jobs, nil
	}
	return ytree.EmptyMap(), nil
}

// WaitForFreshSnapshot waits until the controller writes a snapshot newer
// than the one present at the call.
func (op *Operation) WaitForFreshSnapshot(ctx context.Context, opts ...wait.Option) error {
	versionPath := op.Path() + "/snapshot/@version"
	initial, err := op.d.GetDefault(ctx, versionPath, ytree.Int(-1))
	if err != nil {
		return err
	}
	opts = append([]wait.Option{wait.WithDescription("fresh snapshot of operation %s", op.ID)}, opts...)
	return wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		current, err := op.d.GetDefault(ctx, versionPath, ytree.Int(-1))
		if err != nil {
			return false, err
		}
		return current.IntOr(-1) >= 0 && !ytree.Equal(current, initial), nil
	}, opts...)
}

func (op *Operation) Abort(ctx context.Context) error {
	return op.d.AbortOp(ctx, op.ID)
}

func (op *Operation) Complete(ctx context.Context) error {
	return op.d.CompleteOp(ctx, op.ID)
}

func (op *Operation) Suspend(ctx context.Context, abortRunningJobs bool) error {
	return op.d.SuspendOp(ctx, op.ID, abortRunningJobs)
}

func (op *Operation) Resume(ctx context.Context) error {
	return op.d.ResumeOp(ctx, op.ID)
}

func (op *Operation) UpdateParameters(ctx context.Context, parameters map[string]any) error {
	return op.d.UpdateOpParameters(ctx, op.ID, parameters)
}

// OperationFailed reports a failed operation with its job errors and stderrs.
type OperationFailed struct {
	ID        string
	State     State
	Err       *yterrors.Error
	JobErrors []*yterrors.Error
	Stderrs   map[string]string
}

func (e *OperationFailed) Error() string {
	msg := fmt.Sprintf("operation %s %s", e.ID, e.State)
	if e.Err != nil {
		msg += ": " + e.Err.Message
	}
	if len(e.JobErrors) > 0 {
		msg += fmt.Sprintf("; %d failed jobs, first: %s", len(e.JobErrors), e.JobErrors[0].Message)
	}
	for jobID, stderr := range e.Stderrs {
		msg += fmt.Sprintf("\nstderr of job %s:\n%s", jobID, stderr)
		break
	}
	return msg
}

// Unwrap exposes the operation error and job errors to errors.Is and yterrs.ContainsCode.
func (e *OperationFailed) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, jobErr := range e.JobErrors {
		errs = append(errs, jobErr)
	}
	return errs
}

func (e *OperationFailed) ErrorKind() yterrs.Kind { return yterrs.KindOperationFailed }

type OperationAborted struct {
	ID  string
	Err *yterrors.Error
}

func (e *OperationAborted) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s aborted: %s", e.ID, e.Err.Message)
	}
	return fmt.Sprintf("operation %s aborted", e.ID)
}

func (e *OperationAborted) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

func (e *OperationAborted) ErrorKind() yterrs.Kind { return yterrs.KindOperationAborted }

// IsFailed reports whether err is an OperationFailed.
func IsFailed(err error) bool {
	var failed *OperationFailed
	return errors.As(err, &failed)
}
