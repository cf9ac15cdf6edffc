package flows

import (
	"context"
)

type StepSyncStatus string
type StepName string

const (
	// StepSyncStatusDone means that step is done.
	StepSyncStatusDone StepSyncStatus = "Done"
	// StepSyncStatusUpdating means that step execution is in progress
	// and nothing can be done but wait.
	StepSyncStatusUpdating StepSyncStatus = "Updating"
	// StepSyncStatusBlocked means that step can't be executed for some reason.
	StepSyncStatusBlocked StepSyncStatus = "Blocked"
	// StepSyncStatusNeedRun means that step should be executed.
	StepSyncStatusNeedRun StepSyncStatus = "NeedRun"
)

type StepStatus struct {
	SyncStatus StepSyncStatus
	Message    string
}

// Step is one node of a Plan.
type Step struct {
	Name      StepName
	DependsOn []StepName

	Run func(ctx context.Context) error
	// Cleanup undoes Run; it is called only for steps that ran.
	Cleanup func(ctx context.Context) error
	// Status, if set, is polled after Run until the step is done. A step
	// whose status is already Done is not run at all.
	Status func(ctx context.Context) (StepStatus, error)
	// When, if set, decides whether the step applies; skipped steps count
	// as done for their dependents.
	When func(ctx context.Context) (bool, error)
}

// NewActionStep is done as soon as action returns.
func NewActionStep(name StepName, action func(ctx context.Context) error, dependsOn ...StepName) Step {
	return Step{
		Name:      name,
		DependsOn: dependsOn,
		Run:       action,
	}
}

// NewOperationStep is not done instantly: the plan polls statusCheck after
// running action.
func NewOperationStep(
	name StepName,
	statusCheck func(context.Context) (StepStatus, error),
	action func(ctx context.Context) error,
	dependsOn ...StepName,
) Step {
	return Step{
		Name:      name,
		DependsOn: dependsOn,
		Run:       action,
		Status:    statusCheck,
	}
}

// WithCleanup returns a copy of s with cleanup set.
func (s Step) WithCleanup(cleanup func(ctx context.Context) error) Step {
	s.Cleanup = cleanup
	return s
}

// WithCondition returns a copy of s that runs only when cond holds.
func (s Step) WithCondition(cond func(ctx context.Context) (bool, error)) Step {
	s.When = cond
	return s
}
