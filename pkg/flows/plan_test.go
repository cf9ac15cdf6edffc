package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
)

const testRunErrorMsg = "test run error"

type recorder struct {
	calls []string
}

func (r *recorder) action(name string) func(context.Context) error {
	return func(context.Context) error {
		r.calls = append(r.calls, "run:"+name)
		return nil
	}
}

func (r *recorder) cleanup(name string) func(context.Context) error {
	return func(context.Context) error {
		r.calls = append(r.calls, "cleanup:"+name)
		return nil
	}
}

func fail(context.Context) error {
	return errors.New(testRunErrorMsg)
}

var orderCases = []struct {
	name                 string
	steps                []Step
	expectedOrder        []StepName
	expectedErrorMessage string
}{
	{
		name: "insertion-order-without-deps",
		steps: []Step{
			{Name: "step1"},
			{Name: "step2"},
			{Name: "step3"},
		},
		expectedOrder: []StepName{"step1", "step2", "step3"},
	},
	{
		name: "deps-reorder",
		steps: []Step{
			{Name: "start", DependsOn: []StepName{"prepare"}},
			{Name: "baseline", DependsOn: []StepName{"start"}},
			{Name: "prepare"},
		},
		expectedOrder: []StepName{"prepare", "start", "baseline"},
	},
	{
		name: "stable-among-ready",
		steps: []Step{
			{Name: "c", DependsOn: []StepName{"a"}},
			{Name: "b"},
			{Name: "a"},
			{Name: "d", DependsOn: []StepName{"b"}},
		},
		expectedOrder: []StepName{"b", "a", "c", "d"},
	},
	{
		name: "unknown-dependency",
		steps: []Step{
			{Name: "step1", DependsOn: []StepName{"missing"}},
		},
		expectedErrorMessage: "depends on unknown step missing",
	},
	{
		name: "cycle",
		steps: []Step{
			{Name: "step1", DependsOn: []StepName{"step2"}},
			{Name: "step2", DependsOn: []StepName{"step1"}},
			{Name: "step3"},
		},
		expectedErrorMessage: "dependency cycle among steps step1, step2",
	},
	{
		name: "duplicate",
		steps: []Step{
			{Name: "step1"},
			{Name: "step1"},
		},
		expectedErrorMessage: "duplicate step step1",
	},
}

func TestOrder(t *testing.T) {
	for _, testCase := range orderCases {
		t.Run(testCase.name, func(t *testing.T) {
			order, err := NewPlan(logr.Discard(), testCase.steps...).Order()
			if testCase.expectedErrorMessage != "" {
				require.ErrorContains(t, err, testCase.expectedErrorMessage)
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.expectedOrder, order)
		})
	}
}

func TestRunAndCleanup(t *testing.T) {
	r := &recorder{}
	plan := NewPlan(logr.Discard(),
		NewActionStep("start", r.action("start"), "prepare").WithCleanup(r.cleanup("start")),
		NewActionStep("prepare", r.action("prepare")).WithCleanup(r.cleanup("prepare")),
		NewActionStep("baseline", r.action("baseline"), "start"),
	)
	require.NoError(t, plan.Run(context.Background()))
	require.Equal(t, []StepName{"prepare", "start", "baseline"}, plan.Ran())

	// Done steps are not run again.
	require.NoError(t, plan.Run(context.Background()))

	require.NoError(t, plan.Cleanup(context.Background()))
	require.Equal(t, []string{
		"run:prepare", "run:start", "run:baseline",
		"cleanup:start", "cleanup:prepare",
	}, r.calls)
}

func TestRunResumesAfterFailure(t *testing.T) {
	r := &recorder{}
	failing := true
	plan := NewPlan(logr.Discard(),
		NewActionStep("step1", r.action("step1")).WithCleanup(r.cleanup("step1")),
		NewActionStep("step2", func(ctx context.Context) error {
			if failing {
				return fail(ctx)
			}
			return r.action("step2")(ctx)
		}, "step1").WithCleanup(r.cleanup("step2")),
	)

	err := plan.Run(context.Background())
	require.ErrorContains(t, err, "step step2 execution failed: "+testRunErrorMsg)
	require.Equal(t, []StepName{"step1"}, plan.Ran())

	failing = false
	require.NoError(t, plan.Run(context.Background()))
	require.Equal(t, []string{"run:step1", "run:step2"}, r.calls)
}

func TestCleanupCollectsErrors(t *testing.T) {
	r := &recorder{}
	plan := NewPlan(logr.Discard(),
		NewActionStep("step1", r.action("step1")).WithCleanup(r.cleanup("step1")),
		NewActionStep("step2", r.action("step2")).WithCleanup(fail),
		NewActionStep("step3", r.action("step3")),
	)
	require.NoError(t, plan.Run(context.Background()))

	err := plan.Cleanup(context.Background())
	require.ErrorContains(t, err, "cleanup of step step2 failed")
	require.Contains(t, r.calls, "cleanup:step1")

	// Nothing left to clean up.
	require.NoError(t, plan.Cleanup(context.Background()))
}

func TestConditionSkipsStep(t *testing.T) {
	r := &recorder{}
	plan := NewPlan(logr.Discard(),
		NewActionStep("yp", r.action("yp")).
			WithCondition(func(context.Context) (bool, error) { return false, nil }).
			WithCleanup(r.cleanup("yp")),
		NewActionStep("after", r.action("after"), "yp"),
	)
	require.NoError(t, plan.Run(context.Background()))
	require.Equal(t, []string{"run:after"}, r.calls)
	require.NoError(t, plan.Cleanup(context.Background()))
	require.Equal(t, []string{"run:after"}, r.calls)
}

var operationCases = []struct {
	name                 string
	statuses             []StepSyncStatus
	expectedRuns         int
	expectedErrorMessage string
}{
	{
		name:         "already-done",
		statuses:     []StepSyncStatus{StepSyncStatusDone},
		expectedRuns: 0,
	},
	{
		name:         "run-then-updating-then-done",
		statuses:     []StepSyncStatus{StepSyncStatusNeedRun, StepSyncStatusUpdating, StepSyncStatusUpdating, StepSyncStatusDone},
		expectedRuns: 1,
	},
	{
		name:                 "blocked",
		statuses:             []StepSyncStatus{StepSyncStatusNeedRun, StepSyncStatusBlocked},
		expectedRuns:         1,
		expectedErrorMessage: "step operation is blocked",
	},
}

func TestOperationStep(t *testing.T) {
	for _, testCase := range operationCases {
		t.Run(testCase.name, func(t *testing.T) {
			runs := 0
			polls := 0
			step := NewOperationStep("operation",
				func(context.Context) (StepStatus, error) {
					status := testCase.statuses[min(polls, len(testCase.statuses)-1)]
					polls++
					return StepStatus{SyncStatus: status, Message: "test status"}, nil
				},
				func(context.Context) error {
					runs++
					return nil
				},
			)
			plan := NewPlan(logr.Discard(), step)
			plan.StatusTimeout = 10 * time.Second

			err := plan.Run(context.Background())
			if testCase.expectedErrorMessage != "" {
				require.ErrorContains(t, err, testCase.expectedErrorMessage)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, testCase.expectedRuns, runs)
		})
	}
}

func TestLogIcons(t *testing.T) {
	var lines []string
	logger := funcr.New(func(_, args string) { lines = append(lines, args) }, funcr.Options{})
	plan := NewPlan(logger,
		NewActionStep("ok", func(context.Context) error { return nil }),
		NewActionStep("broken", fail, "ok"),
	)
	require.Error(t, plan.Run(context.Background()))
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "[ ] ok")
	require.Contains(t, lines[1], "[v] ok")
	require.Contains(t, lines[2], "[ ] broken")
	require.Contains(t, lines[3], "[E] broken")
}
