// Package flows runs ordered sets of dependent steps with cleanup.
package flows

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
)

const DefaultStatusTimeout = 5 * time.Minute

// Plan executes steps in dependency order. Steps without dependencies
// between them keep the order in which they were added.
type Plan struct {
	steps  []Step
	logger logr.Logger
	// StatusTimeout bounds status polling of a single step.
	StatusTimeout time.Duration

	mu   sync.Mutex
	done map[StepName]bool
	ran  []StepName
}

func NewPlan(logger logr.Logger, steps ...Step) *Plan {
	return &Plan{
		steps:         steps,
		logger:        logger,
		StatusTimeout: DefaultStatusTimeout,
		done:          map[StepName]bool{},
	}
}

func (p *Plan) Add(steps ...Step) *Plan {
	p.steps = append(p.steps, steps...)
	return p
}

// Order returns step names in execution order.
func (p *Plan) Order() ([]StepName, error) {
	index := map[StepName]int{}
	for i, step := range p.steps {
		if _, ok := index[step.Name]; ok {
			return nil, fmt.Errorf("duplicate step %s", step.Name)
		}
		index[step.Name] = i
	}
	pending := make([]int, len(p.steps))
	dependents := make([][]int, len(p.steps))
	for i, step := range p.steps {
		for _, dep := range step.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", step.Name, dep)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range p.steps {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]StepName, 0, len(p.steps))
	for len(ready) > 0 {
		slices.Sort(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, p.steps[i].Name)
		for _, j := range dependents[i] {
			pending[j]--
			if pending[j] == 0 {
				ready = append(ready, j)
			}
		}
	}
	if len(order) != len(p.steps) {
		var cycle []string
		for i, step := range p.steps {
			if pending[i] > 0 {
				cycle = append(cycle, string(step.Name))
			}
		}
		return nil, fmt.Errorf("dependency cycle among steps %s", strings.Join(cycle, ", "))
	}
	return order, nil
}

func (p *Plan) step(name StepName) *Step {
	for i := range p.steps {
		if p.steps[i].Name == name {
			return &p.steps[i]
		}
	}
	return nil
}

func (p *Plan) logStep(name StepName, status StepStatus, err error) {
	statusToIcon := map[StepSyncStatus]string{
		StepSyncStatusDone:     "[v]",
		StepSyncStatusUpdating: "[.]",
		StepSyncStatusBlocked:  "[x]",
		StepSyncStatusNeedRun:  "[ ]",
	}

	var icon string
	if err != nil {
		icon = "[E]"
	} else {
		icon = statusToIcon[status.SyncStatus]
	}
	line := fmt.Sprintf("%s %s", icon, name)
	if status.Message != "" {
		line += ": " + status.Message
	}
	if err != nil {
		line += ": " + err.Error()
	}
	p.logger.Info(line)
}

func (p *Plan) isDone(name StepName) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[name]
}

func (p *Plan) markDone(name StepName, ran bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[name] = true
	if ran {
		p.ran = append(p.ran, name)
	}
}

// Run executes every step that is not done yet. After a failure Run may be
// called again and resumes from the failed step.
func (p *Plan) Run(ctx context.Context) error {
	order, err := p.Order()
	if err != nil {
		return err
	}
	for _, name := range order {
		if p.isDone(name) {
			continue
		}
		if err := p.runStep(ctx, p.step(name)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) runStep(ctx context.Context, step *Step) error {
	if step.When != nil {
		apply, err := step.When(ctx)
		if err != nil {
			p.logStep(step.Name, StepStatus{}, err)
			return fmt.Errorf("failed to check condition of step %s: %w", step.Name, err)
		}
		if !apply {
			p.logStep(step.Name, StepStatus{SyncStatus: StepSyncStatusDone, Message: "skipped"}, nil)
			p.markDone(step.Name, false)
			return nil
		}
	}

	if step.Status != nil {
		status, err := step.Status(ctx)
		if err != nil {
			p.logStep(step.Name, status, err)
			return fmt.Errorf("failed to get status for step %s: %w", step.Name, err)
		}
		if status.SyncStatus == StepSyncStatusDone {
			p.logStep(step.Name, status, nil)
			p.markDone(step.Name, false)
			return nil
		}
	}

	p.logStep(step.Name, StepStatus{SyncStatus: StepSyncStatusNeedRun}, nil)
	if step.Run != nil {
		if err := step.Run(ctx); err != nil {
			p.logStep(step.Name, StepStatus{}, err)
			return fmt.Errorf("step %s execution failed: %w", step.Name, err)
		}
	}

	if step.Status != nil {
		if err := p.waitStatus(ctx, step); err != nil {
			p.logStep(step.Name, StepStatus{}, err)
			return err
		}
	}
	p.markDone(step.Name, true)
	p.logStep(step.Name, StepStatus{SyncStatus: StepSyncStatusDone}, nil)
	return nil
}

func (p *Plan) waitStatus(ctx context.Context, step *Step) error {
	var last StepStatus
	err := wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		status, err := step.Status(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to get status for step %s: %w", step.Name, err)
		}
		if status != last {
			p.logStep(step.Name, status, nil)
			last = status
		}
		switch status.SyncStatus {
		case StepSyncStatusDone:
			return true, nil
		case StepSyncStatusBlocked:
			return false, wait.Stop(fmt.Errorf("step %s is blocked: %s", step.Name, status.Message))
		}
		return false, nil
	},
		wait.WithTimeout(p.StatusTimeout),
		wait.WithDescription("step %s is done", step.Name),
	)
	return err
}

// Cleanup calls the cleanups of steps that ran, in reverse order. Every
// cleanup is attempted; the errors are joined.
func (p *Plan) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	ran := slices.Clone(p.ran)
	p.ran = nil
	p.done = map[StepName]bool{}
	p.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(ran) {
		step := p.step(name)
		if step == nil || step.Cleanup == nil {
			continue
		}
		if err := step.Cleanup(ctx); err != nil {
			p.logStep(name, StepStatus{Message: "cleanup"}, err)
			errs = append(errs, fmt.Errorf("cleanup of step %s failed: %w", name, err))
			continue
		}
		p.logger.V(1).Info(fmt.Sprintf("[v] %s: cleaned up", name))
	}
	return errors.Join(errs...)
}

// Ran lists steps that ran, in order.
func (p *Plan) Ran() []StepName {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ran)
}
