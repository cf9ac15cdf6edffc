package ytsync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/operation"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// TestTables are the input and output tables made by CreateTestTables.
type TestTables struct {
	Input  string
	Output string
}

// CreateTestTables creates {dir}/t_in holding rowCount rows {x="i"; y="i"}
// and an empty {dir}/t_out.
func CreateTestTables(ctx context.Context, d *driver.Driver, dir string, rowCount int, opts ...driver.Option) (*TestTables, error) {
	tables := &TestTables{Input: dir + "/t_in", Output: dir + "/t_out"}
	for _, path := range []string{tables.Input, tables.Output} {
		createOpts := append([]driver.Option{driver.Recursive()}, opts...)
		if _, err := d.Create(ctx, "table", path, createOpts...); err != nil {
			return nil, fmt.Errorf("failed to create test table %s: %w", path, err)
		}
	}
	rows := make([]*ytree.Node, 0, rowCount)
	for i := range rowCount {
		value := ytree.String(strconv.Itoa(i))
		rows = append(rows, ytree.Map(map[string]*ytree.Node{"x": value, "y": value.Clone()}))
	}
	if err := d.WriteTable(ctx, tables.Input, rows, opts...); err != nil {
		return nil, fmt.Errorf("failed to fill test table %s: %w", tables.Input, err)
	}
	return tables, nil
}

// VanillaOptions tune RunTestVanilla.
type VanillaOptions struct {
	// TaskName defaults to "task".
	TaskName string
	// JobCount defaults to 1.
	JobCount    int
	Environment map[string]string
	// Spec is merged into the operation spec.
	Spec map[string]any
	// Track waits for the operation to finish.
	Track bool
}

// RunTestVanilla starts a vanilla operation with one task running command.
func RunTestVanilla(ctx context.Context, d *driver.Driver, command string, options VanillaOptions, opts ...driver.Option) (*operation.Operation, error) {
	if options.TaskName == "" {
		options.TaskName = "task"
	}
	if options.JobCount == 0 {
		options.JobCount = 1
	}
	spec := &operation.VanillaSpec{
		CommonSpec: operation.CommonSpec{Extra: options.Spec},
		Tasks: map[string]*operation.UserJobSpec{
			options.TaskName: {
				Command:     command,
				JobCount:    options.JobCount,
				Environment: options.Environment,
			},
		},
	}
	op, err := operation.Start(ctx, d, spec, opts...)
	if err != nil {
		return nil, err
	}
	if options.Track {
		return op, op.Track(ctx)
	}
	return op, nil
}

// RunSleepingVanilla starts jobCount jobs that sleep until aborted.
func RunSleepingVanilla(ctx context.Context, d *driver.Driver, jobCount int, opts ...driver.Option) (*operation.Operation, error) {
	return RunTestVanilla(ctx, d, "sleep 1000", VanillaOptions{JobCount: jobCount}, opts...)
}
