package fixture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/guid"
	"golang.org/x/sync/errgroup"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/flows"
	"github.com/ytsaurus/ytsaurus-harness/pkg/operation"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytsync"
)

const (
	DefaultTeardownTimeout = 2 * time.Minute
	removeConcurrency      = 8
)

// TB is the part of testing.TB (and ginkgo's GinkgoT) used by the fixtures.
type TB interface {
	Helper()
	Name() string
	Cleanup(func())
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Failed() bool
}

// Function is the per-test fixture.
type Function struct {
	Env    *Env
	Driver *driver.Driver
	// TempPath is a fresh map node removed after the test.
	TempPath string
	// Timeout bounds the whole teardown.
	Timeout time.Duration

	name   string
	class  *Class
	logger logr.Logger
	torn   bool
}

// Setup prepares a test on the class environment and registers its teardown
// with t. Teardown errors fail the test without hiding its own failure.
func (c *Class) Setup(t TB) *Function {
	t.Helper()
	ctx := context.Background()
	f, err := c.NewFunction(ctx, t.Name())
	if err != nil {
		t.Fatalf("fixture setup failed: %v", err)
		return nil
	}
	t.Cleanup(func() {
		if err := f.Teardown(context.Background()); err != nil {
			t.Errorf("fixture teardown failed: %v", err)
		}
	})
	return f
}

// NewFunction acquires the environment and creates the temp path for test.
func (c *Class) NewFunction(ctx context.Context, test string) (*Function, error) {
	env, err := c.Env(ctx)
	if err != nil {
		return nil, err
	}
	d, err := env.Cluster.Driver(ctx)
	if err != nil {
		c.session.markBad(env)
		return nil, err
	}
	f := &Function{
		Env:      env,
		Driver:   d,
		TempPath: TempPath(test),
		name:     test,
		class:    c,
		logger:   c.session.logger.WithValues("test", test),
		Timeout:  DefaultTeardownTimeout,
	}
	if _, err := d.Create(ctx, "map_node", f.TempPath, driver.Recursive()); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", f.TempPath, err)
	}
	f.logger.V(1).Info("Test set up", "tempPath", f.TempPath)
	return f, nil
}

// TempPath returns //tmp/<test>_<guid> with the test name reduced to
// identifier characters.
func TempPath(test string) string {
	name := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '_'
	}, test)
	return fmt.Sprintf("%s/%s_%s", consts.TmpPath, name, guid.New())
}

// Teardown purges everything the test created and checks the result against
// the environment baseline. Any failure marks the environment bad so that
// the next test gets a new one.
func (f *Function) Teardown(ctx context.Context) error {
	if f.torn {
		return nil
	}
	f.torn = true

	ctx, cancel := context.WithTimeout(logr.NewContext(ctx, f.logger), f.Timeout)
	defer cancel()

	var errs []error
	if err := f.Env.Cluster.CheckHealth(); err != nil {
		errs = append(errs, err)
	} else if err := f.plan().Run(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		f.class.session.markBad(f.Env)
		f.logger.Error(errors.Join(errs...), "Teardown failed, environment marked bad")
	}
	return errors.Join(errs...)
}

func (f *Function) plan() *flows.Plan {
	return flows.NewPlan(f.logger.WithName("teardown"),
		flows.NewActionStep("AbortTransactions", f.abortTransactions),
		flows.NewActionStep("AbortOperations", f.abortOperations, "AbortTransactions"),
		flows.NewActionStep("RemoveOperations", f.removeOperations, "AbortOperations"),
		flows.NewActionStep("CleanTmp", f.cleanTmp, "AbortOperations"),
		flows.NewActionStep("RemoveObjects", f.removeObjects, "CleanTmp"),
		flows.NewActionStep("RemoveYPObjects", f.removeYPObjects, "CleanTmp").
			WithCondition(func(context.Context) (bool, error) { return f.Env.YP(), nil }),
		flows.NewActionStep("CheckBaseline", f.checkBaseline, "RemoveOperations", "RemoveObjects", "RemoveYPObjects"),
	)
}

func isSystemTransaction(title string) bool {
	return slices.ContainsFunc(consts.SystemTransactionTitlePrefixes, func(prefix string) bool {
		return strings.HasPrefix(title, prefix)
	})
}

func ignoreMissing(err error) error {
	if yterrs.ContainsKind(err, yterrs.KindNoSuchTransaction) || yterrs.ContainsKind(err, yterrs.KindResolveError) {
		return nil
	}
	return err
}

// abortTransactions closes transactions started through the test driver,
// then aborts every other non-system transaction created after the
// environment started.
func (f *Function) abortTransactions(ctx context.Context) error {
	var errs []error
	for _, tx := range f.Driver.ActiveTxs() {
		if err := tx.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to abort transaction %s: %w", tx.ID(), err))
		}
	}
	ids, err := listUserTransactions(ctx, f.Driver)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, id := range ids {
		if f.Env.Baseline.has(transactionKind, id) {
			continue
		}
		if err := ignoreMissing(f.Driver.AbortTx(ctx, id)); err != nil {
			errs = append(errs, fmt.Errorf("failed to abort transaction %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// abortOperations aborts running operations and waits until they finish.
func (f *Function) abortOperations(ctx context.Context) error {
	result, err := f.Driver.ListOperations(ctx)
	if err != nil {
		return err
	}
	ops, err := result.Get("operations").AsList()
	if err != nil {
		return err
	}
	var errs []error
	for _, op := range ops {
		if operation.State(op.Get("state").Str()).IsFinished() {
			continue
		}
		id := op.Get("id").Str()
		f.logger.Info("Aborting leftover operation", "operationID", id)
		if err := f.Driver.AbortOp(ctx, id); err != nil && !yterrs.ContainsText(err, "is already") {
			errs = append(errs, fmt.Errorf("failed to abort operation %s: %w", id, err))
			continue
		}
		handle := operation.Attach(f.Driver, id)
		err := wait.Wait(ctx, func(ctx context.Context) (bool, error) {
			state, err := handle.State(ctx)
			return state.IsFinished(), err
		}, wait.WithInterval(handle.PollInterval), wait.WithDescription("operation %s to finish", id))
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeOperations drops Cypress nodes of operations started by the test so
// that finished operations do not leak into the next one.
func (f *Function) removeOperations(ctx context.Context) error {
	ids, err := listOperationIDs(ctx, f.Driver)
	if err != nil {
		return err
	}
	var paths []string
	for _, id := range ids {
		if !f.Env.Baseline.has(operationKind, id) {
			paths = append(paths, operation.OperationPath(id))
		}
	}
	if len(paths) > 0 {
		f.logger.V(1).Info("Removing finished operations", "count", len(paths))
	}
	return f.removeAll(ctx, paths)
}

// cleanTmp removes the temp path and every other //tmp child created after
// the environment started.
func (f *Function) cleanTmp(ctx context.Context) error {
	names, err := f.Driver.ListNames(ctx, consts.TmpPath)
	if err != nil {
		return err
	}
	var paths []string
	for _, name := range names {
		if !f.Env.Baseline.has(tmpKind, name) {
			paths = append(paths, consts.TmpPath+"/"+name)
		}
	}
	return f.removeAll(ctx, paths)
}

func (f *Function) removeAll(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(removeConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			return ignoreMissing(f.Driver.Remove(ctx, path, driver.Recursive(), driver.Force()))
		})
	}
	return g.Wait()
}

// removeObjects removes non-baseline master objects, dependents first. Cells
// of the operations archive bundle stay.
func (f *Function) removeObjects(ctx context.Context) error {
	var errs []error
	for _, kind := range consts.CleanupObjectKinds {
		names, err := listObjects(ctx, f.Driver, kind.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var extra []string
		for _, name := range names {
			if !f.Env.Baseline.has(kind.Type, name) {
				extra = append(extra, name)
			}
		}
		if len(extra) == 0 {
			continue
		}
		f.logger.V(1).Info("Removing objects", "type", kind.Type, "names", extra)
		if kind.Type == "tablet_cell" {
			errs = append(errs, f.removeCells(ctx, extra))
			continue
		}
		paths := make([]string, 0, len(extra))
		for _, name := range extra {
			paths = append(paths, kind.Path+"/"+name)
		}
		errs = append(errs, f.removeAll(ctx, paths))
	}
	return errors.Join(errs...)
}

func (f *Function) removeCells(ctx context.Context, ids []string) error {
	var removable []string
	for _, id := range ids {
		bundle, err := f.Driver.Get(ctx, consts.TabletCellsPath+"/"+id+"/@tablet_cell_bundle")
		if err := ignoreMissing(err); err != nil {
			return err
		}
		if bundle.Str() != consts.SysBundleName {
			removable = append(removable, id)
		}
	}
	if len(removable) == 0 {
		return nil
	}
	return ytsync.SyncRemoveTabletCells(ctx, f.Driver, removable)
}

func (f *Function) removeYPObjects(ctx context.Context) error {
	var errs []error
	for _, objectType := range consts.YPCleanupObjectTypes {
		ids, err := selectYPIDs(ctx, f.Driver, objectType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, id := range ids {
			if f.Env.Baseline.hasYP(objectType, id) {
				continue
			}
			if err := ignoreMissing(f.Driver.YPRemoveObject(ctx, objectType, id)); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove YP %s %s: %w", objectType, id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Function) checkBaseline(ctx context.Context) error {
	current, err := CaptureBaseline(ctx, f.Driver, f.Env.YP())
	if err != nil {
		return err
	}
	if residue := f.Env.Baseline.Diff(current); len(residue) > 0 {
		return &IsolationViolation{Test: f.name, Residue: residue}
	}
	return nil
}
