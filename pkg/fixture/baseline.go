package fixture

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
)

const (
	tmpKind         = "tmp"
	operationKind   = "operation"
	transactionKind = "transaction"
)

// Baseline records the names of cleanable objects right after an
// environment starts. Anything outside of it is test residue.
type Baseline struct {
	// Objects maps an object type (or "tmp" for //tmp children) to names.
	// Operation ids and non-system transaction ids are kept under
	// "operation" and "transaction".
	Objects map[string][]string
	// YP maps a YP object type to ids.
	YP map[string][]string
}

func (b *Baseline) has(kind, name string) bool {
	return slices.Contains(b.Objects[kind], name)
}

func (b *Baseline) hasYP(objectType, id string) bool {
	if slices.Contains(consts.YPBuiltinObjects[objectType], id) {
		return true
	}
	return slices.Contains(b.YP[objectType], id)
}

// CaptureBaseline lists every cleanable object kind. Kinds whose map node
// does not exist on the cluster are skipped.
func CaptureBaseline(ctx context.Context, d *driver.Driver, yp bool) (*Baseline, error) {
	b := &Baseline{Objects: map[string][]string{}, YP: map[string][]string{}}
	tmp, err := d.ListNames(ctx, consts.TmpPath)
	if err != nil {
		return nil, err
	}
	b.Objects[tmpKind] = tmp
	if b.Objects[operationKind], err = listOperationIDs(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	if b.Objects[transactionKind], err = listUserTransactions(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	for _, kind := range consts.CleanupObjectKinds {
		names, err := listObjects(ctx, d, kind.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", kind.Type, err)
		}
		if names != nil {
			b.Objects[kind.Type] = names
		}
	}
	if !yp {
		return b, nil
	}
	for _, objectType := range consts.YPCleanupObjectTypes {
		ids, err := selectYPIDs(ctx, d, objectType)
		if err != nil {
			return nil, fmt.Errorf("failed to select YP %s objects: %w", objectType, err)
		}
		b.YP[objectType] = ids
	}
	return b, nil
}

// listObjects returns nil when path does not exist.
func listObjects(ctx context.Context, d *driver.Driver, path string) ([]string, error) {
	names, err := d.ListNames(ctx, path)
	if yterrs.ContainsKind(err, yterrs.KindResolveError) {
		return nil, nil
	}
	if names == nil && err == nil {
		names = []string{}
	}
	return names, err
}

func listOperationIDs(ctx context.Context, d *driver.Driver) ([]string, error) {
	result, err := d.ListOperations(ctx)
	if err != nil {
		return nil, err
	}
	ops, err := result.Get("operations").AsList()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.Get("id").Str())
	}
	slices.Sort(ids)
	return ids, nil
}

// listUserTransactions returns ids of topmost transactions except the ones
// masters and schedulers keep for themselves.
func listUserTransactions(ctx context.Context, d *driver.Driver) ([]string, error) {
	items, err := d.List(ctx, consts.TransactionsPath, driver.WithAttributeKeys("title"))
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, item := range items {
		if !isSystemTransaction(item.Attr("title").Str()) {
			ids = append(ids, item.Str())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func selectYPIDs(ctx context.Context, d *driver.Driver, objectType string) ([]string, error) {
	rows, err := d.YPSelectObjects(ctx, objectType, "", []string{"/meta/id"})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			ids = append(ids, row[0].Str())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Residue is one object that a test left behind.
type Residue struct {
	Kind string
	Name string
	YP   bool
}

func (r Residue) String() string {
	if r.YP {
		return fmt.Sprintf("yp %s %q", r.Kind, r.Name)
	}
	return fmt.Sprintf("%s %q", r.Kind, r.Name)
}

// Diff returns objects present in current but not in b.
func (b *Baseline) Diff(current *Baseline) []Residue {
	var residue []Residue
	for _, kind := range sortedKeys(current.Objects) {
		for _, name := range current.Objects[kind] {
			if !b.has(kind, name) {
				residue = append(residue, Residue{Kind: kind, Name: name})
			}
		}
	}
	for _, objectType := range sortedKeys(current.YP) {
		for _, id := range current.YP[objectType] {
			if !b.hasYP(objectType, id) {
				residue = append(residue, Residue{Kind: objectType, Name: id, YP: true})
			}
		}
	}
	return residue
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsolationViolation is returned by teardown when objects outlive cleanup.
type IsolationViolation struct {
	Test    string
	Residue []Residue
}

func (e *IsolationViolation) Error() string {
	parts := make([]string, 0, len(e.Residue))
	for _, r := range e.Residue {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("test %s left objects behind: %s", e.Test, strings.Join(parts, ", "))
}

func (e *IsolationViolation) ErrorKind() yterrs.Kind { return yterrs.KindIsolationViolation }
