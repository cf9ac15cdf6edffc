package e2e_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	otypes "github.com/onsi/gomega/types"
	"go.ytsaurus.tech/yt/go/schema"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/fixture"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytsync"
)

// SetupTest acquires an environment of the given shape for the current spec;
// teardown runs as a spec cleanup.
func SetupTest(overrides func(spec *environment.ClusterSpec)) *fixture.Function {
	GinkgoHelper()
	return session.Class(overrides).Setup(GinkgoT())
}

func withYP(spec *environment.ClusterSpec) {
	spec.YPMasters = 1
}

func withDynamicTables(spec *environment.ClusterSpec) {
	spec.Features.DynamicTables = true
}

var keyValueSchema = schema.Schema{
	UniqueKeys: true,
	Columns: []schema.Column{
		{Name: "key", Type: schema.TypeInt64, SortOrder: schema.SortAscending},
		{Name: "value", Type: schema.TypeString},
	},
}

func sortedTableAttributes() driver.Option {
	return driver.WithAttributes(map[string]any{
		"schema": []any{
			map[string]any{"name": "key", "type": "int64", "sort_order": "ascending"},
			map[string]any{"name": "value", "type": "string"},
		},
	})
}

func keyValue(key int64, value string) *ytree.Node {
	return ytree.Map(map[string]*ytree.Node{"key": ytree.Int(key), "value": ytree.String(value)})
}

func key(key int64) *ytree.Node {
	return ytree.Map(map[string]*ytree.Node{"key": ytree.Int(key)})
}

func EventuallyPodScheduling(ctx context.Context, d *driver.Driver, podID string) AsyncAssertion {
	return Eventually(ctx, func(ctx context.Context) (*ytsync.PodScheduling, error) {
		return ytsync.GetPodScheduling(ctx, d, podID)
	}, scenarioTimeout, pollInterval)
}

func HavePodState(state string) otypes.GomegaMatcher {
	return HaveField("State", state)
}

func HaveErrorKind(kind yterrs.Kind) otypes.GomegaMatcher {
	return WithTransform(func(err error) bool {
		return yterrs.ContainsKind(err, kind)
	}, BeTrue())
}

func EqualRows(expected ...*ytree.Node) otypes.GomegaMatcher {
	return WithTransform(func(rows []*ytree.Node) bool {
		if len(rows) != len(expected) {
			return false
		}
		for i := range rows {
			if !ytree.Equal(rows[i], expected[i]) {
				return false
			}
		}
		return true
	}, BeTrue())
}
