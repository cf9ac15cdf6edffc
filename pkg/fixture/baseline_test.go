package fixture

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytfake"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytsync"
)

func TestDiff(t *testing.T) {
	baseline := &Baseline{
		Objects: map[string][]string{"user": {"root", "guest"}, tmpKind: {}},
		YP:      map[string][]string{"pod": {}},
	}
	current := &Baseline{
		Objects: map[string][]string{"user": {"root", "guest", "alice"}, tmpKind: {"left"}},
		YP:      map[string][]string{"pod": {"p1"}, "user": {"root"}},
	}
	residue := baseline.Diff(current)
	require.Equal(t, []Residue{
		{Kind: tmpKind, Name: "left"},
		{Kind: "user", Name: "alice"},
		{Kind: "pod", Name: "p1", YP: true},
	}, residue)

	err := error(&IsolationViolation{Test: "TestX", Residue: residue})
	require.Equal(t, `test TestX left objects behind: tmp "left", user "alice", yp pod "p1"`, err.Error())
	require.Equal(t, yterrs.KindIsolationViolation, yterrs.Classify(err))
	require.True(t, yterrs.ContainsCode(yterrs.Wrap(yterrs.CodeGeneric, "teardown", err), yterrs.CodeIsolationViolation))
}

func TestCheckBaselineReportsResidue(t *testing.T) {
	ctx := context.Background()
	cluster := ytfake.New()
	cluster.Start()
	t.Cleanup(cluster.Close)
	d, err := cluster.NewDriver(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	baseline, err := CaptureBaseline(ctx, d, false)
	require.NoError(t, err)
	require.Contains(t, baseline.Objects["user"], "root")
	require.Empty(t, baseline.YP)

	f := &Function{
		Env:    &Env{Spec: environment.DefaultClusterSpec(), Baseline: baseline},
		Driver: d,
		name:   t.Name(),
		logger: testr.New(t),
	}
	require.NoError(t, f.checkBaseline(ctx))

	_, err = d.CreateUser(ctx, "leftover", nil)
	require.NoError(t, err)
	err = f.checkBaseline(ctx)
	var violation *IsolationViolation
	require.True(t, errors.As(err, &violation))
	require.Equal(t, []Residue{{Kind: "user", Name: "leftover"}}, violation.Residue)
}

func TestCheckBaselineReportsOperationsAndTransactions(t *testing.T) {
	ctx := context.Background()
	cluster := ytfake.New()
	cluster.Start()
	t.Cleanup(cluster.Close)
	d, err := cluster.NewDriver(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	baseline, err := CaptureBaseline(ctx, d, false)
	require.NoError(t, err)
	require.Empty(t, baseline.Objects[operationKind])
	require.Empty(t, baseline.Objects[transactionKind])

	f := &Function{
		Env:    &Env{Spec: environment.DefaultClusterSpec(), Baseline: baseline},
		Driver: d,
		name:   t.Name(),
		logger: testr.New(t),
	}

	op, err := ytsync.RunTestVanilla(ctx, d, "true", ytsync.VanillaOptions{Track: true})
	require.NoError(t, err)
	tx, err := d.StartTx(ctx, driver.TxOptions{NoPing: true, Title: "forgotten"})
	require.NoError(t, err)

	err = f.checkBaseline(ctx)
	var violation *IsolationViolation
	require.True(t, errors.As(err, &violation))
	require.Equal(t, []Residue{
		{Kind: operationKind, Name: op.ID},
		{Kind: transactionKind, Name: tx.ID()},
	}, violation.Residue)
}
