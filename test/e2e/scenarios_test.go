package e2e_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/fixture"
	"github.com/ytsaurus/ytsaurus-harness/pkg/operation"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytsync"
)

var _ = Describe("Harness scenarios", Label("e2e"), func() {

	Context("With YP master", Label("yp"), func() {
		var f *fixture.Function

		BeforeEach(func() {
			f = SetupTest(withYP)
		})

		It("Schedules a pod and leaves the next one pending on cpu", func(ctx context.Context) {
			d := f.Driver
			nodes, err := ytsync.CreateNodes(ctx, d, 1, ytsync.NodeOptions{CPU: 100})
			Expect(err).NotTo(HaveOccurred())
			podSet, err := ytsync.CreatePodSet(ctx, d, nil)
			Expect(err).NotTo(HaveOccurred())

			podSpec := map[string]any{"resource_requests": map[string]any{"vcpu_guarantee": 100}}

			By("Creating the first pod")
			first, err := ytsync.CreatePod(ctx, d, podSet, podSpec)
			Expect(err).NotTo(HaveOccurred())
			EventuallyPodScheduling(ctx, d, first).Should(And(
				HavePodState(ytsync.PodSchedulingAssigned),
				HaveField("NodeID", nodes[0]),
			))

			By("Creating the second pod")
			second, err := ytsync.CreatePod(ctx, d, podSet, podSpec)
			Expect(err).NotTo(HaveOccurred())
			EventuallyPodScheduling(ctx, d, second).Should(And(
				HavePodState(ytsync.PodSchedulingPending),
				HaveField("Error", ContainSubstring("CpuUnsatisfied")),
			))
		})
	})

	Context("With dynamic tables", Label("tablet"), func() {
		var f *fixture.Function

		BeforeEach(func() {
			f = SetupTest(withDynamicTables)
		})

		It("Mounts, reads and unmounts a sorted dynamic table", func(ctx context.Context) {
			d := f.Driver
			path := f.TempPath + "/dyn"

			_, err := ytsync.SyncCreateCells(ctx, d, 1, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ytsync.CreateDynamicTable(ctx, d, path, keyValueSchema, nil)).To(Succeed())
			Expect(ytsync.SyncMountTable(ctx, d, path)).To(Succeed())

			Expect(d.InsertRows(ctx, path, []*ytree.Node{keyValue(1, "2")})).To(Succeed())
			Expect(d.LookupRows(ctx, path, []*ytree.Node{key(1)})).To(EqualRows(keyValue(1, "2")))

			Expect(ytsync.SyncUnmountTable(ctx, d, path)).To(Succeed())
			_, err = d.LookupRows(ctx, path, []*ytree.Node{key(1)})
			Expect(err).To(HaveErrorKind(yterrs.KindTabletNotMounted))
		})
	})

	Context("With operations", Label("operations"), func() {
		var f *fixture.Function

		BeforeEach(func() {
			f = SetupTest(nil)
		})

		It("Stops a map-reduce job at a breakpoint", func(ctx context.Context) {
			d := f.Driver
			events := rc.JobEvents
			input, output := f.TempPath+"/input", f.TempPath+"/output"
			rows := []*ytree.Node{ytree.MustParse(`{foo=bar}`)}

			for _, path := range []string{input, output} {
				_, err := d.Create(ctx, "table", path)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(d.WriteTable(ctx, input, rows)).To(Succeed())

			op, err := operation.Start(ctx, d, &operation.MapReduceSpec{
				InputTablePaths:  []string{input},
				OutputTablePaths: []string{output},
				Mapper:           &operation.UserJobSpec{Command: events.BreakpointCmd("map_reduce") + "; cat"},
				Reducer:          &operation.UserJobSpec{Command: "cat"},
				ReduceBy:         []string{"foo"},
			})
			Expect(err).NotTo(HaveOccurred())

			jobs, err := events.WaitBreakpoint(ctx, "map_reduce", 1, time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))

			Expect(events.ReleaseBreakpoint("map_reduce")).To(Succeed())
			Expect(op.Track(ctx)).To(Succeed())
			Expect(op.State(ctx)).To(Equal(operation.StateCompleted))
			Expect(d.ReadTable(ctx, output)).To(EqualRows(rows...))
		})

		It("Fails an operation whose transaction is aborted", func(ctx context.Context) {
			d := f.Driver
			input, output := f.TempPath+"/input", f.TempPath+"/output"
			for _, path := range []string{input, output} {
				_, err := d.Create(ctx, "table", path)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(d.WriteTable(ctx, input, []*ytree.Node{ytree.MustParse(`{a=1}`)})).To(Succeed())

			tx, err := d.StartTx(ctx, driver.TxOptions{Title: "map under transaction"})
			Expect(err).NotTo(HaveOccurred())
			op, err := operation.Start(ctx, d, &operation.MapSpec{
				InputTablePaths:  []string{input},
				OutputTablePaths: []string{output},
				Mapper:           &operation.UserJobSpec{Command: "sleep 1000; cat"},
			}, tx.Option())
			Expect(err).NotTo(HaveOccurred())
			Expect(op.WaitForState(ctx, operation.StateRunning)).To(Succeed())

			Expect(tx.Abort(ctx)).To(Succeed())
			err = op.Track(ctx)
			Expect(operation.IsFailed(err)).To(BeTrue(), "%v", err)
			Expect(err).To(HaveErrorKind(yterrs.KindNoSuchTransaction))
		})

		It("Teleports chunks of a sorted merge", func(ctx context.Context) {
			d := f.Driver
			first, second, output := f.TempPath+"/first", f.TempPath+"/second", f.TempPath+"/output"
			for _, path := range []string{first, second, output} {
				_, err := d.Create(ctx, "table", path, sortedTableAttributes())
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(d.WriteTable(ctx, first, []*ytree.Node{keyValue(1, "a"), keyValue(2, "b")})).To(Succeed())
			Expect(d.WriteTable(ctx, second, []*ytree.Node{keyValue(10, "c")})).To(Succeed())

			_, err := operation.Run(ctx, d, &operation.MergeSpec{
				CommonSpec:      operation.CommonSpec{Extra: map[string]any{"schema_inference_mode": "from_output"}},
				InputTablePaths: []string{second, first},
				OutputTablePath: output,
				Mode:            "sorted",
			})
			Expect(err).NotTo(HaveOccurred())

			chunks, err := d.Get(ctx, output+"/@chunk_count")
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks.IntOr(0)).To(BeEquivalentTo(2))
			Expect(d.ReadTable(ctx, output)).To(EqualRows(keyValue(1, "a"), keyValue(2, "b"), keyValue(10, "c")))
		})
	})

	Context("With static tables", Label("tables"), func() {
		var f *fixture.Function

		BeforeEach(func() {
			f = SetupTest(nil)
		})

		It("Refuses values out of the logical type range", func(ctx context.Context) {
			d := f.Driver
			path := f.TempPath + "/int8"
			_, err := d.Create(ctx, "table", path, driver.WithAttributes(map[string]any{
				"schema": []any{map[string]any{"name": "x", "type": "int8"}},
			}))
			Expect(err).NotTo(HaveOccurred())

			err = d.WriteTable(ctx, path, []*ytree.Node{ytree.MustParse(`{x=128}`)})
			Expect(err).To(HaveErrorKind(yterrs.KindSchemaViolation))
			Expect(d.WriteTable(ctx, path, []*ytree.Node{ytree.MustParse(`{x=127}`)})).To(Succeed())
		})
	})

	Context("Transactions", Label("tx"), func() {
		var f *fixture.Function

		BeforeEach(func() {
			f = SetupTest(nil)
		})

		It("Keeps a pinged transaction alive past its timeout", func(ctx context.Context) {
			d := f.Driver
			tx, err := d.StartTx(ctx, driver.TxOptions{Timeout: 3 * time.Second, PingPeriod: time.Second})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(tx.Close)

			Consistently(ctx, func(ctx context.Context) (bool, error) {
				return d.Exists(ctx, consts.TransactionsPath+"/"+tx.ID())
			}, 6*time.Second, 500*time.Millisecond).Should(BeTrue())
			Expect(time.Since(tx.LastPing())).To(BeNumerically("<", 2*time.Second))
		})
	})

	Context("Isolation", Label("isolation"), Ordered, func() {
		var env *fixture.Env

		It("Creates objects of every kind", func(ctx context.Context) {
			f := SetupTest(nil)
			env = f.Env
			d := f.Driver

			_, err := d.CreateUser(ctx, "e2e-user", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.CreateGroup(ctx, "e2e-group", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.CreateAccount(ctx, "e2e-account", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.Create(ctx, "map_node", consts.TmpPath+"/stray", driver.Recursive())
			Expect(err).NotTo(HaveOccurred())
			_, err = d.StartTx(ctx, driver.TxOptions{NoPing: true})
			Expect(err).NotTo(HaveOccurred())
			_, err = ytsync.RunSleepingVanilla(ctx, d, 1)
			Expect(err).NotTo(HaveOccurred())
		})

		It("Starts from the environment baseline", func(ctx context.Context) {
			f := SetupTest(nil)
			Expect(f.Env).To(BeIdenticalTo(env), "environment was rebuilt")

			current, err := fixture.CaptureBaseline(ctx, f.Driver, f.Env.YP())
			Expect(err).NotTo(HaveOccurred())
			// The only residue allowed is the temp path of this test.
			Expect(f.Env.Baseline.Diff(current)).To(ConsistOf(
				HaveField("Name", ContainSubstring("Starts_from_the_environment_baseline")),
			))

			result, err := f.Driver.ListOperations(ctx)
			Expect(err).NotTo(HaveOccurred())
			ops, err := result.Get("operations").AsList()
			Expect(err).NotTo(HaveOccurred())
			for _, op := range ops {
				Expect(operation.State(op.Get("state").Str()).IsFinished()).To(BeTrue(), "operation %s", op.Get("id").Str())
			}
		})
	})
})
