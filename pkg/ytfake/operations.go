package ytfake

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"go.ytsaurus.tech/yt/go/yterrors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	ytoperation "github.com/ytsaurus/ytsaurus-harness/pkg/operation"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	opInitializing = "initializing"
	opRunning      = "running"
	opCompleted    = "completed"
	opFailed       = "failed"
	opAborted      = "aborted"

	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
	jobAborted   = "aborted"

	jobKillDelay  = time.Second
	suspendedPoll = 10 * time.Millisecond
)

// syncBuffer collects the stderr of a running job.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.buf.Bytes())
}

type job struct {
	id       string
	opType   string
	task     string
	state    string
	started  time.Time
	finished time.Time
	err      *yterrors.Error
	stderr   syncBuffer
	// aborted is set before the process is killed on request.
	aborted bool
	cancel  context.CancelFunc
}

func (j *job) node(opID string) *ytree.Node {
	n := ytree.Map(map[string]*ytree.Node{
		"id":           ytree.String(j.id),
		"operation_id": ytree.String(opID),
		"type":         ytree.String(j.opType),
		"state":        ytree.String(j.state),
		"task_name":    ytree.String(j.task),
		"address":      ytree.String(consts.LocalHost),
		"start_time":   ytree.String(j.started.UTC().Format(time.RFC3339Nano)),
	})
	if !j.finished.IsZero() {
		n.Set("finish_time", ytree.String(j.finished.UTC().Format(time.RFC3339Nano)))
	}
	if j.err != nil {
		n.Set("error", errorNode(j.err))
	}
	return n
}

type operation struct {
	id       string
	typ      string
	spec     *ytree.Node
	params   *ytree.Node
	txID     string
	user     string
	state    string
	err      *yterrors.Error
	started  time.Time
	finished time.Time

	jobs      []*job
	failed    int
	suspended bool
	completed bool

	ctx      context.Context
	cancelFn context.CancelFunc
	node     *node
}

func (op *operation) cancel() { op.cancelFn() }

func (op *operation) finishedState() bool {
	return op.state == opCompleted || op.state == opFailed || op.state == opAborted
}

func (c *Cluster) setOpState(op *operation, state string) {
	if op.finishedState() {
		return
	}
	c.logger.V(1).Info("Operation state changed", "operation_id", op.id, "from", op.state, "to", state)
	op.state = state
	op.node.attrs["state"] = ytree.String(state)
	if op.finishedState() {
		op.finished = c.now()
		op.cancel()
	}
}

func (c *Cluster) failOperation(op *operation, err *yterrors.Error) {
	if op.finishedState() {
		return
	}
	op.err = err
	c.setOpState(op, opFailed)
}

func (c *Cluster) abortOp(op *operation, message string) {
	if op.finishedState() {
		return
	}
	op.err = newError(yterrs.CodeGeneric, "%s", message)
	c.setOpState(op, opAborted)
}

func (c *Cluster) startOperation(p *params) (*ytree.Node, *yterrors.Error) {
	if c.closed {
		return nil, newError(yterrs.CodeRPCUnavailable, "Scheduler is shutting down")
	}
	opType := p.str("operation_type")
	switch opType {
	case "map", "reduce", "map_reduce", "merge", "sort", "erase", "vanilla":
	default:
		return nil, badParam("Unsupported operation type %q", opType)
	}
	spec := p.node("spec")
	if spec.Kind() != ytree.KindMap {
		return nil, badParam("Operation spec must be a map")
	}
	if err := c.checkTxParam(p); err != nil {
		return nil, err
	}
	if err := c.validateSpec(opType, spec); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{
		id:       newID(),
		typ:      opType,
		spec:     spec.Clone(),
		params:   ytree.EmptyMap(),
		txID:     p.str("transaction_id"),
		user:     p.str("authenticated_user"),
		started:  c.now(),
		ctx:      ctx,
		cancelFn: cancel,
	}
	if op.user == "" {
		op.user = consts.RootUserName
	}
	opPath := ytoperation.OperationPath(op.id)
	tokens := splitTokens(opPath)
	op.node = c.newNode(typeMapNode)
	c.mkdirs(tokens[:len(tokens)-1]).addChild(tokens[len(tokens)-1], op.node)
	c.ops[op.id] = op
	c.setOpState(op, opInitializing)

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		c.runOperation(op)
	}()
	return ytree.String(op.id), nil
}

func specPaths(spec *ytree.Node, key string) ([]*ytree.Node, *yterrors.Error) {
	v := spec.Get(key)
	var items []*ytree.Node
	switch v.Kind() {
	case ytree.KindString:
		items = []*ytree.Node{v}
	case ytree.KindList:
		items, _ = v.AsList()
	case ytree.KindEntity:
		return nil, nil
	default:
		return nil, badParam("Spec field %q must be a path or a list of paths", key)
	}
	result := make([]*ytree.Node, 0, len(items))
	for _, item := range items {
		rich, err := driver.ParseRichPath(item.Str())
		if err != nil {
			return nil, badParam("Invalid path in spec field %q: %v", key, err)
		}
		for k, attr := range item.Attrs() {
			rich.SetAttr(k, attr)
		}
		result = append(result, rich)
	}
	return result, nil
}

func (c *Cluster) validateSpec(opType string, spec *ytree.Node) *yterrors.Error {
	requireTables := func(key string) *yterrors.Error {
		paths, err := specPaths(spec, key)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return badParam("Spec field %q is required", key)
		}
		for _, path := range paths {
			if _, err := c.tableAt(path.Str()); err != nil {
				return err
			}
		}
		return nil
	}
	requireCommand := func(key string) *yterrors.Error {
		if spec.Get(key).Get("command").Str() == "" {
			return badParam("Spec field %q must have a command", key)
		}
		return nil
	}
	var checks []func() *yterrors.Error
	switch opType {
	case "map":
		checks = append(checks,
			func() *yterrors.Error { return requireTables("input_table_paths") },
			func() *yterrors.Error { return requireTables("output_table_paths") },
			func() *yterrors.Error { return requireCommand("mapper") })
	case "reduce", "map_reduce":
		checks = append(checks,
			func() *yterrors.Error { return requireTables("input_table_paths") },
			func() *yterrors.Error { return requireTables("output_table_paths") },
			func() *yterrors.Error { return requireCommand("reducer") },
			func() *yterrors.Error {
				if spec.Get("reduce_by").Len() == 0 {
					return badParam("Spec field \"reduce_by\" is required")
				}
				return nil
			})
	case "merge":
		checks = append(checks,
			func() *yterrors.Error { return requireTables("input_table_paths") },
			func() *yterrors.Error { return requireTables("output_table_path") })
	case "sort":
		checks = append(checks,
			func() *yterrors.Error { return requireTables("input_table_paths") },
			func() *yterrors.Error { return requireTables("output_table_path") },
			func() *yterrors.Error {
				if spec.Get("sort_by").Len() == 0 {
					return badParam("Spec field \"sort_by\" is required")
				}
				return nil
			})
	case "erase":
		checks = append(checks, func() *yterrors.Error { return requireTables("table_path") })
	case "vanilla":
		checks = append(checks, func() *yterrors.Error {
			tasks := spec.Get("tasks")
			if tasks.Len() == 0 {
				return badParam("Vanilla operation must have at least one task")
			}
			for _, name := range tasks.Keys() {
				if tasks.Get(name).Get("command").Str() == "" {
					return badParam("Task %q must have a command", name)
				}
			}
			return nil
		})
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func stringList(n *ytree.Node) []string {
	items, _ := n.AsList()
	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, item.Str())
	}
	return result
}

// jobTask is one user job to run, possibly several times.
type jobTask struct {
	name    string
	command string
	env     *ytree.Node
	input   []*ytree.Node
}

func userJobTask(name string, userJob *ytree.Node, input []*ytree.Node) jobTask {
	return jobTask{name: name, command: userJob.Get("command").Str(), env: userJob.Get("environment"), input: input}
}

// splitRows spreads rows over count jobs keeping their order.
func splitRows(rows []*ytree.Node, count int) [][]*ytree.Node {
	count = max(1, min(count, max(1, len(rows))))
	parts := make([][]*ytree.Node, count)
	size := (len(rows) + count - 1) / count
	for i := range parts {
		lo, hi := min(i*size, len(rows)), min((i+1)*size, len(rows))
		parts[i] = rows[lo:hi]
	}
	return parts
}

func (c *Cluster) readInputs(paths []*ytree.Node) ([]*ytree.Node, *yterrors.Error) {
	var rows []*ytree.Node
	for _, path := range paths {
		n, err := c.tableAt(path.Str())
		if err != nil {
			return nil, err
		}
		var columns []string
		if cols := path.Attr("columns"); cols != nil {
			columns = stringList(cols)
		}
		rows = append(rows, project(n.table.allRows(), columns)...)
	}
	return rows, nil
}

func (c *Cluster) runOperation(op *operation) {
	c.mu.Lock()
	err := c.prepareAndRun(op)
	if err != nil {
		c.failOperation(op, err)
	} else if !op.finishedState() {
		c.setOpState(op, opCompleted)
	}
	c.mu.Unlock()
}

// prepareAndRun is called with mu held. It releases mu while user jobs run.
func (c *Cluster) prepareAndRun(op *operation) *yterrors.Error {
	spec := op.spec
	inputs, err := specPaths(spec, "input_table_paths")
	if err != nil {
		return err
	}
	outputs, err := specPaths(spec, "output_table_paths")
	if err != nil {
		return err
	}
	c.setOpState(op, opRunning)

	switch op.typ {
	case "merge":
		return c.runMerge(op, inputs)
	case "sort":
		return c.runSort(op, inputs)
	case "erase":
		paths, _ := specPaths(spec, "table_path")
		n, err := c.tableAt(paths[0].Str())
		if err != nil {
			return err
		}
		n.table.chunks = nil
		return nil
	}

	rows, err := c.readInputs(inputs)
	if err != nil {
		return err
	}
	var tasks []jobTask
	switch op.typ {
	case "vanilla":
		taskSpecs := spec.Get("tasks")
		var all []jobTask
		for _, name := range taskSpecs.Keys() {
			task := taskSpecs.Get(name)
			for range max(1, int(task.Get("job_count").IntOr(1))) {
				all = append(all, userJobTask(name, task, nil))
			}
		}
		_, err := c.runJobs(op, all)
		return err
	case "map":
		jobCount := int(spec.Get("job_count").IntOr(spec.Get("mapper").Get("job_count").IntOr(1)))
		for _, part := range splitRows(rows, jobCount) {
			tasks = append(tasks, userJobTask("map", spec.Get("mapper"), part))
		}
	case "reduce":
		tasks = append(tasks, userJobTask("reduce", spec.Get("reducer"), sortForReduce(spec, rows)))
	case "map_reduce":
		if mapper := spec.Get("mapper"); mapper != nil {
			mapped, err := c.runJobs(op, []jobTask{userJobTask("map", mapper, rows)})
			if err != nil {
				return err
			}
			rows = slices.Concat(mapped...)
		}
		tasks = append(tasks, userJobTask("reduce", spec.Get("reducer"), sortForReduce(spec, rows)))
	}
	results, err := c.runJobs(op, tasks)
	if err != nil {
		return err
	}
	if op.finishedState() {
		return nil
	}
	return c.writeOutput(outputs[0], slices.Concat(results...))
}

func sortForReduce(spec *ytree.Node, rows []*ytree.Node) []*ytree.Node {
	keys := stringList(spec.Get("sort_by"))
	if len(keys) == 0 {
		keys = stringList(spec.Get("reduce_by"))
	}
	return ytree.SortedBy(rows, keys)
}

// writeOutput stores operation output like write_table does.
func (c *Cluster) writeOutput(path *ytree.Node, rows []*ytree.Node) *yterrors.Error {
	n, err := c.tableAt(path.Str())
	if err != nil {
		return err
	}
	t := n.table
	for _, row := range rows {
		if err := t.schema.validateRow(row); err != nil {
			return err
		}
	}
	appendRows := path.Attr("append").BoolOr(false)
	var prev *ytree.Node
	if appendRows {
		if all := t.allRows(); len(all) > 0 {
			prev = all[len(all)-1]
		}
	}
	if err := checkSorted(t.schema, prev, rows); err != nil {
		return err
	}
	if !appendRows {
		t.chunks = nil
	}
	if len(rows) > 0 {
		t.chunks = append(t.chunks, newChunk(rows))
	}
	return nil
}

func (c *Cluster) outputTable(op *operation) (*ytree.Node, *table, *yterrors.Error) {
	paths, err := specPaths(op.spec, "output_table_path")
	if err != nil {
		return nil, nil, err
	}
	n, err := c.tableAt(paths[0].Str())
	if err != nil {
		return nil, nil, err
	}
	return paths[0], n.table, nil
}

type keyRange struct {
	chunk    *chunk
	min, max *ytree.Node
}

// runMerge teleports chunks of a sorted merge when their key ranges do not
// overlap and the operation does not force a rewrite.
func (c *Cluster) runMerge(op *operation, inputs []*ytree.Node) *yterrors.Error {
	path, out, err := c.outputTable(op)
	if err != nil {
		return err
	}
	mode := op.spec.Get("mode").Str()
	if mode == "" {
		mode = "unordered"
	}
	var chunks []*chunk
	var inputSchema *tableSchema
	for _, input := range inputs {
		n, err := c.tableAt(input.Str())
		if err != nil {
			return err
		}
		if inputSchema == nil {
			inputSchema = n.table.schema
		}
		if n.table.dynamic {
			chunks = append(chunks, newChunk(n.table.allRows()))
			continue
		}
		chunks = append(chunks, n.table.chunks...)
	}
	if mode == "sorted" && len(out.schema.columns) == 0 && inputSchema != nil {
		out.schema = inputSchema
	}
	appendRows := path.Attr("append").BoolOr(false)
	if !appendRows {
		out.chunks = nil
	}
	if mode != "sorted" {
		if op.spec.Get("combine_chunks").BoolOr(false) || op.spec.Get("force_transform").BoolOr(false) {
			var rows []*ytree.Node
			for _, ch := range chunks {
				rows = append(rows, ch.rows...)
			}
			if len(rows) > 0 {
				chunks = []*chunk{newChunk(rows)}
			}
		}
		out.chunks = append(out.chunks, chunks...)
		return nil
	}

	keys := stringList(op.spec.Get("merge_by"))
	if len(keys) == 0 {
		keys = out.schema.keyColumns()
	}
	var ranges []keyRange
	var rows []*ytree.Node
	for _, ch := range chunks {
		if len(ch.rows) == 0 {
			continue
		}
		sorted := ytree.SortedBy(ch.rows, keys)
		ranges = append(ranges, keyRange{chunk: ch, min: sorted[0], max: sorted[len(sorted)-1]})
		rows = append(rows, ch.rows...)
	}
	slices.SortStableFunc(ranges, func(a, b keyRange) int { return ytree.CompareRows(a.min, b.min, keys) })
	teleport := !op.spec.Get("force_transform").BoolOr(false) && !op.spec.Get("combine_chunks").BoolOr(false)
	for i := 1; i < len(ranges) && teleport; i++ {
		if ytree.CompareRows(ranges[i-1].max, ranges[i].min, keys) >= 0 {
			teleport = false
		}
	}
	if teleport {
		for _, r := range ranges {
			out.chunks = append(out.chunks, r.chunk)
		}
		return nil
	}
	rows = ytree.SortedBy(rows, keys)
	if err := checkSorted(out.schema, nil, rows); err != nil {
		return err
	}
	if len(rows) > 0 {
		out.chunks = append(out.chunks, newChunk(rows))
	}
	return nil
}

func (c *Cluster) runSort(op *operation, inputs []*ytree.Node) *yterrors.Error {
	_, out, err := c.outputTable(op)
	if err != nil {
		return err
	}
	rows, err := c.readInputs(inputs)
	if err != nil {
		return err
	}
	keys := stringList(op.spec.Get("sort_by"))
	input, err := c.tableAt(inputs[0].Str())
	if err != nil {
		return err
	}
	sorted := &tableSchema{strict: input.table.schema.strict && len(input.table.schema.columns) > 0}
	for _, key := range keys {
		col, ok := input.table.schema.column(key)
		if !ok {
			col = column{name: key, typ: "any"}
		}
		col.sortOrder = "ascending"
		sorted.columns = append(sorted.columns, col)
	}
	for _, col := range input.table.schema.columns {
		if !slices.Contains(keys, col.name) {
			col.sortOrder = ""
			sorted.columns = append(sorted.columns, col)
		}
	}
	out.schema = sorted
	out.chunks = nil
	if rows = ytree.SortedBy(rows, keys); len(rows) > 0 {
		out.chunks = []*chunk{newChunk(rows)}
	}
	return nil
}

// runJobs runs tasks concurrently with mu released and returns their
// outputs in task order.
func (c *Cluster) runJobs(op *operation, tasks []jobTask) ([][]*ytree.Node, *yterrors.Error) {
	maxFailed := int(op.spec.Get("max_failed_job_count").IntOr(1))
	results := make([][]*ytree.Node, len(tasks))
	var failure *yterrors.Error

	c.mu.Unlock()
	g, ctx := errgroup.WithContext(op.ctx)
	for i, task := range tasks {
		g.Go(func() error {
			rows, err := c.runTask(ctx, op, task, maxFailed)
			if err != nil {
				c.mu.Lock()
				if failure == nil {
					failure = err
				}
				c.mu.Unlock()
				return err
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait()
	c.mu.Lock()

	if failure != nil {
		return nil, failure
	}
	return results, nil
}

var errJobAborted = errors.New("job aborted")

// runTask retries a job until it succeeds, fails too many times or the
// operation ends.
func (c *Cluster) runTask(ctx context.Context, op *operation, task jobTask, maxFailed int) ([]*ytree.Node, *yterrors.Error) {
	for {
		if err := c.waitResumed(ctx, op); err != nil {
			return nil, nil
		}
		rows, jobErr, runErr := c.runJob(ctx, op, task)
		switch {
		case runErr == nil && jobErr == nil:
			return rows, nil
		case ctx.Err() != nil:
			return nil, nil
		case errors.Is(runErr, errJobAborted):
			continue
		case runErr != nil:
			return nil, newError(yterrs.CodeGeneric, "Failed to start job: %v", runErr)
		}
		c.mu.Lock()
		op.failed++
		exceeded := op.failed >= maxFailed
		c.mu.Unlock()
		if exceeded {
			return nil, &yterrors.Error{
				Code:        yterrs.CodeGeneric,
				Message:     "Failed jobs limit exceeded",
				InnerErrors: []*yterrors.Error{jobErr},
			}
		}
	}
}

func (c *Cluster) waitResumed(ctx context.Context, op *operation) error {
	for {
		c.mu.Lock()
		suspended := op.suspended
		c.mu.Unlock()
		if !suspended {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(suspendedPoll):
		}
	}
}

func jobEnv(base []string, env *ytree.Node, jobID, opID string) []string {
	result := slices.Concat(os.Environ(), base)
	for _, key := range env.Keys() {
		result = append(result, key+"="+env.Get(key).Str())
	}
	return append(result, consts.EnvJobID+"="+jobID, consts.EnvOperationID+"="+opID)
}

// runJob runs one attempt. jobErr reports a user job failure, runErr a
// failure to run the job at all or errJobAborted.
func (c *Cluster) runJob(ctx context.Context, op *operation, task jobTask) (rows []*ytree.Node, jobErr *yterrors.Error, runErr error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j := &job{id: newID(), opType: op.typ, task: task.name, state: jobRunning, started: c.now(), cancel: cancel}

	c.mu.Lock()
	op.jobs = append(op.jobs, j)
	c.mu.Unlock()

	dir, err := os.MkdirTemp("", "ytfake-job-")
	if err != nil {
		c.finishJob(j, jobFailed, nil)
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(jobCtx, "sh", "-c", task.command)
	cmd.Dir = dir
	cmd.Env = jobEnv(c.jobEnv, task.env, j.id, op.id)
	cmd.Stdin = bytes.NewReader(ytree.MarshalListFragment(task.input, ytree.FormatBinary))
	cmd.Stdout = &stdout
	cmd.Stderr = &j.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = jobKillDelay

	c.logger.V(1).Info("Starting job", "operation_id", op.id, "job_id", j.id, "task", task.name)
	err = cmd.Run()

	c.mu.Lock()
	aborted := j.aborted || jobCtx.Err() != nil
	c.mu.Unlock()
	if aborted {
		c.finishJob(j, jobAborted, nil)
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, errJobAborted
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		jobErr = &yterrors.Error{
			Code:    yterrs.CodeUserJobFailed,
			Message: "User job failed",
			InnerErrors: []*yterrors.Error{
				newError(yterrs.CodeGeneric, "Process exited with code %d", exitErr.ExitCode()),
			},
			Attributes: map[string]any{"stderr": truncateStderr(j.stderr.Bytes())},
		}
		c.finishJob(j, jobFailed, jobErr)
		return nil, jobErr, nil
	case err != nil:
		c.finishJob(j, jobFailed, newError(yterrs.CodeGeneric, "%v", err))
		return nil, nil, err
	}

	if op.typ == "vanilla" {
		c.finishJob(j, jobCompleted, nil)
		return nil, nil, nil
	}
	rows, parseErr := ytree.ParseListFragment(stdout.Bytes())
	if parseErr != nil {
		jobErr = newError(yterrs.CodeUserJobFailed, "Failed to parse job output: %v", parseErr)
		c.finishJob(j, jobFailed, jobErr)
		return nil, jobErr, nil
	}
	c.finishJob(j, jobCompleted, nil)
	return rows, nil, nil
}

const maxStderrAttr = 4096

func truncateStderr(data []byte) string {
	if len(data) > maxStderrAttr {
		data = data[len(data)-maxStderrAttr:]
	}
	return string(data)
}

func (c *Cluster) finishJob(j *job, state string, err *yterrors.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j.state = state
	j.err = err
	j.finished = c.now()
}

// pruneOps forgets finished operations whose Cypress node was removed.
func (c *Cluster) pruneOps() {
	for id, op := range c.ops {
		if op.finishedState() && !c.attached(op.node) {
			delete(c.ops, id)
		}
	}
}

func (c *Cluster) attached(n *node) bool {
	for ; n != nil; n = n.parent {
		if n == c.root {
			return true
		}
	}
	return false
}

func (c *Cluster) lookupOp(p *params) (*operation, *yterrors.Error) {
	c.pruneOps()
	id := p.str("operation_id")
	op, ok := c.ops[id]
	if !ok {
		return nil, newError(yterrs.CodeResolveError, "No such operation %s", id)
	}
	return op, nil
}

func (c *Cluster) findJob(id string) (*operation, *job) {
	for _, op := range c.ops {
		for _, j := range op.jobs {
			if j.id == id {
				return op, j
			}
		}
	}
	return nil, nil
}

func (op *operation) jobCounters() *ytree.Node {
	counts := map[string]int64{}
	for _, j := range op.jobs {
		counts[j.state]++
	}
	return ytree.Map(map[string]*ytree.Node{
		"running":   ytree.Int(counts[jobRunning]),
		"completed": ytree.Int(counts[jobCompleted]),
		"failed":    ytree.Int(counts[jobFailed]),
		"aborted":   ytree.Int(counts[jobAborted]),
		"total":     ytree.Int(int64(len(op.jobs))),
	})
}

func (c *Cluster) operationNode(op *operation) *ytree.Node {
	result := ytree.EmptyMap()
	if op.err != nil {
		result.Set("error", errorNode(op.err))
	}
	info := ytree.Map(map[string]*ytree.Node{
		"id":                 ytree.String(op.id),
		"type":               ytree.String(op.typ),
		"operation_type":     ytree.String(op.typ),
		"state":              ytree.String(op.state),
		"spec":               op.spec.Clone(),
		"authenticated_user": ytree.String(op.user),
		"start_time":         ytree.String(op.started.UTC().Format(time.RFC3339Nano)),
		"suspended":          ytree.Bool(op.suspended),
		"runtime_parameters": op.params.Clone(),
		"result":             result,
		"brief_progress":     ytree.Map(map[string]*ytree.Node{"jobs": op.jobCounters()}),
		"progress":           ytree.Map(map[string]*ytree.Node{"jobs": op.jobCounters()}),
	})
	if !op.finished.IsZero() {
		info.Set("finish_time", ytree.String(op.finished.UTC().Format(time.RFC3339Nano)))
	}
	return info
}

func (c *Cluster) getOperation(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	info := c.operationNode(op)
	keys := p.strings("attributes")
	if keys == nil {
		return info, nil
	}
	filtered := ytree.EmptyMap()
	for _, key := range keys {
		if v := info.Get(key); v != nil {
			filtered.Set(key, v)
		}
	}
	return filtered, nil
}

func (c *Cluster) listOperations(p *params) (*ytree.Node, *yterrors.Error) {
	c.pruneOps()
	ops := make([]*operation, 0, len(c.ops))
	for _, op := range c.ops {
		if state := p.str("state"); state != "" && op.state != state {
			continue
		}
		if opType := p.str("type"); opType != "" && op.typ != opType {
			continue
		}
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b *operation) int { return b.started.Compare(a.started) })
	if limit := int(p.node("limit").IntOr(0)); limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	items := ytree.List()
	for _, op := range ops {
		items.Append(ytree.Map(map[string]*ytree.Node{
			"id":    ytree.String(op.id),
			"type":  ytree.String(op.typ),
			"state": ytree.String(op.state),
		}))
	}
	return ytree.Map(map[string]*ytree.Node{"operations": items}), nil
}

func (c *Cluster) abortOperation(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	if op.finishedState() {
		return nil, badParam("Operation %s is already %s", op.id, op.state)
	}
	c.abortOp(op, "Operation aborted by user request")
	return nil, nil
}

// completeOperation stops running jobs and marks the operation completed.
func (c *Cluster) completeOperation(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	if op.finishedState() {
		return nil, badParam("Operation %s is already %s", op.id, op.state)
	}
	if op.typ != "vanilla" {
		return nil, badParam("Only vanilla operations can be completed in this cluster")
	}
	op.completed = true
	c.setOpState(op, opCompleted)
	return nil, nil
}

func (c *Cluster) suspendOperation(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	op.suspended = true
	if p.flag("abort_running_jobs") {
		for _, j := range op.jobs {
			if j.state == jobRunning {
				j.aborted = true
				j.cancel()
			}
		}
	}
	return nil, nil
}

func (c *Cluster) resumeOperation(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	op.suspended = false
	return nil, nil
}

func (c *Cluster) updateOperationParameters(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	parameters := p.node("parameters")
	if parameters.Kind() != ytree.KindMap {
		return nil, badParam("Parameter \"parameters\" must be a map")
	}
	op.params = ytree.Merge(op.params, parameters)
	return nil, nil
}

func (c *Cluster) listJobs(p *params) (*ytree.Node, *yterrors.Error) {
	op, err := c.lookupOp(p)
	if err != nil {
		return nil, err
	}
	state := p.str("job_state")
	jobs := ytree.List()
	for _, j := range op.jobs {
		if state != "" && j.state != state {
			continue
		}
		jobs.Append(j.node(op.id))
	}
	return ytree.Map(map[string]*ytree.Node{
		"jobs":        jobs,
		"total_count": ytree.Int(int64(jobs.Len())),
	}), nil
}

func (c *Cluster) getJob(p *params) (*ytree.Node, *yterrors.Error) {
	op, j := c.findJob(p.str("job_id"))
	if j == nil {
		return nil, newError(yterrs.CodeResolveError, "No such job %s", p.str("job_id"))
	}
	return j.node(op.id), nil
}

func (c *Cluster) getJobStderr(p *params) ([]byte, *yterrors.Error) {
	_, j := c.findJob(p.str("job_id"))
	if j == nil {
		return nil, newError(yterrs.CodeResolveError, "No such job %s", p.str("job_id"))
	}
	return j.stderr.Bytes(), nil
}

func (c *Cluster) abortJob(p *params) (*ytree.Node, *yterrors.Error) {
	_, j := c.findJob(p.str("job_id"))
	if j == nil {
		return nil, newError(yterrs.CodeResolveError, "No such job %s", p.str("job_id"))
	}
	if j.state != jobRunning {
		return nil, badParam("Job %s is not running", j.id)
	}
	j.aborted = true
	j.cancel()
	return nil, nil
}
