// Package ytfake is an in-process cluster double speaking the HTTP proxy
// API. It keeps a cypress tree, transactions, static and sorted dynamic
// tables, tablet cells, scheduler operations running real shell jobs and a
// YP object store with a trivial scheduler. Harness packages test their
// cluster-facing code against it without launching server binaries.
package ytfake

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/guid"
	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	DefaultTransitionDelay = 50 * time.Millisecond
	DefaultNodeCount       = 3
	defaultTxTimeout       = 15 * time.Second
)

// Cluster is safe for concurrent use.
type Cluster struct {
	mu sync.Mutex

	logger          logr.Logger
	transitionDelay time.Duration
	jobEnv          []string
	nodeAddresses   []string

	root      *node
	byID      map[string]*node
	txs       map[string]*transaction
	ops       map[string]*operation
	yp        *ypStore
	faults    map[string][]*fault
	timestamp uint64
	commands  map[string]int

	server *httptest.Server
	jobs   sync.WaitGroup
	closed bool
}

type Option func(*Cluster)

func WithLogger(logger logr.Logger) Option {
	return func(c *Cluster) { c.logger = logger }
}

// WithTransitionDelay sets how long tablet and cell state changes take.
func WithTransitionDelay(d time.Duration) Option {
	return func(c *Cluster) { c.transitionDelay = d }
}

// WithJobEnv adds KEY=VALUE entries to the environment of every job.
func WithJobEnv(env ...string) Option {
	return func(c *Cluster) { c.jobEnv = append(c.jobEnv, env...) }
}

// WithNodes sets the number of cluster nodes.
func WithNodes(count int) Option {
	return func(c *Cluster) {
		c.nodeAddresses = nil
		for i := range count {
			c.nodeAddresses = append(c.nodeAddresses, fmt.Sprintf("%s:%d", consts.LocalHost, 9012+i))
		}
	}
}

// New builds a cluster with the built-in objects of a fresh sandbox.
func New(opts ...Option) *Cluster {
	c := &Cluster{
		logger:          logr.Discard(),
		transitionDelay: DefaultTransitionDelay,
		byID:            map[string]*node{},
		txs:             map[string]*transaction{},
		ops:             map[string]*operation{},
		faults:          map[string][]*fault{},
		commands:        map[string]int{},
		timestamp:       1 << 30,
	}
	WithNodes(DefaultNodeCount)(c)
	for _, opt := range opts {
		opt(c)
	}
	c.yp = newYPStore()
	c.bootstrap()
	return c
}

// Start serves the cluster on a local port.
func (c *Cluster) Start() {
	c.server = httptest.NewServer(c)
}

// URL is the proxy address of a started cluster.
func (c *Cluster) URL() string {
	return c.server.URL
}

// Proxy is URL without the scheme.
func (c *Cluster) Proxy() string {
	return strings.TrimPrefix(c.server.URL, "http://")
}

// DriverConfig returns a driver config pointing at the cluster.
func (c *Cluster) DriverConfig() driver.Config {
	return driver.Config{
		Cluster: "fake",
		Proxy:   c.URL(),
		Backend: driver.BackendHTTP,
	}
}

// NewDriver returns an HTTP driver for a started cluster.
func (c *Cluster) NewDriver(ctx context.Context) (*driver.Driver, error) {
	return driver.New(ctx, c.DriverConfig())
}

// Close aborts running operations, waits for their jobs and stops serving.
func (c *Cluster) Close() {
	c.mu.Lock()
	c.closed = true
	for _, op := range c.ops {
		c.abortOp(op, "Cluster is shutting down")
	}
	c.mu.Unlock()
	c.jobs.Wait()
	if c.server != nil {
		c.server.Close()
	}
}

// InjectError makes the next times calls of command fail with code.
func (c *Cluster) InjectError(command string, code yterrors.ErrorCode, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[command] = append(c.faults[command], &fault{
		code:    code,
		message: fmt.Sprintf("Injected failure of %s", command),
		times:   times,
	})
}

// CommandCount reports how many times command reached the cluster,
// injected failures included.
func (c *Cluster) CommandCount(command string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[command]
}

// takeFault is called with mu held.
func (c *Cluster) takeFault(command string) *yterrors.Error {
	c.commands[command]++
	faults := c.faults[command]
	if len(faults) == 0 {
		return nil
	}
	f := faults[0]
	f.times--
	if f.times <= 0 {
		c.faults[command] = faults[1:]
	}
	return newError(f.code, "%s", f.message)
}

func newID() string {
	return guid.New().String()
}

func (c *Cluster) now() time.Time {
	return time.Now()
}

var builtinObjects = map[string][]string{
	"account":            {"sys", "tmp", "intermediate", "tmp_files", "tmp_jobs"},
	"user":               {consts.RootUserName, "guest", "job", "scheduler", "file_cache", "operations_cleaner", "operations_client", "tablet_cell_changelogger", "tablet_cell_snapshotter", "table_mount_informer", "owner", "application_operations"},
	"group":              {"everyone", "users", "superusers", "admins"},
	"medium":             {consts.DefaultMedium},
	"pool_tree":          {consts.DefaultName},
	"tablet_cell_bundle": {consts.DefaultName, consts.SysBundleName},
}

func (c *Cluster) bootstrap() {
	c.root = c.newNode(typeMapNode)
	for _, path := range []string{
		consts.TmpPath,
		consts.ClusterNodesPath,
		consts.TransactionsPath,
		"//sys/operations",
		"//sys/primary_masters",
		"//sys/scheduler",
		"//sys/controller_agents",
		"//home",
	} {
		c.mkdirs(splitTokens(path))
	}
	for _, kind := range consts.CleanupObjectKinds {
		c.mkdirs(splitTokens(kind.Path))
	}
	for objectType, names := range builtinObjects {
		for _, name := range names {
			_, _ = c.createObject(objectType, map[string]*ytree.Node{"name": ytree.String(name)}, false)
		}
	}
	nodes := c.mustResolve(consts.ClusterNodesPath)
	for _, address := range c.nodeAddresses {
		n := c.newNode(typeClusterNode)
		nodes.addChild(address, n)
	}
	c.root.attrs["cluster_name"] = ytree.String("fake")
}
