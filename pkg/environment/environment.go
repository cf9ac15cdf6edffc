// Package environment brings up and tears down a sandbox cluster: config
// generation, ordered launch with readiness checks, health checks and role
// restarts.
package environment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/guid"
	"golang.org/x/sync/errgroup"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/metrics"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ports"
	"github.com/ytsaurus/ytsaurus-harness/pkg/runcontext"
	"github.com/ytsaurus/ytsaurus-harness/pkg/supervisor"
	"github.com/ytsaurus/ytsaurus-harness/pkg/version"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytconfig"
)

const (
	maxStartAttempts = 3
	stopGracePeriod  = 5 * time.Second
	portCollisionMsg = "Address already in use"
	adminTokenFile   = "admin_token"
)

// Spawner launches one supervised process.
type Spawner func(ctx context.Context, opts supervisor.SpawnOptions) (*supervisor.Process, error)

type Option func(*Environment)

func WithProber(p Prober) Option {
	return func(e *Environment) { e.prober = p }
}

func WithSpawner(s Spawner) Option {
	return func(e *Environment) { e.spawn = s }
}

// Environment owns every process of one sandbox cluster.
type Environment struct {
	Spec ClusterSpec
	// Dir holds {role}/{index}/ of every process.
	Dir string

	rc         *runcontext.RunContext
	prober     Prober
	spawn      Spawner
	topology   *ytconfig.Topology
	generator  *ytconfig.Generator
	ports      *ports.Range
	logger     logr.Logger
	apiVersion int
	adminToken string
	startedAt  time.Time

	mu        sync.Mutex
	processes map[consts.ComponentType]map[int]*supervisor.Process
	stopped   bool
}

// ConnectionInfo is what clients need to reach a started environment.
type ConnectionInfo struct {
	ClusterName      string
	PrimaryMasters   []string
	SecondaryMasters [][]string
	HTTPProxy        string
	RPCProxy         string
	YPAddress        string
	// DriverConfig is the path of the native driver config.
	DriverConfig string
	AdminToken   string
}

// Prepare allocates ports and writes the config of every process; nothing is
// launched yet.
func Prepare(ctx context.Context, spec ClusterSpec, rc *runcontext.RunContext, opts ...Option) (*Environment, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	dir := spec.WorkingDir
	if dir == "" {
		dir = rc.RunDir
	}
	e := &Environment{
		Spec:      spec,
		Dir:       dir,
		rc:        rc,
		spawn:     supervisor.Spawn,
		logger:    rc.Logger().WithName("environment").WithValues("cluster", spec.ClusterName()),
		processes: map[consts.ComponentType]map[int]*supervisor.Process{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prober == nil {
		e.prober = NewHTTPProber(rc.Loggers.YTLogger)
	}
	ctx = logr.NewContext(ctx, e.logger)

	portRange, err := rc.Ports.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	e.ports = portRange
	if err := e.prepare(ctx); err != nil {
		_ = portRange.Release()
		return nil, err
	}
	return e, nil
}

func (e *Environment) prepare(ctx context.Context) error {
	topology, err := e.buildTopology()
	if err != nil {
		return err
	}
	if err := topology.Validate(); err != nil {
		return err
	}
	e.topology = topology
	e.generator = ytconfig.NewGenerator(topology)

	if err := e.writeConfigs(consts.StartOrder); err != nil {
		return err
	}
	driverConfig, err := e.generator.GetNativeClientConfig(e.Dir)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(e.Dir, consts.DriverConfigFileName), driverConfig, 0o644); err != nil {
		return err
	}

	e.adminToken = guid.New().String()
	secrets := filepath.Join(e.Dir, "secrets")
	if err := os.MkdirAll(secrets, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(secrets, adminTokenFile), []byte(e.adminToken), 0o600); err != nil {
		return err
	}

	e.apiVersion = driver.DefaultAPIVersion
	if v, err := version.ProbeBinary(ctx, e.rc.Binary(consts.ComponentBinary(consts.MasterType))); err != nil {
		e.logger.V(1).Info("Cannot probe server version, using default driver api", "error", err)
	} else {
		e.apiVersion = version.DriverAPIVersion(v)
		e.logger.Info("Server version probed", "version", v.String(), "apiVersion", e.apiVersion)
	}
	e.logger.Info("Environment prepared", "dir", e.Dir, "ports", fmt.Sprintf("%d+%d", e.ports.Start, e.ports.Size))
	return nil
}

func (e *Environment) instanceDir(component consts.ComponentType, index int) string {
	return filepath.Join(e.Dir, consts.ComponentDirName(component), strconv.Itoa(index))
}

func (e *Environment) newInstance(component consts.ComponentType, index int) (ytconfig.Instance, error) {
	instance := ytconfig.Instance{Index: index, Dir: e.instanceDir(component, index)}
	return instance, e.assignPorts(component, &instance)
}

func (e *Environment) assignPorts(component consts.ComponentType, instance *ytconfig.Instance) error {
	n := 2
	if component == consts.HttpProxyType || component == consts.YPMasterType {
		n = 3
	}
	taken, err := e.ports.Take(n)
	if err != nil {
		return err
	}
	instance.RPCPort, instance.MonitoringPort = taken[0], taken[1]
	if n == 3 {
		instance.HTTPPort = taken[2]
	}
	return nil
}

func (e *Environment) buildTopology() (*ytconfig.Topology, error) {
	spec := &e.Spec
	t := &ytconfig.Topology{
		ClusterName:        spec.ClusterName(),
		EnableDebugLogging: spec.Features.EnableDebugLogging,
		DynamicTables:      spec.Features.DynamicTables,
		JobSlots:           spec.Features.JobSlots,
	}
	index := 0
	cell := func(tag int16) (ytconfig.MasterCellTopology, error) {
		c := ytconfig.MasterCellTopology{CellTag: tag}
		for range spec.Masters {
			instance, err := e.newInstance(consts.MasterType, index)
			if err != nil {
				return c, err
			}
			c.Peers = append(c.Peers, instance)
			index++
		}
		return c, nil
	}
	var err error
	if t.PrimaryMaster, err = cell(1); err != nil {
		return nil, err
	}
	for i := range spec.SecondaryMasterCells {
		secondary, err := cell(int16(2 + i))
		if err != nil {
			return nil, err
		}
		t.SecondaryMasters = append(t.SecondaryMasters, secondary)
	}

	roles := []struct {
		component consts.ComponentType
		target    *[]ytconfig.Instance
	}{
		{consts.SchedulerType, &t.Schedulers},
		{consts.ControllerAgentType, &t.ControllerAgents},
		{consts.NodeType, &t.Nodes},
		{consts.HttpProxyType, &t.HTTPProxies},
		{consts.RpcProxyType, &t.RPCProxies},
		{consts.YPMasterType, &t.YPMasters},
	}
	for _, role := range roles {
		for i := range spec.Count(role.component) {
			instance, err := e.newInstance(role.component, i)
			if err != nil {
				return nil, err
			}
			*role.target = append(*role.target, instance)
		}
	}
	return t, nil
}

func (e *Environment) writeConfigs(components []consts.ComponentType) error {
	for _, component := range components {
		for _, instance := range e.topology.Instances(component) {
			if err := e.writeConfig(component, &instance); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Environment) writeConfig(component consts.ComponentType, instance *ytconfig.Instance) error {
	data, err := e.generator.Config(component, instance.Index, e.Spec.Overrides[component])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(instance.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(e.configPath(instance), data, 0o644)
}

func (e *Environment) configPath(instance *ytconfig.Instance) string {
	return filepath.Join(instance.Dir, consts.ConfigFileName)
}

func (e *Environment) Topology() *ytconfig.Topology { return e.topology }
func (e *Environment) APIVersion() int              { return e.apiVersion }
func (e *Environment) StartedAt() time.Time         { return e.startedAt }

func (e *Environment) indices(component consts.ComponentType) []int {
	instances := e.topology.Instances(component)
	result := make([]int, 0, len(instances))
	for _, instance := range instances {
		result = append(result, instance.Index)
	}
	return result
}

// Start launches the roles in order, waiting for each to become ready, and
// applies dynamic configs once the cluster is reachable.
func (e *Environment) Start(ctx context.Context) error {
	ctx = logr.NewContext(ctx, e.logger)
	e.startedAt = time.Now()
	for _, component := range consts.StartOrder {
		indices := e.indices(component)
		if len(indices) == 0 {
			continue
		}
		if err := e.startRole(ctx, component, indices); err != nil {
			return fmt.Errorf("failed to start %s: %w", component, err)
		}
	}
	if err := e.waitClusterReady(ctx); err != nil {
		return err
	}
	if err := e.applyDynamicConfig(ctx); err != nil {
		return err
	}
	e.logger.Info("Environment started", "elapsed", time.Since(e.startedAt).Round(time.Millisecond))
	return nil
}

func (e *Environment) startRole(ctx context.Context, component consts.ComponentType, indices []int) error {
	for attempt := 1; ; attempt++ {
		since := time.Now()
		err := e.launch(ctx, component, indices)
		if err == nil {
			err = e.waitRoleReady(ctx, component, indices, since)
		}
		if err == nil {
			return nil
		}
		if attempt >= maxStartAttempts || !e.portCollision(component, indices) {
			return err
		}
		e.logger.Info("Port collision, restarting role with fresh ports", "role", component, "attempt", attempt)
		if err := e.kill(component, indices); err != nil {
			return err
		}
		if err := e.reassignPorts(component); err != nil {
			return err
		}
	}
}

func (e *Environment) launch(ctx context.Context, component consts.ComponentType, indices []int) error {
	var g errgroup.Group
	for _, index := range indices {
		instance, err := e.topology.Instance(component, index)
		if err != nil {
			return err
		}
		g.Go(func() error {
			p, err := e.spawn(ctx, supervisor.SpawnOptions{
				Binary:     e.rc.Binary(consts.ComponentBinary(component)),
				Args:       []string{"--config", e.configPath(instance)},
				Env:        e.rc.ChildEnv(),
				Dir:        instance.Dir,
				StdoutPath: filepath.Join(instance.Dir, consts.StdoutFileName),
				StderrPath: filepath.Join(instance.Dir, consts.StderrFileName),
				Role:       string(component),
				Index:      index,
				RunID:      e.rc.RunID,
			})
			if err != nil {
				return err
			}
			e.adopt(component, index, p)
			return nil
		})
	}
	err := g.Wait()
	e.updateMetrics()
	return err
}

func (e *Environment) adopt(component consts.ComponentType, index int, p *supervisor.Process) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processes[component] == nil {
		e.processes[component] = map[int]*supervisor.Process{}
	}
	e.processes[component][index] = p
}

func (e *Environment) process(component consts.ComponentType, index int) *supervisor.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processes[component][index]
}

// Processes returns the running processes of a role ordered by index.
func (e *Environment) Processes(component consts.ComponentType) []*supervisor.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	processes := e.processes[component]
	result := make([]*supervisor.Process, 0, len(processes))
	for _, index := range slices.Sorted(maps.Keys(processes)) {
		result = append(result, processes[index])
	}
	return result
}

func (e *Environment) updateMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for component, processes := range e.processes {
		alive := 0
		for _, p := range processes {
			if p.Alive() {
				alive++
			}
		}
		metrics.SetLiveProcesses(string(component), alive)
	}
}

func (e *Environment) waitRoleReady(ctx context.Context, component consts.ComponentType, indices []int, since time.Time) error {
	ready := roleReadiness(e.prober, e.topology, component, indices, since)
	return wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		if err := e.checkHealth(component); err != nil {
			return false, wait.Stop(err)
		}
		return ready(ctx)
	},
		wait.WithTimeout(e.rc.Config.StartTimeout.Duration),
		wait.WithDescription("%s is ready", component),
	)
}

func (e *Environment) waitClusterReady(ctx context.Context) error {
	if e.Spec.Nodes == 0 {
		return nil
	}
	d, err := e.Driver(ctx)
	if err != nil {
		return err
	}
	ready := NodesOnline(e.prober, d, e.Spec.Nodes)
	return wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		if err := e.CheckHealth(); err != nil {
			return false, wait.Stop(err)
		}
		return ready(ctx)
	},
		wait.WithTimeout(e.rc.Config.StartTimeout.Duration),
		wait.WithDescription("%d nodes are online", e.Spec.Nodes),
	)
}

func (e *Environment) portCollision(component consts.ComponentType, indices []int) bool {
	for _, index := range indices {
		p := e.process(component, index)
		if p == nil || p.Alive() {
			continue
		}
		if strings.Contains(tail(p.StderrPath, 4096), portCollisionMsg) {
			return true
		}
	}
	return false
}

func (e *Environment) reassignPorts(component consts.ComponentType) error {
	update := func(instances []ytconfig.Instance) error {
		for i := range instances {
			if err := e.assignPorts(component, &instances[i]); err != nil {
				return err
			}
		}
		return nil
	}
	t := e.topology
	switch component {
	case consts.MasterType:
		if err := update(t.PrimaryMaster.Peers); err != nil {
			return err
		}
		for i := range t.SecondaryMasters {
			if err := update(t.SecondaryMasters[i].Peers); err != nil {
				return err
			}
		}
	case consts.SchedulerType:
		return e.reassignAndRewrite(component, update(t.Schedulers))
	case consts.ControllerAgentType:
		return e.reassignAndRewrite(component, update(t.ControllerAgents))
	case consts.NodeType:
		return e.reassignAndRewrite(component, update(t.Nodes))
	case consts.HttpProxyType:
		return e.reassignAndRewrite(component, update(t.HTTPProxies))
	case consts.RpcProxyType:
		return e.reassignAndRewrite(component, update(t.RPCProxies))
	case consts.YPMasterType:
		return e.reassignAndRewrite(component, update(t.YPMasters))
	}
	return e.reassignAndRewrite(component, nil)
}

// reassignAndRewrite regenerates configs of the role and of every role
// started after it; earlier roles never reference later ones.
func (e *Environment) reassignAndRewrite(component consts.ComponentType, err error) error {
	if err != nil {
		return err
	}
	position := slices.Index(consts.StartOrder, component)
	return e.writeConfigs(consts.StartOrder[position:])
}

func (e *Environment) applyDynamicConfig(ctx context.Context) error {
	if len(e.Spec.DynamicConfig) == 0 {
		return nil
	}
	d, err := e.Driver(ctx)
	if err != nil {
		return err
	}
	return ApplyDynamicConfig(ctx, d, e.Spec.DynamicConfig)
}

// Driver returns the cached driver talking to the http proxy.
func (e *Environment) Driver(ctx context.Context) (*driver.Driver, error) {
	info := e.Endpoints()
	config := e.rc.DriverConfig(info.ClusterName, info.HTTPProxy, info.RPCProxy, e.apiVersion)
	config.Token = e.adminToken
	return e.rc.Driver(ctx, config)
}

func (e *Environment) Endpoints() ConnectionInfo {
	t := e.topology
	info := ConnectionInfo{
		ClusterName:    t.ClusterName,
		PrimaryMasters: t.PrimaryMaster.Addresses(),
		DriverConfig:   filepath.Join(e.Dir, consts.DriverConfigFileName),
		AdminToken:     e.adminToken,
	}
	for i := range t.SecondaryMasters {
		info.SecondaryMasters = append(info.SecondaryMasters, t.SecondaryMasters[i].Addresses())
	}
	if len(t.HTTPProxies) > 0 {
		info.HTTPProxy = t.HTTPProxies[0].HTTPAddress()
	}
	if len(t.RPCProxies) > 0 {
		info.RPCProxy = t.RPCProxies[0].Address()
	}
	if len(t.YPMasters) > 0 {
		info.YPAddress = t.YPMasters[0].HTTPAddress()
	}
	return info
}

// CheckHealth fails once any process exited without being stopped.
func (e *Environment) CheckHealth() error {
	return e.checkHealth()
}

func (e *Environment) checkHealth(components ...consts.ComponentType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dead []DeadProcess
	for _, component := range consts.StartOrder {
		if len(components) > 0 && !slices.Contains(components, component) {
			continue
		}
		processes := e.processes[component]
		for _, index := range slices.Sorted(maps.Keys(processes)) {
			p := processes[index]
			status, exited := p.ExitStatus()
			if !exited || p.Stopping() {
				continue
			}
			dead = append(dead, DeadProcess{
				Role:       string(component),
				Index:      index,
				Status:     status,
				StderrPath: p.StderrPath,
				StderrTail: tail(p.StderrPath, stderrTailSize),
			})
		}
	}
	if len(dead) > 0 {
		return &EnvironmentUnhealthy{Dead: dead}
	}
	return nil
}

// RestartRole kills the given processes of a role (all of them when indices
// is empty) and starts them again with the same configs.
func (e *Environment) RestartRole(ctx context.Context, component consts.ComponentType, indices ...int) error {
	ctx = logr.NewContext(ctx, e.logger)
	if len(indices) == 0 {
		indices = e.indices(component)
	}
	for _, index := range indices {
		if _, err := e.topology.Instance(component, index); err != nil {
			return err
		}
	}
	e.logger.Info("Restarting role", "role", component, "indices", indices)
	if err := e.kill(component, indices); err != nil {
		return err
	}
	if err := e.rc.Drivers.Invalidate(e.topology.ClusterName); err != nil {
		e.logger.Error(err, "Failed to close drivers")
	}
	since := time.Now()
	if err := e.launch(ctx, component, indices); err != nil {
		return err
	}
	if err := e.waitRoleReady(ctx, component, indices, since); err != nil {
		return err
	}
	if component == consts.NodeType || component == consts.MasterType {
		return e.waitClusterReady(ctx)
	}
	return nil
}

func (e *Environment) kill(component consts.ComponentType, indices []int) error {
	var g errgroup.Group
	for _, index := range indices {
		p := e.process(component, index)
		if p == nil {
			continue
		}
		g.Go(func() error {
			return p.KillTree(stopGracePeriod)
		})
	}
	err := g.Wait()
	e.mu.Lock()
	for _, index := range indices {
		delete(e.processes[component], index)
	}
	e.mu.Unlock()
	e.updateMetrics()
	return err
}

// Stop kills every process in reverse start order, collects core dumps and
// releases the ports. The directory is kept when the run failed.
func (e *Environment) Stop(ctx context.Context, failed bool) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var errs []error
	if err := e.CheckHealth(); err != nil {
		e.logger.Info("Stopping unhealthy environment", "error", err.Error())
		failed = true
	}
	for _, component := range slices.Backward(consts.StartOrder) {
		if err := e.kill(component, e.indices(component)); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", component, err))
		}
	}
	var roleDirs []string
	for _, component := range consts.StartOrder {
		roleDirs = append(roleDirs, filepath.Join(e.Dir, consts.ComponentDirName(component)))
	}
	cores, err := supervisor.CollectCores(roleDirs, filepath.Join(e.Dir, "cores"))
	if err != nil {
		errs = append(errs, err)
	}
	if len(cores) > 0 {
		e.logger.Info("Core dumps collected", "cores", cores)
		failed = true
	}
	errs = append(errs, e.rc.Drivers.Invalidate(e.topology.ClusterName))
	errs = append(errs, e.ports.Release())

	if !failed && !e.rc.Config.KeepSandbox && e.Dir != e.rc.RunDir {
		errs = append(errs, os.RemoveAll(e.Dir))
	}
	e.logger.Info("Environment stopped", "failed", failed)
	return errors.Join(errs...)
}
