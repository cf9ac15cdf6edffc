// Package runcontext holds the per-run state of the harness: run id, sandbox
// directories, logging, metrics registry and the driver cache.
package runcontext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.ytsaurus.tech/yt/go/guid"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/jobevents"
	"github.com/ytsaurus/ytsaurus-harness/pkg/metrics"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ports"
)

type RunContext struct {
	Config Config
	RunID  string
	// RunDir is {sandbox}/run_{id}; every process directory lives under it.
	RunDir string
	// TmpDir is {sandbox}/tmp_{id}.
	TmpDir string

	Loggers *Loggers
	// JobEvents lives in TmpDir; jobs find it through ChildEnv.
	JobEvents *jobevents.JobEvents
	Metrics   *prometheus.Registry
	Ports     *ports.Allocator
	Drivers   *Drivers
	closed    bool
}

type options struct {
	logWriter     io.Writer
	driverFactory DriverFactory
	runID         string
}

type Option func(*options)

// WithLogWriter sends the harness log to w instead of stderr.
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}

func WithDriverFactory(factory DriverFactory) Option {
	return func(o *options) { o.driverFactory = factory }
}

func WithRunID(runID string) Option {
	return func(o *options) { o.runID = runID }
}

// New creates the run directories and initializes logging once for the run.
// YT_PROXY is removed from the harness environment so that no client
// silently talks to a foreign cluster.
func New(config Config, opts ...Option) (*RunContext, error) {
	o := options{logWriter: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := os.Unsetenv(consts.EnvYTProxy); err != nil {
		return nil, err
	}

	loggers, err := SetupLogging(o.logWriter, config.LogLevel, config.LogJSON)
	if err != nil {
		return nil, err
	}

	runID := o.runID
	if runID == "" {
		runID = guid.New().String()
	}
	rc := &RunContext{
		Config:  config,
		RunID:   runID,
		RunDir:  filepath.Join(config.SandboxDir, "run_"+runID),
		TmpDir:  filepath.Join(config.SandboxDir, "tmp_"+runID),
		Loggers: loggers,
		Metrics: prometheus.NewRegistry(),
		Ports:   ports.NewAllocator(config.PortLocksDir),
		Drivers: NewDrivers(o.driverFactory),
	}
	for _, dir := range []string{rc.RunDir, rc.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if rc.JobEvents, err = jobevents.New(filepath.Join(rc.TmpDir, "job_events")); err != nil {
		return nil, err
	}
	if err := metrics.Register(rc.Metrics); err != nil {
		return nil, err
	}
	rc.Logger().Info("Run context created", "runID", runID, "runDir", rc.RunDir)
	return rc, nil
}

func (rc *RunContext) Logger() logr.Logger {
	return rc.Loggers.Logger
}

// Context attaches the run logger to ctx.
func (rc *RunContext) Context(ctx context.Context) context.Context {
	return logr.NewContext(ctx, rc.Loggers.Logger)
}

// ChildEnv is the environment of every supervised process: the harness
// environment without YT_PROXY, with the binaries path first in PATH and
// the job events directory exported to user jobs.
func (rc *RunContext) ChildEnv() []string {
	env := make([]string, 0, len(os.Environ())+3)
	path := os.Getenv("PATH")
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		switch name {
		case consts.EnvYTProxy, "PATH", consts.EnvRunID, consts.EnvJobEventsPath:
			continue
		}
		env = append(env, kv)
	}
	if rc.Config.BinariesPath != "" {
		path = rc.Config.BinariesPath + string(os.PathListSeparator) + path
	}
	return append(env, "PATH="+path, consts.EnvRunID+"="+rc.RunID, rc.JobEvents.Env())
}

// Binary resolves a server binary name against the binaries path.
func (rc *RunContext) Binary(name string) string {
	if rc.Config.BinariesPath == "" {
		return name
	}
	return filepath.Join(rc.Config.BinariesPath, name)
}

// DriverConfig is the driver config for a proxy of the sandbox.
func (rc *RunContext) DriverConfig(cluster, proxy, rpcProxy string, apiVersion int) driver.Config {
	if rc.Config.DriverAPIVersion != 0 {
		apiVersion = rc.Config.DriverAPIVersion
	}
	return driver.Config{
		Cluster:    cluster,
		Proxy:      proxy,
		RPCProxy:   rpcProxy,
		Backend:    rc.Config.DriverBackend,
		APIVersion: apiVersion,
		SDKLogger:  rc.Loggers.YTLogger,
	}
}

// Driver returns the cached driver for config.
func (rc *RunContext) Driver(ctx context.Context, config driver.Config) (*driver.Driver, error) {
	return rc.Drivers.Get(rc.Context(ctx), config)
}

// ArtifactsDir is {failed_tests}/{build-type-id}__{build-number}__{suite}.
func (rc *RunContext) ArtifactsDir(suite string) string {
	name := fmt.Sprintf("%s__%s__%s", rc.Config.BuildTypeID, rc.Config.BuildNumber, sanitize(suite))
	return filepath.Join(rc.Config.FailedTestsDir, name)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, name)
}

// PreserveArtifacts copies the run directory of a failed suite to its
// artifacts dir and returns that dir.
func (rc *RunContext) PreserveArtifacts(suite string) (string, error) {
	target := rc.ArtifactsDir(suite)
	if err := copyTree(rc.RunDir, target); err != nil {
		return "", fmt.Errorf("failed to preserve artifacts of %s: %w", suite, err)
	}
	rc.Logger().Info("Artifacts preserved", "suite", suite, "dir", target)
	return target, nil
}

// Close releases drivers and removes the sandbox unless the run failed or
// the sandbox is kept.
func (rc *RunContext) Close(failed bool) error {
	if rc.closed {
		return nil
	}
	rc.closed = true
	defer rc.Loggers.Sync()

	errs := []error{rc.Drivers.Close()}
	errs = append(errs, os.RemoveAll(rc.TmpDir))
	if failed || rc.Config.KeepSandbox {
		rc.Logger().Info("Sandbox kept", "runDir", rc.RunDir, "failed", failed)
	} else {
		errs = append(errs, os.RemoveAll(rc.RunDir))
	}
	return errors.Join(errs...)
}
