// Package fixture shares sandbox environments between tests and isolates the
// tests from each other: every test gets a fresh temp path and everything it
// created is purged afterwards.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/runcontext"
)

// Cluster is a started environment as seen by the fixtures.
type Cluster interface {
	Driver(ctx context.Context) (*driver.Driver, error)
	CheckHealth() error
	Stop(ctx context.Context, failed bool) error
}

// Factory starts a cluster of the given shape.
type Factory func(ctx context.Context, spec environment.ClusterSpec) (Cluster, error)

// EnvironmentFactory starts sandbox environments within rc. Every shape gets
// its own working directory under the run directory.
func EnvironmentFactory(rc *runcontext.RunContext, opts ...environment.Option) Factory {
	return func(ctx context.Context, spec environment.ClusterSpec) (Cluster, error) {
		if spec.WorkingDir == "" {
			spec.WorkingDir = filepath.Join(rc.RunDir, spec.ClusterName()+"_"+spec.Hash())
		}
		env, err := environment.Prepare(ctx, spec, rc, opts...)
		if err != nil {
			return nil, err
		}
		if err := env.Start(ctx); err != nil {
			return nil, errors.Join(err, env.Stop(ctx, true))
		}
		return env, nil
	}
}

// Env is one shared environment together with the object baseline captured
// right after it started.
type Env struct {
	Spec     environment.ClusterSpec
	Cluster  Cluster
	Baseline *Baseline

	bad bool
}

// YP reports whether the environment runs YP masters.
func (e *Env) YP() bool {
	return e.Spec.YPMasters > 0
}

// Session owns the environments of one test process. Environments are
// started lazily and stopped by Close.
type Session struct {
	base    environment.ClusterSpec
	factory Factory
	logger  logr.Logger

	mu     sync.Mutex
	envs   map[string]*Env
	failed bool
}

func NewSession(base environment.ClusterSpec, factory Factory, logger logr.Logger) *Session {
	return &Session{
		base:    base,
		factory: factory,
		logger:  logger.WithName("fixture"),
		envs:    map[string]*Env{},
	}
}

// Default returns a class using the base spec unchanged.
func (s *Session) Default() *Class {
	return s.Class(nil)
}

// Class returns a fixture for tests sharing one cluster shape. Classes whose
// overrides produce equal specs share the environment.
func (s *Session) Class(overrides func(spec *environment.ClusterSpec)) *Class {
	spec := s.base
	spec.Overrides = maps.Clone(s.base.Overrides)
	spec.DynamicConfig = maps.Clone(s.base.DynamicConfig)
	if overrides != nil {
		overrides(&spec)
	}
	return &Class{session: s, spec: spec}
}

// acquire returns a healthy environment for spec, replacing a bad one.
func (s *Session) acquire(ctx context.Context, spec environment.ClusterSpec) (*Env, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := spec.Hash()
	if env, ok := s.envs[key]; ok {
		if !env.bad {
			if err := env.Cluster.CheckHealth(); err != nil {
				s.logger.Info("Environment is unhealthy, rebuilding", "hash", key, "error", err.Error())
				env.bad = true
			}
		}
		if !env.bad {
			return env, nil
		}
		s.failed = true
		if err := env.Cluster.Stop(ctx, true); err != nil {
			s.logger.Error(err, "Failed to stop bad environment", "hash", key)
		}
		delete(s.envs, key)
	}

	s.logger.Info("Starting environment", "hash", key, "cluster", spec.ClusterName())
	cluster, err := s.factory(ctx, spec)
	if err != nil {
		s.failed = true
		return nil, fmt.Errorf("failed to start environment %s: %w", spec.ClusterName(), err)
	}
	env := &Env{Spec: spec, Cluster: cluster}
	d, err := cluster.Driver(ctx)
	if err == nil {
		env.Baseline, err = CaptureBaseline(ctx, d, env.YP())
	}
	if err != nil {
		s.failed = true
		return nil, errors.Join(fmt.Errorf("failed to capture baseline: %w", err), cluster.Stop(ctx, true))
	}
	s.envs[key] = env
	return env, nil
}

func (s *Session) markBad(env *Env) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env.bad = true
	s.failed = true
}

// Len returns the number of live environments.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

// Close stops every environment. Sandboxes are kept when failed is set or
// any environment went bad during the session.
func (s *Session) Close(ctx context.Context, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed = failed || s.failed
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(s.envs)) {
		if err := s.envs[key].Cluster.Stop(ctx, failed); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop environment %s: %w", key, err))
		}
	}
	s.envs = map[string]*Env{}
	return errors.Join(errs...)
}

// Class binds a cluster shape to a session.
type Class struct {
	session *Session
	spec    environment.ClusterSpec
}

func (c *Class) Spec() environment.ClusterSpec {
	return c.spec
}

// Env returns the shared environment of the class, starting it if needed.
func (c *Class) Env(ctx context.Context) (*Env, error) {
	return c.session.acquire(ctx, c.spec)
}
