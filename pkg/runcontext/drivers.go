package runcontext

import (
	"context"
	"errors"
	"sync"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
)

type driverKey struct {
	cluster    string
	apiVersion int
	backend    driver.BackendKind
}

// DriverFactory builds a driver for a config; tests replace it to inject
// mock backends.
type DriverFactory func(ctx context.Context, config driver.Config) (*driver.Driver, error)

// Drivers caches drivers by cluster, API version and backend. Entries of a
// cluster are dropped when one of its roles is restarted.
type Drivers struct {
	mu      sync.Mutex
	factory DriverFactory
	drivers map[driverKey]*driver.Driver
}

func NewDrivers(factory DriverFactory) *Drivers {
	if factory == nil {
		factory = driver.New
	}
	return &Drivers{
		factory: factory,
		drivers: map[driverKey]*driver.Driver{},
	}
}

func keyOf(config driver.Config) driverKey {
	cluster := config.Cluster
	if cluster == "" {
		cluster = config.Proxy
	}
	apiVersion := config.APIVersion
	if apiVersion == 0 {
		apiVersion = driver.DefaultAPIVersion
	}
	backend := config.Backend
	if backend == "" {
		backend = driver.BackendHTTP
	}
	return driverKey{cluster: cluster, apiVersion: apiVersion, backend: backend}
}

// Get returns the cached driver for config or builds a new one.
func (r *Drivers) Get(ctx context.Context, config driver.Config) (*driver.Driver, error) {
	key := keyOf(config)
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[key]; ok {
		return d, nil
	}
	d, err := r.factory(ctx, config)
	if err != nil {
		return nil, err
	}
	r.drivers[key] = d
	return d, nil
}

// Invalidate closes and forgets every driver of cluster.
func (r *Drivers) Invalidate(cluster string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, d := range r.drivers {
		if key.cluster == cluster {
			errs = append(errs, d.Close())
			delete(r.drivers, key)
		}
	}
	return errors.Join(errs...)
}

func (r *Drivers) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, d := range r.drivers {
		errs = append(errs, d.Close())
		delete(r.drivers, key)
	}
	return errors.Join(errs...)
}

func (r *Drivers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drivers)
}
