// Package driver issues commands to a cluster. A Driver resolves command
// names through its Registry, normalizes parameters, dispatches calls to a
// Backend and retries transient failures.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/guid"

	"github.com/ytsaurus/ytsaurus-harness/pkg/metrics"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// Driver is safe for concurrent use. Requests are not serialized.
type Driver struct {
	config   Config
	registry *Registry
	backend  Backend
	logger   logr.Logger

	txMu sync.Mutex
	txs  map[string]*Tx
}

// New validates config and builds the configured backend.
func New(ctx context.Context, config Config) (*Driver, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := logr.FromContextOrDiscard(ctx).WithName("driver").WithValues("cluster", config.Cluster)
	backend, err := newBackend(config, logger)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(config, backend, logger), nil
}

// NewWithBackend builds a driver over an existing backend.
func NewWithBackend(config Config, backend Backend, logger logr.Logger) *Driver {
	config.setDefaults()
	return &Driver{
		config:   config,
		registry: NewRegistry(config.APIVersion),
		backend:  backend,
		logger:   logger,
		txs:      map[string]*Tx{},
	}
}

func (d *Driver) Config() Config      { return d.config }
func (d *Driver) Registry() *Registry { return d.registry }
func (d *Driver) Backend() Backend    { return d.backend }
func (d *Driver) Cluster() string     { return d.config.Cluster }
func (d *Driver) Logger() logr.Logger { return d.logger }
func (d *Driver) Close() error        { return d.backend.Close() }
func (d *Driver) String() string {
	return fmt.Sprintf("driver(%s, %s, v%d)", d.config.Cluster, d.backend.Kind(), d.config.APIVersion)
}
func (d *Driver) APIVersion() int          { return d.config.APIVersion }
func (d *Driver) BackendKind() BackendKind { return d.backend.Kind() }

// cacheResetter is implemented by backends holding tablet metadata caches.
type cacheResetter interface {
	ClearMetadataCaches(ctx context.Context) error
}

// ClearMetadataCaches drops cached tablet and mount information.
func (d *Driver) ClearMetadataCaches(ctx context.Context) error {
	if r, ok := d.backend.(cacheResetter); ok {
		return r.ClearMetadataCaches(ctx)
	}
	return nil
}

func (d *Driver) resolve(req *Request) (*Call, error) {
	desc, err := d.registry.Lookup(req.Command)
	if err != nil {
		return nil, err
	}
	params, err := NormalizeParams(desc.Name, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}
	if req.User != "" {
		params.Set("authenticated_user", ytree.String(req.User))
	}
	if desc.Mutating && !params.Has("mutation_id") {
		params.Set("mutation_id", ytree.String(guid.New().String()))
	}
	return &Call{
		Descriptor: desc,
		WireName:   d.registry.WireName(desc),
		Params:     params,
		Input:      req.Input,
		Rows:       req.Rows,
		Data:       req.Data,
		User:       req.User,
		Timeout:    req.Timeout,
	}, nil
}

// Execute runs the request and blocks until it completes.
func (d *Driver) Execute(ctx context.Context, req *Request) (*Response, error) {
	call, err := d.resolve(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rsp, err := d.executeWithRetries(ctx, call)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind := yterrs.Classify(err); kind != yterrs.KindUnknown {
			outcome = string(kind)
		}
	}
	metrics.ObserveDriverRequest(d.config.Cluster, call.Descriptor.Name, outcome, elapsed)

	logger := d.logger.WithValues("command", call.Descriptor.Name)
	if err != nil {
		logger.V(1).Info("Command failed", "params", RedactParams(call.Params), "elapsed", elapsed, "error", err)
		return nil, err
	}
	logger.V(1).Info("Command finished", "params", RedactParams(call.Params), "elapsed", elapsed)
	return rsp, nil
}

func (d *Driver) executeWithRetries(ctx context.Context, call *Call) (*Response, error) {
	policy := d.config.Retry
	b := backoff.WithContext(policy.NewBackOff(), ctx)
	retriedOnce := false
	tabletRetries := 0
	for {
		rsp, err := d.backend.Execute(ctx, call)
		if err == nil {
			return rsp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var delay time.Duration
		switch policy.Action(err) {
		case yterrs.RetryNever:
			return nil, err
		case yterrs.RetryOnce:
			if retriedOnce {
				return nil, err
			}
			retriedOnce = true
		case yterrs.RetryBackoff:
			delay = b.NextBackOff()
			if delay == backoff.Stop {
				return nil, err
			}
		case yterrs.RetryAfterCacheReset:
			tabletRetries++
			if tabletRetries > policy.MaxTabletRetries {
				return nil, err
			}
			if resetErr := d.ClearMetadataCaches(ctx); resetErr != nil {
				d.logger.Info("Failed to clear metadata caches", "error", resetErr)
			}
			delay = policy.InitialInterval
		}

		kind := yterrs.Classify(err)
		metrics.ObserveDriverRetry(d.config.Cluster, call.Descriptor.Name, string(kind))
		d.logger.V(1).Info("Retrying command", "command", call.Descriptor.Name, "kind", kind, "delay", delay, "error", err)
		if call.Descriptor.Mutating {
			call.Params.Set("retry", ytree.Bool(true))
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PendingResponse is the handle of a non-blocking request.
type PendingResponse struct {
	done chan struct{}
	rsp  *Response
	err  error
}

// ExecuteAsync starts the request in the background.
func (d *Driver) ExecuteAsync(ctx context.Context, req *Request) *PendingResponse {
	p := &PendingResponse{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.rsp, p.err = d.Execute(ctx, req)
	}()
	return p
}

func (p *PendingResponse) Done() <-chan struct{} { return p.done }

// Wait blocks until the response arrives or ctx is done.
func (p *PendingResponse) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.rsp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Error returns the request error once finished and nil before that.
func (p *PendingResponse) Error() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

const redactThreshold = 128

// formatParams are elided from logs.
var formatParams = map[string]bool{
	"input_format":  true,
	"output_format": true,
	"format":        true,
}

// RedactParams prepares parameters for logging: attributes are dropped,
// formats and secrets elided, long values cut.
func RedactParams(params *ytree.Node) string {
	if params == nil {
		return "{}"
	}
	redacted := ytree.EmptyMap()
	for _, key := range params.Keys() {
		switch {
		case formatParams[key]:
			redacted.Set(key, ytree.String("<format>"))
		case key == "token" || key == "password":
			redacted.Set(key, ytree.String("<hidden>"))
		default:
			redacted.Set(key, redactValue(params.Get(key)))
		}
	}
	return redacted.String()
}

func redactValue(n *ytree.Node) *ytree.Node {
	n = n.WithoutAttrs()
	switch n.Kind() {
	case ytree.KindString:
		if s := n.Str(); len(s) > redactThreshold {
			return ytree.String(s[:redactThreshold] + fmt.Sprintf("...<%d bytes>", len(s)))
		}
	case ytree.KindList, ytree.KindMap:
		text := n.String()
		if len(text) > redactThreshold {
			return ytree.String(fmt.Sprintf("<%s of %d items>", n.Kind(), n.Len()))
		}
	}
	return n
}
