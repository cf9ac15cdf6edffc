package driver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	logy "go.ytsaurus.tech/library/go/core/log/zap"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
)

type BackendKind string

const (
	// BackendHTTP speaks the HTTP proxy API directly.
	BackendHTTP BackendKind = "http"
	// BackendSDK goes through the Go SDK over the HTTP proxy.
	BackendSDK BackendKind = "sdk"
	// BackendRPC goes through the Go SDK over the RPC proxy.
	BackendRPC BackendKind = "rpc"
)

// Backend executes resolved calls against a cluster.
//
//go:generate mockgen -destination=../mock/mock_backend.go -package=mock_yt . Backend
type Backend interface {
	Execute(ctx context.Context, call *Call) (*Response, error)
	Kind() BackendKind
	Close() error
}

// Config describes how a driver reaches its cluster.
type Config struct {
	// Cluster labels logs and metrics.
	Cluster    string      `toml:"cluster" json:"cluster"`
	Proxy      string      `toml:"proxy" json:"proxy"`
	RPCProxy   string      `toml:"rpc_proxy" json:"rpc_proxy,omitempty"`
	Backend    BackendKind `toml:"backend" json:"backend"`
	APIVersion int         `toml:"api_version" json:"api_version"`
	Token      string      `toml:"-" json:"-"`

	LightRequestTimeout time.Duration `toml:"light_request_timeout" json:"light_request_timeout"`
	HeavyRequestTimeout time.Duration `toml:"heavy_request_timeout" json:"heavy_request_timeout"`

	Retry      yterrs.RetryPolicy `toml:"-" json:"-"`
	HTTPClient *http.Client       `toml:"-" json:"-"`
	// SDKLogger is handed to the SDK client of the sdk and rpc backends.
	SDKLogger *logy.Logger `toml:"-" json:"-"`
}

const (
	DefaultAPIVersion          = 4
	DefaultLightRequestTimeout = time.Minute
	DefaultHeavyRequestTimeout = 5 * time.Minute
)

func (c *Config) setDefaults() {
	if c.Backend == "" {
		c.Backend = BackendHTTP
	}
	if c.APIVersion == 0 {
		c.APIVersion = DefaultAPIVersion
	}
	if c.LightRequestTimeout == 0 {
		c.LightRequestTimeout = DefaultLightRequestTimeout
	}
	if c.HeavyRequestTimeout == 0 {
		c.HeavyRequestTimeout = DefaultHeavyRequestTimeout
	}
	if c.Retry == (yterrs.RetryPolicy{}) {
		c.Retry = yterrs.DefaultRetryPolicy()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Cluster == "" {
		c.Cluster = c.Proxy
	}
}

func (c *Config) Validate() error {
	if c.Proxy == "" {
		return fmt.Errorf("driver config: proxy is not set")
	}
	if c.APIVersion != 3 && c.APIVersion != 4 {
		return fmt.Errorf("driver config: unsupported api version %d", c.APIVersion)
	}
	if c.Backend == BackendRPC && c.RPCProxy == "" {
		return fmt.Errorf("driver config: rpc backend requires rpc_proxy")
	}
	return nil
}

func newBackend(config Config, logger logr.Logger) (Backend, error) {
	switch config.Backend {
	case BackendHTTP:
		return NewHTTPBackend(config), nil
	case BackendSDK, BackendRPC:
		return NewSDKBackend(config, logger)
	}
	return nil, fmt.Errorf("unknown driver backend %q", config.Backend)
}
