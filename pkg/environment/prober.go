package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	logy "go.ytsaurus.tech/library/go/core/log/zap"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

var orchidJSON = jsoniter.Config{UseNumber: true}.Froze()

// HTTPProber reads orchids over the monitoring HTTP servers and checks
// proxies with the SDK client.
type HTTPProber struct {
	Client    *http.Client
	YTLogger  *logy.Logger
	newDriver func(ctx context.Context, config driver.Config) (*driver.Driver, error)
}

func NewHTTPProber(ytLogger *logy.Logger) *HTTPProber {
	return &HTTPProber{
		Client:    &http.Client{},
		YTLogger:  ytLogger,
		newDriver: driver.New,
	}
}

func (p *HTTPProber) Orchid(ctx context.Context, monitoringAddress, path string) (*ytree.Node, error) {
	url := "http://" + monitoringAddress + "/orchid" + strings.TrimSuffix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	rsp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchid %s: %s: %s", url, rsp.Status, strings.TrimSpace(string(body)))
	}
	var value any
	if err := orchidJSON.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("orchid %s: %w", url, err)
	}
	return fromJSON(value)
}

// fromJSON converts a decoded YT JSON document; "$value" and "$attributes"
// carry attributed values.
func fromJSON(v any) (*ytree.Node, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return ytree.Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return ytree.Double(f), nil
	case []any:
		items := make([]*ytree.Node, 0, len(x))
		for _, item := range x {
			n, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return ytree.List(items...), nil
	case map[string]any:
		if value, ok := x["$value"]; ok {
			n, err := fromJSON(value)
			if err != nil {
				return nil, err
			}
			if attrs, ok := x["$attributes"].(map[string]any); ok {
				for name, attr := range attrs {
					a, err := fromJSON(attr)
					if err != nil {
						return nil, err
					}
					n.SetAttr(name, a)
				}
			}
			return n, nil
		}
		m := make(map[string]*ytree.Node, len(x))
		for k, item := range x {
			n, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return ytree.Map(m), nil
	}
	return ytree.FromGo(v)
}

func (p *HTTPProber) ProxyAlive(ctx context.Context, proxy string) error {
	d, err := p.newDriver(ctx, driver.Config{
		Cluster:   proxy,
		Proxy:     proxy,
		Backend:   driver.BackendSDK,
		SDKLogger: p.YTLogger,
	})
	if err != nil {
		return err
	}
	defer d.Close()
	_, err = d.Exists(ctx, "/")
	return err
}

func (p *HTTPProber) OnlineNodes(ctx context.Context, d *driver.Driver) (int, error) {
	nodes, err := d.List(ctx, consts.ClusterNodesPath, driver.WithAttributeKeys("state"))
	if err != nil {
		return 0, err
	}
	online := 0
	for _, node := range nodes {
		if node.Attr("state").Str() == "online" {
			online++
		}
	}
	return online, nil
}
