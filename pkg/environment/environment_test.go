package environment_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	mock_yt "github.com/ytsaurus/ytsaurus-harness/pkg/mock"
	"github.com/ytsaurus/ytsaurus-harness/pkg/runcontext"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytconfig"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const fakeServer = `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo 23.2.1
	exit 0
fi
exec sleep 1000
`

func newRunContext(t *testing.T) *runcontext.RunContext {
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	for _, component := range consts.StartOrder {
		path := filepath.Join(bin, consts.ComponentBinary(component))
		require.NoError(t, os.WriteFile(path, []byte(fakeServer), 0o755))
	}

	config := runcontext.DefaultConfig()
	config.BinariesPath = bin
	config.SandboxDir = filepath.Join(root, "sandbox")
	config.PortLocksDir = filepath.Join(root, "locks")
	config.StartTimeout = runcontext.Duration{Duration: 10 * time.Second}
	rc, err := runcontext.New(config, runcontext.WithLogWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close(false) })
	return rc
}

func smallSpec() environment.ClusterSpec {
	spec := environment.DefaultClusterSpec()
	spec.Nodes = 2
	return spec
}

// readyProber reports every process as ready except for the orchids
// listed in unavailable.
func readyProber(t *testing.T, nodes int, unavailable ...string) *mock_yt.MockProber {
	prober := mock_yt.NewMockProber(gomock.NewController(t))
	prober.EXPECT().Orchid(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _, path string) (*ytree.Node, error) {
			if slices.Contains(unavailable, path) {
				return nil, errors.New("connection refused")
			}
			switch path {
			case "/monitoring/hydra":
				return ytree.MustParse(`{state=active_leader; active=%true}`), nil
			case "/scheduler/service":
				connected := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
				return ytree.MustParse(`{connected=%true; last_connection_time="` + connected + `"}`), nil
			}
			return ytree.EmptyMap(), nil
		}).AnyTimes()
	prober.EXPECT().ProxyAlive(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	prober.EXPECT().OnlineNodes(gomock.Any(), gomock.Any()).Return(nodes, nil).AnyTimes()
	return prober
}

func TestPrepareWritesConfigs(t *testing.T) {
	rc := newRunContext(t)
	spec := smallSpec()
	spec.Overrides = map[consts.ComponentType]string{
		consts.SchedulerType: `{scheduler={nodes_info_update_period=777}}`,
	}

	env, err := environment.Prepare(context.Background(), spec, rc, environment.WithProber(readyProber(t, 2)))
	require.NoError(t, err)
	defer env.Stop(context.Background(), false)

	require.Equal(t, rc.RunDir, env.Dir)
	require.Equal(t, 4, env.APIVersion())

	for _, component := range consts.StartOrder {
		for _, instance := range env.Topology().Instances(component) {
			require.FileExists(t, filepath.Join(instance.Dir, consts.ConfigFileName))
			require.True(t, strings.HasPrefix(instance.Dir, filepath.Join(env.Dir, consts.ComponentDirName(component))))
		}
	}
	data, err := os.ReadFile(filepath.Join(env.Topology().Schedulers[0].Dir, consts.ConfigFileName))
	require.NoError(t, err)
	config, err := ytree.Parse(data)
	require.NoError(t, err)
	require.Equal(t, int64(777), config.Get("scheduler").Get("nodes_info_update_period").IntOr(0))

	info := env.Endpoints()
	require.Equal(t, consts.DefaultClusterName, info.ClusterName)
	require.Len(t, info.PrimaryMasters, 1)
	require.Equal(t, env.Topology().HTTPProxies[0].HTTPAddress(), info.HTTPProxy)
	require.FileExists(t, info.DriverConfig)
	require.NotEmpty(t, info.AdminToken)

	stat, err := os.Stat(filepath.Join(env.Dir, "secrets", "admin_token"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestStartRestartStop(t *testing.T) {
	rc := newRunContext(t)
	spec := smallSpec()
	spec.WorkingDir = filepath.Join(rc.RunDir, "env")

	ctx := context.Background()
	env, err := environment.Prepare(ctx, spec, rc, environment.WithProber(readyProber(t, 2)))
	require.NoError(t, err)
	require.NoError(t, env.Start(ctx))
	require.NoError(t, env.CheckHealth())
	require.Len(t, env.Processes(consts.NodeType), 2)
	require.Len(t, env.Processes(consts.MasterType), 1)

	node := env.Processes(consts.NodeType)[1]
	require.NoError(t, node.Signal(syscall.SIGKILL))
	<-node.Done()

	err = env.CheckHealth()
	var unhealthy *environment.EnvironmentUnhealthy
	require.ErrorAs(t, err, &unhealthy)
	require.Len(t, unhealthy.Dead, 1)
	require.Equal(t, string(consts.NodeType), unhealthy.Dead[0].Role)
	require.Equal(t, 1, unhealthy.Dead[0].Index)
	require.Equal(t, yterrs.KindEnvironmentUnhealthy, yterrs.Classify(err))

	require.NoError(t, env.RestartRole(ctx, consts.NodeType, 1))
	require.NoError(t, env.CheckHealth())
	restarted := env.Processes(consts.NodeType)[1]
	require.NotEqual(t, node.Pid(), restarted.Pid())

	require.Error(t, env.RestartRole(ctx, consts.NodeType, 7))

	processes := env.Processes(consts.MasterType)
	require.NoError(t, env.Stop(ctx, false))
	for _, p := range processes {
		require.False(t, p.Alive())
	}
	require.NoDirExists(t, spec.WorkingDir)
	require.NoError(t, env.Stop(ctx, false))
}

func TestStartFailsWhenProcessDies(t *testing.T) {
	rc := newRunContext(t)
	crash := "#!/bin/sh\necho 'fatal: bad config' >&2\nexit 3\n"
	require.NoError(t, os.WriteFile(rc.Binary(consts.ComponentBinary(consts.SchedulerType)), []byte(crash), 0o755))

	ctx := context.Background()
	prober := readyProber(t, 2, "/scheduler/service")
	env, err := environment.Prepare(ctx, smallSpec(), rc, environment.WithProber(prober))
	require.NoError(t, err)
	err = env.Start(ctx)
	require.Error(t, err)

	var unhealthy *environment.EnvironmentUnhealthy
	require.ErrorAs(t, err, &unhealthy)
	require.Contains(t, unhealthy.Dead[0].StderrTail, "fatal: bad config")
	require.Equal(t, 3, unhealthy.Dead[0].Status.Code)

	require.NoError(t, env.Stop(ctx, true))
	require.DirExists(t, env.Dir)
}

func TestReadiness(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mock_yt.NewMockProber(ctrl)
	ctx := context.Background()

	cell := &ytconfig.MasterCellTopology{CellTag: 1, Peers: []ytconfig.Instance{
		{Index: 0, MonitoringPort: 1}, {Index: 1, MonitoringPort: 2}, {Index: 2, MonitoringPort: 3},
	}}
	states := map[string]string{
		cell.Peers[0].MonitoringAddress(): "active_follower",
		cell.Peers[1].MonitoringAddress(): "leader_recovery",
		cell.Peers[2].MonitoringAddress(): "active_follower",
	}
	prober.EXPECT().Orchid(gomock.Any(), gomock.Any(), "/monitoring/hydra").DoAndReturn(
		func(_ context.Context, address, _ string) (*ytree.Node, error) {
			return ytree.Map(map[string]*ytree.Node{"state": ytree.String(states[address])}), nil
		}).AnyTimes()

	ready := environment.MasterReady(prober, cell)
	ok, err := ready(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	states[cell.Peers[1].MonitoringAddress()] = "active_leader"
	ok, err = ready(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	never := func(context.Context) (bool, error) { return false, nil }
	called := false
	spy := func(context.Context) (bool, error) { called = true; return true, nil }
	ok, err = environment.And(ready, never, spy)(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, called)

	ok, err = environment.And(ready, spy)(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, called)
}

func TestSchedulerReadyIgnoresStaleConnection(t *testing.T) {
	prober := mock_yt.NewMockProber(gomock.NewController(t))
	instance := &ytconfig.Instance{MonitoringPort: 1}
	since := time.Now()
	connected := since.Add(-time.Minute)
	prober.EXPECT().Orchid(gomock.Any(), instance.MonitoringAddress(), "/scheduler/service").DoAndReturn(
		func(context.Context, string, string) (*ytree.Node, error) {
			return ytree.Map(map[string]*ytree.Node{
				"connected":            ytree.Bool(true),
				"last_connection_time": ytree.String(connected.UTC().Format(time.RFC3339Nano)),
			}), nil
		}).Times(2)

	ready := environment.SchedulerReady(prober, instance, since)
	ok, err := ready(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	connected = since.Add(time.Second)
	ok, err = ready(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHTTPProberOrchid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orchid/monitoring/hydra" {
			http.Error(w, "no such orchid", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"state": "active_leader", "version": 12, "read_only": false,
			"peers": [{"$attributes": {"voting": true}, "$value": "localhost:1"}]}`))
	}))
	defer server.Close()

	prober := environment.NewHTTPProber(nil)
	address := strings.TrimPrefix(server.URL, "http://")

	hydra, err := prober.Orchid(context.Background(), address, "/monitoring/hydra")
	require.NoError(t, err)
	require.Equal(t, "active_leader", hydra.Get("state").Str())
	require.Equal(t, int64(12), hydra.Get("version").IntOr(0))
	require.False(t, hydra.Get("read_only").BoolOr(true))
	peer := hydra.Get("peers").Index(0)
	require.Equal(t, "localhost:1", peer.Str())
	require.True(t, peer.Attr("voting").BoolOr(false))

	_, err = prober.Orchid(context.Background(), address, "/scheduler")
	require.ErrorContains(t, err, "no such orchid")
}
