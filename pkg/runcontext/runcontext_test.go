package runcontext

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
)

func testConfig(t *testing.T) Config {
	config := DefaultConfig()
	root := t.TempDir()
	config.SandboxDir = filepath.Join(root, "sandbox")
	config.PortLocksDir = filepath.Join(root, "locks")
	config.FailedTestsDir = filepath.Join(root, "failed_tests")
	return config
}

func TestReadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
binaries_path = "/opt/yt/bin"
log_level = "debug"
driver_backend = "rpc"
start_timeout = "90s"
`), 0o644))

	config := DefaultConfig()
	require.NoError(t, config.ReadFile(path))
	require.Equal(t, "/opt/yt/bin", config.BinariesPath)
	require.Equal(t, driver.BackendRPC, config.DriverBackend)
	require.Equal(t, "1m30s", config.StartTimeout.String())

	env := map[string]string{
		consts.EnvBinariesPath: "/usr/bin",
		consts.EnvBuildNumber:  "42",
		consts.EnvKeepSandbox:  "true",
	}
	require.NoError(t, config.ApplyEnv(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}))
	require.Equal(t, "/usr/bin", config.BinariesPath)
	require.Equal(t, "42", config.BuildNumber)
	require.True(t, config.KeepSandbox)

	env[consts.EnvKeepSandbox] = "maybe"
	require.Error(t, config.ApplyEnv(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}))
}

func TestReadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.toml")
	require.NoError(t, os.WriteFile(path, []byte(`sandbox = "/tmp"`), 0o644))
	config := DefaultConfig()
	require.ErrorContains(t, config.ReadFile(path), "unknown keys")
}

func TestValidate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	config.DriverBackend = "grpc"
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.DriverAPIVersion = 5
	require.Error(t, config.Validate())
}

func TestNewStripsProxyAndCreatesDirs(t *testing.T) {
	t.Setenv(consts.EnvYTProxy, "foreign-cluster")
	var log bytes.Buffer
	rc, err := New(testConfig(t), WithLogWriter(&log), WithRunID("1-2-3-4"))
	require.NoError(t, err)

	_, ok := os.LookupEnv(consts.EnvYTProxy)
	require.False(t, ok)
	require.DirExists(t, rc.RunDir)
	require.DirExists(t, rc.TmpDir)
	require.Equal(t, "run_1-2-3-4", filepath.Base(rc.RunDir))
	require.Contains(t, log.String(), "Run context created")

	for _, kv := range rc.ChildEnv() {
		require.False(t, strings.HasPrefix(kv, consts.EnvYTProxy+"="), kv)
	}
	require.Contains(t, rc.ChildEnv(), consts.EnvRunID+"=1-2-3-4")
	require.DirExists(t, rc.JobEvents.Dir)
	require.Contains(t, rc.ChildEnv(), consts.EnvJobEventsPath+"="+rc.JobEvents.Dir)

	require.NoError(t, rc.Close(false))
	require.NoDirExists(t, rc.RunDir)
	require.NoDirExists(t, rc.TmpDir)
}

func TestChildEnvPrependsBinariesPath(t *testing.T) {
	config := testConfig(t)
	config.BinariesPath = "/opt/yt/bin"
	rc, err := New(config, WithLogWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	defer rc.Close(false)

	var path string
	for _, kv := range rc.ChildEnv() {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	require.True(t, strings.HasPrefix(path, "/opt/yt/bin"+string(os.PathListSeparator)), path)
	require.Equal(t, "/opt/yt/bin/ytserver-all", rc.Binary("ytserver-all"))
}

func TestPreserveArtifacts(t *testing.T) {
	config := testConfig(t)
	config.BuildTypeID = "YT_Tests"
	config.BuildNumber = "17"
	rc, err := New(config, WithLogWriter(&bytes.Buffer{}))
	require.NoError(t, err)

	logPath := filepath.Join(rc.RunDir, "master", "0", "master.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("crash"), 0o644))
	require.NoError(t, os.Symlink("master.log", filepath.Join(rc.RunDir, "master", "0", "current.log")))

	dir, err := rc.PreserveArtifacts("TestTables/mount")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(config.FailedTestsDir, "YT_Tests__17__TestTables_mount"), dir)

	data, err := os.ReadFile(filepath.Join(dir, "master", "0", "master.log"))
	require.NoError(t, err)
	require.Equal(t, "crash", string(data))
	link, err := os.Readlink(filepath.Join(dir, "master", "0", "current.log"))
	require.NoError(t, err)
	require.Equal(t, "master.log", link)

	require.NoError(t, rc.Close(true))
	require.DirExists(t, rc.RunDir)
}

func TestDriversCache(t *testing.T) {
	built := 0
	drivers := NewDrivers(func(ctx context.Context, config driver.Config) (*driver.Driver, error) {
		built++
		return driver.New(ctx, config)
	})

	first, err := drivers.Get(context.Background(), driver.Config{Cluster: "local", Proxy: "localhost:1"})
	require.NoError(t, err)
	second, err := drivers.Get(context.Background(), driver.Config{Cluster: "local", Proxy: "localhost:1", APIVersion: 4})
	require.NoError(t, err)
	require.Same(t, first, second)

	_, err = drivers.Get(context.Background(), driver.Config{Cluster: "local", Proxy: "localhost:1", APIVersion: 3})
	require.NoError(t, err)
	_, err = drivers.Get(context.Background(), driver.Config{Cluster: "remote", Proxy: "localhost:2"})
	require.NoError(t, err)
	require.Equal(t, 3, built)
	require.Equal(t, 3, drivers.Len())

	require.NoError(t, drivers.Invalidate("local"))
	require.Equal(t, 1, drivers.Len())

	third, err := drivers.Get(context.Background(), driver.Config{Cluster: "local", Proxy: "localhost:1"})
	require.NoError(t, err)
	require.NotSame(t, first, third)

	require.NoError(t, drivers.Close())
	require.Zero(t, drivers.Len())
}

func TestSetupLoggingRejectsBadLevel(t *testing.T) {
	_, err := SetupLogging(&bytes.Buffer{}, "loud", false)
	require.Error(t, err)

	loggers, err := SetupLogging(&bytes.Buffer{}, "warn", true)
	require.NoError(t, err)
	require.NotNil(t, loggers.YTLogger)
}
