package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytfake"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, env map[string]string, stdin string, args ...string) result {
	t.Helper()
	cmd := NewRootCommand(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	})
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	code := ExitOK
	if err != nil {
		code = ExitCommandError
		if !isCommandError(err) {
			code = ExitUsageError
		}
	}
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func startFake(t *testing.T) map[string]string {
	t.Helper()
	cluster := ytfake.New()
	cluster.Start()
	t.Cleanup(cluster.Close)
	return map[string]string{consts.EnvYPAddress: cluster.Proxy(), consts.EnvYTAddress: cluster.Proxy()}
}

func TestExecuteUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, ExitUsageError, Execute(context.Background(), []string{"no-such-command"}, nil, &stdout, &stderr))
	require.Equal(t, ExitUsageError, Execute(context.Background(), []string{"get", "pod"}, nil, &stdout, &stderr))
	require.Equal(t, ExitUsageError, Execute(context.Background(), []string{"version", "--no-such-flag"}, nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Error:")
}

func TestFormatIsValidated(t *testing.T) {
	env := startFake(t)
	res := run(t, env, "", "--format", "xml", "select", "pod")
	require.Equal(t, ExitUsageError, res.code)
}

func TestMissingAddress(t *testing.T) {
	res := run(t, nil, "", "select", "pod")
	require.Equal(t, ExitUsageError, res.code)
}

func TestPodLifecycle(t *testing.T) {
	env := startFake(t)

	res := run(t, env, "", "create", "pod_set", "--attributes", `{meta={id=ps}}`)
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "ps")

	res = run(t, env, `{meta={id=node1}; labels={segment=default}}`, "create", "node")
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = run(t, env, "", "create", "resource", "--attributes",
		`{meta={node_id=node1}; spec={cpu={total_capacity=1000}; memory={total_capacity=1000000}}}`)
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = run(t, env, "", "update-hfsm-state", "node1", "up", "test")
	require.Equal(t, ExitOK, res.code, res.stderr)

	res = run(t, env, "", "create", "pod", "--attributes", `{meta={id=pod1; pod_set_id=ps}}`)
	require.Equal(t, ExitOK, res.code, res.stderr)

	res = run(t, env, "", "--format", "json", "get", "pod", "pod1", "/meta/id", "/status/scheduling/node_id")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.JSONEq(t, `["pod1", "node1"]`, res.stdout)

	res = run(t, env, "", "select", "pod", "--filter", `[/meta/pod_set_id] = "ps"`)
	require.Equal(t, ExitOK, res.code, res.stderr)
	rows := ytree.MustParse(res.stdout)
	require.Equal(t, 1, rows.Len())
	require.Equal(t, "pod1", rows.Index(0).Index(0).Str())

	for _, command := range []string{"request-eviction", "abort-eviction", "request-eviction", "acknowledge-eviction"} {
		res = run(t, env, "", command, "pod1", "test")
		require.Equal(t, ExitOK, res.code, "%s: %s", command, res.stderr)
	}

	res = run(t, env, "", "abort-eviction", "pod1")
	require.Equal(t, ExitCommandError, res.code)
}

func TestPermissions(t *testing.T) {
	env := startFake(t)

	res := run(t, env, "", "create", "user", "--attributes", `{meta={id=alice}}`)
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = run(t, env, "", "create", "pod_set", "--attributes",
		`{meta={id=ps; acl=[{action=allow; permissions=[read]; subjects=[alice]}]}}`)
	require.Equal(t, ExitOK, res.code, res.stderr)

	res = run(t, env, "", "check-object-permission", "pod_set", "ps", "alice", "read")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Equal(t, "allow", ytree.MustParse(res.stdout).Get("action").Str())

	res = run(t, env, "", "check-object-permission", "pod_set", "ps", "alice", "write")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Equal(t, "deny", ytree.MustParse(res.stdout).Get("action").Str())

	res = run(t, env, "", "get-object-access-allowed-for", "pod_set", "ps", "read")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "alice")

	res = run(t, env, "", "get-user-access-allowed-to", "alice", "pod_set", "read")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "ps")

	res = run(t, env, "", "check-permission", "root", "write", "//tmp")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Equal(t, "allow", ytree.MustParse(res.stdout).Get("action").Str())
}

func TestCommandErrorExitCode(t *testing.T) {
	env := startFake(t)
	res := run(t, env, "", "get", "pod", "missing")
	require.Equal(t, ExitCommandError, res.code)
}

func TestStopSandbox(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, pidFileName)

	_, err := os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
	require.Error(t, stopSandbox(context.Background(), pidPath))

	// A stale pid file of a finished process is cleaned up.
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(1<<22)), 0o644))
	require.NoError(t, stopSandbox(context.Background(), pidPath))
	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))

	// A running sandbox holds the lock.
	lock, err := lockPidFile(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Unlock() })
	other := flock.New(pidPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.False(t, locked)
}

func TestVersion(t *testing.T) {
	res := run(t, nil, "", "version")
	require.Equal(t, ExitOK, res.code)
	require.True(t, strings.HasSuffix(res.stdout, "\n"))
}
