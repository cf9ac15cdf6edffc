package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func spawnShell(t *testing.T, script string) *Process {
	dir := t.TempDir()
	p, err := Spawn(context.Background(), SpawnOptions{
		Binary:     "sh",
		Args:       []string{"-c", script},
		Dir:        dir,
		StdoutPath: filepath.Join(dir, "stdout"),
		StderrPath: filepath.Join(dir, "stderr"),
		Role:       "test",
		RunID:      "run-test",
	})
	require.NoError(t, err)
	return p
}

func TestSpawnCapturesOutput(t *testing.T) {
	p := spawnShell(t, "echo out; echo err >&2; exit 3")
	status, err := p.Wait(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, status.Code)
	require.False(t, status.Success())
	require.False(t, p.Alive())

	out, err := os.ReadFile(p.StdoutPath)
	require.NoError(t, err)
	require.Equal(t, "out\n", string(out))
	errOut, err := os.ReadFile(p.StderrPath)
	require.NoError(t, err)
	require.Equal(t, "err\n", string(errOut))
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := Spawn(context.Background(), SpawnOptions{Binary: "definitely-not-a-binary-xyz"})
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, "definitely-not-a-binary-xyz", spawnErr.Binary)
}

func TestWaitTimeout(t *testing.T) {
	p := spawnShell(t, "sleep 30")
	_, err := p.Wait(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
	require.NoError(t, p.KillTree(time.Second))
	require.False(t, p.Alive())
}

func TestKillTreeReachesDescendants(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	p := spawnShell(t, "sleep 30 & echo $! > "+pidFile+"; wait")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		return err == nil && len(strings.TrimSpace(string(data))) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.KillTree(time.Second))
	status, ok := p.ExitStatus()
	require.True(t, ok)
	require.True(t, status.Signaled)
	require.True(t, p.Stopping())
}

func TestKillTreeEscalatesToSigkill(t *testing.T) {
	p := spawnShell(t, "trap '' TERM; sleep 30 & wait; sleep 30")
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.KillTree(200*time.Millisecond))
	status, ok := p.ExitStatus()
	require.True(t, ok)
	require.Equal(t, syscall.SIGKILL, status.Signal)
}

func TestCollectCores(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "master", "0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "master", "0", "core.1234"), []byte("core"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "stderr"), []byte("log"), 0o644))

	cores, err := CollectCores([]string{src, filepath.Join(src, "missing")}, dst)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dst, "core.1234")}, cores)
	_, err = os.Stat(filepath.Join(src, "master", "0", "core.1234"))
	require.True(t, os.IsNotExist(err))
}

func TestFindLeftovers(t *testing.T) {
	proc := t.TempDir()
	writeProc := func(pid, cmdline, environ string) {
		dir := filepath.Join(proc, pid)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "environ"), []byte(environ), 0o644))
	}
	writeProc("100", "/bin/ytserver-master\x00--config\x00c", MarkerEnv+"=old-run\x00HOME=/")
	writeProc("101", "/bin/ytserver-node\x00", MarkerEnv+"=current\x00")
	writeProc("102", "/bin/ytserver-node\x00", "HOME=/\x00")
	writeProc("103", "/usr/bin/bash\x00", MarkerEnv+"=old-run\x00")

	found, err := FindLeftovers(proc, []string{"ytserver-"}, "current")
	require.NoError(t, err)
	require.Equal(t, []LeftoverProcess{{Pid: 100, Name: "ytserver-master"}}, found)
}
