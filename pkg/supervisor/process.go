package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// MarkerEnv is set in every child so leftovers of aborted runs can be found.
const MarkerEnv = "YTHARNESS_SUPERVISED"

var ErrWaitTimeout = errors.New("timed out waiting for process exit")

// SpawnError is returned when the binary cannot be executed.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

type SpawnOptions struct {
	Binary     string
	Args       []string
	Env        []string
	Dir        string
	StdoutPath string
	StderrPath string
	// CoreLimit is applied as RLIMIT_CORE; nil means unlimited.
	CoreLimit *uint64
	Role      string
	Index     int
	// RunID tags the process for leftover cleanup.
	RunID string
}

type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

func (s ExitStatus) Success() bool { return !s.Signaled && s.Code == 0 }

func (s ExitStatus) String() string {
	if s.Signaled {
		return "killed by " + s.Signal.String()
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Process is one supervised child running in its own process group.
type Process struct {
	Role       string
	Index      int
	StdoutPath string
	StderrPath string

	cmd    *exec.Cmd
	pgid   int
	logger logr.Logger

	done   chan struct{}
	mu     sync.Mutex
	status ExitStatus
	err    error
	// stopping is set before an intentional stop so the exit is not reported as a crash.
	stopping bool
}

// Spawn starts the binary in a new process group with stdout and stderr
// going straight to files.
func Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("role", opts.Role, "index", opts.Index)

	binary, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}

	stdout, err := openSink(opts.StdoutPath)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()
	stderr, err := openSink(opts.StderrPath)
	if err != nil {
		return nil, err
	}
	defer stderr.Close()

	cmd := exec.Command(binary, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(append([]string{}, opts.Env...), MarkerEnv+"="+opts.RunID)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}

	limit := ^uint64(0)
	if opts.CoreLimit != nil {
		limit = *opts.CoreLimit
	}
	rlimit := unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Prlimit(cmd.Process.Pid, unix.RLIMIT_CORE, &rlimit, nil); err != nil {
		logger.V(1).Info("Failed to set core limit", "error", err)
	}

	p := &Process{
		Role:       opts.Role,
		Index:      opts.Index,
		StdoutPath: opts.StdoutPath,
		StderrPath: opts.StderrPath,
		cmd:        cmd,
		pgid:       cmd.Process.Pid,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go p.waitLoop()
	logger.Info("Process started", "pid", p.Pid(), "binary", binary)
	return p, nil
}

func openSink(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	status := ExitStatus{Code: -1}
	if ps := p.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			status.Code = 0
			if ws.Signaled() {
				status.Signaled = true
				status.Signal = ws.Signal()
			} else {
				status.Code = ws.ExitStatus()
			}
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	p.mu.Lock()
	p.status = status
	p.err = err
	stopping := p.stopping
	p.mu.Unlock()
	close(p.done)

	if stopping {
		p.logger.Info("Process stopped", "pid", p.Pid(), "status", status.String())
	} else {
		p.logger.Info("Process exited unexpectedly", "pid", p.Pid(), "status", status.String())
	}
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitStatus returns the status of an exited process.
func (p *Process) ExitStatus() (ExitStatus, bool) {
	if p.Alive() {
		return ExitStatus{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, true
}

// Stopping reports whether the harness asked the process to stop.
func (p *Process) Stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Wait blocks until exit or timeout.
func (p *Process) Wait(timeout time.Duration) (ExitStatus, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.status, p.err
	case <-timer.C:
		return ExitStatus{}, ErrWaitTimeout
	}
}

// Signal delivers sig to the whole process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if !p.Alive() {
		return nil
	}
	err := unix.Kill(-p.pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// KillTree sends SIGTERM to the group and SIGKILL after grace.
func (p *Process) KillTree(grace time.Duration) error {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	if err := p.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	if _, err := p.Wait(grace); err == nil || !errors.Is(err, ErrWaitTimeout) {
		// Descendants may outlive the leader.
		_ = unix.Kill(-p.pgid, syscall.SIGKILL)
		return nil
	}
	p.logger.Info("Process did not stop in time, killing", "pid", p.Pid(), "grace", grace)
	if err := unix.Kill(-p.pgid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	_, err := p.Wait(grace)
	return err
}
