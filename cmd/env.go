package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ytsaurus/ytsaurus-harness/pkg/environment"
	"github.com/ytsaurus/ytsaurus-harness/pkg/runcontext"
)

const (
	pidFileName     = "env.pid"
	lockRetryDelay  = 100 * time.Millisecond
	defaultDownWait = time.Minute
)

func newEnvCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Run a sandbox cluster for manual debugging",
	}
	cmd.AddCommand(newEnvUpCommand(opts), newEnvDownCommand())
	return cmd
}

func newEnvUpCommand(opts *RootOptions) *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start a sandbox and keep it running until interrupted or env down",
		Args:  usageArgs(cobra.NoArgs),
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			spec := environment.DefaultClusterSpec()
			if specPath != "" {
				var err error
				if spec, err = environment.LoadClusterSpec(specPath); err != nil {
					return &usageError{err: err}
				}
			}
			config, err := runcontext.LoadConfig()
			if err != nil {
				return &usageError{err: err}
			}
			return runEnvUp(cmd, opts, config, spec)
		}),
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "cluster spec YAML file")
	return cmd
}

func runEnvUp(cmd *cobra.Command, opts *RootOptions, config runcontext.Config, spec environment.ClusterSpec) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	lock, err := lockPidFile(config.SandboxDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(lock.Path())
		err = errors.Join(err, lock.Unlock())
	}()

	rc, err := runcontext.New(config, runcontext.WithLogWriter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	failed := true
	defer func() {
		err = errors.Join(err, rc.Close(failed))
	}()

	env, err := environment.Prepare(ctx, spec, rc)
	if err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, config.StartTimeout.Duration)
	defer cancel()
	if err := env.Start(startCtx); err != nil {
		return errors.Join(err, env.Stop(context.Background(), true))
	}
	if err := opts.print(cmd, env.Endpoints()); err != nil {
		return errors.Join(err, env.Stop(context.Background(), true))
	}

	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), config.StopTimeout.Duration)
	defer cancelStop()
	healthErr := env.CheckHealth()
	failed = healthErr != nil
	return errors.Join(healthErr, env.Stop(stopCtx, failed))
}

// lockPidFile takes the sandbox pid file so that env down can find the
// process and wait for it to release the lock.
func lockPidFile(sandboxDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(sandboxDir, pidFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another sandbox is running (%s is locked)", lock.Path())
	}
	if err := os.WriteFile(lock.Path(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, errors.Join(err, lock.Unlock())
	}
	return lock, nil
}

func newEnvDownCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the sandbox started by env up",
		Args:  usageArgs(cobra.NoArgs),
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			config, err := runcontext.LoadConfig()
			if err != nil {
				return &usageError{err: err}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return stopSandbox(ctx, filepath.Join(config.SandboxDir, pidFileName))
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultDownWait, "how long to wait for the sandbox to stop")
	return cmd
}

func stopSandbox(ctx context.Context, pidPath string) error {
	data, err := os.ReadFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no sandbox is running (%s not found)", pidPath)
	}
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("malformed pid file %s: %w", pidPath, err)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal sandbox process %d: %w", pid, err)
	}
	lock := flock.New(pidPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("sandbox process %d did not stop: %w", pid, err)
	}
	if !locked {
		return nil
	}
	_ = os.Remove(pidPath)
	return lock.Unlock()
}
