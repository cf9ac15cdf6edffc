// Package cmd is the ytharness command line: thin wrappers over the driver
// commands plus sandbox management for manual debugging.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/runcontext"
	"github.com/ytsaurus/ytsaurus-harness/pkg/version"
)

const (
	ExitOK           = 0
	ExitCommandError = 1
	ExitUsageError   = 2
)

const (
	FormatYSON = "yson"
	FormatJSON = "json"
)

var validFormats = []string{FormatYSON, FormatJSON}

// targetAnnotation tells which address variable a command falls back to.
const (
	targetAnnotation = "target"
	targetYP         = "yp"
	targetYT         = "yt"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Address    string
	Token      string
	Format     string
	Attributes string
	LogLevel   string

	lookupEnv func(string) (string, bool)
	logger    logr.Logger
}

// usageError marks failures that exit with ExitUsageError.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// NewRootCommand builds the command tree. lookupEnv resolves the default
// address and token.
func NewRootCommand(lookupEnv func(string) (string, bool)) *cobra.Command {
	opts := &RootOptions{lookupEnv: lookupEnv, logger: logr.Discard()}

	cmd := &cobra.Command{
		Use:           "ytharness",
		Short:         "YT/YP integration test harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return usageErrorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			loggers, err := runcontext.SetupLogging(cmd.ErrOrStderr(), opts.LogLevel, false)
			if err != nil {
				return &usageError{err: err}
			}
			opts.logger = loggers.Logger
			cmd.SetContext(logr.NewContext(cmd.Context(), opts.logger))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.PersistentFlags().StringVar(&opts.Address, "address", "",
		fmt.Sprintf("cluster address (default $%s or $%s)", consts.EnvYPAddress, consts.EnvYTAddress))
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", fmt.Sprintf("auth token (default $%s)", consts.EnvYTToken))
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatYSON, "output format (yson|json)")
	cmd.PersistentFlags().StringVar(&opts.Attributes, "attributes", "", "object attributes as YSON; read from stdin when empty")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "error", "log level")

	cmd.AddCommand(ypCommands(opts)...)
	cmd.AddCommand(newCheckPermissionCommand(opts))
	cmd.AddCommand(newEnvCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(os.LookupEnv)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var usage *usageError
	if errors.As(err, &usage) || !isCommandError(err) {
		return ExitUsageError
	}
	return ExitCommandError
}

// commandError marks failures of the command itself, as opposed to cobra's
// own argument and flag errors.
type commandError struct {
	err error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func isCommandError(err error) bool {
	var ce *commandError
	return errors.As(err, &ce)
}

func runE(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil {
			return nil
		}
		var usage *usageError
		if errors.As(err, &usage) {
			return err
		}
		return &commandError{err: err}
	}
}

func (o *RootOptions) address(cmd *cobra.Command) (string, error) {
	if o.Address != "" {
		return o.Address, nil
	}
	names := []string{consts.EnvYTAddress}
	if cmd.Annotations[targetAnnotation] == targetYP {
		names = []string{consts.EnvYPAddress, consts.EnvYTAddress}
	}
	for _, name := range names {
		if v, ok := o.lookupEnv(name); ok && v != "" {
			return v, nil
		}
	}
	return "", usageErrorf("no cluster address: pass --address or set $%s", names[0])
}

func (o *RootOptions) driver(cmd *cobra.Command) (*driver.Driver, error) {
	address, err := o.address(cmd)
	if err != nil {
		return nil, err
	}
	token := o.Token
	if token == "" {
		token, _ = o.lookupEnv(consts.EnvYTToken)
	}
	return driver.New(cmd.Context(), driver.Config{
		Cluster: address,
		Proxy:   address,
		Token:   token,
	})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the harness version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersion())
		},
	}
}
