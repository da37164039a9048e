package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/flowload/internal/logging"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "flowload",
		Short:   "Load generator for the create-then-poll template workflow",
		Version: version,
		Long: `flowload drives virtual users through the createTemplate / getTemplate
GraphQL workflow along a ramping schedule, measures creation, polling and
end-to-end latency, and checks the results against thresholds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newMockServerCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command line and reports errors on stderr. Failed
// thresholds are reported by the summary, not as an error message.
func Execute() error {
	err := NewRootCmd().ExecuteContext(context.Background())
	if err != nil && ExitCode(err) != ExitThresholdsFailed {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowload version %s\n", version)
		},
	}
}

// newLogger builds a logger from the persistent flags, falling back to the
// given level and format.
func newLogger(cmd *cobra.Command, level, format string) (*zap.Logger, error) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		format = v
	}
	return logging.NewWithWriter(level, format, cmd.ErrOrStderr())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
