package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/flowload/internal/mockserver"
)

func newMockServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve an in-memory template API for local runs",
		Long: `Serve createTemplate and getTemplate from memory. Templates move from
PENDING to GENERATING and reach COMPLETED (or FAILED) on a configurable poll.

  flowload mock-server --addr :60013
  flowload mock-server --polls-to-complete 5 --create-failure-ratio 0.05`,
		Args: cobra.NoArgs,
		RunE: runMockServer,
	}

	defaults := mockserver.DefaultConfig()
	cmd.Flags().String("addr", ":60013", "Listen address")
	cmd.Flags().Int("polls-to-complete", defaults.PollsToComplete, "Poll number at which a template becomes terminal")
	cmd.Flags().Bool("never-complete", false, "Keep every template in GENERATING")
	cmd.Flags().Float64("create-failure-ratio", 0, "Fraction of creates answered with HTTP 500")
	cmd.Flags().Float64("missing-id-ratio", 0, "Fraction of creates answered without a template id")
	cmd.Flags().Float64("failed-ratio", 0, "Fraction of templates that end FAILED")
	cmd.Flags().Duration("latency", 0, "Delay added to every response")
	return cmd
}

func runMockServer(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd, "info", "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")

	var cfg mockserver.Config
	cfg.PollsToComplete, _ = flags.GetInt("polls-to-complete")
	cfg.Never, _ = flags.GetBool("never-complete")
	cfg.CreateFailureRatio, _ = flags.GetFloat64("create-failure-ratio")
	cfg.MissingIDRatio, _ = flags.GetFloat64("missing-id-ratio")
	cfg.FailedRatio, _ = flags.GetFloat64("failed-ratio")
	cfg.Latency, _ = flags.GetDuration("latency")

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return mockserver.ListenAndServe(ctx, addr, mockserver.New(cfg, logger))
}
