package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/flowload/internal/config"
	"github.com/wesleyorama2/flowload/internal/engine"
	"github.com/wesleyorama2/flowload/internal/output"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the template API",
		Long: `Run the create-then-poll workflow along a ramping VU schedule.

Settings come from the config file (or the built-in reference profile),
then environment variables (API_URL, FLOWLOAD_*), then flags.

  flowload run
  flowload run --config load.yaml
  flowload run --url http://localhost:60013/graphql --stages "30s:50,1m:50,30s:0"

The exit status is 0 when every threshold passes, 99 when any threshold
fails and 1 on configuration or startup errors.`,
		Args: cobra.NoArgs,
		RunE: runLoad,
	}

	cmd.Flags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().String("url", "", "GraphQL endpoint")
	cmd.Flags().String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	cmd.Flags().String("timeout", "", "Per-request timeout (e.g. 10s)")
	cmd.Flags().String("graceful-stop", "", "Time allowed for in-flight iterations after the schedule ends")
	cmd.Flags().Float64("max-rps", 0, "Cap on total requests per second (0 = unlimited)")
	cmd.Flags().String("throughput-mode", "", "instant_rps sampling: opportunistic or timer")
	cmd.Flags().StringArray("threshold", nil, "Threshold as 'metric=expression', repeatable; replaces the metric's thresholds")
	cmd.Flags().String("summary", "", "Full summary output file (.json or .yaml)")
	cmd.Flags().String("metrics", "", "instant_rps series output file (.json or .yaml)")
	cmd.Flags().String("html", "", "HTML report output file")
	cmd.Flags().String("history", "", "Run history database file")
	cmd.Flags().String("telemetry-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, show only the verdict")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig(cmd, os.LookupEnv)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	console := output.NewConsole(output.ConsoleConfig{
		Name:          cfg.Name,
		TotalDuration: cfg.TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         quiet,
		NoColor:       noColor,
	})

	eng, err := engine.NewEngine(cfg, engine.Options{
		Logger:     logger,
		OnProgress: console.Update,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console.PrintHeader(cfg.Target.URL, len(cfg.Stages))

	result, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	console.PrintSummary(result.Summary)
	if result.WriteErr != nil {
		logger.Warn("some reports were not written", zap.Error(result.WriteErr))
	}

	if !result.Passed {
		return &ExitError{
			Code: ExitThresholdsFailed,
			Err:  fmt.Errorf("%d of %d thresholds failed", len(result.Summary.Failed()), len(result.Summary.Thresholds)),
		}
	}
	return nil
}

// loadRunConfig layers the config file (or defaults), the environment and
// the command flags, in that order.
func loadRunConfig(cmd *cobra.Command, lookup func(string) (string, bool)) (*config.Config, error) {
	flags := cmd.Flags()

	var cfg *config.Config
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if flags.Changed("url") {
		cfg.Target.URL, _ = flags.GetString("url")
	}
	if flags.Changed("stages") {
		v, _ := flags.GetString("stages")
		stages, err := config.ParseStages(v)
		if err != nil {
			return nil, fmt.Errorf("--stages: %w", err)
		}
		cfg.Stages = stages
	}
	if flags.Changed("timeout") {
		v, _ := flags.GetString("timeout")
		d, err := config.ParseDurationString(v)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Target.Timeout = config.Duration(d)
	}
	if flags.Changed("graceful-stop") {
		v, _ := flags.GetString("graceful-stop")
		d, err := config.ParseDurationString(v)
		if err != nil {
			return nil, fmt.Errorf("--graceful-stop: %w", err)
		}
		cfg.GracefulStop = config.Duration(d)
	}
	if flags.Changed("max-rps") {
		cfg.Target.MaxRPS, _ = flags.GetFloat64("max-rps")
	}
	if flags.Changed("throughput-mode") {
		cfg.Throughput.Mode, _ = flags.GetString("throughput-mode")
	}
	if flags.Changed("threshold") {
		values, _ := flags.GetStringArray("threshold")
		overrides, err := parseThresholdFlags(values)
		if err != nil {
			return nil, err
		}
		if cfg.Thresholds == nil {
			cfg.Thresholds = make(map[string][]string)
		}
		for metric, exprs := range overrides {
			cfg.Thresholds[metric] = exprs
		}
	}

	outputs := map[string]*string{
		"summary":        &cfg.Output.Summary,
		"metrics":        &cfg.Output.Metrics,
		"html":           &cfg.Output.HTML,
		"history":        &cfg.Output.History,
		"telemetry-addr": &cfg.Telemetry.Addr,
	}
	for name, dst := range outputs {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	return cfg, nil
}

// parseThresholdFlags groups "metric=expression" values by metric.
func parseThresholdFlags(values []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, v := range values {
		metric, expr, ok := strings.Cut(v, "=")
		metric = strings.TrimSpace(metric)
		expr = strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return nil, fmt.Errorf("--threshold: expected 'metric=expression', got %q", v)
		}
		out[metric] = append(out[metric], expr)
	}
	return out, nil
}
