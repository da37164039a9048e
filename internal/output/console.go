// Package output renders live progress and the end-of-run summary on the
// console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/flowload/internal/engine"
	"github.com/wesleyorama2/flowload/internal/report"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	ruleWidth      = 56
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Name          string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// Console manages console output during and after a run.
type Console struct {
	name   string
	total  time.Duration
	writer io.Writer
	isTTY  bool
	colors *ColorScheme
	plain  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer. Live redraws are only used when the
// writer is a terminal.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
		if cfg.ForceColors {
			colors.forceColor()
		}
	}

	return &Console{
		name:   cfg.Name,
		total:  cfg.TotalDuration,
		writer: cfg.Writer,
		isTTY:  isTTY,
		colors: colors,
		plain:  !useColors,
		quiet:  cfg.Quiet,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(target string, stages int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(ruleChar, ruleWidth)
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.name))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("Target:   %s", c.colors.Value.Sprint(target)))
	c.writeln(fmt.Sprintf("Schedule: %s in %d stages", c.colors.Value.Sprint(formatDuration(c.total)), stages))
	c.writeln("")
}

// Update shows a progress snapshot. On a terminal the previous snapshot is
// redrawn in place; otherwise a single status line is appended.
func (c *Console) Update(p engine.Progress) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(p))
		return
	}

	c.clearLive()
	lines := c.renderLive(p)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLive(p engine.Progress) []string {
	bar := renderProgressBar(p.Percent/100, 40)
	rate := c.colors.rateColor(p.FailureRate)

	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Success.Sprint(bar),
			c.colors.Title.Sprintf("%.0f%%", p.Percent),
			c.colors.Dim.Sprintf("%s / %s", formatDuration(p.Elapsed), formatDuration(p.Total))),
		fmt.Sprintf("Phase:    %s", c.colors.Highlight.Sprint(p.Phase)),
		fmt.Sprintf("VUs:      %s / %d", c.colors.Value.Sprint(p.ActiveVUs), p.TargetVUs),
		fmt.Sprintf("Requests: %s  failed %s (%s)",
			c.colors.Value.Sprint(formatNumber(p.Requests)),
			rate.Sprint(formatNumber(p.Failed)),
			rate.Sprintf("%.1f%%", p.FailureRate*100)),
		fmt.Sprintf("Iters:    %s  instant_rps %s",
			c.colors.Value.Sprint(formatNumber(p.Iterations)),
			c.colors.Value.Sprintf("%.0f", p.InstantRPS)),
	}
}

func (c *Console) statusLine(p engine.Progress) string {
	return fmt.Sprintf("[%s] %.0f%% | phase: %s | VUs: %d/%d | reqs: %d | failed: %d (%.1f%%) | iters: %d | instant_rps: %.0f",
		formatDuration(p.Elapsed),
		p.Percent,
		p.Phase,
		p.ActiveVUs,
		p.TargetVUs,
		p.Requests,
		p.Failed,
		p.FailureRate*100,
		p.Iterations,
		p.InstantRPS)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the end-of-run summary.
func (c *Console) PrintSummary(s *report.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if s.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(ruleChar, ruleWidth)
	status := c.colors.Success.Sprint("Completed " + SuccessIcon(c.plain))
	if !s.Passed {
		status = c.colors.Error.Sprint("Failed " + ErrorIcon(c.plain))
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(s.Name), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	duration := time.Duration(s.DurationMs * float64(time.Millisecond))
	c.writeln(fmt.Sprintf("Run:           %s", c.colors.Dim.Sprint(s.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(duration))))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", c.colors.Value.Sprint(s.PeakVUs)))
	if s.ForcedStop {
		c.writeln(c.colors.Warn.Sprint("Graceful stop expired, in-flight iterations were cancelled"))
	}
	c.writeln("")

	names := s.MetricNames()
	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	for _, name := range names {
		c.writeln(c.metricLine(name, s.Metrics[name], width))
	}
	c.writeln("")

	if len(s.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range s.Thresholds {
			icon := SuccessIcon(c.plain)
			if !t.Passed {
				icon = ErrorIcon(c.plain)
			}
			detail := "actual: " + t.Value
			if t.Message != "" {
				detail = t.Message
			}
			c.writeln(fmt.Sprintf("  %s %s %s (%s)", icon, t.Metric, t.Expression, detail))
		}
		c.writeln("")
	}
}

func (c *Console) metricLine(name string, m *report.Metric, width int) string {
	label := c.colors.Label.Sprint(name) + " " + strings.Repeat(".", width-len(name)+3) + ":"

	if m.Empty && m.Type != report.TypeCounter {
		return fmt.Sprintf("  %s %s", label, c.colors.Dim.Sprint("no samples"))
	}

	switch m.Type {
	case report.TypeRate:
		return fmt.Sprintf("  %s %s  %s out of %s",
			label,
			c.colors.rateColor(m.Values["rate"]).Sprintf("%.2f%%", m.Values["rate"]*100),
			formatNumber(int64(m.Values["fails"])),
			formatNumber(int64(m.Values["passes"]+m.Values["fails"])))
	case report.TypeCounter:
		return fmt.Sprintf("  %s %s  %s/s",
			label,
			c.colors.Value.Sprint(formatNumber(int64(m.Values["count"]))),
			c.colors.Value.Sprintf("%.2f", m.Values["rate"]))
	default:
		parts := make([]string, 0, len(trendColumns))
		for _, stat := range trendColumns {
			v, ok := m.Values[stat]
			if !ok {
				continue
			}
			contains := m.Contains
			if stat == "count" {
				contains = ""
			}
			parts = append(parts, stat+"="+c.colors.Value.Sprint(formatTrendValue(v, contains)))
		}
		return fmt.Sprintf("  %s %s", label, strings.Join(parts, " "))
	}
}

var trendColumns = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)", "count"}

func formatTrendValue(v float64, contains string) string {
	if contains == "time" {
		return formatMillis(v)
	}
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// PrintHistory prints stored runs, newest first.
func (c *Console) PrintHistory(records []report.HistoryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(records) == 0 {
		c.writeln("No runs recorded")
		return
	}

	for _, r := range records {
		icon := SuccessIcon(c.plain)
		if !r.Passed {
			icon = ErrorIcon(c.plain)
		}
		p95 := "n/a"
		if r.E2EP95 != nil {
			p95 = formatMillis(*r.E2EP95)
		}
		c.writeln(fmt.Sprintf("%s %s  %s  %s  %s  reqs=%s failed=%.2f%% iters=%s vus=%d e2e p(95)=%s",
			icon,
			c.colors.Dim.Sprint(r.StartTime.Format(time.RFC3339)),
			c.colors.Title.Sprint(r.Name),
			c.colors.Dim.Sprint(r.ID),
			formatDuration(time.Duration(r.DurationMs*float64(time.Millisecond))),
			formatNumber(r.Requests),
			r.FailureRate*100,
			formatNumber(r.Iterations),
			r.PeakVUs,
			p95))
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a value in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
