package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"
)

// htmlData contains everything the HTML template renders.
type htmlData struct {
	*Summary
	Names      []string
	SeriesJSON template.JS
}

// GenerateHTML renders the summary and throughput series as a standalone
// HTML page and writes it to outputPath.
func GenerateHTML(summary *Summary, series *Series, outputPath string) error {
	html, err := GenerateHTMLString(summary, series)
	if err != nil {
		return &WriteError{Path: outputPath, Err: err}
	}
	return writeRaw(outputPath, []byte(html))
}

// GenerateHTMLString renders the HTML report.
func GenerateHTMLString(summary *Summary, series *Series) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("summary cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	points := []Point{}
	if series != nil && series.Points != nil {
		points = series.Points
	}
	seriesJSON, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("failed to convert series: %w", err)
	}

	data := htmlData{
		Summary:    summary,
		Names:      summary.MetricNames(),
		SeriesJSON: template.JS(seriesJSON),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatValue":    formatValue,
		"add":            func(a, b float64) float64 { return a + b },
		"metric":         func(s *Summary, name string) *Metric { return s.Metrics[name] },
		"stat": func(m *Metric, name string) string {
			v, ok := m.Values[name]
			if !ok {
				return "-"
			}
			return formatValue(m, v)
		},
	}
}

// formatDuration formats milliseconds in a human-readable way.
func formatDuration(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// formatValue formats a metric value according to what the metric contains.
func formatValue(m *Metric, v float64) string {
	switch {
	case m.Type == TypeRate:
		return fmt.Sprintf("%.2f%%", v*100)
	case m.Contains == "time":
		return fmt.Sprintf("%.2fms", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Name}} - Load Report</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: #f8fafc; color: #1e293b; margin: 2rem; }
table { border-collapse: collapse; width: 100%; background: #fff; }
th, td { padding: .4rem .8rem; border-bottom: 1px solid #e2e8f0; text-align: right; }
th:first-child, td:first-child { text-align: left; }
.pass { color: #22c55e; } .fail { color: #ef4444; }
.chart { height: 320px; margin: 2rem 0; background: #fff; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p>Run {{.RunID}} &middot; {{.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{formatDuration .DurationMs}} &middot; peak {{.PeakVUs}} VUs
&middot; {{if .Passed}}<span class="pass">PASSED</span>{{else}}<span class="fail">FAILED</span>{{end}}</p>

{{if .Thresholds}}
<h2>Thresholds</h2>
<table>
<tr><th>Metric</th><th>Expression</th><th>Value</th><th>Result</th></tr>
{{range .Thresholds}}<tr><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Value}}</td>
<td>{{if .Passed}}<span class="pass">ok</span>{{else}}<span class="fail">{{.Message}}</span>{{end}}</td></tr>
{{end}}</table>
{{end}}

<h2>Metrics</h2>
<table>
<tr><th>Metric</th><th>count</th><th>avg</th><th>min</th><th>med</th><th>max</th><th>p(90)</th><th>p(95)</th><th>p(99)</th></tr>
{{range .Names}}{{$m := metric $.Summary .}}<tr><td>{{.}}</td>
{{if eq $m.Type "rate"}}<td colspan="8">{{stat $m "rate"}} ({{index $m.Values "passes"}} of {{add (index $m.Values "passes") (index $m.Values "fails")}})</td>
{{else if $m.Empty}}<td>0</td><td colspan="7">no samples</td>
{{else}}<td>{{index $m.Values "count"}}</td><td>{{stat $m "avg"}}</td><td>{{stat $m "min"}}</td><td>{{stat $m "med"}}</td><td>{{stat $m "max"}}</td><td>{{stat $m "p(90)"}}</td><td>{{stat $m "p(95)"}}</td><td>{{stat $m "p(99)"}}</td>
{{end}}</tr>
{{end}}</table>

<h2>Instant throughput</h2>
<div class="chart"><canvas id="rpsChart"></canvas></div>
<script>
const points = {{.SeriesJSON}};
new Chart(document.getElementById('rpsChart'), {
  type: 'line',
  data: {
    labels: points.map(p => new Date(p.time).toLocaleTimeString()),
    datasets: [{ label: 'instant_rps', data: points.map(p => p.value), borderColor: '#3b82f6', pointRadius: 0 }]
  },
  options: { maintainAspectRatio: false, animation: false }
});
</script>
</body>
</html>
`
