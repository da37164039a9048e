package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/wesleyorama2/flowload/internal/config"
	"github.com/wesleyorama2/flowload/internal/engine"
	"github.com/wesleyorama2/flowload/internal/graphql"
	"github.com/wesleyorama2/flowload/internal/metrics"
	"github.com/wesleyorama2/flowload/internal/report"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	summary, series := createSampleRun()
	if err := report.GenerateHTML(summary, series, outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

// createSampleRun fills the sinks with synthetic iterations and builds the
// report exactly as a real run would.
func createSampleRun() (*report.Summary, *report.Series) {
	end := time.Now()
	start := end.Add(-2 * time.Minute)

	trends := metrics.NewTrendSink()
	requests := metrics.NewEngine()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 5000; i++ {
		create := 20 + rng.ExpFloat64()*15
		ok := rng.Float64() > 0.01
		requests.RecordRequest(graphql.OpCreateTemplate, time.Duration(create*float64(time.Millisecond)), ok)
		trends.Record(metrics.MetricCreateTime, create, nil)
		requests.RecordIteration()
		if !ok {
			continue
		}

		polls := 1 + rng.IntN(4)
		var poll float64
		for p := 0; p < polls; p++ {
			d := 5 + rng.ExpFloat64()*5
			requests.RecordRequest(graphql.OpGetTemplate, time.Duration(d*float64(time.Millisecond)), true)
			poll += d + 50
		}
		trends.Record(metrics.MetricPollTime, poll, nil)

		final := "COMPLETED"
		if rng.Float64() < 0.02 {
			final = "FAILED"
		}
		trends.Record(metrics.MetricE2ETime, create+poll, map[string]string{"final": final})
	}

	for s := 0; s < 120; s++ {
		ramp := float64(min(s, 60)) / 60
		trends.Record(metrics.MetricInstantRPS, 20+ramp*60+rng.Float64()*10, nil)
	}

	summary := report.Build(report.RunInfo{
		ID:        "sample",
		Name:      "Template workflow - sample",
		StartTime: start,
		EndTime:   end,
		PeakVUs:   40,
		Spawned:   40,
	}, trends, requests)

	summary.ApplyThresholds(engine.EvaluateThresholds(config.DefaultThresholds(), summary, nil))

	return summary, report.ThroughputSeries(trends)
}
