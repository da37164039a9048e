package metrics

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.True(t, s.Empty)
	assert.Equal(t, 0, s.Count)
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Max)
	assert.Nil(t, s.Avg)
	assert.Nil(t, s.P95)

	_, ok := s.Stat("p(95)")
	assert.False(t, ok, "empty trend must not report a percentile")

	count, ok := s.Stat("count")
	assert.True(t, ok)
	assert.Equal(t, 0.0, count)
}

func TestSummarize_ConstantValues(t *testing.T) {
	sink := NewTrendSink()
	for i := 0; i < 37; i++ {
		sink.Record("latency", 42.5, nil)
	}

	s := sink.Summarize("latency")
	require.Equal(t, 37, s.Count)
	require.False(t, s.Empty)

	for _, name := range []string{"min", "max", "avg", "med", "p(90)", "p(95)", "p(99)"} {
		v, ok := s.Stat(name)
		require.True(t, ok, name)
		assert.InDelta(t, 42.5, v, 1e-9, name)
	}
}

func TestSummarize_NearestRank(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		values = append(values, float64(i))
	}

	s := Summarize(values)

	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 1.0, *s.Min)
	assert.Equal(t, 100.0, *s.Max)
	assert.Equal(t, 50.5, *s.Avg)
	assert.Equal(t, 50.0, *s.Med)
	assert.Equal(t, 90.0, *s.P90)
	assert.Equal(t, 95.0, *s.P95)
	assert.Equal(t, 99.0, *s.P99)
}

func TestSummarize_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.Float64() * 1000
	}
	first := Summarize(values)

	rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	second := Summarize(values)

	assert.Equal(t, first, second)
}

func TestSummarize_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(300)
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.ExpFloat64() * 250
		}

		s := Summarize(values)
		require.LessOrEqual(t, *s.Min, *s.Max)
		require.LessOrEqual(t, *s.Med, *s.P90)
		require.LessOrEqual(t, *s.P90, *s.P95)
		require.LessOrEqual(t, *s.P95, *s.P99)
		require.LessOrEqual(t, *s.Med, *s.P95)
		require.GreaterOrEqual(t, *s.Avg, *s.Min)
		require.LessOrEqual(t, *s.Avg, *s.Max)
	}
}

func TestSummarize_DoesNotModifyInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Summarize(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestPercentile_Bounds(t *testing.T) {
	sorted := []float64{10, 20, 30}

	assert.Equal(t, 10.0, Percentile(sorted, 0))
	assert.Equal(t, 10.0, Percentile(sorted, 0.2))
	assert.Equal(t, 20.0, Percentile(sorted, 0.5))
	assert.Equal(t, 30.0, Percentile(sorted, 1))
	assert.Equal(t, 30.0, Percentile(sorted, 1.5))
	assert.Equal(t, 0.0, Percentile(nil, 0.5))
}

func TestTrendSink_TagsAreCopied(t *testing.T) {
	sink := NewTrendSink()
	tags := map[string]string{"final": "COMPLETED"}
	sink.Record(MetricE2ETime, 10, tags)
	tags["final"] = "FAILED"

	samples := sink.Samples(MetricE2ETime)
	require.Len(t, samples, 1)
	assert.Equal(t, "COMPLETED", samples[0].Tags["final"])
}

func TestTrendSink_SummarizeWhere(t *testing.T) {
	sink := NewTrendSink()
	sink.Record(MetricE2ETime, 10, map[string]string{"final": "COMPLETED"})
	sink.Record(MetricE2ETime, 20, map[string]string{"final": "COMPLETED"})
	sink.Record(MetricE2ETime, 30000, map[string]string{"final": "PENDING", "timed_out": "true"})

	completed := sink.SummarizeWhere(MetricE2ETime, "final", "COMPLETED")
	assert.Equal(t, 2, completed.Count)
	assert.Equal(t, 20.0, *completed.Max)

	assert.Equal(t, []string{"COMPLETED", "PENDING"}, sink.TagValues(MetricE2ETime, "final"))
	assert.Empty(t, sink.TagValues(MetricE2ETime, "missing"))
}

func TestTrendSink_RecordDuration(t *testing.T) {
	sink := NewTrendSink()
	sink.RecordDuration(MetricCreateTime, 1500*time.Microsecond, nil)

	s := sink.Summarize(MetricCreateTime)
	require.Equal(t, 1, s.Count)
	assert.InDelta(t, 1.5, *s.Avg, 1e-9)
}

func TestTrendSink_Names(t *testing.T) {
	sink := NewTrendSink()
	sink.Record("b", 1, nil)
	sink.Record("a", 1, nil)
	sink.Record("b", 2, nil)

	assert.Equal(t, []string{"a", "b"}, sink.Names())
	assert.Equal(t, 0, sink.Count("c"))
	assert.Nil(t, sink.Samples("c"))
	assert.True(t, sink.Summarize("c").Empty)
}

func TestTrendSink_ConcurrentRecord(t *testing.T) {
	sink := NewTrendSink()

	const workers = 32
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sink.Record(MetricPollTime, float64(i), nil)
				if i%10 == 0 {
					sink.Record(MetricCreateTime, float64(w), nil)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, sink.Count(MetricPollTime))
	assert.Equal(t, workers*perWorker/10, sink.Count(MetricCreateTime))
}

func TestTrendSink_Quantile(t *testing.T) {
	sink := NewTrendSink()
	_, ok := sink.Quantile(MetricE2ETime, 0.95)
	assert.False(t, ok)

	for i := 100; i >= 1; i-- {
		sink.Record(MetricE2ETime, float64(i), nil)
	}
	v, ok := sink.Quantile(MetricE2ETime, 0.75)
	require.True(t, ok)
	assert.Equal(t, 75.0, v)
}
