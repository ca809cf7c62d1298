package latency

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	return NewRecorder(filepath.Join(t.TempDir(), "latency.log"))
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func TestMeasure_ReturnsValueAndAppends(t *testing.T) {
	r := newTestRecorder(t)

	for _, want := range []string{"hello", ""} {
		got, err := Measure(context.Background(), r, func() (string, error) {
			return want, nil
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 2, countLines(t, r.Path()))
}

func TestMeasure_PropagatesError(t *testing.T) {
	r := newTestRecorder(t)
	boom := errors.New("boom")

	got, err := Measure(context.Background(), r, func() (int, error) {
		return 7, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 7, got)
	assert.Equal(t, 1, countLines(t, r.Path()))
}

func TestMeasure_RecordFailureDoesNotMaskResult(t *testing.T) {
	// 目录无法作为文件追加
	r := NewRecorder(t.TempDir())

	got, err := Measure(context.Background(), r, func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestMeasure_ElapsedSeconds(t *testing.T) {
	r := newTestRecorder(t)
	base := time.Unix(1700000000, 0)
	ticks := []time.Time{base, base.Add(250 * time.Millisecond)}
	r.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	_, err := Measure(context.Background(), r, func() (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)

	values, skipped, err := r.Values()
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []float64{0.25}, values)
}

func TestSummarize_Empty(t *testing.T) {
	r := newTestRecorder(t)
	assert.Equal(t, StateEmpty, r.Summarize().State)

	require.NoError(t, os.WriteFile(r.Path(), nil, 0o644))
	assert.Equal(t, StateEmpty, r.Summarize().State)
}

func TestSummarize_Percentiles(t *testing.T) {
	r := newTestRecorder(t)
	for _, v := range []float64{0.100, 0.010, 0.040, 0.020, 0.030} {
		require.NoError(t, r.Append(v))
	}

	report := r.Summarize()
	require.Equal(t, StateReady, report.State)

	s := report.Summary
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 10, s.Min, 1e-9)
	assert.InDelta(t, 100, s.Max, 1e-9)
	assert.InDelta(t, 30, s.P50, 1e-9)
	assert.InDelta(t, 76, s.P90, 1e-9)
	assert.InDelta(t, 88, s.P95, 1e-9)
	assert.InDelta(t, 97.6, s.P99, 1e-9)
}

func TestSummarize_SkipsMalformedLines(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, os.WriteFile(r.Path(), []byte("0.5\nabc\n\n1.5\r\n"), 0o644))

	report := r.Summarize()
	require.Equal(t, StateReady, report.State)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Summary.Count)
	assert.InDelta(t, 1000, report.Summary.P50, 1e-9)
}

func TestSummarize_SkipsNonFiniteLines(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, os.WriteFile(r.Path(), []byte("NaN\n0.01\nInf\n0.03\n"), 0o644))

	report := r.Summarize()
	require.Equal(t, StateReady, report.State)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Summary.Count)
	assert.InDelta(t, 10, report.Summary.Min, 1e-9)
	assert.InDelta(t, 30, report.Summary.Max, 1e-9)
	assert.InDelta(t, 20, report.Summary.P50, 1e-9)
}

func TestSummarize_Unavailable(t *testing.T) {
	r := NewRecorder(t.TempDir())
	report := r.Summarize()
	assert.Equal(t, StateUnavailable, report.State)
	assert.NotEmpty(t, report.Reason)
}

func TestReset(t *testing.T) {
	r := newTestRecorder(t)

	// 文件不存在时也不报错
	require.NoError(t, r.Reset())
	require.NoError(t, r.Reset())

	require.NoError(t, r.Append(0.1))
	require.Equal(t, StateReady, r.Summarize().State)

	require.NoError(t, r.Reset())
	assert.Equal(t, StateEmpty, r.Summarize().State)
}

func TestMeasure_Concurrent(t *testing.T) {
	r := newTestRecorder(t)
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = Measure(context.Background(), r, func() (int, error) {
				return i, nil
			})
		}(i)
	}
	wg.Wait()

	values, skipped, err := r.Values()
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Len(t, values, n)
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 5, Percentile([]float64{5}, 99), 1e-9)
	assert.InDelta(t, 1.5, Percentile([]float64{1, 2}, 50), 1e-9)
	assert.InDelta(t, 2, Percentile([]float64{1, 2}, 100), 1e-9)
	assert.InDelta(t, 1, Percentile([]float64{1, 2}, 0), 1e-9)
}

type brokenMeter struct {
	noop.Meter
}

func (brokenMeter) Float64Histogram(name string, options ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return nil, errors.New("instrument rejected")
}

func TestWithMeter_HistogramErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// WithMeter 在 WithLogger 之前也要使用指定的日志
	r := NewRecorder(filepath.Join(t.TempDir(), "latency.log"), WithMeter(brokenMeter{}), WithLogger(logger))
	assert.Contains(t, buf.String(), "instrument rejected")

	got, err := Measure(context.Background(), r, func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, countLines(t, r.Path()))
}
