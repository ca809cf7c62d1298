package latency

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/getcharzp/receipt-ocr/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultPath 默认延迟日志文件
const DefaultPath = "inference_latency.log"

// State 汇总状态
type State string

const (
	StateReady       State = "ready"
	StateEmpty       State = "empty"       // 尚无记录
	StateUnavailable State = "unavailable" // 日志无法读取
)

// Summary 延迟统计，单位毫秒
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Report 汇总结果，State 不为 StateReady 时 Summary 为零值
type Report struct {
	State   State   `json:"state"`
	Summary Summary `json:"summary"`
	Reason  string  `json:"reason,omitempty"`
	Skipped int     `json:"skipped,omitempty"` // 无法解析的行数
}

// Recorder 进程级延迟日志，追加与清空互斥，可并发使用
type Recorder struct {
	mu        sync.Mutex
	path      string
	logger    *slog.Logger
	meter     metric.Meter
	histogram metric.Float64Histogram
	now       func() time.Time
}

// Option 可选参数
type Option func(*Recorder)

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMeter 同时把每次耗时记录到 OpenTelemetry 直方图
func WithMeter(meter metric.Meter) Option {
	return func(r *Recorder) {
		r.meter = meter
	}
}

// NewRecorder 创建记录器，日志文件在首次追加时创建
func NewRecorder(path string, options ...Option) *Recorder {
	if path == "" {
		path = DefaultPath
	}
	r := &Recorder{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, option := range options {
		option(r)
	}
	if r.meter == nil {
		r.meter = otel.Meter("github.com/getcharzp/receipt-ocr/latency")
	}
	h, err := r.meter.Float64Histogram("receipt_ocr.recognize.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of one recognition call"),
	)
	if err != nil {
		r.logger.Warn("创建耗时直方图失败，仅写入日志文件", "error", err)
	} else {
		r.histogram = h
	}
	return r
}

// Path 日志文件路径
func (r *Recorder) Path() string {
	return r.path
}

// Measure 执行 fn 并记录耗时（秒），原样返回 fn 的结果；记录失败只写日志
func Measure[R any](ctx context.Context, r *Recorder, fn func() (R, error)) (R, error) {
	start := r.now()
	result, err := fn()
	elapsed := r.now().Sub(start).Seconds()

	if recErr := r.Append(elapsed); recErr != nil {
		r.logger.Warn("记录延迟失败", "path", r.path, "error", recErr)
	}
	if r.histogram != nil {
		r.histogram.Record(ctx, elapsed)
	}
	return result, err
}

// Append 追加一条记录，整行一次写入
func (r *Recorder) Append(seconds float64) error {
	line := strconv.FormatFloat(seconds, 'f', -1, 64) + "\n"

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开延迟日志失败: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("写入延迟日志失败: %w", err)
	}
	return f.Close()
}

// Values 读取全部记录（秒）
func (r *Recorder) Values() ([]float64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	return util.ParseFloats(f)
}

// Summarize 统计全部记录，不返回错误
func (r *Recorder) Summarize() Report {
	values, skipped, err := r.Values()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Report{State: StateEmpty, Reason: "延迟日志尚未创建"}
		}
		return Report{State: StateUnavailable, Reason: err.Error()}
	}
	if len(values) == 0 {
		return Report{State: StateEmpty, Reason: "延迟日志为空", Skipped: skipped}
	}

	ms := make([]float64, len(values))
	for i, v := range values {
		ms[i] = v * 1000
	}

	return Report{
		State:   StateReady,
		Summary: Summarize(ms),
		Skipped: skipped,
	}
}

// Reset 清空日志，文件不存在时创建空文件
func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.WriteFile(r.path, nil, 0o644); err != nil {
		return fmt.Errorf("清空延迟日志失败: %w", err)
	}
	return nil
}

// Summarize 计算 count/min/max 及 P50/P90/P95/P99，values 不可为空
func Summarize(values []float64) Summary {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   Percentile(sorted, 50),
		P90:   Percentile(sorted, 90),
		P95:   Percentile(sorted, 95),
		P99:   Percentile(sorted, 99),
	}
}

// Percentile 线性插值分位数，sorted 须已升序
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
