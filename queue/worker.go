// Package queue 从 Redis 列表消费识别任务，结果写回另一个列表。
//
// 任务与结果都是 JSON，图片字段为 base64 编码。
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/getcharzp/receipt-ocr/recognizer"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultJobsKey    = "receipt-ocr:jobs"
	DefaultResultsKey = "receipt-ocr:results"

	StatusSuccess     = "success"
	StatusError       = "error"
	StatusUnavailable = "unavailable"

	popTimeout          = 5 * time.Second
	writeTimeout        = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

// errDrained Stop 之后进行中的任务超过等待时间
var errDrained = errors.New("消费者已停止")

// Job 识别任务
type Job struct {
	ID    string `json:"id"`
	Image []byte `json:"image"`
}

// Result 识别结果
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
}

// Recognizer 整图识别
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Config 队列配置
type Config struct {
	RedisURL    string
	JobsKey     string
	ResultsKey  string
	Concurrency int
	Timeout     time.Duration // 单个任务超时，0 表示不限制
	// Stop 之后等待进行中任务的时间，超时的任务放回队列
	DrainTimeout time.Duration
}

type client interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// Worker Redis 队列消费者
type Worker struct {
	client     client
	recognizer Recognizer
	cfg        Config
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option 可选参数
type Option func(*Worker)

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker 连接 Redis 并创建消费者
func NewWorker(ctx context.Context, rec Recognizer, cfg Config, options ...Option) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("未指定 Redis 地址")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("解析 Redis 地址失败: %w", err)
	}

	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return newWorker(c, rec, cfg, options...), nil
}

func newWorker(c client, rec Recognizer, cfg Config, options ...Option) *Worker {
	if cfg.JobsKey == "" {
		cfg.JobsKey = DefaultJobsKey
	}
	if cfg.ResultsKey == "" {
		cfg.ResultsKey = DefaultResultsKey
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	w := &Worker{
		client:     c,
		recognizer: rec,
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Start 启动 Concurrency 个消费协程
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("队列消费者启动", "concurrency", w.cfg.Concurrency, "queue", w.cfg.JobsKey)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop 停止取新任务，等待进行中的任务写回结果后关闭连接
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.client.Close()
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With("worker", id)

	for ctx.Err() == nil {
		err := w.processNext(ctx)
		if err == nil || errors.Is(err, redis.Nil) {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		logger.Warn("处理任务失败", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

// processNext 阻塞获取一个任务并写回结果，队列为空时返回 redis.Nil
func (w *Worker) processNext(ctx context.Context) error {
	values, err := w.client.BRPop(ctx, popTimeout, w.cfg.JobsKey).Result()
	if err != nil {
		return err
	}
	// [key, value]
	if len(values) != 2 {
		return fmt.Errorf("BRPOP 返回值异常: %v", values)
	}

	payload := values[1]

	// 已取出的任务不随 Stop 立即取消，最多再运行 DrainTimeout
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() {
		timer := time.AfterFunc(w.cfg.DrainTimeout, func() { cancel(errDrained) })
		context.AfterFunc(jobCtx, func() { timer.Stop() })
	})
	defer stop()

	result := w.handle(jobCtx, []byte(payload))
	if errors.Is(context.Cause(jobCtx), errDrained) {
		w.logger.Warn("消费者停止，任务放回队列", "job_id", result.ID)
		return w.requeue(ctx, payload)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancelWrite()
	if err := w.client.LPush(writeCtx, w.cfg.ResultsKey, data).Err(); err != nil {
		if rerr := w.requeue(ctx, payload); rerr != nil {
			return errors.Join(fmt.Errorf("写回结果失败: %w", err), rerr)
		}
		return fmt.Errorf("写回结果失败, 任务已放回队列: %w", err)
	}
	return nil
}

// requeue 将原始任务放回队列的出队端，下次优先处理
func (w *Worker) requeue(ctx context.Context, payload string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := w.client.RPush(writeCtx, w.cfg.JobsKey, payload).Err(); err != nil {
		return fmt.Errorf("任务放回队列失败: %w", err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, payload []byte) Result {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Result{ID: uuid.NewString(), Status: StatusError, Error: fmt.Sprintf("任务解析失败: %v", err)}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := w.logger.With("job_id", job.ID)

	img, _, err := image.Decode(bytes.NewReader(job.Image))
	if err != nil {
		return Result{ID: job.ID, Status: StatusError, Error: fmt.Sprintf("图片解码失败: %v", err)}
	}

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := w.recognizer.Recognize(ctx, img)
	if err != nil {
		status := StatusError
		if errors.Is(err, recognizer.ErrModelUnavailable) {
			status = StatusUnavailable
		}
		logger.Warn("任务识别失败", "error", err)
		return Result{ID: job.ID, Status: status, Error: err.Error()}
	}

	logger.Info("任务完成", "duration", time.Since(start))
	return Result{ID: job.ID, Status: StatusSuccess, Text: text}
}
