package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultMaxUpload = 32 << 20

// Recognizer 整图识别
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
	Available() bool
	Latency() *latency.Recorder
}

// Structurer 把识别文本解析为 JSON
type Structurer interface {
	Enabled() bool
	Structure(ctx context.Context, text string) (json.RawMessage, error)
}

// Server 收据扫描 HTTP 服务
type Server struct {
	recognizer Recognizer
	structurer Structurer
	logger     *slog.Logger
	maxUpload  int64
}

// Option 可选参数
type Option func(*Server)

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxUpload 上传文件大小上限
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

// New 创建服务，structurer 可以为 nil
func New(rec Recognizer, st Structurer, options ...Option) *Server {
	s := &Server{
		recognizer: rec,
		structurer: st,
		logger:     slog.Default(),
		maxUpload:  defaultMaxUpload,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Handler 路由
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(processTime)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})
	r.Get("/healthz", s.handleHealth)

	r.Post("/scan-ml", s.handleScanML)
	r.Post("/scan", s.handleScan)

	r.Get("/latency", s.handleLatency)
	r.Get("/lihat-log", s.handleLatency)

	r.Get("/latency/reset", s.handleLatencyReset)
	r.Post("/latency/reset", s.handleLatencyReset)
	r.Get("/reset-log", s.handleLatencyReset)

	return otelhttp.NewHandler(r, "receipt-ocr")
}

// ListenAndServe 启动服务，ctx 取消后优雅退出
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("服务启动", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
