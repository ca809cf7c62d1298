package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	ocr "github.com/getcharzp/receipt-ocr"
	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/structurer"
	"gopkg.in/yaml.v3"
)

// 环境变量
const (
	EnvAPIKey      = "GENAI_API_KEY"
	EnvAddress     = "RECEIPT_OCR_ADDRESS"
	EnvModel       = "RECEIPT_OCR_MODEL"
	EnvDetModel    = "RECEIPT_OCR_DET_MODEL"
	EnvLatencyLog  = "RECEIPT_OCR_LATENCY_LOG"
	EnvOnnxRuntime = "ONNXRUNTIME_LIB"
	EnvRedisURL    = "REDIS_URL"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvTelemetry   = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

var ErrInvalid = errors.New("配置无效")

type Config struct {
	Address string `yaml:"address"`

	OnnxRuntime string `yaml:"onnxruntime"`

	Model      ModelConfig      `yaml:"model"`
	Detector   DetectorConfig   `yaml:"detector"`
	Latency    LatencyConfig    `yaml:"latency"`
	Structurer StructurerConfig `yaml:"structurer"`
	Queue      QueueConfig      `yaml:"queue"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ModelConfig struct {
	Path           string `yaml:"path"`
	InputName      string `yaml:"input_name"`
	TextInputName  string `yaml:"text_input_name"`
	OutputName     string `yaml:"output_name"`
	NamePrefix     string `yaml:"name_prefix"`
	ImgHeight      int    `yaml:"img_h"`
	ImgWidth       int    `yaml:"img_w"`
	MaxLabelLength int    `yaml:"batch_max_length"`
	Characters     string `yaml:"character"`
	DictPath       string `yaml:"dict"`
}

type DetectorConfig struct {
	Backend      string `yaml:"backend"`
	ModelPath    string `yaml:"model"`
	Language     string `yaml:"language"`
	TessdataPath string `yaml:"tessdata"`
}

type LatencyConfig struct {
	Path string `yaml:"path"`
}

type StructurerConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type QueueConfig struct {
	RedisURL    string `yaml:"redis_url"`
	JobsKey     string `yaml:"jobs_key"`
	ResultsKey  string `yaml:"results_key"`
	Concurrency int    `yaml:"concurrency"`

	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text 或 json
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Address: ":7860",

		Model: ModelConfig{
			Path:           "best_accuracy_final.onnx",
			InputName:      "image",
			OutputName:     "output",
			NamePrefix:     "module.",
			ImgHeight:      32,
			ImgWidth:       160,
			MaxLabelLength: 50,
			Characters:     ctc.DefaultCharacters,
		},

		Detector: DetectorConfig{
			Backend:   ocr.DetectorDdddOcr,
			ModelPath: "ddddocr_weights/common_det.onnx",
			Language:  "ind",
		},

		Latency: LatencyConfig{
			Path: latency.DefaultPath,
		},

		Structurer: StructurerConfig{
			Model: structurer.DefaultModel,
		},

		Queue: QueueConfig{
			RedisURL:    "redis://localhost:6379/0",
			JobsKey:     "receipt-ocr:jobs",
			ResultsKey:  "receipt-ocr:results",
			Concurrency: 4,

			DrainTimeout: 30 * time.Second,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},

		Telemetry: TelemetryConfig{
			ServiceName: "receipt-ocr",
		},
	}
}

// Load 读取 YAML 配置文件，path 为空时只使用默认值，环境变量覆盖文件内容
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return nil
}

// ApplyEnv 使用环境变量覆盖配置
func (c *Config) ApplyEnv() {
	setString(&c.Structurer.APIKey, EnvAPIKey)
	setString(&c.Address, EnvAddress)
	setString(&c.Model.Path, EnvModel)
	setString(&c.Detector.ModelPath, EnvDetModel)
	setString(&c.Latency.Path, EnvLatencyLog)
	setString(&c.OnnxRuntime, EnvOnnxRuntime)
	setString(&c.Queue.RedisURL, EnvRedisURL)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)

	if os.Getenv(EnvTelemetry) != "" {
		c.Telemetry.Enabled = true
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.Model.ImgHeight <= 0 || c.Model.ImgWidth <= 0 {
		errs = append(errs, fmt.Errorf("图片尺寸必须为正数: %dx%d", c.Model.ImgHeight, c.Model.ImgWidth))
	}
	if c.Model.MaxLabelLength <= 0 {
		errs = append(errs, fmt.Errorf("batch_max_length 必须为正数: %d", c.Model.MaxLabelLength))
	}
	if c.Model.InputName == "" || c.Model.OutputName == "" {
		errs = append(errs, fmt.Errorf("未指定模型输入输出节点"))
	}
	if c.Model.DictPath == "" {
		if _, err := ctc.FromString(c.Model.Characters); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Detector.Backend {
	case ocr.DetectorDdddOcr:
		if c.Detector.ModelPath == "" {
			errs = append(errs, fmt.Errorf("ddddocr 检测器需要指定模型路径"))
		}
	case ocr.DetectorTesseract:
	default:
		errs = append(errs, fmt.Errorf("未知的检测器: %q", c.Detector.Backend))
	}

	if c.Latency.Path == "" {
		errs = append(errs, fmt.Errorf("未指定延迟日志路径"))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("队列并发数必须为正数: %d", c.Queue.Concurrency))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("未知的日志格式: %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Engine 转为引擎配置
func (c *Config) Engine(logger *slog.Logger) ocr.Config {
	prefix := c.Model.NamePrefix
	return ocr.Config{
		OnnxRuntimeLibPath: c.OnnxRuntime,

		Detector:       c.Detector.Backend,
		DetModelPath:   c.Detector.ModelPath,
		TessLanguage:   c.Detector.Language,
		TessdataPath:   c.Detector.TessdataPath,
		RecModelPath:   c.Model.Path,
		DictPath:       c.Model.DictPath,
		Characters:     c.Model.Characters,
		ImgHeight:      c.Model.ImgHeight,
		ImgWidth:       c.Model.ImgWidth,
		MaxLabelLength: c.Model.MaxLabelLength,

		InputName:     c.Model.InputName,
		TextInputName: c.Model.TextInputName,
		OutputName:    c.Model.OutputName,
		NamePrefix:    &prefix,

		LatencyLogPath: c.Latency.Path,
		Logger:         logger,
	}
}

// NewStructurer 创建结构化客户端
func (c *Config) NewStructurer() *structurer.Structurer {
	options := []structurer.Option{structurer.WithModel(c.Structurer.Model)}
	if c.Structurer.BaseURL != "" {
		options = append(options, structurer.WithBaseURL(c.Structurer.BaseURL))
	}
	return structurer.New(c.Structurer.APIKey, options...)
}

// ParseLevel 解析日志级别
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("未知的日志级别: %q", level)
	}
	return l, nil
}

// NewLogger 按配置创建日志
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
