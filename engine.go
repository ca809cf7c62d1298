package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/ddddocr"
	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/getcharzp/receipt-ocr/detector/tesseract"
	"github.com/getcharzp/receipt-ocr/internal/onnx"
	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/pipeline"
	"github.com/getcharzp/receipt-ocr/preprocess"
	"github.com/getcharzp/receipt-ocr/recognizer"
	"github.com/up-zero/gotool/convertutil"
)

const (
	defaultMaxLabelLength = 50
	defaultInputName      = "image"
	defaultOutputName     = "output"
	defaultNamePrefix     = "module."
)

// NewEngine 初始化引擎，识别权重缺失时模型标记为不可用并记录警告
func NewEngine(cfg Config) (*Engine, error) {
	cfg = withDefaults(cfg)
	logger := cfg.Logger

	alphabet, err := loadAlphabet(cfg)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(cfg.RecModelPath)
	weightsFound := statErr == nil
	needRuntime := weightsFound || cfg.Detector == DetectorDdddOcr

	e := &Engine{logger: logger}

	if needRuntime {
		oc := new(onnx.Config)
		_ = convertutil.CopyProperties(cfg, oc)
		if err := oc.New(); err != nil {
			return nil, err
		}
		e.oc = oc
	}

	det, err := e.newDetector(cfg)
	if err != nil {
		e.Destroy()
		return nil, err
	}

	var model recognizer.Model
	if weightsFound {
		m, err := recognizer.NewOnnxModel(e.oc, recognizer.Config{
			ModelPath:      cfg.RecModelPath,
			InputName:      cfg.InputName,
			TextInputName:  cfg.TextInputName,
			OutputName:     cfg.OutputName,
			NamePrefix:     *cfg.NamePrefix,
			NumClasses:     alphabet.NumClasses(),
			MaxLabelLength: cfg.MaxLabelLength,
		})
		if err != nil {
			e.Destroy()
			return nil, err
		}
		e.destroy = append(e.destroy, m.Destroy)
		model = m
	} else {
		logger.Warn("识别模型不可用, 识别请求将被拒绝", "path", cfg.RecModelPath, "error", statErr)
	}

	e.assemble(det, model, alphabet, cfg)
	return e, nil
}

// NewEngineWith 使用自定义检测器与识别模型创建引擎，model 为 nil 表示模型不可用
func NewEngineWith(det detector.Detector, model recognizer.Model, cfg Config) (*Engine, error) {
	if det == nil {
		return nil, fmt.Errorf("未指定检测器")
	}
	cfg = withDefaults(cfg)

	alphabet, err := loadAlphabet(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{logger: cfg.Logger}
	e.assemble(det, model, alphabet, cfg)
	return e, nil
}

func (e *Engine) assemble(det detector.Detector, model recognizer.Model, alphabet *ctc.Alphabet, cfg Config) {
	converter := ctc.NewConverter(alphabet, cfg.MaxLabelLength)
	normalizer := preprocess.NewNormalizer(cfg.ImgHeight, cfg.ImgWidth)

	e.pipeline = pipeline.New(det, model, converter, normalizer, pipeline.WithLogger(e.logger))
	e.recorder = latency.NewRecorder(cfg.LatencyLogPath, latency.WithLogger(e.logger))
}

func (e *Engine) newDetector(cfg Config) (detector.Detector, error) {
	switch cfg.Detector {
	case DetectorDdddOcr:
		d, err := ddddocr.NewDetector(e.oc, ddddocr.Config{DetModelPath: cfg.DetModelPath})
		if err != nil {
			return nil, err
		}
		e.destroy = append(e.destroy, d.Destroy)
		return d, nil
	case DetectorTesseract:
		return tesseract.NewDetector(tesseract.Config{
			Language:     cfg.TessLanguage,
			TessdataPath: cfg.TessdataPath,
		}), nil
	default:
		return nil, fmt.Errorf("未知的检测器: %s", cfg.Detector)
	}
}

// Available 识别模型是否已加载
func (e *Engine) Available() bool {
	return e.pipeline.Available()
}

// Recognize 识别整张图片并记录耗时，返回换行拼接的文本
func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	result, err := e.Run(ctx, img)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// Run 识别整张图片并记录耗时，返回逐行结果
func (e *Engine) Run(ctx context.Context, img image.Image) (*pipeline.Result, error) {
	if !e.Available() {
		return nil, recognizer.ErrModelUnavailable
	}
	return latency.Measure(ctx, e.recorder, func() (*pipeline.Result, error) {
		return e.pipeline.Run(ctx, img)
	})
}

// RecognizeRegion 识别单个文本框，任何错误都返回空字符串
func (e *Engine) RecognizeRegion(ctx context.Context, img image.Image, box detector.BoundingBox) string {
	return e.pipeline.RecognizeRegion(ctx, img, box)
}

// Latency 进程级延迟记录器
func (e *Engine) Latency() *latency.Recorder {
	return e.recorder
}

// Destroy 释放会话与运行时
func (e *Engine) Destroy() {
	for i := len(e.destroy) - 1; i >= 0; i-- {
		e.destroy[i]()
	}
	e.destroy = nil
	if e.oc != nil {
		e.oc.Destroy()
		e.oc = nil
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Detector == "" {
		cfg.Detector = DetectorDdddOcr
	}
	if cfg.ImgHeight <= 0 {
		cfg.ImgHeight = preprocess.DefaultHeight
	}
	if cfg.ImgWidth <= 0 {
		cfg.ImgWidth = preprocess.DefaultWidth
	}
	if cfg.MaxLabelLength <= 0 {
		cfg.MaxLabelLength = defaultMaxLabelLength
	}
	if cfg.InputName == "" {
		cfg.InputName = defaultInputName
	}
	if cfg.OutputName == "" {
		cfg.OutputName = defaultOutputName
	}
	if cfg.NamePrefix == nil {
		prefix := defaultNamePrefix
		cfg.NamePrefix = &prefix
	}
	if cfg.OnnxRuntimeLibPath == "" {
		cfg.OnnxRuntimeLibPath = DefaultLibraryPath()
	}
	if cfg.LatencyLogPath == "" {
		cfg.LatencyLogPath = latency.DefaultPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func loadAlphabet(cfg Config) (*ctc.Alphabet, error) {
	if cfg.DictPath != "" {
		a, err := ctc.LoadAlphabet(cfg.DictPath)
		if err != nil {
			return nil, fmt.Errorf("加载字符集失败: %w", err)
		}
		return a, nil
	}
	if cfg.Characters != "" {
		return ctc.FromString(cfg.Characters)
	}
	return ctc.Default(), nil
}

// IsUnavailable 判断错误是否为模型不可用
func IsUnavailable(err error) bool {
	return errors.Is(err, recognizer.ErrModelUnavailable)
}
