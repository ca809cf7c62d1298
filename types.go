package ocr

import (
	"log/slog"

	"github.com/getcharzp/receipt-ocr/internal/onnx"
	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/pipeline"
)

const (
	DetectorDdddOcr   = "ddddocr"
	DetectorTesseract = "tesseract"
)

// Config 收据 OCR 引擎配置信息
type Config struct {
	OnnxRuntimeLibPath string

	Detector       string // ddddocr 或 tesseract，为空时使用 ddddocr
	DetModelPath   string
	TessLanguage   string
	TessdataPath   string
	RecModelPath   string // 文件不存在时引擎仍可创建，但识别请求返回 ErrModelUnavailable
	DictPath       string // 为空时使用 Characters
	Characters     string // 为空时使用默认字符集
	ImgHeight      int
	ImgWidth       int
	MaxLabelLength int

	InputName     string
	TextInputName string // 为空时不传入 text 张量
	OutputName    string
	NamePrefix    *string // 输出名前缀，nil 使用 "module."，空字符串不去前缀

	LatencyLogPath string
	Logger         *slog.Logger
}

// Engine 收据 OCR 引擎，检测器、识别模型与延迟记录器在此显式组装
type Engine struct {
	oc       *onnx.Config
	pipeline *pipeline.Pipeline
	recorder *latency.Recorder
	logger   *slog.Logger
	destroy  []func()
}
