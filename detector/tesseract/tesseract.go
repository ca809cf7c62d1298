// Package tesseract 使用 Tesseract 的文本行版面分析作为文本框检测器。
//
// 使用 -tags tesseract 构建时通过 gosseract 调用 libtesseract，否则 Detect 返回 ErrUnsupported。
package tesseract

import "github.com/getcharzp/receipt-ocr/detector"

// Config Tesseract 检测配置
type Config struct {
	Language      string  // 如 "ind"、"eng"，为空时使用 "eng"
	TessdataPath  string  // 为空时使用系统默认路径
	MinConfidence float64 // 0~1，低于该置信度的文本行被丢弃
}

func (c Config) language() string {
	if c.Language == "" {
		return "eng"
	}
	return c.Language
}

// Detector Tesseract 文本行检测器，每次检测使用独立的客户端，可并发调用
type Detector struct {
	cfg Config
}

var _ detector.Detector = (*Detector)(nil)

// NewDetector 创建检测器
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}
