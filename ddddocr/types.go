package ddddocr

import (
	"github.com/getcharzp/receipt-ocr/detector"
	ort "github.com/getcharzp/onnxruntime_purego"
)

// DetResult 检测结果结构体
type DetResult struct {
	Box   detector.BoundingBox
	Score float32
}

// Config ddddocr 检测配置信息
type Config struct {
	DetModelPath   string
	ScoreThreshold float32 // 为 0 时使用默认值
	IouThreshold   float32 // 为 0 时使用默认值
}

// Detector ddddocr 文本框检测器
type Detector struct {
	detSession     *ort.Session
	scoreThreshold float32
	iouThreshold   float32
}
