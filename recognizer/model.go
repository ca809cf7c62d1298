package recognizer

import (
	"context"
	"errors"
	"strings"

	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/preprocess"
)

// ErrModelUnavailable 识别模型未加载
var ErrModelUnavailable = errors.New("识别模型不可用")

// Model 识别模型：输出行数与输入批次大小一致，行顺序与输入顺序一致
type Model interface {
	Infer(ctx context.Context, batch preprocess.Batch) (ctc.PredictionMatrix, error)
}

// ModelFunc 函数适配为 Model
type ModelFunc func(ctx context.Context, batch preprocess.Batch) (ctc.PredictionMatrix, error)

// Infer 调用 f
func (f ModelFunc) Infer(ctx context.Context, batch preprocess.Batch) (ctc.PredictionMatrix, error) {
	return f(ctx, batch)
}

// StripPrefix 去掉名称的统一前缀（如分布式训练导出的 "module."）
func StripPrefix[V any](values map[string]V, prefix string) map[string]V {
	if prefix == "" {
		return values
	}
	out := make(map[string]V, len(values))
	for name, v := range values {
		if !strings.HasPrefix(name, prefix) {
			out[name] = v
		}
	}
	// 去前缀后与原名冲突时保留原名
	for name, v := range values {
		trimmed := strings.TrimPrefix(name, prefix)
		if _, ok := out[trimmed]; !ok {
			out[trimmed] = v
		}
	}
	return out
}
