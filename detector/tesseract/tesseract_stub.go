//go:build !tesseract

package tesseract

import (
	"context"
	"errors"
	"image"

	"github.com/getcharzp/receipt-ocr/detector"
)

// ErrUnsupported 未使用 tesseract 构建标签
var ErrUnsupported = errors.New("tesseract 检测需要使用 -tags tesseract 构建")

// Detect 未启用时不可用
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.BoundingBox, error) {
	return nil, ErrUnsupported
}

// Version 未启用时返回空
func Version() string {
	return ""
}
