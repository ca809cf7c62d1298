//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/otiai10/gosseract/v2"
)

// Detect 返回文本行级别的文本框，保持 Tesseract 的阅读顺序
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码图像失败: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if d.cfg.TessdataPath != "" {
		if err := client.SetTessdataPrefix(d.cfg.TessdataPath); err != nil {
			return nil, fmt.Errorf("设置 tessdata 路径失败: %w", err)
		}
	}
	if err := client.SetLanguage(d.cfg.language()); err != nil {
		return nil, fmt.Errorf("设置语言失败: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("设置图像失败: %w", err)
	}

	lines, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("获取文本行失败: %w", err)
	}

	// PNG 编码后原点为 (0,0)
	origin := img.Bounds().Min
	boxes := make([]detector.BoundingBox, 0, len(lines))
	for _, line := range lines {
		if line.Confidence/100.0 < d.cfg.MinConfidence {
			continue
		}
		boxes = append(boxes, detector.FromRect(line.Box.Add(origin)))
	}
	return boxes, nil
}

// Version Tesseract 版本
func Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}
