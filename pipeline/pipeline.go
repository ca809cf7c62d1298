package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/getcharzp/receipt-ocr/preprocess"
	"github.com/getcharzp/receipt-ocr/recognizer"
	"github.com/up-zero/gotool/imageutil"
)

// ErrCorruptCrop 裁剪图无法解码或归一化
var ErrCorruptCrop = errors.New("裁剪图无法处理")

// Line 单个文本框的识别结果
type Line struct {
	Box     detector.BoundingBox `json:"box"`
	Text    string               `json:"text"`
	Failed  bool                 `json:"failed,omitempty"`  // 归一化失败，文本为空
	Clamped bool                 `json:"clamped,omitempty"` // 宽度被截断
}

// Result 一次识别的完整结果
type Result struct {
	Lines   []Line `json:"lines"`
	Dropped int    `json:"dropped"` // 面积为 0 被丢弃的文本框数量
}

// Text 按检测顺序以换行符拼接
func (r *Result) Text() string {
	texts := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// Pipeline 检测 -> 归一化 -> 组批 -> 推理 -> 解码，调用之间无共享可变状态
type Pipeline struct {
	detector   detector.Detector
	model      recognizer.Model
	converter  *ctc.Converter
	normalizer preprocess.Normalizer
	logger     *slog.Logger
}

// Option 可选参数
type Option func(*Pipeline)

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New 创建识别流水线，model 为 nil 时所有识别请求返回 ErrModelUnavailable
func New(det detector.Detector, model recognizer.Model, converter *ctc.Converter, normalizer preprocess.Normalizer, options ...Option) *Pipeline {
	p := &Pipeline{
		detector:   det,
		model:      model,
		converter:  converter,
		normalizer: normalizer,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Available 模型是否可用
func (p *Pipeline) Available() bool {
	return p.model != nil
}

// Recognize 识别整张图片，返回换行拼接的文本
func (p *Pipeline) Recognize(ctx context.Context, img image.Image) (string, error) {
	result, err := p.Run(ctx, img)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// Run 识别整张图片，返回逐行结果
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	if p.model == nil {
		return nil, recognizer.ErrModelUnavailable
	}
	if img == nil {
		return &Result{}, nil
	}

	boxes, err := p.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("文本检测失败: %w", err)
	}

	result := &Result{}
	var tiles []preprocess.Tile
	var tileLines []int

	bounds := img.Bounds()
	for i, box := range boxes {
		rect := detector.Clamp(box, bounds)
		tile, err := p.normalize(img, rect)

		switch {
		case errors.Is(err, preprocess.ErrEmptyCrop):
			result.Dropped++
			p.logger.Debug("丢弃空文本框", "index", i, "box", box)
			continue
		case err != nil:
			p.logger.Debug("文本框归一化失败", "index", i, "box", box, "error", err)
			result.Lines = append(result.Lines, Line{Box: box, Failed: true})
			continue
		}

		if tile.Clamped {
			p.logger.Debug("文本框宽度被截断", "index", i, "box", box, "width", rect.Dx(), "height", rect.Dy())
		}
		result.Lines = append(result.Lines, Line{Box: box, Clamped: tile.Clamped})
		tiles = append(tiles, tile)
		tileLines = append(tileLines, len(result.Lines)-1)
	}

	// 没有有效张量时不调用模型
	if len(tiles) == 0 {
		return result, nil
	}

	texts, err := p.infer(ctx, tiles)
	if err != nil {
		return nil, err
	}
	for i, text := range texts {
		result.Lines[tileLines[i]].Text = text
	}

	return result, nil
}

// RecognizeRegion 识别单个文本框，任何错误都返回空字符串
func (p *Pipeline) RecognizeRegion(ctx context.Context, img image.Image, box detector.BoundingBox) (text string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("单框识别异常", "box", box, "panic", r)
			text = ""
		}
	}()

	if p.model == nil || img == nil {
		return ""
	}
	tile, err := p.normalize(img, detector.Clamp(box, img.Bounds()))
	if err != nil {
		return ""
	}
	texts, err := p.infer(ctx, []preprocess.Tile{tile})
	if err != nil || len(texts) != 1 {
		return ""
	}
	return texts[0]
}

func (p *Pipeline) normalize(img image.Image, rect image.Rectangle) (tile preprocess.Tile, err error) {
	if rect.Empty() {
		return preprocess.Tile{}, preprocess.ErrEmptyCrop
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCorruptCrop, r)
		}
	}()
	// 裁剪在当前 goroutine 内完成，归一化中的 panic 才能被 recover
	crop, err := imageutil.Crop(img, rect)
	if err != nil {
		return preprocess.Tile{}, fmt.Errorf("%w: %v", ErrCorruptCrop, err)
	}
	return p.normalizer.Normalize(crop)
}

func (p *Pipeline) infer(ctx context.Context, tiles []preprocess.Tile) ([]string, error) {
	batch, err := preprocess.Assemble(tiles)
	if err != nil {
		return nil, err
	}

	preds, err := p.model.Infer(ctx, batch)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, recognizer.ErrModelUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", recognizer.ErrModelUnavailable, err)
	}
	if preds.N != batch.Len() {
		return nil, fmt.Errorf("%w: 模型输出 %d 行, 输入 %d 个张量", recognizer.ErrModelUnavailable, preds.N, batch.Len())
	}

	return p.converter.Decode(preds), nil
}
