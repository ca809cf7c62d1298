package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/draw"
)

const (
	DefaultHeight = 32
	DefaultWidth  = 160
	DefaultMean   = 0.5
	DefaultStd    = 0.5
)

// ErrEmptyCrop 裁剪区域面积为 0
var ErrEmptyCrop = errors.New("裁剪区域为空")

// Tile 单通道归一化张量 [Height, Width]，右侧补零
type Tile struct {
	Data         []float32
	Height       int
	Width        int
	ContentWidth int  // 缩放后实际内容宽度
	Clamped      bool // 宽度超出 Width 被截断，长宽比未完全保留
}

// Empty 是否为空张量
func (t Tile) Empty() bool {
	return len(t.Data) == 0
}

// Normalizer 区域归一化参数
type Normalizer struct {
	Height int
	Width  int
	Mean   float32
	Std    float32
}

// NewNormalizer 使用 mean=0.5, std=0.5 创建归一化器
func NewNormalizer(height, width int) Normalizer {
	return Normalizer{
		Height: height,
		Width:  width,
		Mean:   DefaultMean,
		Std:    DefaultStd,
	}
}

// Normalize 使用默认参数归一化裁剪图
func Normalize(crop image.Image, height, width int) (Tile, error) {
	return NewNormalizer(height, width).Normalize(crop)
}

// Normalize 灰度化 -> 按高度等比缩放（双三次）-> 归一化 -> 左对齐右补零
func (n Normalizer) Normalize(crop image.Image) (Tile, error) {
	if n.Height <= 0 || n.Width <= 0 || n.Std == 0 {
		return Tile{}, fmt.Errorf("非法的归一化参数: %dx%d, std=%v", n.Height, n.Width, n.Std)
	}
	if crop == nil {
		return Tile{}, ErrEmptyCrop
	}
	b := crop.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Tile{}, ErrEmptyCrop
	}

	ratio := float64(b.Dx()) / float64(b.Dy())
	resizedW := int(math.Ceil(float64(n.Height) * ratio))
	clamped := false
	if resizedW > n.Width {
		resizedW = n.Width
		clamped = true
	}
	if resizedW < 1 {
		resizedW = 1
	}

	gray := imageutil.Grayscale(crop)
	dst := image.NewGray(image.Rect(0, 0, resizedW, n.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	data := make([]float32, n.Height*n.Width)
	for y := 0; y < n.Height; y++ {
		for x := 0; x < resizedW; x++ {
			pix := float32(dst.Pix[y*dst.Stride+x]) / 255.0
			data[y*n.Width+x] = (pix - n.Mean) / n.Std
		}
	}

	return Tile{
		Data:         data,
		Height:       n.Height,
		Width:        n.Width,
		ContentWidth: resizedW,
		Clamped:      clamped,
	}, nil
}
