package preprocess

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch 批次内张量尺寸不一致
var ErrShapeMismatch = errors.New("张量尺寸不一致")

// Batch 按输入顺序堆叠的张量 [N, 1, Height, Width]
type Batch struct {
	Data   []float32
	N      int
	Height int
	Width  int
	// Widths 每个张量的实际内容宽度，贪心解码不使用
	Widths []int
}

// Len 批次大小
func (b Batch) Len() int {
	return b.N
}

// Shape 模型输入形状
func (b Batch) Shape() []int64 {
	return []int64{int64(b.N), 1, int64(b.Height), int64(b.Width)}
}

// Assemble 堆叠张量，不跳过、不重排；空输入返回空批次
func Assemble(tiles []Tile) (Batch, error) {
	if len(tiles) == 0 {
		return Batch{}, nil
	}

	h, w := tiles[0].Height, tiles[0].Width
	area := h * w
	batch := Batch{
		Data:   make([]float32, 0, len(tiles)*area),
		N:      len(tiles),
		Height: h,
		Width:  w,
		Widths: make([]int, len(tiles)),
	}

	for i, t := range tiles {
		if t.Height != h || t.Width != w || len(t.Data) != area {
			return Batch{}, fmt.Errorf("第 %d 个张量 %dx%d, 期望 %dx%d: %w", i, t.Height, t.Width, h, w, ErrShapeMismatch)
		}
		batch.Data = append(batch.Data, t.Data...)
		batch.Widths[i] = t.ContentWidth
	}

	return batch, nil
}
