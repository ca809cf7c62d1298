package detector

import (
	"context"
	"image"
	"sort"
)

// BoundingBox 轴对齐文本框，源图像素坐标
type BoundingBox struct {
	XMin int `json:"x_min"`
	XMax int `json:"x_max"`
	YMin int `json:"y_min"`
	YMax int `json:"y_max"`
}

// Rect 转为 image.Rectangle，Max 为开区间
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// FromRect 由 image.Rectangle 构造
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{XMin: r.Min.X, XMax: r.Max.X, YMin: r.Min.Y, YMax: r.Max.Y}
}

// Detector 文本区域检测，返回有序文本框，允许为空
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]BoundingBox, error)
}

// Func 函数适配为 Detector
type Func func(ctx context.Context, img image.Image) ([]BoundingBox, error)

// Detect 调用 f
func (f Func) Detect(ctx context.Context, img image.Image) ([]BoundingBox, error) {
	return f(ctx, img)
}

// Clamp 将文本框裁剪到图像范围内，可能得到空区域
func Clamp(box BoundingBox, bounds image.Rectangle) image.Rectangle {
	xMin := min(max(bounds.Min.X, box.XMin), bounds.Max.X)
	xMax := min(bounds.Max.X, box.XMax)
	yMin := min(max(bounds.Min.Y, box.YMin), bounds.Max.Y)
	yMax := min(bounds.Max.Y, box.YMax)

	if xMax < xMin {
		xMax = xMin
	}
	if yMax < yMin {
		yMax = yMin
	}
	return image.Rectangle{
		Min: image.Point{X: xMin, Y: yMin},
		Max: image.Point{X: xMax, Y: yMax},
	}
}

// SortReadingOrder 按阅读顺序排序：先按行（垂直中心落在行高度内）从上到下，行内从左到右
func SortReadingOrder(boxes []BoundingBox) []BoundingBox {
	if len(boxes) < 2 {
		return boxes
	}

	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].YMin < sorted[j].YMin
	})

	result := make([]BoundingBox, 0, len(sorted))
	row := []BoundingBox{sorted[0]}
	rowTop, rowBottom := sorted[0].YMin, sorted[0].YMax

	flush := func() {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].XMin < row[j].XMin
		})
		result = append(result, row...)
	}

	for _, b := range sorted[1:] {
		center := (b.YMin + b.YMax) / 2
		if center >= rowTop && center < rowBottom {
			row = append(row, b)
			continue
		}
		flush()
		row = []BoundingBox{b}
		rowTop, rowBottom = b.YMin, b.YMax
	}
	flush()

	return result
}
