package ddddocr

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/getcharzp/receipt-ocr/internal/onnx"
	ort "github.com/getcharzp/onnxruntime_purego"
	"github.com/up-zero/gotool/imageutil"
)

const (
	detInputSize   = 416
	iouThreshold   = 0.45
	scoreThreshold = 0.1
)

var _ detector.Detector = (*Detector)(nil)

// NewDetector 初始化检测器，运行时由调用方创建并负责释放
func NewDetector(oc *onnx.Config, cfg Config) (*Detector, error) {
	if cfg.DetModelPath == "" {
		return nil, fmt.Errorf("未指定检测模型路径")
	}

	session, err := oc.NewSession(cfg.DetModelPath)
	if err != nil {
		return nil, fmt.Errorf("创建检测会话失败: %w", err)
	}

	d := &Detector{
		detSession:     session,
		scoreThreshold: scoreThreshold,
		iouThreshold:   iouThreshold,
	}
	if cfg.ScoreThreshold > 0 {
		d.scoreThreshold = cfg.ScoreThreshold
	}
	if cfg.IouThreshold > 0 {
		d.iouThreshold = cfg.IouThreshold
	}
	return d, nil
}

// Detect 目标检测，结果按阅读顺序排列
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.BoundingBox, error) {
	if d.detSession == nil {
		return nil, fmt.Errorf("检测引擎未初始化")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, nil
	}

	inputData, ratio := preprocessDet(img)

	inputShape := []int64{1, 3, detInputSize, detInputSize}
	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return nil, err
	}
	defer inputTensor.Destroy()

	inputValues := map[string]*ort.Value{
		"images": inputTensor,
	}

	outputValues, err := d.detSession.Run(inputValues)
	if err != nil {
		return nil, fmt.Errorf("检测推理失败: %w", err)
	}
	for _, v := range outputValues {
		defer v.Destroy()
	}

	outputValue, ok := outputValues["output"]
	if !ok {
		return nil, fmt.Errorf("检测输出节点 output 不存在")
	}

	outputData, err := ort.GetTensorData[float32](outputValue)
	if err != nil {
		return nil, err
	}

	results := d.postprocessDet(outputData, ratio, bounds.Dx(), bounds.Dy())

	boxes := make([]detector.BoundingBox, 0, len(results))
	for _, r := range results {
		b := r.Box
		// 检测在以 (0,0) 为原点的坐标系中完成
		b.XMin += bounds.Min.X
		b.XMax += bounds.Min.X
		b.YMin += bounds.Min.Y
		b.YMax += bounds.Min.Y
		boxes = append(boxes, b)
	}
	return detector.SortReadingOrder(boxes), nil
}

// Destroy 释放检测会话
func (d *Detector) Destroy() {
	if d.detSession != nil {
		d.detSession.Destroy()
		d.detSession = nil
	}
}

func preprocessDet(img image.Image) (data []float32, ratio float64) {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()

	ratio = min(float64(detInputSize)/float64(srcH), float64(detInputSize)/float64(srcW))

	newW := max(int(float64(srcW)*ratio), 1)
	newH := max(int(float64(srcH)*ratio), 1)

	resized := imageutil.Resize(img, newW, newH)
	rb := resized.Bounds()

	data = make([]float32, 1*3*detInputSize*detInputSize)
	area := detInputSize * detInputSize

	for y := 0; y < min(newH, rb.Dy()); y++ {
		for x := 0; x < min(newW, rb.Dx()); x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			data[0*area+y*detInputSize+x] = float32(r >> 8)
			data[1*area+y*detInputSize+x] = float32(g >> 8)
			data[2*area+y*detInputSize+x] = float32(b >> 8)
		}
	}

	return data, ratio
}

func (d *Detector) postprocessDet(output []float32, ratio float64, imgW, imgH int) []DetResult {
	// [1, 3549, 6]
	strides := []int{8, 16, 32}
	var grids []float32
	var expandedStrides []float32

	for _, stride := range strides {
		hsize := detInputSize / stride
		wsize := detInputSize / stride
		for y := 0; y < hsize; y++ {
			for x := 0; x < wsize; x++ {
				grids = append(grids, float32(x), float32(y))
				expandedStrides = append(expandedStrides, float32(stride))
			}
		}
	}

	numAnchors := min(len(output)/6, len(expandedStrides))
	var candidates []DetResult

	for i := 0; i < numAnchors; i++ {
		offset := i * 6
		objConf := output[offset+4]
		clsConf := output[offset+5]
		score := objConf * clsConf

		if score < d.scoreThreshold {
			continue
		}

		regX := (output[offset+0] + grids[i*2+0]) * expandedStrides[i]
		regY := (output[offset+1] + grids[i*2+1]) * expandedStrides[i]
		regW := float32(math.Exp(float64(output[offset+2]))) * expandedStrides[i]
		regH := float32(math.Exp(float64(output[offset+3]))) * expandedStrides[i]

		x1 := max((regX-regW/2)/float32(ratio), 0)
		y1 := max((regY-regH/2)/float32(ratio), 0)
		x2 := min((regX+regW/2)/float32(ratio), float32(imgW))
		y2 := min((regY+regH/2)/float32(ratio), float32(imgH))

		candidates = append(candidates, DetResult{
			Box: detector.BoundingBox{
				XMin: int(x1),
				XMax: int(x2),
				YMin: int(y1),
				YMax: int(y2),
			},
			Score: score,
		})
	}

	return nms(candidates, d.iouThreshold)
}

func nms(boxes []DetResult, threshold float32) []DetResult {
	if len(boxes) == 0 {
		return nil
	}
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Score > boxes[j].Score
	})

	var result []DetResult
	for len(boxes) > 0 {
		current := boxes[0]
		result = append(result, current)
		boxes = boxes[1:]

		var remaining []DetResult
		for _, b := range boxes {
			if calculateIOU(current, b) < threshold {
				remaining = append(remaining, b)
			}
		}
		boxes = remaining
	}
	return result
}

func calculateIOU(a, b DetResult) float32 {
	ix1 := max(float64(a.Box.XMin), float64(b.Box.XMin))
	iy1 := max(float64(a.Box.YMin), float64(b.Box.YMin))
	ix2 := min(float64(a.Box.XMax), float64(b.Box.XMax))
	iy2 := min(float64(a.Box.YMax), float64(b.Box.YMax))

	iw := max(0, ix2-ix1)
	ih := max(0, iy2-iy1)
	inter := iw * ih

	areaA := float64((a.Box.XMax - a.Box.XMin) * (a.Box.YMax - a.Box.YMin))
	areaB := float64((b.Box.XMax - b.Box.XMin) * (b.Box.YMax - b.Box.YMin))

	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return float32(inter / union)
}
