package ocr

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/preprocess"
	"github.com/getcharzp/receipt-ocr/recognizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constModel 每个张量都输出同一个字符索引
func constModel(class int) recognizer.ModelFunc {
	return func(ctx context.Context, batch preprocess.Batch) (ctc.PredictionMatrix, error) {
		numClasses := ctc.Default().NumClasses()
		data := make([]float32, batch.Len()*2*numClasses)
		for i := 0; i < batch.Len(); i++ {
			data[(i*2)*numClasses+class] = 1
			data[(i*2+1)*numClasses+ctc.Blank] = 1
		}
		return ctc.NewPredictionMatrix(data, batch.Len(), numClasses)
	}
}

func testConfig(t *testing.T) Config {
	return Config{LatencyLogPath: filepath.Join(t.TempDir(), "latency.log")}
}

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img
}

func TestEngine_RecognizeRecordsLatency(t *testing.T) {
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.BoundingBox, error) {
		return []detector.BoundingBox{
			{XMax: 20, YMax: 16},
			{XMin: 0, XMax: 20, YMin: 20, YMax: 36},
		}, nil
	})
	// 索引 11 对应字符 "a"
	e, err := NewEngineWith(det, constModel(11), testConfig(t))
	require.NoError(t, err)
	defer e.Destroy()

	assert.True(t, e.Available())

	text, err := e.Recognize(context.Background(), grayImage(40, 40))
	require.NoError(t, err)
	assert.Equal(t, "a\na", text)

	report := e.Latency().Summarize()
	require.Equal(t, latency.StateReady, report.State)
	assert.Equal(t, 1, report.Summary.Count)

	assert.Equal(t, "a", e.RecognizeRegion(context.Background(), grayImage(40, 40), detector.BoundingBox{XMax: 20, YMax: 16}))
}

func TestEngine_Unavailable(t *testing.T) {
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.BoundingBox, error) {
		return nil, nil
	})
	e, err := NewEngineWith(det, nil, testConfig(t))
	require.NoError(t, err)

	assert.False(t, e.Available())
	_, err = e.Recognize(context.Background(), grayImage(10, 10))
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, latency.StateEmpty, e.Latency().Summarize().State)
	assert.Empty(t, e.RecognizeRegion(context.Background(), grayImage(10, 10), detector.BoundingBox{XMax: 5, YMax: 5}))
}

func TestNewEngine_MissingWeights(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector = DetectorTesseract
	cfg.RecModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	e, err := NewEngine(cfg)
	require.NoError(t, err, "权重缺失不影响引擎创建")
	defer e.Destroy()

	assert.False(t, e.Available())
}

func TestNewEngine_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector = "bogus"
	cfg.RecModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	_, err = NewEngineWith(nil, nil, testConfig(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Characters = "aa"
	_, err = NewEngineWith(detector.Func(nil), nil, cfg)
	assert.Error(t, err, "重复字符")
}

func TestWithDefaults_NamePrefix(t *testing.T) {
	cfg := withDefaults(Config{})
	require.NotNil(t, cfg.NamePrefix)
	assert.Equal(t, "module.", *cfg.NamePrefix)

	empty := ""
	cfg = withDefaults(Config{NamePrefix: &empty})
	assert.Empty(t, *cfg.NamePrefix)
}

func TestPlatformLibraryPath(t *testing.T) {
	assert.Equal(t, "./lib/onnxruntime.dll", platformLibraryPath("windows", "amd64"))
	assert.Equal(t, "./lib/onnxruntime_arm64.so", platformLibraryPath("linux", "arm64"))
	assert.Equal(t, "./lib/onnxruntime_arm64.dylib", platformLibraryPath("darwin", "arm64"))
	assert.Equal(t, "./lib/onnxruntime_amd64.so", platformLibraryPath("plan9", "386"))

	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", DefaultLibraryPath())
}

func TestDrawBoxes(t *testing.T) {
	src := grayImage(30, 30)
	out := DrawBoxes(src, []detector.BoundingBox{{XMin: 5, XMax: 20, YMin: 5, YMax: 20}})

	require.Equal(t, src.Bounds(), out.Bounds())

	// 框外像素保持原样
	assert.Equal(t, color.RGBAModel.Convert(src.At(0, 0)), out.At(0, 0))
	// 原图未被修改
	assert.Equal(t, uint8(200), src.GrayAt(5, 5).Y)
}
