package ocr

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"runtime"

	"github.com/getcharzp/receipt-ocr/detector"
	"github.com/up-zero/gotool/imageutil"
)

// LibraryPathEnv 覆盖 onnxruntime 库路径的环境变量
const LibraryPathEnv = "ONNXRUNTIME_LIB"

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件，环境变量优先
func DefaultLibraryPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	return platformLibraryPath(runtime.GOOS, runtime.GOARCH)
}

func platformLibraryPath(goos, goarch string) string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if goos == "windows" {
		return baseDir + libName + ".dll"
	}

	// linux darwin ext
	var ext string
	switch goos {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// ./lib/onnxruntime_arm64.so
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, goarch, ext)
}

// DrawBoxes 在原图副本上绘制文本框
func DrawBoxes(img image.Image, boxes []detector.BoundingBox) image.Image {
	bounds := img.Bounds()
	tagImg := image.NewRGBA(bounds)
	draw.Draw(tagImg, bounds, img, bounds.Min, draw.Src)

	for _, box := range boxes {
		imageutil.DrawThickRectOutline(tagImg, box.Rect(), color.RGBA{R: 255, A: 255}, 2)
	}
	return tagImg
}
