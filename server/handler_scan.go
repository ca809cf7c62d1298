package server

import (
	"errors"
	"fmt"
	"image"
	"net/http"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/getcharzp/receipt-ocr/recognizer"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.recognizer.Available() {
		writeJson(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"message": "Model OCR belum dimuat",
		})
		return
	}
	writeJson(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleScanML(w http.ResponseWriter, r *http.Request) {
	text, ok := s.recognize(w, r)
	if !ok {
		return
	}

	writeJson(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "ML OCR selesai diproses",
		"raw_text": text,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.structurer == nil || !s.structurer.Enabled() {
		writeError(w, http.StatusInternalServerError, errors.New("API Key Gemini belum diset"))
		return
	}

	text, ok := s.recognize(w, r)
	if !ok {
		return
	}

	data, err := s.structurer.Structure(r.Context(), text)
	if err != nil {
		loggerFrom(r.Context()).Warn("结构化失败", "error", err)
		writeJson(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": err.Error(),
			"raw_ocr": text,
		})
		return
	}

	writeJson(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   data,
	})
}

// recognize 读取上传图片并识别，失败时已写出响应
func (s *Server) recognize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.recognizer.Available() {
		writeError(w, http.StatusServiceUnavailable, recognizer.ErrModelUnavailable)
		return "", false
	}

	img, err := s.readImage(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}

	text, err := s.recognizer.Recognize(r.Context(), img)
	if err != nil {
		if errors.Is(err, recognizer.ErrModelUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err)
			return "", false
		}
		loggerFrom(r.Context()).Error("识别失败", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return "", false
	}
	return text, true
}

func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (image.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("缺少上传文件 file: %w", err)
	}
	defer file.Close()

	// 手机拍摄的小票按 EXIF 方向摆正
	img, err := imaging.Decode(file, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("图片解码失败: %w", err)
	}
	loggerFrom(r.Context()).Debug("图片已解码", "bounds", img.Bounds())
	return img, nil
}
