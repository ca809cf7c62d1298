package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/getcharzp/receipt-ocr/latency"
	"github.com/getcharzp/receipt-ocr/recognizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	available bool
	text      string
	err       error
	recorder  *latency.Recorder
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	return latency.Measure(ctx, f.recorder, func() (string, error) {
		return f.text, f.err
	})
}

func (f *fakeRecognizer) Available() bool {
	return f.available
}

func (f *fakeRecognizer) Latency() *latency.Recorder {
	return f.recorder
}

type fakeStructurer struct {
	enabled bool
	data    string
	err     error
	got     string
}

func (f *fakeStructurer) Enabled() bool {
	return f.enabled
}

func (f *fakeStructurer) Structure(ctx context.Context, text string) (json.RawMessage, error) {
	f.got = text
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.data), nil
}

func newRecognizer(t *testing.T) *fakeRecognizer {
	return &fakeRecognizer{
		available: true,
		text:      "NASI GORENG\n25.000",
		recorder:  latency.NewRecorder(filepath.Join(t.TempDir(), "latency.log")),
	}
}

func pngBody(t *testing.T) (*bytes.Buffer, string) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(fw, img))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

var processTimeRe = regexp.MustCompile(`^\d+\.\d{4} sec$`)

func TestScanML(t *testing.T) {
	h := New(newRecognizer(t), nil).Handler()

	body, ct := pngBody(t)
	rec, out := do(t, h, http.MethodPost, "/scan-ml", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "NASI GORENG\n25.000", out["raw_text"])
	assert.Regexp(t, processTimeRe, rec.Header().Get("X-Process-Time"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestScanML_BadImage(t *testing.T) {
	h := New(newRecognizer(t), nil).Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "receipt.png")
	_, _ = fw.Write([]byte("not an image"))
	_ = mw.Close()

	rec, _ := do(t, h, http.MethodPost, "/scan-ml", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/scan-ml", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanML_Unavailable(t *testing.T) {
	r := newRecognizer(t)
	r.available = false
	h := New(r, nil).Handler()

	body, ct := pngBody(t)
	rec, _ := do(t, h, http.MethodPost, "/scan-ml", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	r.available = true
	r.err = recognizer.ErrModelUnavailable
	body, ct = pngBody(t)
	rec, _ = do(t, h, http.MethodPost, "/scan-ml", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	r.available = false
	rec, _ = do(t, h, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScan(t *testing.T) {
	st := &fakeStructurer{enabled: true, data: `{"total":"25.000"}`}
	h := New(newRecognizer(t), st).Handler()

	body, ct := pngBody(t)
	rec, out := do(t, h, http.MethodPost, "/scan", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, map[string]any{"total": "25.000"}, out["data"])
	assert.Equal(t, "NASI GORENG\n25.000", st.got)
}

func TestScan_StructurerFailureKeepsText(t *testing.T) {
	st := &fakeStructurer{enabled: true, err: errors.New("quota")}
	h := New(newRecognizer(t), st).Handler()

	body, ct := pngBody(t)
	rec, out := do(t, h, http.MethodPost, "/scan", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "quota", out["message"])
	assert.Equal(t, "NASI GORENG\n25.000", out["raw_ocr"])
}

func TestScan_Disabled(t *testing.T) {
	h := New(newRecognizer(t), &fakeStructurer{}).Handler()

	body, ct := pngBody(t)
	rec, _ := do(t, h, http.MethodPost, "/scan", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h = New(newRecognizer(t), nil).Handler()
	body, ct = pngBody(t)
	rec, _ = do(t, h, http.MethodPost, "/scan", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatency(t *testing.T) {
	r := newRecognizer(t)
	h := New(r, nil).Handler()

	_, out := do(t, h, http.MethodGet, "/latency", nil, "")
	assert.Contains(t, out["message"], "kosong")

	for _, v := range []float64{0.010, 0.020, 0.030, 0.040, 0.100} {
		require.NoError(t, r.recorder.Append(v))
	}

	for _, path := range []string{"/latency", "/lihat-log"} {
		rec, out := do(t, h, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", out["status"])
		assert.Equal(t, float64(5), out["total_inference_tercatat"])
		assert.Equal(t, "30.00 ms", out["P50"])
		assert.Equal(t, "76.00 ms", out["P90"])
		assert.Equal(t, "10.00 ms", out["Paling_Cepat"])
		assert.Equal(t, "100.00 ms", out["Paling_Lama"])
	}

	rec, out := do(t, h, http.MethodPost, "/latency/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])

	_, out = do(t, h, http.MethodGet, "/latency", nil, "")
	assert.Contains(t, out["message"], "kosong")

	_, out = do(t, h, http.MethodGet, "/reset-log", nil, "")
	assert.Equal(t, "success", out["status"])
}

func TestLatency_Unavailable(t *testing.T) {
	r := newRecognizer(t)
	r.recorder = latency.NewRecorder(t.TempDir())
	h := New(r, nil).Handler()

	_, out := do(t, h, http.MethodGet, "/latency", nil, "")
	assert.Equal(t, "error", out["status"])

	_, out = do(t, h, http.MethodGet, "/latency/reset", nil, "")
	assert.Equal(t, "error", out["status"])
}

func TestRootRedirect(t *testing.T) {
	h := New(newRecognizer(t), nil).Handler()
	rec, _ := do(t, h, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/healthz", rec.Header().Get("Location"))
}

func TestScanML_RecordsLatency(t *testing.T) {
	r := newRecognizer(t)
	h := New(r, nil).Handler()

	for i := 0; i < 3; i++ {
		body, ct := pngBody(t)
		rec, _ := do(t, h, http.MethodPost, "/scan-ml", body, ct)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 3, r.recorder.Summarize().Summary.Count)
}
