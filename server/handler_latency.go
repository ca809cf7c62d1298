package server

import (
	"fmt"
	"net/http"

	"github.com/getcharzp/receipt-ocr/latency"
)

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	report := s.recognizer.Latency().Summarize()

	switch report.State {
	case latency.StateEmpty:
		writeJson(w, http.StatusOK, map[string]any{
			"message": "Log masih kosong. Coba test /scan atau /scan-ml dulu!",
		})
	case latency.StateUnavailable:
		writeJson(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": "Log latency tidak bisa dibaca: " + report.Reason,
		})
	default:
		sum := report.Summary
		writeJson(w, http.StatusOK, map[string]any{
			"status":                   "success",
			"total_inference_tercatat": sum.Count,
			"P50":                      ms(sum.P50),
			"P90":                      ms(sum.P90),
			"P95":                      ms(sum.P95),
			"P99":                      ms(sum.P99),
			"Paling_Cepat":             ms(sum.Min),
			"Paling_Lama":              ms(sum.Max),
		})
	}
}

func (s *Server) handleLatencyReset(w http.ResponseWriter, r *http.Request) {
	if err := s.recognizer.Latency().Reset(); err != nil {
		writeJson(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": "Gagal hapus log: " + err.Error(),
		})
		return
	}

	writeJson(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Log latency sudah dikosongkan.",
	})
}

func ms(v float64) string {
	return fmt.Sprintf("%.2f ms", v)
}
