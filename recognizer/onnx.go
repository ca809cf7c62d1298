package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/getcharzp/receipt-ocr/ctc"
	"github.com/getcharzp/receipt-ocr/internal/onnx"
	"github.com/getcharzp/receipt-ocr/preprocess"
	ort "github.com/getcharzp/onnxruntime_purego"
)

// Config 识别模型配置
type Config struct {
	ModelPath      string
	InputName      string
	TextInputName  string // 为空时不传入 text 张量
	OutputName     string
	NamePrefix     string
	NumClasses     int
	MaxLabelLength int
}

// OnnxModel 基于 onnxruntime 的 CTC 识别模型，推理时只读，可并发调用
type OnnxModel struct {
	session *ort.Session
	cfg     Config
}

// NewOnnxModel 加载识别模型，权重文件不存在时返回 ErrModelUnavailable
func NewOnnxModel(oc *onnx.Config, cfg Config) (*OnnxModel, error) {
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("类别数非法: %d", cfg.NumClasses)
	}
	if cfg.InputName == "" || cfg.OutputName == "" {
		return nil, fmt.Errorf("未指定模型输入输出节点")
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("权重文件 %s 不存在: %w", cfg.ModelPath, ErrModelUnavailable)
		}
		return nil, fmt.Errorf("读取权重文件失败: %w", err)
	}

	session, err := oc.NewSession(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("创建识别会话失败: %w", err)
	}

	return &OnnxModel{
		session: session,
		cfg:     cfg,
	}, nil
}

// Infer 批量推理，输出 [N, T, NumClasses]
func (m *OnnxModel) Infer(ctx context.Context, batch preprocess.Batch) (ctc.PredictionMatrix, error) {
	if m == nil || m.session == nil {
		return ctc.PredictionMatrix{}, ErrModelUnavailable
	}
	if batch.Len() == 0 {
		return ctc.PredictionMatrix{}, fmt.Errorf("空批次不可推理")
	}
	if err := ctx.Err(); err != nil {
		return ctc.PredictionMatrix{}, err
	}

	inputTensor, err := ort.NewTensor(batch.Shape(), batch.Data)
	if err != nil {
		return ctc.PredictionMatrix{}, err
	}
	defer inputTensor.Destroy()

	inputValues := map[string]*ort.Value{
		m.cfg.InputName: inputTensor,
	}

	if m.cfg.TextInputName != "" {
		// CTC 推理时 text 仅用于满足模型接口，全部填 0
		n, l := int64(batch.Len()), int64(max(m.cfg.MaxLabelLength, 1))
		textTensor, err := ort.NewTensor([]int64{n, l}, make([]int64, n*l))
		if err != nil {
			return ctc.PredictionMatrix{}, err
		}
		defer textTensor.Destroy()
		inputValues[m.cfg.TextInputName] = textTensor
	}

	outputValues, err := m.session.Run(inputValues)
	if err != nil {
		return ctc.PredictionMatrix{}, fmt.Errorf("识别推理失败: %w", err)
	}
	for _, v := range outputValues {
		defer v.Destroy()
	}

	outputs := StripPrefix(outputValues, m.cfg.NamePrefix)
	outputValue, ok := outputs[m.cfg.OutputName]
	if !ok {
		return ctc.PredictionMatrix{}, fmt.Errorf("输出节点 %s 不存在, 可用节点: %v", m.cfg.OutputName, sortedNames(outputs))
	}

	outputData, err := ort.GetTensorData[float32](outputValue)
	if err != nil {
		return ctc.PredictionMatrix{}, fmt.Errorf("获取识别输出数据失败: %w", err)
	}
	// 输出内存随 Value 释放，先拷贝
	data := make([]float32, len(outputData))
	copy(data, outputData)

	if err := ctx.Err(); err != nil {
		return ctc.PredictionMatrix{}, err
	}

	return ctc.NewPredictionMatrix(data, batch.Len(), m.cfg.NumClasses)
}

// Destroy 释放会话
func (m *OnnxModel) Destroy() {
	if m != nil && m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}

func sortedNames[V any](values map[string]V) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
