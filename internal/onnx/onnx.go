package onnx

import (
	"fmt"

	ort "github.com/getcharzp/onnxruntime_purego"
)

// Config onnxruntime 运行时配置，一个进程内的检测与识别会话共享同一个运行时
type Config struct {
	OnnxRuntimeLibPath string

	OnnxEngine     *ort.Engine
	SessionOptions *ort.SessionOptions
}

// New 加载 onnxruntime 动态库并创建会话参数
func (c *Config) New() error {
	if c.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("未指定 onnxruntime 库路径")
	}

	engine, err := ort.NewEngine(c.OnnxRuntimeLibPath)
	if err != nil {
		return fmt.Errorf("加载 onnxruntime 失败: %w", err)
	}

	options, err := engine.NewSessionOptions()
	if err != nil {
		engine.Destroy()
		return fmt.Errorf("创建会话参数失败: %w", err)
	}

	c.OnnxEngine = engine
	c.SessionOptions = options
	return nil
}

// NewSession 创建推理会话
func (c *Config) NewSession(modelPath string) (*ort.Session, error) {
	if c.OnnxEngine == nil {
		return nil, fmt.Errorf("onnxruntime 未初始化")
	}
	return c.OnnxEngine.NewSession(modelPath, c.SessionOptions)
}

// Destroy 释放运行时，需在所有会话销毁之后调用
func (c *Config) Destroy() {
	if c.SessionOptions != nil {
		c.SessionOptions.Destroy()
		c.SessionOptions = nil
	}
	if c.OnnxEngine != nil {
		c.OnnxEngine.Destroy()
		c.OnnxEngine = nil
	}
}
