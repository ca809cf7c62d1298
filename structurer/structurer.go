// Package structurer 把收据 OCR 文本交给 Gemini 解析为结构化 JSON。
//
// 结构化失败不会修改 OCR 文本，调用方应在出错时原样返回 OCR 结果。
package structurer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel 默认结构化模型
const DefaultModel = "models/gemini-flash-lite-latest"

// ErrDisabled 未配置 API Key
var ErrDisabled = errors.New("未设置 Gemini API Key")

// Config Gemini 客户端配置
type Config struct {
	token   string
	model   string
	baseURL string

	client *http.Client
}

// Option 可选参数
type Option func(*Config)

// WithClient 指定 HTTP 客户端
func WithClient(client *http.Client) Option {
	return func(c *Config) {
		c.client = client
	}
}

// WithModel 指定模型
func WithModel(model string) Option {
	return func(c *Config) {
		c.model = model
	}
}

// WithBaseURL 指定 Gemini API 地址
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.baseURL = url
	}
}

func (c *Config) newClient(ctx context.Context) (*genai.Client, error) {
	config := &genai.ClientConfig{
		APIKey:  c.token,
		Backend: genai.BackendGeminiAPI,

		HTTPClient: c.client,
	}
	if c.baseURL != "" {
		config.HTTPOptions.BaseURL = c.baseURL
	}

	return genai.NewClient(ctx, config)
}

// Structurer 收据文本结构化
type Structurer struct {
	*Config
}

// New 创建结构化客户端，token 为空时 Structure 返回 ErrDisabled
func New(token string, options ...Option) *Structurer {
	cfg := &Config{
		token: token,
		model: DefaultModel,
	}

	for _, option := range options {
		option(cfg)
	}

	return &Structurer{
		Config: cfg,
	}
}

// Enabled 是否已配置 API Key
func (s *Structurer) Enabled() bool {
	return s != nil && s.token != ""
}

// Model 使用的模型
func (s *Structurer) Model() string {
	return s.model
}

// Structure 解析 OCR 文本，返回合法的 JSON
func (s *Structurer) Structure(ctx context.Context, text string) (json.RawMessage, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(Prompt(text)), config)
	if err != nil {
		return nil, fmt.Errorf("Gemini 调用失败: %w", err)
	}

	data := CleanJSON(resp.Text())
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("Gemini 返回的不是合法 JSON: %q", data)
	}
	return json.RawMessage(data), nil
}

// CleanJSON 去掉模型输出外层的 ``` 或 ```json 代码块标记
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(text, "```json"):
		text = text[len("```json"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	default:
		return text
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
