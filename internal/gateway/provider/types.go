package provider

import "context"

// ChatPayload 单次对话请求的输入。
type ChatPayload struct {
	System      string
	User        string
	Images      []ImagePayload
	ExpectJSON  bool
	Temperature float64
	MaxTokens   int
}

// ImagePayload carries an inline image (data URI) for vision-capable models.
type ImagePayload struct {
	DataURI     string
	Description string
}

// ChatClient 模型调用抽象。
type ChatClient interface {
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// Provider 决策引擎可见的模型封装。
type Provider interface {
	ID() string
	Enabled() bool
	SupportsVision() bool
	ExpectsJSON() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
