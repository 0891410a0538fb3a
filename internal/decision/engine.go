package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perpilot/internal/gateway/provider"
	"perpilot/internal/logger"
	"perpilot/internal/pkg/jsonutil"
	textutil "perpilot/internal/pkg/text"
)

// Engine 按顺序请求各模型，第一个能解析出有效指令的结果胜出。
type Engine struct {
	providers []provider.Provider
	builder   *PromptBuilder
	timeout   time.Duration
}

// NewEngine 构建决策引擎；timeout 为单个模型的调用上限。
func NewEngine(providers []provider.Provider, builder *PromptBuilder, timeout time.Duration) *Engine {
	if builder == nil {
		builder = NewPromptBuilder(0)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Engine{providers: providers, builder: builder, timeout: timeout}
}

// Decide 组装提示词、请求模型并解析为指令。
// 所有模型都失败时返回最后一个错误；解析失败保留 ErrMalformedDecision 语义。
func (e *Engine) Decide(ctx context.Context, input PromptInput, images []provider.ImagePayload) (*Instruction, error) {
	system, user := e.builder.Build(input)
	traceID := uuid.NewString()

	var lastErr error
	for _, p := range e.providers {
		if !p.Enabled() {
			continue
		}
		payload := provider.ChatPayload{
			System:     system,
			User:       user,
			ExpectJSON: p.ExpectsJSON(),
		}
		if p.SupportsVision() {
			payload.Images = images
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		raw, err := p.Call(callCtx, payload)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("模型 %s 调用失败: %w", p.ID(), err)
			logger.Warnf("⚠ %v", lastErr)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		instr, err := Parse(raw)
		if err != nil {
			lastErr = err
			logger.Warnf("⚠ 模型 %s 输出无法解析: %s", p.ID(), textutil.Truncate(raw, 200))
			continue
		}
		instr.TraceID = traceID
		instr.ProviderID = p.ID()
		if input.Snapshot != nil {
			instr.InstID = input.Snapshot.InstID
		}
		logger.Debugf("模型 %s 决策: %s 信心 %s\n%s", p.ID(), instr.Action, instr.Confidence, jsonutil.Pretty(instr.RawJSON))
		return instr, nil
	}

	if lastErr == nil {
		lastErr = errors.New("没有可用的模型")
	}
	return nil, lastErr
}
