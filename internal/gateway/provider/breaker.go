package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"perpilot/internal/logger"
)

// BreakerChatClient 在 ChatClient 外层加熔断：连续失败后直接快速失败，
// 冷却期过后放行探测请求，避免反复打一个已经不可用的模型端点。
type BreakerChatClient struct {
	inner ChatClient
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerChatClient(name string, inner ChatClient) *BreakerChatClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("⚠ 模型 %s 熔断状态变化: %s -> %s", name, from.String(), to.String())
		},
	}
	return &BreakerChatClient{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Call(ctx, payload)
	})
	if err != nil {
		return "", err
	}
	content, _ := out.(string)
	return content, nil
}
