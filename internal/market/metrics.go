package market

import (
	"context"
	"sync"
	"time"

	"perpilot/internal/logger"
)

// 中文说明：
// 衍生品指标服务：OI（未平仓量）与资金费率的拉取与缓存。
// 数据源由 MetricsFetcher 抽象，默认走 OKX 公共端点，也可切换 Binance。

type MetricsFetcher interface {
	OI(ctx context.Context, instID string) (float64, error)
	Funding(ctx context.Context, instID string) (float64, error)
}

// MetricsService 在 fetcher 之上做按合约缓存，避免每轮重复请求。
type MetricsService struct {
	fetcher MetricsFetcher
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]Metrics
}

func NewMetricsService(fetcher MetricsFetcher, ttl time.Duration) *MetricsService {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &MetricsService{
		fetcher: fetcher,
		ttl:     ttl,
		cache:   make(map[string]Metrics),
	}
}

// Get 返回合约的最新指标；缓存过期时刷新，刷新失败时退回旧值。
func (s *MetricsService) Get(ctx context.Context, instID string) (Metrics, bool) {
	if s == nil || s.fetcher == nil {
		return Metrics{}, false
	}
	s.mu.RLock()
	cached, ok := s.cache[instID]
	s.mu.RUnlock()
	if ok && time.Since(cached.UpdatedAt) < s.ttl {
		return cached, true
	}

	funding, err := s.fetcher.Funding(ctx, instID)
	if err != nil {
		logger.Warnf("拉取资金费率失败 %s: %v", instID, err)
		return cached, ok
	}
	oi, err := s.fetcher.OI(ctx, instID)
	if err != nil {
		logger.Warnf("拉取未平仓量失败 %s: %v", instID, err)
		return cached, ok
	}

	fresh := Metrics{FundingRate: funding, OpenInterest: oi, UpdatedAt: time.Now()}
	s.mu.Lock()
	s.cache[instID] = fresh
	s.mu.Unlock()
	return fresh, true
}
