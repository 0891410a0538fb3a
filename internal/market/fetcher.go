package market

import (
	"context"
	"fmt"
	"time"
)

// Source 交易所公共行情接口。实现方需按时间升序返回 K 线。
type Source interface {
	Candles(ctx context.Context, instID, bar string, limit int) (Candles, error)
	Ticker(ctx context.Context, instID string) (Ticker, error)
}

// KlineStore 抽象：读写 instID+bar 的 K 线序列（内存实现见 internal/store）。
type KlineStore interface {
	Put(ctx context.Context, instID, bar string, ks []Candle, max int) error
	Get(ctx context.Context, instID, bar string) (Candles, error)
}

// SnapshotFetcher 每轮拉取行情并组装只读快照：K 线入缓存后取完整窗口，
// 叠加 ticker、技术指标与衍生品指标。
type SnapshotFetcher struct {
	source  Source
	store   KlineStore
	metrics *MetricsService

	bar         string
	refreshBars int
	maxCached   int
	withMetrics bool
}

func NewSnapshotFetcher(source Source, store KlineStore, metrics *MetricsService, bar string, refreshBars, maxCached int, withMetrics bool) *SnapshotFetcher {
	return &SnapshotFetcher{
		source:      source,
		store:       store,
		metrics:     metrics,
		bar:         bar,
		refreshBars: refreshBars,
		maxCached:   maxCached,
		withMetrics: withMetrics,
	}
}

// Fetch 组装一份快照；任一必要行情拉取失败则整体失败，由调用方跳过本轮。
func (f *SnapshotFetcher) Fetch(ctx context.Context, instID string) (*Snapshot, error) {
	ks, err := f.source.Candles(ctx, instID, f.bar, f.refreshBars)
	if err != nil {
		return nil, fmt.Errorf("拉取 K 线失败 %s: %w", instID, err)
	}
	if len(ks) == 0 {
		return nil, fmt.Errorf("K 线数据为空: %s", instID)
	}
	window := ks
	if f.store != nil {
		if err := f.store.Put(ctx, instID, f.bar, ks, f.maxCached); err == nil {
			if cached, err := f.store.Get(ctx, instID, f.bar); err == nil && len(cached) > 0 {
				window = cached
			}
		}
	}

	tk, err := f.source.Ticker(ctx, instID)
	if err != nil {
		return nil, fmt.Errorf("拉取 ticker 失败 %s: %w", instID, err)
	}

	snap := &Snapshot{
		InstID:     instID,
		Timestamp:  time.Now(),
		LastPrice:  tk.Last,
		Bid:        tk.Bid,
		Ask:        tk.Ask,
		High24h:    tk.High24h,
		Low24h:     tk.Low24h,
		Volume24h:  tk.Vol24h,
		Candles:    window,
		Indicators: ComputeIndicators(window),
	}
	if f.withMetrics && f.metrics != nil {
		if m, ok := f.metrics.Get(ctx, instID); ok {
			snap.Funding = m.FundingRate
			snap.OpenInterest = m.OpenInterest
			snap.HasMetrics = true
		}
	}
	return snap, nil
}

// Bar 返回快照使用的 K 线周期。
func (f *SnapshotFetcher) Bar() string { return f.bar }
