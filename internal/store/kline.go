package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"perpilot/internal/market"
)

// MemoryKlineStore 实现 market.KlineStore。每轮刷新会重复拉到最近几根 K 线，
// Put 按 OpenTime 去重合并（同一根以新值为准），再按时间升序裁剪。
type MemoryKlineStore struct {
	mu   sync.RWMutex
	data map[string]market.Candles
}

func NewMemoryKlineStore() *MemoryKlineStore {
	return &MemoryKlineStore{data: make(map[string]market.Candles)}
}
func key(instID, bar string) string { return instID + "@" + bar }

// Put 合并并裁剪
func (s *MemoryKlineStore) Put(ctx context.Context, instID, bar string, ks []market.Candle, max int) error {
	if instID == "" || bar == "" {
		return errors.New("instID/bar 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	if max <= 0 {
		max = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(instID, bar)
	merged := make(map[int64]market.Candle, len(s.data[k])+len(ks))
	for _, c := range s.data[k] {
		merged[c.OpenTime] = c
	}
	for _, c := range ks {
		merged[c.OpenTime] = c
	}
	cur := make(market.Candles, 0, len(merged))
	for _, c := range merged {
		cur = append(cur, c)
	}
	sort.Slice(cur, func(i, j int) bool { return cur[i].OpenTime < cur[j].OpenTime })
	if len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	s.data[k] = cur
	return nil
}

// Get 返回拷贝
func (s *MemoryKlineStore) Get(ctx context.Context, instID, bar string) (market.Candles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[key(instID, bar)]
	out := make(market.Candles, len(cur))
	copy(out, cur)
	return out, nil
}
