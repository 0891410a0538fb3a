package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpilot/internal/market"
)

func candleAt(openTime int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 299_999,
		Open:      close - 5,
		High:      close + 10,
		Low:       close - 10,
		Close:     close,
		Volume:    100,
	}
}

func TestPutMergesByOpenTime(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	err := s.Put(ctx, "ETH-USDT-SWAP", "5m", []market.Candle{
		candleAt(1000, 3300),
		candleAt(2000, 3310),
		candleAt(3000, 3320),
	}, 100)
	require.NoError(t, err)

	// 刷新会重复拉到最近两根，同一根以新值为准
	err = s.Put(ctx, "ETH-USDT-SWAP", "5m", []market.Candle{
		candleAt(2000, 3311.5),
		candleAt(3000, 3321.5),
		candleAt(4000, 3330),
	}, 100)
	require.NoError(t, err)

	got, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(1000), got[0].OpenTime)
	assert.Equal(t, int64(4000), got[3].OpenTime)
	assert.InDelta(t, 3311.5, got[1].Close, 1e-9)
	assert.InDelta(t, 3321.5, got[2].Close, 1e-9)
}

func TestPutTrimsOldest(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	var ks []market.Candle
	for i := 0; i < 5; i++ {
		ks = append(ks, candleAt(int64(i+1)*1000, 3300+float64(i)))
	}
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "5m", ks, 3))

	got, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3000), got[0].OpenTime, "裁剪应保留最新的几根")
	assert.Equal(t, int64(5000), got[2].OpenTime)
}

func TestPutDefaultMax(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	var ks []market.Candle
	for i := 0; i < 120; i++ {
		ks = append(ks, candleAt(int64(i+1)*1000, 3000+float64(i)))
	}
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "5m", ks, 0))

	got, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestPutValidation(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, "", "5m", []market.Candle{candleAt(1000, 3300)}, 100))
	assert.Error(t, s.Put(ctx, "ETH-USDT-SWAP", "", []market.Candle{candleAt(1000, 3300)}, 100))

	// 空批次直接忽略
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "5m", nil, 100))
	got, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "5m", []market.Candle{candleAt(1000, 3300)}, 100))

	got, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	got[0].Close = 1

	again, err := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	require.NoError(t, err)
	assert.InDelta(t, 3300, again[0].Close, 1e-9, "修改返回值不应影响缓存")
}

func TestSeriesKeyedByInstAndBar(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "5m", []market.Candle{candleAt(1000, 3300)}, 100))
	require.NoError(t, s.Put(ctx, "ETH-USDT-SWAP", "15m", []market.Candle{candleAt(1000, 3400)}, 100))
	require.NoError(t, s.Put(ctx, "BTC-USDT-SWAP", "5m", []market.Candle{candleAt(1000, 68000)}, 100))

	eth5, _ := s.Get(ctx, "ETH-USDT-SWAP", "5m")
	eth15, _ := s.Get(ctx, "ETH-USDT-SWAP", "15m")
	btc5, _ := s.Get(ctx, "BTC-USDT-SWAP", "5m")
	assert.InDelta(t, 3300, eth5[0].Close, 1e-9)
	assert.InDelta(t, 3400, eth15[0].Close, 1e-9)
	assert.InDelta(t, 68000, btc5[0].Close, 1e-9)
}
