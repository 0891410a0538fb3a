package visual

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpilot/internal/market"
)

func chartSnapshot(bars int) *market.Snapshot {
	cs := make(market.Candles, 0, bars)
	px := 3300.0
	for i := 0; i < bars; i++ {
		if i%2 == 0 {
			px += 3
		} else {
			px -= 1
		}
		cs = append(cs, market.Candle{
			OpenTime:  int64(i+1) * 300_000,
			CloseTime: int64(i+2)*300_000 - 1,
			Open:      px - 1,
			High:      px + 2,
			Low:       px - 2,
			Close:     px,
			Volume:    80,
		})
	}
	return &market.Snapshot{InstID: "ETH-USDT-SWAP", LastPrice: px, Candles: cs}
}

func TestRenderKlineWritesHTML(t *testing.T) {
	r := NewRenderer(t.TempDir(), 48)
	path, err := r.RenderKline(chartSnapshot(60))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".html"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(raw)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "ETH-USDT-SWAP 最近 48 根 K 线", "应只渲染尾部窗口")
	assert.Contains(t, html, "区间", "副标题应包含窗口价格区间")
	assert.Contains(t, html, "EMA20")
	assert.Contains(t, html, "成交量")
}

func TestRenderKlineShortWindowSkipsEMA(t *testing.T) {
	r := NewRenderer(t.TempDir(), 48)
	path, err := r.RenderKline(chartSnapshot(10))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "EMA20", "收盘价不足 20 根时不叠加均线")
}

func TestRenderKlineWithoutCandles(t *testing.T) {
	r := NewRenderer(t.TempDir(), 48)
	_, err := r.RenderKline(&market.Snapshot{InstID: "ETH-USDT-SWAP"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "缺少 K 线")
}

func TestServicePayloadsDisabled(t *testing.T) {
	assert.Nil(t, NewService(nil, nil, false).Payloads(context.Background(), chartSnapshot(60)))

	var s *Service
	assert.Nil(t, s.Payloads(context.Background(), chartSnapshot(60)))
}

func TestServicePayloadsRenderFailureSoft(t *testing.T) {
	s := NewService(NewRenderer(t.TempDir(), 48), NewCapturer(0), true)
	assert.Nil(t, s.Payloads(context.Background(), &market.Snapshot{InstID: "ETH-USDT-SWAP"}))
}
