package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	candles    Candles
	candlesErr error
	tick       Ticker
	tickErr    error
	gotBar     string
	gotLimit   int
}

func (f *fakeSource) Candles(ctx context.Context, instID, bar string, limit int) (Candles, error) {
	f.gotBar = bar
	f.gotLimit = limit
	return f.candles, f.candlesErr
}

func (f *fakeSource) Ticker(ctx context.Context, instID string) (Ticker, error) {
	return f.tick, f.tickErr
}

type fakeStore struct {
	window Candles
	putErr error
	gotPut Candles
	gotMax int
}

func (s *fakeStore) Put(ctx context.Context, instID, bar string, ks []Candle, max int) error {
	s.gotPut = ks
	s.gotMax = max
	return s.putErr
}

func (s *fakeStore) Get(ctx context.Context, instID, bar string) (Candles, error) {
	return s.window, nil
}

func testTicker() Ticker {
	return Ticker{
		InstID:  "ETH-USDT-SWAP",
		Last:    3320.5,
		Bid:     3320,
		Ask:     3321,
		High24h: 3400,
		Low24h:  3250,
		Vol24h:  120_000,
	}
}

func TestFetchAssemblesSnapshot(t *testing.T) {
	src := &fakeSource{candles: zigzagCandles(3, 3300), tick: testTicker()}
	st := &fakeStore{window: zigzagCandles(60, 3000)}
	f := NewSnapshotFetcher(src, st, nil, "5m", 3, 100, false)

	snap, err := f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, "ETH-USDT-SWAP", snap.InstID)
	assert.InDelta(t, 3320.5, snap.LastPrice, 1e-9)
	assert.InDelta(t, 3320, snap.Bid, 1e-9)
	assert.InDelta(t, 3321, snap.Ask, 1e-9)
	assert.InDelta(t, 3400, snap.High24h, 1e-9)
	assert.InDelta(t, 3250, snap.Low24h, 1e-9)
	assert.InDelta(t, 120_000, snap.Volume24h, 1e-9)
	assert.WithinDuration(t, time.Now(), snap.Timestamp, 5*time.Second)

	// 新 K 线入缓存后取完整窗口计算指标
	assert.Len(t, snap.Candles, 60)
	assert.NotNil(t, snap.Indicators)
	assert.False(t, snap.HasMetrics)

	assert.Len(t, st.gotPut, 3)
	assert.Equal(t, 100, st.gotMax)
	assert.Equal(t, "5m", src.gotBar)
	assert.Equal(t, 3, src.gotLimit)
	assert.Equal(t, "5m", f.Bar())
}

func TestFetchWithoutStoreUsesFreshBars(t *testing.T) {
	src := &fakeSource{candles: zigzagCandles(3, 3300), tick: testTicker()}
	f := NewSnapshotFetcher(src, nil, nil, "5m", 3, 100, false)

	snap, err := f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Len(t, snap.Candles, 3)
	assert.Nil(t, snap.Indicators, "不足预热窗口时不给指标")
}

func TestFetchStorePutErrorFallsBack(t *testing.T) {
	src := &fakeSource{candles: zigzagCandles(3, 3300), tick: testTicker()}
	st := &fakeStore{window: zigzagCandles(60, 3000), putErr: errors.New("boom")}
	f := NewSnapshotFetcher(src, st, nil, "5m", 3, 100, false)

	snap, err := f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Len(t, snap.Candles, 3, "缓存写入失败时退回本轮拉取的 K 线")
}

func TestFetchErrors(t *testing.T) {
	cases := []struct {
		name    string
		src     *fakeSource
		wantErr string
	}{
		{"K线拉取失败", &fakeSource{candlesErr: errors.New("boom")}, "拉取 K 线失败"},
		{"K线为空", &fakeSource{}, "K 线数据为空"},
		{"ticker拉取失败", &fakeSource{candles: zigzagCandles(3, 3300), tickErr: errors.New("boom")}, "拉取 ticker 失败"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewSnapshotFetcher(tc.src, nil, nil, "5m", 3, 100, false)
			_, err := f.Fetch(context.Background(), "ETH-USDT-SWAP")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestFetchAttachesDerivMetrics(t *testing.T) {
	src := &fakeSource{candles: zigzagCandles(3, 3300), tick: testTicker()}
	svc := NewMetricsService(&fakeMetricsFetcher{funding: 0.0001, oi: 1_234_567}, time.Hour)

	f := NewSnapshotFetcher(src, nil, svc, "5m", 3, 100, true)
	snap, err := f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.True(t, snap.HasMetrics)
	assert.InDelta(t, 0.0001, snap.Funding, 1e-12)
	assert.InDelta(t, 1_234_567, snap.OpenInterest, 1e-3)

	// 开关关闭时即便服务可用也不附加
	f = NewSnapshotFetcher(src, nil, svc, "5m", 3, 100, false)
	snap, err = f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.False(t, snap.HasMetrics)

	// 衍生品指标失败不阻塞快照
	bad := NewMetricsService(&fakeMetricsFetcher{fundingErr: errors.New("boom")}, time.Hour)
	f = NewSnapshotFetcher(src, nil, bad, "5m", 3, 100, true)
	snap, err = f.Fetch(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.False(t, snap.HasMetrics)
	assert.Zero(t, snap.Funding)
}
